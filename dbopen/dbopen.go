// Package dbopen opens the restobot SQLite database with the pragmas every
// writer in the process relies on, and runs package schemas in order.
//
// Pragmas applied through EXEC after the pool is created:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/restobot.db",
//	    dbopen.WithMkdirAll(),
//	    dbopen.WithInit(conversation.Init),
//	)
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithInit(conversation.Init))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type config struct {
	driver       string
	busyTimeout  int
	synchronous  string
	foreignKeys  bool
	mkdirAll     bool
	maxOpenConns int
	schemas      []string
	inits        []func(*sql.DB) error
}

func defaults() config {
	return config{
		driver:      "sqlite",
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		foreignKeys: true,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithMaxOpenConns caps the connection pool. 0 keeps the database/sql default.
func WithMaxOpenConns(n int) Option { return func(c *config) { c.maxOpenConns = n } }

// WithSchema queues inline SQL to execute after pragmas are applied.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// WithInit queues a schema initialiser (typically a package's Init func).
// Initialisers run after inline schemas, in the order given.
func WithInit(fn func(*sql.DB) error) Option {
	return func(c *config) { c.inits = append(c.inits, fn) }
}

// WithoutForeignKeys disables PRAGMA foreign_keys.
func WithoutForeignKeys() Option { return func(c *config) { c.foreignKeys = false } }

// Open opens the SQLite database at path. The caller must blank-import
// modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(cfg.driver, dsn(path, &cfg))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}

	if err := setup(db, &cfg); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests. The pool is pinned to a
// single connection because every connection to ":memory:" is a distinct
// database. t.Cleanup closes it.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", append([]Option{WithMaxOpenConns(1)}, opts...)...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// dsn repeats the pragmas as modernc _pragma parameters so that every pooled
// connection gets them, not only the one that ran the EXEC. Write
// transactions take the lock up front.
func dsn(path string, cfg *config) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	fk := 1
	if !cfg.foreignKeys {
		fk = 0
	}
	return fmt.Sprintf("%s?_pragma=foreign_keys(%d)&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(%s)&_txlock=immediate",
		path, fk, cfg.busyTimeout, cfg.synchronous)
}

func setup(db *sql.DB, cfg *config) error {
	fk := "ON"
	if !cfg.foreignKeys {
		fk = "OFF"
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA foreign_keys = %s", fk),
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	for i, fn := range cfg.inits {
		if err := fn(db); err != nil {
			return fmt.Errorf("dbopen: init %d: %w", i, err)
		}
	}

	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}
