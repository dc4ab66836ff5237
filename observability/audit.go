// Package observability keeps the service's SQLite-backed operational
// records: the audit trail of staff actions, worker heartbeats and a
// journal of domain events for deployments without a broker.
//
// Call Init() on the shared *sql.DB first, then pass it to the individual
// constructors. Audit writes are async and non-blocking.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/kit"
)

// Audit statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditEntry is a single operation record in the audit trail.
type AuditEntry struct {
	EntryID   string    `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"` // e.g. "staff"
	Operation string    `json:"operation"` // e.g. "takeover", "send"

	UserID    string `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	// TargetID is the entity acted on, usually a conversation id.
	TargetID string `json:"target_id,omitempty"`

	Parameters   string `json:"parameters,omitempty"` // JSON
	Result       string `json:"result,omitempty"`     // JSON
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`

	Status string `json:"status"`
}

// AuditFilter controls query results from the audit log. Zero fields match
// everything.
type AuditFilter struct {
	Since     time.Time
	Until     time.Time
	Component string
	Operation string
	UserID    string
	TargetID  string
	Status    string
	Limit     int // default 100
	Offset    int
}

// AuditLogger persists audit entries asynchronously.
type AuditLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
	flush  time.Duration
	ch     chan *AuditEntry
	stop   chan struct{}
	done   chan struct{}
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets a custom ID generator for audit entry IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

func WithAuditClock(now func() time.Time) AuditOption {
	return func(a *AuditLogger) { a.now = now }
}

func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// WithFlushInterval sets how often buffered entries are written. Default 5s.
func WithFlushInterval(d time.Duration) AuditOption {
	return func(a *AuditLogger) { a.flush = d }
}

// NewAuditLogger creates an async audit logger. Recommended bufferSize: 1000.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:     db,
		newID:  idgen.Audit,
		now:    time.Now,
		logger: slog.Default(),
		flush:  5 * time.Second,
		ch:     make(chan *AuditEntry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// Log inserts an audit entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	a.fillDefaults(entry)
	return a.insert(ctx, entry)
}

// LogAsync queues an entry for async persistence.
// Falls back to synchronous insert if the buffer is full.
func (a *AuditLogger) LogAsync(entry *AuditEntry) {
	a.fillDefaults(entry)
	select {
	case a.ch <- entry:
	default:
		a.logger.Warn("observability audit buffer full, sync fallback", "component", entry.Component)
		if err := a.insert(context.Background(), entry); err != nil {
			a.logger.Error("observability audit: sync fallback failed", "error", err)
		}
	}
}

// NewAuditEntry builds an AuditEntry for an operation on target. The user
// and request ids are read from ctx. Params and result are marshalled to
// JSON; the result is dropped when err is set.
func (a *AuditLogger) NewAuditEntry(ctx context.Context, component, operation, target string, params, result any, err error, duration time.Duration) *AuditEntry {
	entry := &AuditEntry{
		EntryID:    a.newID(),
		Timestamp:  a.now(),
		Component:  component,
		Operation:  operation,
		UserID:     kit.GetUserID(ctx),
		RequestID:  kit.GetTraceID(ctx),
		TargetID:   target,
		DurationMs: duration.Milliseconds(),
	}

	if params != nil {
		if b, e := json.Marshal(params); e == nil {
			entry.Parameters = string(b)
		}
	}
	if err != nil {
		entry.Status = StatusError
		entry.ErrorMessage = err.Error()
	} else {
		entry.Status = StatusSuccess
		if result != nil {
			if b, e := json.Marshal(result); e == nil {
				entry.Result = string(b)
			}
		}
	}
	return entry
}

// Query retrieves audit entries matching the given filter, newest first.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, component_name, operation_type,
		user_id, request_id, target_id, parameters, result,
		error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any

	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	if !f.Until.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, f.Until.Unix())
	}
	for _, c := range []struct{ col, val string }{
		{"component_name", f.Component},
		{"operation_type", f.Operation},
		{"user_id", f.UserID},
		{"target_id", f.TargetID},
		{"status", f.Status},
	} {
		if c.val != "" {
			q += " AND " + c.col + " = ?"
			args = append(args, c.val)
		}
	}

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, max(f.Offset, 0))

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(
			&e.EntryID, &ts, &e.Component, &e.Operation,
			&e.UserID, &e.RequestID, &e.TargetID,
			&e.Parameters, &e.Result, &e.ErrorMessage,
			&e.DurationMs, &e.Status,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes audit entries older than retentionDays.
func (a *AuditLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	threshold := a.now().AddDate(0, 0, -retentionDays).Unix()
	result, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit log: %w", err)
	}
	return result.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}
	if e.Parameters == "" {
		e.Parameters = "{}"
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
}

const insertAudit = `INSERT INTO audit_log
	(entry_id, timestamp, component_name, operation_type,
	 user_id, request_id, target_id,
	 parameters, result, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`

func auditArgs(e *AuditEntry) []any {
	return []any{
		e.EntryID, e.Timestamp.Unix(), e.Component, e.Operation,
		e.UserID, e.RequestID, e.TargetID,
		e.Parameters, e.Result, e.ErrorMessage, e.DurationMs, e.Status,
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.flush)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			a.logger.Error("observability audit: begin tx", "error", err)
			return
		}
		stmt, err := tx.PrepareContext(ctx, insertAudit)
		if err != nil {
			tx.Rollback()
			a.logger.Error("observability audit: prepare", "error", err)
			return
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx, auditArgs(e)...); err != nil {
				a.logger.Error("observability audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			a.logger.Error("observability audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			// drain channel
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	_, err := a.db.ExecContext(ctx, insertAudit, auditArgs(e)...)
	return err
}
