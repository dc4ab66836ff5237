// Package conversation is the persistence gateway for customers,
// conversations and messages.
//
// Every state transition for a customer runs while holding LockCustomer for
// that customer's phone number. UpdateCustomerState additionally checks the
// row version, so a writer that bypassed the lock fails with
// ErrStateConflict instead of overwriting a newer state.
package conversation

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
)

// Store implements the conversation store on SQLite.
type Store struct {
	db     *sql.DB
	locks  *KeyedMutex
	now    func() time.Time
	logger *slog.Logger

	customerID     idgen.Generator
	conversationID idgen.Generator
	messageID      idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithIDs overrides the customer, conversation and message id generators.
func WithIDs(customer, conversation, message idgen.Generator) Option {
	return func(s *Store) {
		s.customerID = customer
		s.conversationID = conversation
		s.messageID = message
	}
}

// New returns a Store over db. The schema must already be applied (Init).
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:             db,
		locks:          NewKeyedMutex(),
		now:            time.Now,
		logger:         slog.Default(),
		customerID:     idgen.Customer,
		conversationID: idgen.Conversation,
		messageID:      idgen.Message,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// LockCustomer serializes work for one phone number and returns the unlock
// function. Different phone numbers never block each other.
func (s *Store) LockCustomer(phone string) func() {
	return s.locks.Lock(phone)
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
