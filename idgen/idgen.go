// Package idgen provides pluggable ID generation.
//
// Stores and loggers accept a Generator so tests can pin IDs while
// production uses time-sortable UUIDv7 values with a per-entity prefix.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a deterministic Generator ("<prefix>1", "<prefix>2", ...)
// for tests.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + strconv.FormatInt(n.Add(1), 10)
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Entity generators. Prefixes make IDs readable in logs and staff payloads.
var (
	Customer     = Prefixed("cus_", Default)
	Conversation = Prefixed("cnv_", Default)
	Message      = Prefixed("msg_", Default)
	Job          = Prefixed("job_", Default)
	Event        = Prefixed("evt_", Default)
	Audit        = Prefixed("audit_", Default)
)

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
