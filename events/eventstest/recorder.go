// Package eventstest provides an in-memory events.Publisher for tests.
package eventstest

import (
	"context"
	"sync"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
)

// Recorder keeps published events in memory for assertions. Err, when set,
// is returned from every Publish.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	Err    error
}

type Recorded struct {
	Type string
	Data any
}

func (r *Recorder) Publish(_ context.Context, eventType string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, Recorded{Type: eventType, Data: data})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events in publish order.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var _ events.Publisher = (*Recorder)(nil)
