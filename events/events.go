// Package events publishes conversation domain events for other services
// (staff notification, CRM sync). Events are JSON envelopes on a topic
// exchange; the routing key is the event type.
package events

import (
	"context"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/kit"
)

// Event types.
const (
	TypeEscalated       = "conversation.escalated.v1"
	TypeTakenOver       = "conversation.taken_over.v1"
	TypeReleased        = "conversation.released.v1"
	TypeClosed          = "conversation.closed.v1"
	TypeCustomerWaiting = "conversation.customer_waiting.v1"
)

// Producer is the producer name stamped on every envelope.
const Producer = "restobot"

// Meta identifies one emitted event.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	Producer      string    `json:"producer,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// ConversationEvent is the payload of every conversation.* event.
type ConversationEvent struct {
	ConversationID string    `json:"conversation_id"`
	CustomerID     string    `json:"customer_id"`
	CustomerPhone  string    `json:"customer_phone"`
	CustomerName   string    `json:"customer_name,omitempty"`
	Status         string    `json:"status"`
	AssignedTo     string    `json:"assigned_to,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	Preview        string    `json:"preview,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher emits domain events. Callers log publish errors and carry on.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
	Close() error
}

// NewEnvelope wraps data with fresh metadata. The correlation id is the
// trace id of ctx when present.
func NewEnvelope(ctx context.Context, newID idgen.Generator, eventType string, data any, at time.Time) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            newID(),
			Type:          eventType,
			Time:          at.UTC(),
			Producer:      Producer,
			CorrelationID: kit.GetTraceID(ctx),
		},
		Data: data,
	}
}

// Noop discards every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close() error                               { return nil }
