package conversation

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("conversation: not found")
	// ErrStateConflict means the customer row changed between the read and
	// the conditional write of a state transition.
	ErrStateConflict = errors.New("conversation: customer state changed concurrently")
	ErrClosed        = errors.New("conversation: conversation is closed")
)

// Status is the lifecycle state of a Conversation.
type Status string

const (
	StatusActive       Status = "active"
	StatusWaitingHuman Status = "waiting_human"
	StatusClosed       Status = "closed"
)

// Open reports whether the status counts toward the one-open-conversation
// rule.
func (s Status) Open() bool { return s == StatusActive || s == StatusWaitingHuman }

func (s Status) Valid() bool { return s.Open() || s == StatusClosed }

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderBot      Sender = "bot"
	SenderStaff    Sender = "staff"
)

// DeliveryStatus progresses sent < delivered < read. Failed is terminal.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (d DeliveryStatus) rank() int {
	switch d {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	case DeliveryFailed:
		return 4
	}
	return 0
}

func (d DeliveryStatus) Valid() bool { return d.rank() > 0 }

// Customer is a messaging identity keyed by phone number.
type Customer struct {
	ID              string    `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	ProfileName     string    `json:"profile_name,omitempty"`
	CRMCustomerID   string    `json:"crm_customer_id,omitempty"`
	State           string    `json:"state"`
	ContextData     string    `json:"-"`
	Version         int64     `json:"-"`
	OptInMarketing  bool      `json:"opt_in_marketing"`
	OptInDate       time.Time `json:"opt_in_date,omitzero"`
	LastInteraction time.Time `json:"last_interaction,omitzero"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Conversation is one thread of exchanges with a customer. CustomerPhone and
// CustomerName are read from the customer row.
type Conversation struct {
	ID                    string    `json:"id"`
	CustomerID            string    `json:"customer_id"`
	CustomerPhone         string    `json:"customer_phone"`
	CustomerName          string    `json:"customer_name,omitempty"`
	Status                Status    `json:"status"`
	AssignedTo            string    `json:"assigned_to,omitempty"`
	ServiceWindowExpires  time.Time `json:"service_window_expires,omitzero"`
	FreeEntryPointExpires time.Time `json:"free_entry_point_expires,omitzero"`
	StartedAt             time.Time `json:"started_at"`
	ClosedAt              time.Time `json:"closed_at,omitzero"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// InServiceWindow reports whether free-form messages may be sent at t.
func (c *Conversation) InServiceWindow(t time.Time) bool {
	return !c.ServiceWindowExpires.IsZero() && t.Before(c.ServiceWindowExpires)
}

// Message is one inbound or outbound message. Content is the serialized
// payload and is never rewritten after creation.
type Message struct {
	ID                string         `json:"id"`
	ConversationID    string         `json:"conversation_id"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Direction         Direction      `json:"direction"`
	Type              string         `json:"type"`
	Content           string         `json:"content"`
	Sender            Sender         `json:"sender"`
	SentBy            string         `json:"sent_by,omitempty"`
	Status            DeliveryStatus `json:"status,omitempty"`
	IsTemplate        bool           `json:"is_template"`
	TemplateCategory  string         `json:"template_category,omitempty"`
	PricingCategory   string         `json:"pricing_category,omitempty"`
	Cost              float64        `json:"cost"`
	Error             string         `json:"error,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	// HandledAt is set on inbound messages once answered.
	HandledAt time.Time `json:"handled_at,omitzero"`
}

// ConversationFilter selects conversations for the staff list. Zero fields
// match everything; Limit defaults to 50.
type ConversationFilter struct {
	Status     Status
	AssignedTo string
	Limit      int
	Offset     int
}

// Stats aggregates message and conversation counters.
type Stats struct {
	Customers        int                `json:"customers"`
	OptedIn          int                `json:"opted_in"`
	Conversations    map[Status]int     `json:"conversations"`
	Messages         int                `json:"messages"`
	Inbound          int                `json:"inbound"`
	Outbound         int                `json:"outbound"`
	TemplateMessages int                `json:"template_messages"`
	FreeMessages     int                `json:"free_messages"`
	FailedMessages   int                `json:"failed_messages"`
	TotalCost        float64            `json:"total_cost"`
	CostByCategory   map[string]float64 `json:"cost_by_category"`
}
