package bot

import (
	"strings"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// EventKind classifies an inbound message for the state machine.
type EventKind string

const (
	EventText   EventKind = "text"
	EventButton EventKind = "button"
	EventList   EventKind = "list"
	// EventOther covers media, locations, reactions and any type the bot
	// has no dedicated handling for.
	EventOther EventKind = "other"
)

// Event is the input of a transition.
type Event struct {
	Kind EventKind `json:"kind"`
	// Text is the message body for EventText.
	Text string `json:"text,omitempty"`
	// ReplyID is the selected button or row id for EventButton and EventList.
	ReplyID    string `json:"reply_id,omitempty"`
	ReplyTitle string `json:"reply_title,omitempty"`
	// MessageType is the provider message type, e.g. "image".
	MessageType string    `json:"message_type"`
	MessageID   string    `json:"message_id"`
	At          time.Time `json:"at"`
}

// EventFromMessage maps a webhook message to an Event. Template quick
// replies become button events keyed by their payload.
func EventFromMessage(m whatsapp.IncomingMessage) Event {
	ev := Event{Kind: EventOther, MessageType: m.Type, MessageID: m.ID, At: m.Time()}
	switch m.Type {
	case "text":
		if m.Text != nil {
			ev.Kind = EventText
			ev.Text = m.Text.Body
		}
	case "interactive":
		if m.Interactive == nil {
			break
		}
		if r := m.Interactive.ButtonReply; r != nil {
			ev.Kind, ev.ReplyID, ev.ReplyTitle = EventButton, r.ID, r.Title
		} else if r := m.Interactive.ListReply; r != nil {
			ev.Kind, ev.ReplyID, ev.ReplyTitle = EventList, r.ID, r.Title
		}
	case "button":
		if m.Button != nil {
			ev.Kind, ev.ReplyID, ev.ReplyTitle = EventButton, m.Button.Payload, m.Button.Text
		}
	}
	return ev
}

// Selection returns the chosen id for button and list events.
func (e Event) Selection() string {
	if e.Kind == EventButton || e.Kind == EventList {
		return e.ReplyID
	}
	return ""
}

// IsKeyword reports whether e is a text event equal to word, ignoring case
// and surrounding space.
func (e Event) IsKeyword(word string) bool {
	return e.Kind == EventText && strings.EqualFold(strings.TrimSpace(e.Text), word)
}
