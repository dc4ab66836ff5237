package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ObjectWhatsAppBusiness is the payload object for WhatsApp Business
// webhooks. Other objects are ignored.
const ObjectWhatsAppBusiness = "whatsapp_business_account"

// Payload is the webhook POST body.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts,omitempty"`
	Messages         []IncomingMessage `json:"messages,omitempty"`
	Statuses         []Status          `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// ProfileName returns the display name the provider reported for waID.
func (v ChangeValue) ProfileName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID {
			return c.Profile.Name
		}
	}
	return ""
}

// IncomingMessage is one customer message. Exactly one of the type-specific
// fields is set, matching Type.
type IncomingMessage struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *TextBody    `json:"text,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Button      *QuickReply  `json:"button,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Audio       *Media       `json:"audio,omitempty"`
	Video       *Media       `json:"video,omitempty"`
	Document    *Media       `json:"document,omitempty"`
	Sticker     *Media       `json:"sticker,omitempty"`
	Location    *Location    `json:"location,omitempty"`
	Context     *ReplyTo     `json:"context,omitempty"`
}

type TextBody struct {
	Body string `json:"body"`
}

type Interactive struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
	ListReply   *ListReply   `json:"list_reply,omitempty"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type ListReply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// QuickReply is a tap on a template quick-reply button.
type QuickReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// ReplyTo references the business message the customer replied to.
type ReplyTo struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// Time parses the unix-seconds timestamp. It returns the zero time when the
// field is missing or malformed.
func (m IncomingMessage) Time() time.Time {
	return unixSeconds(m.Timestamp)
}

// Status is a delivery-status callback for an outbound message.
type Status struct {
	ID           string              `json:"id"`
	Status       string              `json:"status"`
	Timestamp    string              `json:"timestamp"`
	RecipientID  string              `json:"recipient_id"`
	Conversation *StatusConversation `json:"conversation,omitempty"`
	Pricing      *Pricing            `json:"pricing,omitempty"`
	Errors       []StatusError       `json:"errors,omitempty"`
}

// Time parses the unix-seconds timestamp.
func (s Status) Time() time.Time {
	return unixSeconds(s.Timestamp)
}

type StatusConversation struct {
	ID     string `json:"id"`
	Origin struct {
		Type string `json:"type"`
	} `json:"origin"`
	ExpirationTimestamp string `json:"expiration_timestamp,omitempty"`
}

type Pricing struct {
	Billable     bool   `json:"billable"`
	Category     string `json:"category"`
	PricingModel string `json:"pricing_model,omitempty"`
}

type StatusError struct {
	Code      int    `json:"code"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	ErrorData struct {
		Details string `json:"details,omitempty"`
	} `json:"error_data"`
}

// ParsePayload decodes a webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("whatsapp: parse webhook payload: %w", err)
	}
	return &p, nil
}

func unixSeconds(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

// Expires returns the pricing window expiry, or the zero time when absent.
func (c StatusConversation) Expires() time.Time {
	return unixSeconds(c.ExpirationTimestamp)
}
