package whatsapp

import (
	"testing"
	"time"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "97145550000", "phone_number_id": "1055"},
        "contacts": [{"profile": {"name": "Mona"}, "wa_id": "201001234567"}],
        "messages": [
          {"from": "201001234567", "id": "wamid.IN1", "timestamp": "1717000000", "type": "text", "text": {"body": "hello"}},
          {"from": "201001234567", "id": "wamid.IN2", "timestamp": "1717000005", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "CAT_3", "title": "Grills"}}},
          {"from": "201001234567", "id": "wamid.IN3", "timestamp": "1717000009", "type": "button",
           "button": {"payload": "OPTIN_YES", "text": "Yes"}}
        ],
        "statuses": [
          {"id": "wamid.OUT1", "status": "delivered", "timestamp": "1717000010", "recipient_id": "201001234567",
           "conversation": {"id": "conv1", "origin": {"type": "service"}},
           "pricing": {"billable": true, "category": "marketing", "pricing_model": "CBP"}},
          {"id": "wamid.OUT2", "status": "failed", "timestamp": "1717000011", "recipient_id": "201001234567",
           "errors": [{"code": 131047, "title": "Re-engagement message", "error_data": {"details": "window closed"}}]}
        ]
      }
    }]
  }]
}`

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload([]byte(samplePayload))
	if err != nil {
		t.Fatalf("ParsePayload: %v", err)
	}
	if p.Object != ObjectWhatsAppBusiness || len(p.Entry) != 1 || len(p.Entry[0].Changes) != 1 {
		t.Fatalf("unexpected envelope: %+v", p)
	}
	v := p.Entry[0].Changes[0].Value
	if v.Metadata.PhoneNumberID != "1055" {
		t.Fatalf("metadata = %+v", v.Metadata)
	}
	if v.ProfileName("201001234567") != "Mona" || v.ProfileName("other") != "" {
		t.Fatal("ProfileName lookup wrong")
	}

	if len(v.Messages) != 3 {
		t.Fatalf("messages = %d", len(v.Messages))
	}
	text := v.Messages[0]
	if text.Type != "text" || text.Text == nil || text.Text.Body != "hello" {
		t.Fatalf("text message = %+v", text)
	}
	if !text.Time().Equal(time.Unix(1717000000, 0)) {
		t.Fatalf("time = %v", text.Time())
	}
	list := v.Messages[1]
	if list.Interactive == nil || list.Interactive.ListReply == nil || list.Interactive.ListReply.ID != "CAT_3" {
		t.Fatalf("list reply = %+v", list.Interactive)
	}
	quick := v.Messages[2]
	if quick.Button == nil || quick.Button.Payload != "OPTIN_YES" {
		t.Fatalf("quick reply = %+v", quick.Button)
	}

	if len(v.Statuses) != 2 {
		t.Fatalf("statuses = %d", len(v.Statuses))
	}
	delivered := v.Statuses[0]
	if delivered.Pricing == nil || !delivered.Pricing.Billable || delivered.Pricing.Category != "marketing" {
		t.Fatalf("pricing = %+v", delivered.Pricing)
	}
	failed := v.Statuses[1]
	if len(failed.Errors) != 1 || failed.Errors[0].Code != 131047 || failed.Errors[0].ErrorData.Details != "window closed" {
		t.Fatalf("errors = %+v", failed.Errors)
	}
}

func TestParsePayload_Malformed(t *testing.T) {
	if _, err := ParsePayload([]byte(`{"object": `)); err == nil {
		t.Fatal("expected error on truncated body")
	}
}

func TestTime_Malformed(t *testing.T) {
	if !(IncomingMessage{Timestamp: "soon"}).Time().IsZero() {
		t.Fatal("malformed timestamp must give zero time")
	}
	if !(Status{}).Time().IsZero() {
		t.Fatal("missing timestamp must give zero time")
	}
}
