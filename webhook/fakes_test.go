package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/bot"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/catalog"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events/eventstest"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
	_ "modernc.org/sqlite"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// recordingSender stands in for the channel client.
type recordingSender struct {
	mu   sync.Mutex
	sent []whatsapp.Outbound
	to   []string
	read []string
}

func (s *recordingSender) Send(_ context.Context, to string, msg whatsapp.Outbound) (*whatsapp.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	s.to = append(s.to, to)
	return &whatsapp.SendResult{MessageID: fmt.Sprintf("wamid.OUT%d", len(s.sent)), WaID: to}, nil
}

func (s *recordingSender) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, id)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// failingBot always fails the transition.
type failingBot struct{ err error }

func (b failingBot) Handle(context.Context, *conversation.Customer, *conversation.Conversation, bot.Event) error {
	return b.err
}

type env struct {
	store   *conversation.Store
	catalog *catalog.Store
	sender  *recordingSender
	events  *eventstest.Recorder
	metrics *metrics.Metrics
	worker  *Worker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(conversation.Schema), dbopen.WithSchema(catalog.Schema))
	clock := func() time.Time { return testNow }
	store := conversation.New(db,
		conversation.WithClock(clock),
		conversation.WithIDs(idgen.Sequence("cus_"), idgen.Sequence("cnv_"), idgen.Sequence("msg_")),
	)
	cat := catalog.NewStore(db)
	ctx := context.Background()
	for _, c := range []catalog.Category{
		{ID: "123", Name: "Grills", SortOrder: 1, Active: true},
		{ID: "200", Name: "Desserts", SortOrder: 2, Active: true},
	} {
		if err := cat.UpsertCategory(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := cat.UpsertItem(ctx, catalog.Item{ID: "kofta", CategoryID: "123", Name: "Kofta", Price: 42.5, Available: true}); err != nil {
		t.Fatal(err)
	}
	if err := cat.UpsertCRMCustomer(ctx, catalog.CRMCustomer{ID: "crm_1", Name: "Mona", Phone: "+20 100 123 4567"}); err != nil {
		t.Fatal(err)
	}

	e := &env{
		store:   store,
		catalog: cat,
		sender:  &recordingSender{},
		events:  &eventstest.Recorder{},
		metrics: metrics.New(),
	}
	engine := bot.NewEngine(bot.NewMachine(cat, bot.DefaultCopy), store, e.sender,
		bot.WithEvents(e.events), bot.WithMetrics(e.metrics), bot.WithClock(clock))
	e.worker = NewWorker(store, engine,
		WithDirectory(cat), WithEvents(e.events), WithMetrics(e.metrics), WithClock(clock))
	return e
}

func (e *env) customer(t *testing.T, phone string) *conversation.Customer {
	t.Helper()
	c, err := e.store.GetCustomerByPhone(context.Background(), phone)
	if err != nil {
		t.Fatalf("GetCustomerByPhone(%s): %v", phone, err)
	}
	return c
}

func (e *env) conversation(t *testing.T, customerID string) *conversation.Conversation {
	t.Helper()
	c, err := e.store.GetOrCreateActiveConversation(context.Background(), customerID)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ---------------------------------------------------------------------------
// Payload builders
// ---------------------------------------------------------------------------

func envelope(value string) []byte {
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages","value":` + value + `}]}]}`)
}

func textPayload(from, id, body string) []byte {
	return envelope(fmt.Sprintf(`{"messaging_product":"whatsapp",
		"metadata":{"display_phone_number":"97140000000","phone_number_id":"PNID"},
		"contacts":[{"profile":{"name":"Mona"},"wa_id":%q}],
		"messages":[{"from":%q,"id":%q,"timestamp":"1773489600","type":"text","text":{"body":%q}}]}`,
		from, from, id, body))
}

func buttonPayload(from, id, replyID string) []byte {
	return envelope(fmt.Sprintf(`{"messaging_product":"whatsapp",
		"messages":[{"from":%q,"id":%q,"timestamp":"1773489600","type":"interactive",
		"interactive":{"type":"button_reply","button_reply":{"id":%q,"title":"x"}}}]}`,
		from, id, replyID))
}

func statusPayload(id, status, extra string) []byte {
	s := fmt.Sprintf(`{"id":%q,"status":%q,"timestamp":"1773489600","recipient_id":"201001234567"`, id, status)
	if extra != "" {
		s += "," + extra
	}
	return envelope(`{"messaging_product":"whatsapp","statuses":[` + s + `}]}`)
}

var errBoom = errors.New("boom")

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func itoa(n int64) string { return fmt.Sprintf("%d", n) }
