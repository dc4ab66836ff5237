package staff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/auth"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/bot"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events/eventstest"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/vtq"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
	_ "modernc.org/sqlite"
)

var (
	testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	secret  = []byte("staff-test-secret-0123456789abcdef")
)

// fakeSender records sends and fails them all when err is set.
type fakeSender struct {
	mu   sync.Mutex
	sent []whatsapp.Outbound
	to   []string
	err  error
}

func (s *fakeSender) Send(_ context.Context, to string, msg whatsapp.Outbound) (*whatsapp.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, msg)
	s.to = append(s.to, to)
	return &whatsapp.SendResult{MessageID: fmt.Sprintf("wamid.STAFF%d", len(s.sent))}, nil
}

func (s *fakeSender) MarkRead(context.Context, string) error { return nil }

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	srv     *httptest.Server
	store   *conversation.Store
	sender  *fakeSender
	events  *eventstest.Recorder
	metrics *metrics.Metrics
	audit   *observability.AuditLogger
	queue   *vtq.Q

	customer *conversation.Customer
	conv     *conversation.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t,
		dbopen.WithSchema(conversation.Schema),
		dbopen.WithSchema(observability.Schema),
		dbopen.WithSchema(vtq.Schema))
	clock := func() time.Time { return testNow }

	f := &fixture{
		store: conversation.New(db,
			conversation.WithClock(clock),
			conversation.WithIDs(idgen.Sequence("cus_"), idgen.Sequence("cnv_"), idgen.Sequence("msg_"))),
		sender:  &fakeSender{},
		events:  &eventstest.Recorder{},
		metrics: metrics.New(),
		audit:   observability.NewAuditLogger(db, 16, observability.WithAuditClock(clock)),
		queue:   vtq.New(db, vtq.Options{Queue: "webhook", MaxAttempts: 1}),
	}

	api := New(f.store, f.sender,
		WithAuditor(f.audit), WithQueue(f.queue), WithEvents(f.events),
		WithMetrics(f.metrics), WithClock(clock))
	r := chi.NewRouter()
	r.Use(auth.Middleware(secret))
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireStaff)
		api.Routes(r)
	})
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)

	ctx := context.Background()
	cust, _, err := f.store.GetOrCreateCustomer(ctx, "971500000001", "Mona")
	if err != nil {
		t.Fatal(err)
	}
	conv, err := f.store.GetOrCreateActiveConversation(ctx, cust.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.ExtendServiceWindow(ctx, conv.ID, testNow.Add(24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.SaveMessage(ctx, &conversation.Message{
		ConversationID: conv.ID, ProviderMessageID: "wamid.IN1", Direction: conversation.Inbound,
		Type: "text", Content: `{"text":{"body":"hello"}}`, Sender: conversation.SenderCustomer,
	}); err != nil {
		t.Fatal(err)
	}
	f.customer, f.conv = cust, conv
	return f
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(secret, &auth.Claims{UserID: "usr_1", Username: "layla", Role: role}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

// do sends a request as a staff member and decodes the JSON reply into out
// when out is non-nil.
func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	return f.doAs(t, auth.RoleStaff, method, path, body, out)
}

func (f *fixture) doAs(t *testing.T, role, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatal(err)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

func TestRequiresStaffToken(t *testing.T) {
	f := newFixture(t)
	if code := f.doAs(t, "", "GET", "/api/conversations", "", nil); code != 401 {
		t.Fatalf("anonymous: %d", code)
	}
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)

	var page struct {
		Conversations []conversation.Conversation `json:"conversations"`
		Limit         int                         `json:"limit"`
	}
	if code := f.do(t, "GET", "/api/conversations", "", &page); code != 200 {
		t.Fatalf("list: %d", code)
	}
	if len(page.Conversations) != 1 || page.Conversations[0].ID != f.conv.ID || page.Limit != 50 {
		t.Fatalf("page: %+v", page)
	}
	if page.Conversations[0].CustomerPhone != "971500000001" {
		t.Fatalf("customer phone not joined: %+v", page.Conversations[0])
	}

	page.Conversations = nil
	if code := f.do(t, "GET", "/api/conversations?status=closed", "", &page); code != 200 || len(page.Conversations) != 0 {
		t.Fatalf("closed filter: %d %+v", code, page.Conversations)
	}
	if code := f.do(t, "GET", "/api/conversations?status=sleeping", "", nil); code != 400 {
		t.Fatalf("bad status: %d", code)
	}
}

func TestGetConversation(t *testing.T) {
	f := newFixture(t)

	var out struct {
		Conversation    conversation.Conversation `json:"conversation"`
		Customer        conversation.Customer     `json:"customer"`
		Messages        []conversation.Message    `json:"messages"`
		InServiceWindow bool                      `json:"in_service_window"`
	}
	if code := f.do(t, "GET", "/api/conversations/"+f.conv.ID, "", &out); code != 200 {
		t.Fatalf("get: %d", code)
	}
	if out.Conversation.ID != f.conv.ID || out.Customer.ID != f.customer.ID {
		t.Fatalf("unexpected body: %+v", out)
	}
	if len(out.Messages) != 1 || out.Messages[0].ProviderMessageID != "wamid.IN1" {
		t.Fatalf("messages: %+v", out.Messages)
	}
	if !out.InServiceWindow {
		t.Fatal("window should be open")
	}

	if code := f.do(t, "GET", "/api/conversations/cnv_missing", "", nil); code != 404 {
		t.Fatalf("unknown: %d", code)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	var st conversation.Stats
	if code := f.do(t, "GET", "/api/stats", "", &st); code != 200 {
		t.Fatalf("stats: %d", code)
	}
	if st.Customers != 1 || st.Inbound != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

// ---------------------------------------------------------------------------
// Status changes
// ---------------------------------------------------------------------------

func TestTakeOver(t *testing.T) {
	f := newFixture(t)

	var conv conversation.Conversation
	if code := f.do(t, "POST", "/api/conversations/"+f.conv.ID+"/takeover", "", &conv); code != 200 {
		t.Fatalf("takeover: %d", code)
	}
	if conv.Status != conversation.StatusWaitingHuman || conv.AssignedTo != "usr_1" {
		t.Fatalf("after takeover: %+v", conv)
	}

	if code := f.do(t, "POST", "/api/conversations/"+f.conv.ID+"/takeover", `{"assignee":"usr_9"}`, &conv); code != 200 {
		t.Fatalf("reassign: %d", code)
	}
	if conv.AssignedTo != "usr_9" {
		t.Fatalf("assignee from body ignored: %+v", conv)
	}

	evs := f.events.Events()
	if len(evs) != 2 || evs[0].Type != events.TypeTakenOver {
		t.Fatalf("events: %v", f.events.Types())
	}
	if data := evs[0].Data.(events.ConversationEvent); data.Actor != "usr_1" || data.ConversationID != f.conv.ID {
		t.Fatalf("event data: %+v", data)
	}
	if got := testutil.ToFloat64(f.metrics.StaffActions.WithLabelValues("takeover", "ok")); got != 2 {
		t.Fatalf("takeover metric = %v", got)
	}

	if code := f.do(t, "POST", "/api/conversations/cnv_missing/takeover", "", nil); code != 404 {
		t.Fatalf("unknown: %d", code)
	}
	if code := f.do(t, "POST", "/api/conversations/"+f.conv.ID+"/takeover", `{"assignee":`, nil); code != 400 {
		t.Fatalf("bad body: %d", code)
	}
}

func TestReleaseResetsCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	blob, err := bot.Encode(bot.NewContext(bot.SupportData{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.UpdateCustomerState(ctx, f.customer.ID, string(bot.StateSupport), blob, f.customer.Version); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Escalate(ctx, f.conv.ID); err != nil {
		t.Fatal(err)
	}

	var conv conversation.Conversation
	if code := f.do(t, "POST", "/api/conversations/"+f.conv.ID+"/release", "", &conv); code != 200 {
		t.Fatalf("release: %d", code)
	}
	if conv.Status != conversation.StatusActive || conv.AssignedTo != "" {
		t.Fatalf("after release: %+v", conv)
	}

	cust, err := f.store.GetCustomer(ctx, f.customer.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cust.State != string(bot.StateIdle) || cust.Version != f.customer.Version+2 {
		t.Fatalf("customer not reset: state %q version %d", cust.State, cust.Version)
	}
	if types := f.events.Types(); len(types) != 1 || types[0] != events.TypeReleased {
		t.Fatalf("events: %v", types)
	}
}

func TestCloseConversation(t *testing.T) {
	f := newFixture(t)
	path := "/api/conversations/" + f.conv.ID

	var conv conversation.Conversation
	if code := f.do(t, "POST", path+"/close", "", &conv); code != 200 {
		t.Fatalf("close: %d", code)
	}
	if conv.Status != conversation.StatusClosed || conv.ClosedAt.IsZero() {
		t.Fatalf("after close: %+v", conv)
	}

	for _, action := range []string{"close", "takeover", "release"} {
		if code := f.do(t, "POST", path+"/"+action, "", nil); code != 409 {
			t.Fatalf("%s on closed: %d", action, code)
		}
	}
	if got := testutil.ToFloat64(f.metrics.StaffActions.WithLabelValues("close", "closed")); got != 1 {
		t.Fatalf("close/closed metric = %v", got)
	}
	if types := f.events.Types(); len(types) != 1 || types[0] != events.TypeClosed {
		t.Fatalf("events: %v", types)
	}
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

func TestSendText(t *testing.T) {
	f := newFixture(t)

	var rec conversation.Message
	code := f.do(t, "POST", "/api/conversations/"+f.conv.ID+"/messages", `{"text":"Your table is ready"}`, &rec)
	if code != 201 {
		t.Fatalf("send: %d", code)
	}
	if f.sender.count() != 1 || f.sender.to[0] != "971500000001" {
		t.Fatalf("sender: %+v", f.sender.to)
	}
	if rec.ProviderMessageID != "wamid.STAFF1" || rec.Sender != conversation.SenderStaff || rec.SentBy != "usr_1" {
		t.Fatalf("record: %+v", rec)
	}

	stored, err := f.store.GetMessageByProviderID(context.Background(), "wamid.STAFF1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Direction != conversation.Outbound || stored.Status != conversation.DeliverySent || stored.Type != "text" {
		t.Fatalf("stored: %+v", stored)
	}
	if got := testutil.ToFloat64(f.metrics.OutboundMessages.WithLabelValues("text", "staff", "ok")); got != 1 {
		t.Fatalf("outbound metric = %v", got)
	}
}

func TestSendOutsideServiceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, _, err := f.store.GetOrCreateCustomer(ctx, "971500000002", "Omar")
	if err != nil {
		t.Fatal(err)
	}
	conv, err := f.store.GetOrCreateActiveConversation(ctx, other.ID)
	if err != nil {
		t.Fatal(err)
	}
	path := "/api/conversations/" + conv.ID + "/messages"

	var body map[string]any
	if code := f.do(t, "POST", path, `{"text":"hi"}`, &body); code != 409 {
		t.Fatalf("text outside window: %d", code)
	}
	if !strings.Contains(body["error"].(string), "template") {
		t.Fatalf("error: %v", body)
	}
	if f.sender.count() != 0 {
		t.Fatal("provider was called")
	}

	var rec conversation.Message
	tpl := `{"template":{"name":"weekend_offer","language":"en","category":"marketing"}}`
	if code := f.do(t, "POST", path, tpl, &rec); code != 201 {
		t.Fatalf("template outside window: %d", code)
	}
	if !rec.IsTemplate || rec.TemplateCategory != "marketing" || rec.Type != "template" {
		t.Fatalf("template record: %+v", rec)
	}
}

func TestSendProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.err = &whatsapp.APIError{Kind: whatsapp.KindAuth, StatusCode: 401, Code: 190, Message: "Invalid OAuth access token"}

	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	code := f.do(t, "POST", "/api/conversations/"+f.conv.ID+"/messages", `{"text":"hello"}`, &body)
	if code != 502 {
		t.Fatalf("code: %d", code)
	}
	if body.Kind != "auth" || body.Error != "Invalid OAuth access token" {
		t.Fatalf("body: %+v", body)
	}
	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("failed send was stored: %d messages", len(msgs))
	}
	if got := testutil.ToFloat64(f.metrics.OutboundMessages.WithLabelValues("text", "staff", "auth")); got != 1 {
		t.Fatalf("outbound metric = %v", got)
	}
}

func TestSendRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	path := "/api/conversations/" + f.conv.ID + "/messages"

	for _, body := range []string{
		`{}`,
		`{"text":"a","template":{"name":"x"}}`,
		`{"template":{"name":""}}`,
		`{"template":{"name":"x","category":"gossip"}}`,
		`not json`,
	} {
		if code := f.do(t, "POST", path, body, nil); code != 400 {
			t.Fatalf("%s: %d", body, code)
		}
	}
	if code := f.do(t, "POST", "/api/conversations/cnv_missing/messages", `{"text":"a"}`, nil); code != 404 {
		t.Fatalf("unknown conversation: %d", code)
	}

	if err := f.store.Close(context.Background(), f.conv.ID); err != nil {
		t.Fatal(err)
	}
	if code := f.do(t, "POST", path, `{"text":"a"}`, nil); code != 409 {
		t.Fatalf("closed conversation: %d", code)
	}
	if f.sender.count() != 0 {
		t.Fatal("provider was called")
	}
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func TestMutationsAreAudited(t *testing.T) {
	f := newFixture(t)
	path := "/api/conversations/" + f.conv.ID

	f.do(t, "POST", path+"/takeover", "", nil)
	f.do(t, "POST", path+"/messages", `{"text":"on it"}`, nil)
	f.do(t, "POST", path+"/close", "", nil)
	f.do(t, "POST", path+"/close", "", nil)

	// Close flushes the async buffer.
	if err := f.audit.Close(); err != nil {
		t.Fatal(err)
	}

	var entries []observability.AuditEntry
	if code := f.do(t, "GET", path+"/audit", "", &entries); code != 200 {
		t.Fatalf("audit: %d", code)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}
	ops := map[string]int{}
	for _, e := range entries {
		if e.Component != "staff" || e.UserID != "usr_1" || e.TargetID != f.conv.ID {
			t.Fatalf("entry: %+v", e)
		}
		ops[e.Operation+"/"+e.Status]++
	}
	want := map[string]int{"takeover/success": 1, "send/success": 1, "close/success": 1, "close/error": 1}
	for k, n := range want {
		if ops[k] != n {
			t.Fatalf("ops = %v, want %v", ops, want)
		}
	}
}

// ---------------------------------------------------------------------------
// Dead letters
// ---------------------------------------------------------------------------

func TestDeadLetterAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.queue.Publish(ctx, "job_1", []byte(`{"object":"whatsapp_business_account"}`)); err != nil {
		t.Fatal(err)
	}
	job, err := f.queue.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}
	if dead, err := f.queue.Nack(ctx, job, errors.New("store down")); err != nil || !dead {
		t.Fatalf("nack: dead=%v err=%v", dead, err)
	}

	if code := f.do(t, "GET", "/api/queue/dead-letters", "", nil); code != 403 {
		t.Fatalf("staff role: %d", code)
	}

	var depth map[string]int
	if code := f.doAs(t, auth.RoleAdmin, "GET", "/api/queue", "", &depth); code != 200 || depth["dead"] != 1 || depth["pending"] != 0 {
		t.Fatalf("depth: %d %v", code, depth)
	}

	var list []deadLetter
	if code := f.doAs(t, auth.RoleAdmin, "GET", "/api/queue/dead-letters", "", &list); code != 200 {
		t.Fatalf("list: %d", code)
	}
	if len(list) != 1 || list[0].ID != "job_1" || list[0].LastError != "store down" {
		t.Fatalf("dead letters: %+v", list)
	}

	if code := f.doAs(t, auth.RoleAdmin, "POST", "/api/queue/dead-letters/job_1/requeue", "", nil); code != 200 {
		t.Fatalf("requeue: %d", code)
	}
	if n, _ := f.queue.Len(ctx); n != 1 {
		t.Fatalf("queue len = %d after requeue", n)
	}
	if code := f.doAs(t, auth.RoleAdmin, "POST", "/api/queue/dead-letters/job_1/requeue", "", nil); code != 404 {
		t.Fatalf("second requeue: %d", code)
	}
}
