// Package staff is the control surface operators use to follow and take over
// customer conversations: list and read threads, take a thread from the bot,
// hand it back, close it, and reply as staff.
//
// Routes expects auth.Middleware and auth.RequireStaff to be mounted in
// front of it.
package staff

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/auth"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/shield"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/vtq"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// component is the audit component name of every staff action.
const component = "staff"

// DefaultMessageLimit is the number of messages returned with a
// conversation when ?messages is absent.
const DefaultMessageLimit = 100

// Auditor records staff mutations. *observability.AuditLogger satisfies it.
type Auditor interface {
	NewAuditEntry(ctx context.Context, component, operation, target string, params, result any, err error, duration time.Duration) *observability.AuditEntry
	LogAsync(entry *observability.AuditEntry)
	Query(ctx context.Context, f observability.AuditFilter) ([]*observability.AuditEntry, error)
}

// Queue is the dead-letter surface of the webhook queue. *vtq.Q satisfies it.
type Queue interface {
	Len(ctx context.Context) (int, error)
	DeadLen(ctx context.Context) (int, error)
	DeadLetters(ctx context.Context, limit int) ([]*vtq.DeadLetter, error)
	Requeue(ctx context.Context, id string) error
}

// API serves the staff endpoints.
type API struct {
	store   *conversation.Store
	sender  whatsapp.Sender
	auditor Auditor
	queue   Queue
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*API)

func WithAuditor(a Auditor) Option {
	return func(api *API) { api.auditor = a }
}

// WithQueue enables the admin dead-letter routes.
func WithQueue(q Queue) Option {
	return func(api *API) { api.queue = q }
}

func WithEvents(p events.Publisher) Option {
	return func(api *API) { api.events = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(api *API) { api.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(api *API) { api.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(api *API) { api.now = now }
}

func New(store *conversation.Store, sender whatsapp.Sender, opts ...Option) *API {
	a := &API{
		store:  store,
		sender: sender,
		events: events.Noop{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Routes registers the staff endpoints on r, relative to its mount point.
func (a *API) Routes(r chi.Router) {
	r.Get("/stats", a.stats)

	r.Route("/conversations", func(r chi.Router) {
		r.Get("/", a.list)
		r.Get("/{id}", a.get)
		r.Get("/{id}/audit", a.history)
		r.Post("/{id}/takeover", a.takeOver)
		r.Post("/{id}/release", a.release)
		r.Post("/{id}/close", a.close)
		r.Post("/{id}/messages", a.send)
	})

	if a.queue != nil {
		r.Route("/queue", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/", a.queueDepth)
			r.Get("/dead-letters", a.deadLetters)
			r.Post("/dead-letters/{id}/requeue", a.requeue)
		})
	}
}

// audit records op on target. The duration runs from start.
func (a *API) audit(ctx context.Context, op, target string, params, result any, err error, start time.Time) {
	if a.auditor == nil {
		return
	}
	a.auditor.LogAsync(a.auditor.NewAuditEntry(ctx, component, op, target, params, result, err, a.now().Sub(start)))
}

// publish emits a conversation event for conv. Failures are logged only.
func (a *API) publish(ctx context.Context, eventType string, conv *conversation.Conversation) {
	err := a.events.Publish(ctx, eventType, events.ConversationEvent{
		ConversationID: conv.ID,
		CustomerID:     conv.CustomerID,
		CustomerPhone:  conv.CustomerPhone,
		CustomerName:   conv.CustomerName,
		Status:         string(conv.Status),
		AssignedTo:     conv.AssignedTo,
		Actor:          actor(ctx),
		At:             a.now().UTC(),
	})
	if err != nil {
		shield.GetLogger(ctx).Warn("staff: publish event failed", "event_type", eventType, "conversation_id", conv.ID, "error", err)
	}
}

// actor is the user id of the authenticated operator.
func actor(ctx context.Context) string {
	if c := auth.GetClaims(ctx); c != nil {
		return c.UserID
	}
	return ""
}

// storeStatus maps a store error to an HTTP status and a metrics result.
func storeStatus(err error) (int, string) {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return 404, "not_found"
	case errors.Is(err, conversation.ErrClosed):
		return 409, "closed"
	}
	return 500, "error"
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
