package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/bot"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/catalog"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/kit"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/vtq"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// DefaultServiceWindow is how long free-form replies are allowed after the
// customer's last message.
const DefaultServiceWindow = 24 * time.Hour

// originReferral is the conversation origin that opens the free entry
// point window.
const originReferral = "referral_conversion"

// Bot handles an inbound event for a customer whose lock is held.
// *bot.Engine satisfies it.
type Bot interface {
	Handle(ctx context.Context, cust *conversation.Customer, conv *conversation.Conversation, ev bot.Event) error
}

// Worker processes queued webhook bodies.
type Worker struct {
	store     *conversation.Store
	directory catalog.Directory
	bot       Bot
	events    events.Publisher
	metrics   *metrics.Metrics
	rates     Rates
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithDirectory links first-time customers to CRM records found by phone.
func WithDirectory(d catalog.Directory) WorkerOption {
	return func(w *Worker) { w.directory = d }
}

func WithEvents(p events.Publisher) WorkerOption {
	return func(w *Worker) { w.events = p }
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func WithRates(r Rates) WorkerOption {
	return func(w *Worker) { w.rates = r }
}

func WithServiceWindow(d time.Duration) WorkerOption {
	return func(w *Worker) { w.window = d }
}

func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(store *conversation.Store, b Bot, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:  store,
		bot:    b,
		events: events.Noop{},
		rates:  DefaultRates(),
		window: DefaultServiceWindow,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// HandleJob is the vtq handler for queued webhook bodies.
func (w *Worker) HandleJob(ctx context.Context, job *vtq.Job) error {
	return w.Process(kit.WithJobID(ctx, job.ID), job.Payload)
}

// Process handles every message and status update in body. Bodies that
// cannot be parsed are logged and dropped. The returned error joins the
// failures that are worth a retry; messages already stored are skipped on
// the retry.
func (w *Worker) Process(ctx context.Context, body []byte) error {
	log := w.logger.With(kit.LogAttrs(ctx)...)

	p, err := whatsapp.ParsePayload(body)
	if err != nil {
		log.Warn("webhook: unreadable payload dropped", "error", err)
		return nil
	}
	if p.Object != whatsapp.ObjectWhatsAppBusiness {
		log.Warn("webhook: unknown object type", "object", p.Object)
		return nil
	}

	var errs []error
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			v := change.Value
			for _, m := range v.Messages {
				if err := w.handleMessage(ctx, log, v, m); err != nil {
					errs = append(errs, err)
				}
			}
			for _, s := range v.Statuses {
				if err := w.handleStatus(ctx, log, s); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) handleMessage(ctx context.Context, log *slog.Logger, v whatsapp.ChangeValue, m whatsapp.IncomingMessage) error {
	log = log.With("provider_message_id", m.ID, "type", m.Type)
	if m.From == "" || m.ID == "" {
		log.Warn("webhook: message without sender or id skipped")
		w.metrics.Inbound(m.Type, "invalid")
		return nil
	}

	unlock := w.store.LockCustomer(m.From)
	defer unlock()

	cust, _, err := w.store.GetOrCreateCustomer(ctx, m.From, cleanName(v.ProfileName(m.From)))
	if err != nil {
		w.metrics.Inbound(m.Type, "error")
		return fmt.Errorf("webhook: resolve customer: %w", err)
	}
	log = log.With("customer_id", cust.ID)
	if cust.CRMCustomerID == "" {
		w.linkCRM(ctx, log, cust)
	}

	conv, err := w.store.GetOrCreateActiveConversation(ctx, cust.ID)
	if err != nil {
		w.metrics.Inbound(m.Type, "error")
		return fmt.Errorf("webhook: resolve conversation: %w", err)
	}
	log = log.With("conversation_id", conv.ID)

	now := w.now().UTC()
	at := m.Time()
	if at.IsZero() {
		at = now
	}
	content, err := json.Marshal(m)
	if err != nil {
		content = []byte("{}")
	}
	msg := &conversation.Message{
		ConversationID:    conv.ID,
		ProviderMessageID: m.ID,
		Direction:         conversation.Inbound,
		Type:              m.Type,
		Content:           string(content),
		Sender:            conversation.SenderCustomer,
		Timestamp:         at,
	}
	fresh, err := w.store.SaveMessage(ctx, msg)
	if err != nil {
		w.metrics.Inbound(m.Type, "error")
		return fmt.Errorf("webhook: save inbound message: %w", err)
	}
	if !fresh && !msg.HandledAt.IsZero() {
		log.Info("webhook: duplicate delivery ignored")
		w.metrics.Inbound(m.Type, "duplicate")
		return nil
	}
	if !fresh {
		// Stored by an attempt that stopped before answering.
		log.Info("webhook: resuming unanswered message")
	}

	// Past this point failures are logged instead of returned; the message
	// is marked handled once answered.
	until := now.Add(w.window)
	if err := w.store.ExtendServiceWindow(ctx, conv.ID, until); err != nil {
		log.Error("webhook: extend service window failed", "error", err)
	} else {
		conv.ServiceWindowExpires = until
	}
	if err := w.store.TouchLastInteraction(ctx, cust.ID, now); err != nil {
		log.Error("webhook: touch last interaction failed", "error", err)
	}

	ctx = kit.WithCustomerID(ctx, cust.ID)
	if conv.Status == conversation.StatusWaitingHuman {
		w.metrics.Inbound(m.Type, "waiting_human")
		w.notifyWaiting(ctx, log, cust, conv, m)
		w.markHandled(ctx, log, m.ID)
		return nil
	}

	outcome := "bot"
	if err := w.bot.Handle(ctx, cust, conv, bot.EventFromMessage(m)); err != nil {
		outcome = "error"
		if errors.Is(err, bot.ErrTransition) {
			outcome = "apology"
		}
		log.Error("webhook: bot handling failed", "error", err)
	}
	w.markHandled(ctx, log, m.ID)
	w.metrics.Inbound(m.Type, outcome)
	return nil
}

func (w *Worker) markHandled(ctx context.Context, log *slog.Logger, providerID string) {
	if err := w.store.MarkMessageHandled(context.WithoutCancel(ctx), providerID); err != nil {
		log.Error("webhook: mark message handled failed", "error", err)
	}
}

func (w *Worker) linkCRM(ctx context.Context, log *slog.Logger, cust *conversation.Customer) {
	if w.directory == nil {
		return
	}
	crm, err := w.directory.FindByPhone(ctx, cust.PhoneNumber)
	if errors.Is(err, catalog.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn("webhook: CRM lookup failed", "error", err)
		return
	}
	if err := w.store.LinkCRMCustomer(ctx, cust.ID, crm.ID); err != nil {
		log.Warn("webhook: CRM link failed", "crm_customer_id", crm.ID, "error", err)
		return
	}
	cust.CRMCustomerID = crm.ID
	log.Info("webhook: linked customer to CRM record", "crm_customer_id", crm.ID)
}

func (w *Worker) notifyWaiting(ctx context.Context, log *slog.Logger, cust *conversation.Customer, conv *conversation.Conversation, m whatsapp.IncomingMessage) {
	preview := "[" + m.Type + "]"
	if m.Text != nil {
		preview = m.Text.Body
	}
	err := w.events.Publish(ctx, events.TypeCustomerWaiting, events.ConversationEvent{
		ConversationID: conv.ID,
		CustomerID:     cust.ID,
		CustomerPhone:  cust.PhoneNumber,
		CustomerName:   cust.ProfileName,
		Status:         string(conv.Status),
		AssignedTo:     conv.AssignedTo,
		MessageID:      m.ID,
		Preview:        preview,
		At:             w.now().UTC(),
	})
	if err != nil {
		log.Warn("webhook: publish customer waiting failed", "error", err)
	}
	log.Info("webhook: message held for staff", "assigned_to", conv.AssignedTo)
}

func (w *Worker) handleStatus(ctx context.Context, log *slog.Logger, s whatsapp.Status) error {
	log = log.With("provider_message_id", s.ID, "status", s.Status)

	status := conversation.DeliveryStatus(s.Status)
	if !status.Valid() {
		log.Warn("webhook: unknown delivery status skipped")
		w.metrics.Status(s.Status, "invalid")
		return nil
	}

	msg, err := w.store.GetMessageByProviderID(ctx, s.ID)
	if errors.Is(err, conversation.ErrNotFound) {
		log.Warn("webhook: status for unknown message skipped")
		w.metrics.Status(s.Status, "unknown")
		return nil
	}
	if err != nil {
		w.metrics.Status(s.Status, "error")
		return fmt.Errorf("webhook: load message for status: %w", err)
	}

	var errText string
	if status == conversation.DeliveryFailed && len(s.Errors) > 0 {
		b, _ := json.Marshal(s.Errors)
		errText = string(b)
		log.Error("webhook: message delivery failed", "errors", errText)
	}

	applied, err := w.store.UpdateMessageStatus(ctx, s.ID, status, errText)
	if err != nil {
		w.metrics.Status(s.Status, "error")
		return fmt.Errorf("webhook: update message status: %w", err)
	}
	if applied {
		w.metrics.Status(s.Status, "applied")
	} else {
		log.Debug("webhook: stale status ignored", "current", msg.Status)
		w.metrics.Status(s.Status, "stale")
	}

	if s.Pricing != nil {
		cost := w.rates.Cost(*s.Pricing)
		if err := w.store.UpdateMessageCost(ctx, s.ID, s.Pricing.Category, cost); err != nil {
			return fmt.Errorf("webhook: update message cost: %w", err)
		}
		// Several callbacks carry the same pricing; count the cost once.
		if msg.PricingCategory == "" {
			w.metrics.Cost(s.Pricing.Category, cost)
		}
	}

	if c := s.Conversation; c != nil && c.Origin.Type == originReferral {
		if exp := c.Expires(); !exp.IsZero() {
			if err := w.store.SetFreeEntryPointExpiry(ctx, msg.ConversationID, exp); err != nil {
				log.Warn("webhook: set free entry point expiry failed", "error", err)
			}
		}
	}
	return nil
}

// JobObserver returns a vtq OnResult callback that records job metrics.
func JobObserver(m *metrics.Metrics) func(*vtq.Job, time.Duration, error) {
	return func(_ *vtq.Job, took time.Duration, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		m.Job(took, result)
	}
}
