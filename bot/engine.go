package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/connectivity"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

// ErrTransition is matched by every *TransitionError.
var ErrTransition = errors.New("bot: transition failed")

// Failure stages reported in TransitionError and metrics.
const (
	StageTransition = "transition"
	StageValidate   = "validate"
	StageEncode     = "encode"
	StageCommit     = "commit"
	StageSend       = "send"
)

// TransitionError reports a transition that was abandoned. The customer
// received the apology and the stored state was left as it was, or put back
// when a send failed after the commit.
type TransitionError struct {
	Stage      string
	CustomerID string
	State      State
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bot: %s failed for customer %s in state %s: %v", e.Stage, e.CustomerID, e.State, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

func (e *TransitionError) Is(target error) bool { return target == ErrTransition }

// Store is the part of the conversation store the engine writes to.
type Store interface {
	ApplyStateChange(ctx context.Context, ch conversation.StateChange) (int64, error)
	SaveMessage(ctx context.Context, m *conversation.Message) (bool, error)
}

// Engine runs a transition and carries out its effects. The state write, the
// opt-in and the escalation are committed together before any reply is sent.
// Callers hold the customer lock.
type Engine struct {
	machine *Machine
	store   Store
	sender  whatsapp.Sender
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	apologyTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithEvents(p events.Publisher) EngineOption {
	return func(e *Engine) { e.events = p }
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithApologyTimeout bounds the apology send, which runs even when the
// handling context is already done. Default 10s.
func WithApologyTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.apologyTimeout = d }
}

func NewEngine(m *Machine, store Store, sender whatsapp.Sender, opts ...EngineOption) *Engine {
	e := &Engine{
		machine:        m,
		store:          store,
		sender:         sender,
		events:         events.Noop{},
		logger:         slog.Default(),
		now:            time.Now,
		apologyTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Handle processes one inbound event for cust in conv. On success cust and
// conv reflect the new state. Every failure is a *TransitionError: the
// apology was sent and the stored state is what it was before the event,
// except an opt-in or escalation whose confirmation was already delivered.
func (e *Engine) Handle(ctx context.Context, cust *conversation.Customer, conv *conversation.Conversation, ev Event) error {
	log := e.logger.With("customer_id", cust.ID, "conversation_id", conv.ID, "provider_message_id", ev.MessageID)

	if ev.MessageID != "" {
		if err := e.sender.MarkRead(ctx, ev.MessageID); err != nil {
			log.Warn("bot: mark read failed", "error", err)
		}
	}

	cur, err := Decode(cust.State, cust.ContextData)
	if err != nil {
		log.Warn("bot: stored context unreadable, using state defaults", "state", cust.State, "error", err)
	}

	var res Result
	err = connectivity.Protect(func() error {
		var err error
		res, err = e.machine.Transition(ctx, cur, ev)
		return err
	})
	if err != nil {
		return e.fail(ctx, log, cust, conv, cur, ev, StageTransition, err)
	}
	for i, msg := range res.Replies {
		if err := msg.Validate(); err != nil {
			return e.fail(ctx, log, cust, conv, cur, ev, StageValidate, fmt.Errorf("reply %d (%s): %w", i, msg.Kind(), err))
		}
	}
	blob, err := Encode(res.Next)
	if err != nil {
		return e.fail(ctx, log, cust, conv, cur, ev, StageEncode, err)
	}

	at := ev.At
	if at.IsZero() {
		at = e.now()
	}
	ch := conversation.StateChange{
		CustomerID:       cust.ID,
		ExpectedVersion:  cust.Version,
		State:            string(res.Next.State),
		ContextData:      blob,
		OptIn:            res.OptIn,
		OptInAt:          at,
		HandledMessageID: ev.MessageID,
	}
	if res.Escalate {
		ch.ConversationID, ch.Status = conv.ID, conversation.StatusWaitingHuman
	}
	version, err := e.store.ApplyStateChange(ctx, ch)
	if err != nil {
		return e.fail(ctx, log, cust, conv, cur, ev, StageCommit, err)
	}

	prevCust, prevStatus := *cust, conv.Status
	cust.State, cust.ContextData, cust.Version = ch.State, blob, version
	if res.OptIn != nil {
		cust.OptInMarketing = *res.OptIn
		cust.OptInDate = time.Time{}
		if *res.OptIn {
			cust.OptInDate = at
		}
	}
	if res.Escalate {
		conv.Status = conversation.StatusWaitingHuman
	}

	for i, msg := range res.Replies {
		if err := e.send(ctx, log, cust, conv, msg); err != nil {
			e.revert(ctx, log, cust, conv, &prevCust, prevStatus, res, i > 0)
			if res.Escalate && conv.Status == conversation.StatusWaitingHuman {
				e.escalated(ctx, log, cust, conv, ev)
			}
			return e.fail(ctx, log, cust, conv, cur, ev, StageSend, err)
		}
	}

	e.metrics.Transition(string(cur.State), string(res.Next.State))
	if res.Escalate {
		e.escalated(ctx, log, cust, conv, ev)
	}
	return nil
}

// revert puts back the state the commit replaced after a reply could not be
// sent. The opt-in and the escalation are undone too unless delivered is
// set: the customer already read the confirmation. The handled mark stays
// since the apology answers the message.
func (e *Engine) revert(ctx context.Context, log *slog.Logger, cust *conversation.Customer, conv *conversation.Conversation, prev *conversation.Customer, prevStatus conversation.Status, res Result, delivered bool) {
	undo := conversation.StateChange{
		CustomerID:      cust.ID,
		ExpectedVersion: cust.Version,
		State:           prev.State,
		ContextData:     prev.ContextData,
	}
	if res.OptIn != nil && !delivered {
		optIn := prev.OptInMarketing
		undo.OptIn, undo.OptInAt = &optIn, prev.OptInDate
	}
	if res.Escalate && !delivered && prevStatus != conv.Status {
		undo.ConversationID, undo.Status = conv.ID, prevStatus
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.apologyTimeout)
	defer cancel()
	version, err := e.store.ApplyStateChange(rctx, undo)
	if err != nil {
		log.Error("bot: revert after failed send", "state", cust.State, "revert_to", prev.State, "error", err)
		return
	}
	cust.State, cust.ContextData, cust.Version = prev.State, prev.ContextData, version
	if undo.OptIn != nil {
		cust.OptInMarketing, cust.OptInDate = prev.OptInMarketing, prev.OptInDate
	}
	if undo.Status != "" {
		conv.Status = prevStatus
	}
}

func (e *Engine) send(ctx context.Context, log *slog.Logger, cust *conversation.Customer, conv *conversation.Conversation, msg whatsapp.Outbound) error {
	out, err := e.sender.Send(ctx, cust.PhoneNumber, msg)
	if err != nil {
		e.metrics.Outbound(msg.Kind(), string(conversation.SenderBot), string(whatsapp.KindOf(err)))
		return err
	}
	e.metrics.Outbound(msg.Kind(), string(conversation.SenderBot), "ok")

	rec := OutboundRecord(conv.ID, msg, out.MessageID, conversation.SenderBot, "")
	rec.Timestamp = e.now().UTC()
	if _, err := e.store.SaveMessage(ctx, rec); err != nil {
		log.Error("bot: save outbound message failed", "provider_message_id", out.MessageID, "error", err)
	}
	return nil
}

func (e *Engine) escalated(ctx context.Context, log *slog.Logger, cust *conversation.Customer, conv *conversation.Conversation, ev Event) {
	e.metrics.Escalation()
	err := e.events.Publish(ctx, events.TypeEscalated, events.ConversationEvent{
		ConversationID: conv.ID,
		CustomerID:     cust.ID,
		CustomerPhone:  cust.PhoneNumber,
		CustomerName:   cust.ProfileName,
		Status:         string(conv.Status),
		MessageID:      ev.MessageID,
		Preview:        ev.Text,
		At:             e.now().UTC(),
	})
	if err != nil {
		log.Warn("bot: publish escalation failed", "error", err)
	}
	log.Info("bot: conversation escalated to staff")
}

// fail logs the abandoned transition, sends the apology and returns the
// TransitionError.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, cust *conversation.Customer, conv *conversation.Conversation, cur Context, ev Event, stage string, cause error) error {
	var p *connectivity.ErrPanic
	attrs := []any{"stage", stage, "state", cur.State, "event", ev, "error", cause}
	if errors.As(cause, &p) {
		attrs = append(attrs, "stack", p.Stack)
	}
	log.Error("bot: transition failed", attrs...)
	e.metrics.BotFailure(stage)

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.apologyTimeout)
	defer cancel()
	if err := e.send(actx, log, cust, conv, whatsapp.Text{Body: ApologyText}); err != nil {
		log.Error("bot: apology not delivered", "error", err)
	}
	return &TransitionError{Stage: stage, CustomerID: cust.ID, State: cur.State, Err: cause}
}

// OutboundRecord builds the message log row for a sent message.
func OutboundRecord(conversationID string, msg whatsapp.Outbound, providerID string, sender conversation.Sender, sentBy string) *conversation.Message {
	m := &conversation.Message{
		ConversationID:    conversationID,
		ProviderMessageID: providerID,
		Direction:         conversation.Outbound,
		Type:              msg.Kind(),
		Content:           whatsapp.Content(msg),
		Sender:            sender,
		SentBy:            sentBy,
		Status:            conversation.DeliverySent,
	}
	if t, ok := msg.(whatsapp.Template); ok {
		m.IsTemplate = true
		m.TemplateCategory = string(t.Category)
	}
	return m
}
