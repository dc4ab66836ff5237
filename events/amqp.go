package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
)

// DialOptions configures the broker connection.
type DialOptions struct {
	URL      string
	Exchange string
	// Attempts bounds the dial retries at startup.
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

const maxDialDelay = 60 * time.Second

// DialWithRetry connects to the broker with exponential backoff capped at
// one minute. It returns early when ctx is cancelled.
func DialWithRetry(ctx context.Context, o DialOptions) (*amqp.Connection, error) {
	if o.Attempts <= 0 {
		o.Attempts = 5
	}
	if o.Delay <= 0 {
		o.Delay = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	var lastErr error
	for i := 1; i <= o.Attempts; i++ {
		conn, err := amqp.Dial(o.URL)
		if err == nil {
			if i > 1 {
				o.Logger.Info("events: broker connected", "attempt", i)
			}
			return conn, nil
		}
		lastErr = err
		sleep := min(o.Delay<<(i-1), maxDialDelay)
		o.Logger.Warn("events: broker dial failed", "attempt", i, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("events: dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("events: connect after %d attempts: %w", o.Attempts, lastErr)
}

// AMQPPublisher publishes persistent JSON envelopes to a durable topic
// exchange and waits for the broker's confirm.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
	newID    idgen.Generator
	now      func() time.Time

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPPublisher declares the exchange on conn and opens a channel in
// confirm mode. The publisher owns conn and closes it on Close.
func NewAMQPPublisher(conn *amqp.Connection, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
		newID:    idgen.Event,
		now:      time.Now,
	}
	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	p.ch = ch
	return p, nil
}

func (p *AMQPPublisher) open() (*amqp.Channel, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("events: declare exchange %q: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("events: confirm mode: %w", err)
	}
	return ch, nil
}

// Publish sends data as an envelope of eventType. It blocks until the
// broker confirms or ctx is done.
func (p *AMQPPublisher) Publish(ctx context.Context, eventType string, data any) error {
	env := NewEnvelope(ctx, p.newID, eventType, data, p.now())
	msg, err := publishing(env)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.ch == nil || p.ch.IsClosed() {
		ch, err := p.open()
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.ch = ch
	}
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, eventType, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", eventType, err)
	}

	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("events: confirm %s: %w", eventType, err)
	}
	if !ok {
		return fmt.Errorf("events: %s nacked by broker", eventType)
	}
	p.logger.Debug("events: published", "type", eventType, "event_id", env.Meta.ID, "exchange", p.exchange)
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func publishing(env Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("events: encode %s: %w", env.Meta.Type, err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		AppId:         env.Meta.Producer,
		Timestamp:     env.Meta.Time,
		Body:          body,
	}, nil
}
