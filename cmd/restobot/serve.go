package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/auth"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/bot"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/catalog"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/config"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/connectivity"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/conversation"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/events"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/janitor"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/shield"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/staff"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/vtq"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/webhook"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/whatsapp"
)

const (
	// workerName identifies the webhook worker's heartbeats.
	workerName        = "webhook-worker"
	heartbeatInterval = 15 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// openDB opens the database with every package schema.
func openDB(path string) (*sql.DB, error) {
	return dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(conversation.Schema),
		dbopen.WithSchema(catalog.Schema),
		dbopen.WithSchema(vtq.Schema),
		dbopen.WithSchema(observability.Schema),
	)
}

// openEvents dials the broker when one is configured and falls back to the
// SQLite journal otherwise.
func openEvents(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (events.Publisher, error) {
	if cfg.AMQP.URL == "" {
		logger.Info("events: no broker configured, journaling to sqlite")
		return observability.NewJournal(db), nil
	}
	conn, err := events.DialWithRetry(ctx, events.DialOptions{
		URL:      cfg.AMQP.URL,
		Exchange: cfg.AMQP.Exchange,
		Attempts: cfg.AMQP.DialAttempts,
		Delay:    cfg.AMQP.DialDelay,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	pub, err := events.NewAMQPPublisher(conn, cfg.AMQP.Exchange, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return pub, nil
}

// newSender builds the channel client behind the breaker and retry policy.
func newSender(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (whatsapp.Sender, error) {
	client, err := whatsapp.New(cfg.ClientConfig(),
		whatsapp.WithHTTPClient(&http.Client{Timeout: cfg.WhatsApp.Timeout}),
		whatsapp.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	breaker := connectivity.NewCircuitBreaker("whatsapp",
		connectivity.WithBreakerThreshold(cfg.Breaker.Threshold),
		connectivity.WithBreakerResetTimeout(cfg.Breaker.ResetTimeout),
		connectivity.WithBreakerOnChange(func(service string, from, to connectivity.BreakerState) {
			logger.Warn("whatsapp: circuit breaker state change", "service", service, "from", from, "to", to)
			m.Breaker(service, int(to))
		}),
	)
	m.Breaker("whatsapp", int(connectivity.BreakerClosed))
	return whatsapp.Guard(client, breaker, cfg.RetryPolicy(), logger), nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	m := metrics.New()

	pub, err := openEvents(ctx, cfg, db, logger)
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	defer pub.Close()

	audit := observability.NewAuditLogger(db, 256, observability.WithAuditLogger(logger))
	defer audit.Close()

	sender, err := newSender(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("whatsapp client: %w", err)
	}

	store := conversation.New(db, conversation.WithLogger(logger))
	cat := catalog.NewStore(db)
	engine := bot.NewEngine(bot.NewMachine(cat, cfg.Copy()), store, sender,
		bot.WithEvents(pub), bot.WithMetrics(m), bot.WithLogger(logger))
	worker := webhook.NewWorker(store, engine,
		webhook.WithDirectory(cat),
		webhook.WithEvents(pub),
		webhook.WithMetrics(m),
		webhook.WithRates(cfg.Rates()),
		webhook.WithServiceWindow(cfg.Bot.ServiceWindow),
		webhook.WithLogger(logger))

	queue := vtq.New(db, vtq.Options{
		Queue:        "webhook",
		Visibility:   cfg.Queue.Visibility,
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Backoff:      cfg.Queue.Backoff,
		JobTimeout:   cfg.Queue.JobTimeout,
		OnResult:     webhook.JobObserver(m),
		Logger:       logger,
	})

	// The worker outlives the signal so the HTTP server can drain first.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		queue.RunBatch(workerCtx, cfg.Queue.BatchSize, cfg.Queue.Concurrency, worker.HandleJob)
	}()

	heartbeat := observability.NewHeartbeatWriter(db, workerName, heartbeatInterval)
	heartbeat.Start(workerCtx)

	jan := janitor.New(janitor.WithLogger(logger))
	schedules := cfg.Schedules
	if cfg.Retention.DeadLetterDays <= 0 {
		schedules.DeadLetters = ""
	}
	if err := jan.Standard(janitor.StandardConfig{
		DB:             db,
		Queue:          queue,
		Metrics:        m,
		Retention:      cfg.RetentionPolicy(),
		DeadLetterKeep: cfg.DeadLetterKeep(),
		Schedules:      schedules,
	}); err != nil {
		return err
	}
	jan.Start()

	staffAPI := staff.New(store, sender,
		staff.WithAuditor(audit),
		staff.WithQueue(queue),
		staff.WithEvents(pub),
		staff.WithMetrics(m),
		staff.WithLogger(logger))

	limiter := rateLimiter(cfg.RateLimit)
	limiter.StartGC(ctx, time.Minute)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}
	r.Use(middleware.Recoverer)
	r.Use(limiter.Middleware)

	r.Get("/healthz", healthHandler(db, heartbeatInterval*3, time.Now))
	r.Handle("/metrics", m.Handler())
	r.Route("/webhook", webhook.NewHandler(cfg.HandlerConfig(), queue, m).Routes)
	r.Route("/api", func(r chi.Router) {
		r.Use(shield.MaxBody(shield.DefaultMaxBody))
		r.Use(auth.Middleware([]byte(cfg.Staff.JWTSecret)))
		r.Use(auth.RequireStaff)
		staffAPI.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("restobot: http server starting",
			"addr", cfg.ListenAddr, "env", cfg.Env, "verify_signatures", cfg.Production())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			logger.Error("restobot: http server failed", "error", err)
		}
	}

	logger.Info("restobot: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("restobot: http shutdown", "error", err)
	}

	jan.Stop(shutdownCtx)
	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("restobot: worker did not drain before the shutdown deadline")
	}
	heartbeat.Stop()
	logger.Info("restobot: stopped")
	return nil
}

// rateLimiter builds per-minute limits for the webhook and staff routes.
func rateLimiter(cfg config.RateLimitConfig) *shield.RateLimiter {
	var rules []shield.Rule
	if cfg.Webhook > 0 {
		rules = append(rules, shield.Rule{Prefix: "/webhook", Max: cfg.Webhook, Window: time.Minute})
	}
	if cfg.API > 0 {
		rules = append(rules, shield.Rule{Prefix: "/api", Max: cfg.API, Window: time.Minute})
	}
	return shield.NewRateLimiter(rules...)
}
