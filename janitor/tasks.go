package janitor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
)

// Task names registered by Standard.
const (
	TaskRetention   = "retention"
	TaskDeadLetters = "dead_letters"
	TaskQueueGauge  = "queue_gauge"
)

// Schedules holds the cron expressions of the standard tasks. Empty fields
// disable the task.
type Schedules struct {
	Retention   string `yaml:"retention"`
	DeadLetters string `yaml:"dead_letters"`
	QueueGauge  string `yaml:"queue_gauge"`
}

// DefaultSchedules runs retention and pruning nightly and samples the
// queue every 30 seconds.
var DefaultSchedules = Schedules{
	Retention:   "0 30 3 * * *",
	DeadLetters: "0 45 3 * * *",
	QueueGauge:  "@every 30s",
}

// Queue is the part of the webhook queue the tasks read and prune.
// *vtq.Q satisfies it.
type Queue interface {
	Len(ctx context.Context) (int, error)
	DeadLen(ctx context.Context) (int, error)
	PruneDeadLetters(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention deletes audit, journal and heartbeat rows older than cfg.
func Retention(db *sql.DB, cfg observability.RetentionConfig, now func() time.Time, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := observability.Cleanup(ctx, db, cfg, now())
		if err != nil {
			return fmt.Errorf("retention: %w", err)
		}
		logger.Info("janitor: retention cleanup", "deleted", n)
		return nil
	}
}

// PruneDeadLetters deletes dead letters older than keep.
func PruneDeadLetters(q Queue, keep time.Duration, now func() time.Time, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		n, err := q.PruneDeadLetters(ctx, now().Add(-keep))
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("janitor: dead letters pruned", "deleted", n)
		}
		return nil
	}
}

// SampleQueue copies the queue and dead-letter counts into the gauges.
func SampleQueue(q Queue, m *metrics.Metrics) func(context.Context) error {
	return func(ctx context.Context) error {
		depth, err := q.Len(ctx)
		if err != nil {
			return fmt.Errorf("queue depth: %w", err)
		}
		dead, err := q.DeadLen(ctx)
		if err != nil {
			return fmt.Errorf("dead letters: %w", err)
		}
		m.Queue(depth, dead)
		return nil
	}
}

// StandardConfig wires the standard tasks.
type StandardConfig struct {
	DB             *sql.DB
	Queue          Queue
	Metrics        *metrics.Metrics
	Retention      observability.RetentionConfig
	DeadLetterKeep time.Duration
	Schedules      Schedules
}

// Standard registers the retention, dead-letter and queue gauge tasks whose
// schedule is set.
func (j *Janitor) Standard(cfg StandardConfig) error {
	tasks := []Task{
		{Name: TaskRetention, Schedule: cfg.Schedules.Retention, Run: Retention(cfg.DB, cfg.Retention, j.now, j.logger)},
		{Name: TaskDeadLetters, Schedule: cfg.Schedules.DeadLetters, Run: PruneDeadLetters(cfg.Queue, cfg.DeadLetterKeep, j.now, j.logger)},
		{Name: TaskQueueGauge, Schedule: cfg.Schedules.QueueGauge, Run: SampleQueue(cfg.Queue, cfg.Metrics)},
	}
	for _, t := range tasks {
		if t.Schedule == "" {
			continue
		}
		if err := j.Add(t); err != nil {
			return err
		}
	}
	return nil
}
