// Package janitor runs the service's periodic maintenance on a cron
// schedule: retention of audit and journal rows, pruning of old dead
// letters and sampling of the queue gauges.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/connectivity"
)

// maxRuns bounds the in-memory run history.
const maxRuns = 200

// Task is one scheduled maintenance job. Schedule accepts six-field cron
// expressions (with seconds) and descriptors such as "@daily" or
// "@every 30s".
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// RunRecord tracks one task execution.
type RunRecord struct {
	Task      string        `json:"task"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Janitor owns the cron scheduler and the registered tasks.
type Janitor struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	tasks   map[string]Task
	entries map[string]cron.EntryID
	runs    []RunRecord

	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Janitor)

// WithTimeout bounds a single task run. Default 5 minutes.
func WithTimeout(d time.Duration) Option {
	return func(j *Janitor) { j.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

func New(opts ...Option) *Janitor {
	j := &Janitor{
		tasks:   make(map[string]Task),
		entries: make(map[string]cron.EntryID),
		timeout: 5 * time.Minute,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(j)
	}
	// A task still running when its next tick fires is skipped.
	j.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return j
}

// Add validates the schedule and registers t. Names are unique.
func (j *Janitor) Add(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("janitor: task needs a name and a run function")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, dup := j.tasks[t.Name]; dup {
		return fmt.Errorf("janitor: task %q already registered", t.Name)
	}
	id, err := j.cron.AddFunc(t.Schedule, func() { j.execute(context.Background(), t) })
	if err != nil {
		return fmt.Errorf("janitor: schedule %q for %s: %w", t.Schedule, t.Name, err)
	}
	j.tasks[t.Name] = t
	j.entries[t.Name] = id
	return nil
}

// Start begins the scheduler in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	j.mu.RLock()
	n := len(j.tasks)
	j.mu.RUnlock()
	j.logger.Info("janitor: scheduler started", "tasks", n)
}

// Stop halts the scheduler and waits for running tasks or for ctx.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		j.logger.Warn("janitor: stop timed out with tasks still running")
	}
}

// RunNow executes the named task synchronously.
func (j *Janitor) RunNow(ctx context.Context, name string) error {
	j.mu.RLock()
	t, ok := j.tasks[name]
	j.mu.RUnlock()
	if !ok {
		return fmt.Errorf("janitor: task %q not found", name)
	}
	return j.execute(ctx, t)
}

// Next reports when the named task fires next.
func (j *Janitor) Next(name string) (time.Time, bool) {
	j.mu.RLock()
	id, ok := j.entries[name]
	j.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return j.cron.Entry(id).Next, true
}

// Runs returns the recent run history, oldest first.
func (j *Janitor) Runs() []RunRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]RunRecord(nil), j.runs...)
}

func (j *Janitor) execute(ctx context.Context, t Task) error {
	start := j.now()
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	err := connectivity.Protect(func() error { return t.Run(ctx) })
	d := j.now().Sub(start)

	rec := RunRecord{Task: t.Name, StartedAt: start, Duration: d, Success: err == nil}
	if err != nil {
		rec.Error = err.Error()
		j.logger.Error("janitor: task failed", "task", t.Name, "error", err, "duration", d)
	} else {
		j.logger.Debug("janitor: task completed", "task", t.Name, "duration", d)
	}

	j.mu.Lock()
	j.runs = append(j.runs, rec)
	if len(j.runs) > maxRuns {
		j.runs = j.runs[len(j.runs)-maxRuns/2:]
	}
	j.mu.Unlock()
	return err
}
