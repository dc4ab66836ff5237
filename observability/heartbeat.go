package observability

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// RuntimeMetrics captures Go process health at a point in time.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	MemorySysMB     float64
	GCCount         uint32
}

// CollectRuntimeMetrics reads current Go runtime stats.
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:     float64(mem.Sys) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// HeartbeatWriter writes periodic liveness probes for a background worker.
// /healthz reads the latest one to tell whether the worker loop is alive.
type HeartbeatWriter struct {
	db         *sql.DB
	workerName string
	hostname   string
	workerPID  int
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger
	stop       chan struct{}
	done       chan struct{}
}

// NewHeartbeatWriter creates a writer. Recommended interval: 15s.
func NewHeartbeatWriter(db *sql.DB, workerName string, interval time.Duration) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:         db,
		workerName: workerName,
		hostname:   hostname,
		workerPID:  os.Getpid(),
		interval:   interval,
		now:        time.Now,
		logger:     slog.Default(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the heartbeat goroutine. It writes one heartbeat immediately,
// then repeats at the configured interval until Stop or context cancellation.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go hw.loop(ctx)
}

// WriteHeartbeat writes a single heartbeat row with current runtime metrics.
func (hw *HeartbeatWriter) WriteHeartbeat(ctx context.Context) error {
	m := CollectRuntimeMetrics()
	_, err := hw.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats (
			worker_name, hostname, worker_pid, timestamp,
			goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?)`,
		hw.workerName, hw.hostname, hw.workerPID, hw.now().Unix(),
		m.GoroutinesCount, m.MemoryAllocMB, m.MemorySysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

// Stop signals the heartbeat goroutine to exit and waits for it.
func (hw *HeartbeatWriter) Stop() {
	close(hw.stop)
	<-hw.done
}

func (hw *HeartbeatWriter) loop(ctx context.Context) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	if err := hw.WriteHeartbeat(ctx); err != nil {
		hw.logger.Error("heartbeat write failed", "error", err, "worker", hw.workerName)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			if err := hw.WriteHeartbeat(ctx); err != nil {
				hw.logger.Error("heartbeat write failed", "error", err, "worker", hw.workerName)
			}
		}
	}
}

// HeartbeatStatus is the latest heartbeat for a worker, with a staleness
// check against the caller's threshold.
type HeartbeatStatus struct {
	WorkerName      string    `json:"worker_name"`
	Hostname        string    `json:"hostname"`
	PID             int       `json:"pid"`
	Timestamp       time.Time `json:"timestamp"`
	GoroutinesCount int       `json:"goroutines_count"`
	MemoryAllocMB   float64   `json:"memory_alloc_mb"`
	Alive           bool      `json:"alive"`
	// StaleFor is how long past the threshold the last beat is.
	StaleFor time.Duration `json:"stale_for,omitempty"`
}

// LatestHeartbeat returns the most recent heartbeat for the given worker,
// judged at now. stalenessThreshold is typically 3x the heartbeat interval.
// Returns nil, nil if no heartbeat has been recorded yet.
func LatestHeartbeat(ctx context.Context, db *sql.DB, workerName string, stalenessThreshold time.Duration, now time.Time) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT worker_name, hostname, worker_pid, timestamp, goroutines_count, memory_alloc_mb
		FROM worker_heartbeats
		WHERE worker_name = ?
		ORDER BY timestamp DESC LIMIT 1`, workerName)

	var hs HeartbeatStatus
	var ts int64
	err := row.Scan(&hs.WorkerName, &hs.Hostname, &hs.PID, &ts, &hs.GoroutinesCount, &hs.MemoryAllocMB)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}

	hs.Timestamp = time.Unix(ts, 0).UTC()
	age := now.Sub(hs.Timestamp)
	hs.Alive = age <= stalenessThreshold
	if !hs.Alive {
		hs.StaleFor = age - stalenessThreshold
	}
	return &hs, nil
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	AuditDays      int
	EventDays      int
	HeartbeatsDays int
}

// Cleanup deletes records exceeding the retention thresholds as of now and
// returns the number of deleted rows.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig, now time.Time) (int64, error) {
	// Table and column names are constants, never caller input.
	targets := []struct {
		table  string
		column string
		days   int
	}{
		{"audit_log", "timestamp", cfg.AuditDays},
		{"event_journal", "created_at", cfg.EventDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	var total int64
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days).Unix()
		res, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column), cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", t.table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
