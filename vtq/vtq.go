// Package vtq implements a visibility-timeout queue backed by SQLite.
//
// A claimed job is invisible to other consumers until its visibility
// timeout elapses. The holder acks it on success; on failure it is nacked
// with a backoff delay. If the holder crashes the job reappears by itself.
// A job that fails MaxAttempts times is moved to the dead-letter table with
// its last error.
//
// The webhook receiver publishes each raw delivery here before it answers
// the provider, so an acknowledged delivery survives a restart.
package vtq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/connectivity"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/idgen"
)

// Schema creates the job and dead-letter tables. Times are unix millis.
const Schema = `
CREATE TABLE IF NOT EXISTS vtq_jobs (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL DEFAULT '',
	payload     BLOB,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_vtq_visible ON vtq_jobs (queue, visible_at);

CREATE TABLE IF NOT EXISTS vtq_dead_letters (
	id          TEXT PRIMARY KEY,
	queue       TEXT NOT NULL DEFAULT '',
	payload     BLOB,
	attempts    INTEGER NOT NULL,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	failed_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vtq_dead_failed ON vtq_dead_letters (queue, failed_at);
`

// ErrNotFound is returned by Requeue for an unknown dead letter.
var ErrNotFound = errors.New("vtq: job not found")

// Job is a row in the queue.
type Job struct {
	ID        string
	Queue     string
	Payload   []byte
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
	LastError string
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	ID        string
	Queue     string
	Payload   []byte
	Attempts  int
	LastError string
	CreatedAt time.Time
	FailedAt  time.Time
}

// Options configures queue behaviour.
type Options struct {
	// Queue is the logical queue name. Several queues share the tables.
	Queue string
	// Visibility is how long a claimed job stays invisible. Default: 30s.
	Visibility time.Duration
	// PollInterval is the delay between claims in RunBatch. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts is the number of failed attempts after which a job is
	// dead-lettered. 0 means unlimited.
	MaxAttempts int
	// Backoff is the redelivery delay after the first failure; it doubles
	// per attempt up to Visibility. 0 makes nacked jobs visible at once.
	Backoff time.Duration
	// JobTimeout bounds one handler call in RunBatch. 0 means no timeout.
	JobTimeout time.Duration
	// OnResult, when set, is called after every handled job.
	OnResult func(job *Job, took time.Duration, err error)
	Logger   *slog.Logger
	// Clock overrides time.Now.
	Clock func() time.Time
	IDs   idgen.Generator
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.IDs == nil {
		o.IDs = idgen.Job
	}
}

// Q is the queue handle.
type Q struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle. The schema must exist: apply Schema or call
// EnsureTable once at startup.
func New(db *sql.DB, opts Options) *Q {
	opts.defaults()
	return &Q{db: db, opts: opts}
}

// EnsureTable creates the tables and indexes if they don't exist.
func (q *Q) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, Schema)
	return err
}

func (q *Q) now() int64 { return q.opts.Clock().UnixMilli() }

// Publish inserts a job that is immediately visible and returns its id. An
// empty id is generated.
func (q *Q) Publish(ctx context.Context, id string, payload []byte) (string, error) {
	if id == "" {
		id = q.opts.IDs()
	}
	now := q.now()
	_, err := dbopen.Exec(ctx, q.db,
		`INSERT INTO vtq_jobs (id, queue, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, q.opts.Queue, payload, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("vtq: publish: %w", err)
	}
	return id, nil
}

// Claim picks the oldest visible job and hides it for the visibility
// duration. It returns nil, nil when no job is available.
func (q *Q) Claim(ctx context.Context) (*Job, error) {
	jobs, err := q.BatchClaim(ctx, 1)
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return jobs[0], nil
}

// BatchClaim atomically claims up to n visible jobs. It returns an empty
// (non-nil) slice when no jobs are available.
func (q *Q) BatchClaim(ctx context.Context, n int) ([]*Job, error) {
	now := q.now()
	hideUntil := now + q.opts.Visibility.Milliseconds()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE vtq_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM vtq_jobs
			WHERE queue = ? AND visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT ?
		)
		RETURNING id, queue, payload, visible_at, created_at, attempts, last_error`,
		hideUntil, q.opts.Queue, now, n,
	)
	if err != nil {
		return nil, fmt.Errorf("vtq: claim: %w", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		var j Job
		var visAt, creAt int64
		if err := rows.Scan(&j.ID, &j.Queue, &j.Payload, &visAt, &creAt, &j.Attempts, &j.LastError); err != nil {
			return nil, fmt.Errorf("vtq: claim: %w", err)
		}
		j.VisibleAt = time.UnixMilli(visAt)
		j.CreatedAt = time.UnixMilli(creAt)
		jobs = append(jobs, &j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vtq: claim: %w", err)
	}
	return jobs, nil
}

// Ack deletes a successfully processed job.
func (q *Q) Ack(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, q.db,
		`DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue,
	)
	return err
}

// Nack records cause and makes the job visible again after the backoff
// for its attempt count. A job at MaxAttempts is dead-lettered instead;
// dead reports which happened.
func (q *Q) Nack(ctx context.Context, job *Job, cause error) (dead bool, err error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if q.opts.MaxAttempts > 0 && job.Attempts >= q.opts.MaxAttempts {
		return true, q.deadLetter(ctx, job.ID, msg)
	}
	visibleAt := q.now() + q.backoff(job.Attempts).Milliseconds()
	_, err = dbopen.Exec(ctx, q.db,
		`UPDATE vtq_jobs SET visible_at = ?, last_error = ? WHERE id = ? AND queue = ?`,
		visibleAt, msg, job.ID, q.opts.Queue,
	)
	return false, err
}

func (q *Q) backoff(attempts int) time.Duration {
	if q.opts.Backoff <= 0 || attempts < 1 {
		return 0
	}
	d := q.opts.Backoff
	for i := 1; i < attempts && d < q.opts.Visibility; i++ {
		d *= 2
	}
	return min(d, q.opts.Visibility)
}

// deadLetter moves a job to the dead-letter table in one transaction.
func (q *Q) deadLetter(ctx context.Context, id, lastError string) error {
	now := q.now()
	return dbopen.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO vtq_dead_letters (id, queue, payload, attempts, last_error, created_at, failed_at)
			SELECT id, queue, payload, attempts, ?, created_at, ? FROM vtq_jobs
			WHERE id = ? AND queue = ?
			ON CONFLICT(id) DO UPDATE SET
				attempts = excluded.attempts, last_error = excluded.last_error, failed_at = excluded.failed_at`,
			lastError, now, id, q.opts.Queue)
		if err != nil {
			return fmt.Errorf("vtq: dead-letter %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM vtq_jobs WHERE id = ? AND queue = ?`, id, q.opts.Queue)
		return err
	})
}

// Len returns the number of jobs (visible and invisible) in the queue.
func (q *Q) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vtq_jobs WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// DeadLen returns the number of dead letters of the queue.
func (q *Q) DeadLen(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vtq_dead_letters WHERE queue = ?`, q.opts.Queue,
	).Scan(&n)
	return n, err
}

// DeadLetters lists the most recent dead letters, newest first.
func (q *Q) DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, queue, payload, attempts, last_error, created_at, failed_at
		FROM vtq_dead_letters WHERE queue = ?
		ORDER BY failed_at DESC, id DESC LIMIT ?`, q.opts.Queue, limit)
	if err != nil {
		return nil, fmt.Errorf("vtq: dead letters: %w", err)
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		var d DeadLetter
		var creAt, failAt int64
		if err := rows.Scan(&d.ID, &d.Queue, &d.Payload, &d.Attempts, &d.LastError, &creAt, &failAt); err != nil {
			return nil, fmt.Errorf("vtq: dead letters: %w", err)
		}
		d.CreatedAt = time.UnixMilli(creAt)
		d.FailedAt = time.UnixMilli(failAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// Requeue moves a dead letter back into the queue with a fresh attempt
// count.
func (q *Q) Requeue(ctx context.Context, id string) error {
	now := q.now()
	return dbopen.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO vtq_jobs (id, queue, payload, visible_at, created_at, attempts, last_error)
			SELECT id, queue, payload, ?, created_at, 0, last_error FROM vtq_dead_letters
			WHERE id = ? AND queue = ?`, now, id, q.opts.Queue)
		if err != nil {
			return fmt.Errorf("vtq: requeue %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM vtq_dead_letters WHERE id = ? AND queue = ?`, id, q.opts.Queue)
		return err
	})
}

// PruneDeadLetters deletes dead letters that failed before cutoff and
// returns the count removed.
func (q *Q) PruneDeadLetters(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, q.db,
		`DELETE FROM vtq_dead_letters WHERE queue = ? AND failed_at < ?`,
		q.opts.Queue, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("vtq: prune dead letters: %w", err)
	}
	return res.RowsAffected()
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Process runs handler for one claimed job under the job timeout, converts
// a panic into an error, then acks or nacks the job.
func (q *Q) Process(ctx context.Context, job *Job, handler Handler) error {
	log := q.opts.Logger
	hctx := ctx
	if q.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, q.opts.JobTimeout)
		defer cancel()
	}

	start := q.opts.Clock()
	err := connectivity.Protect(func() error { return handler(hctx, job) })
	took := q.opts.Clock().Sub(start)
	if errors.Is(hctx.Err(), context.DeadlineExceeded) {
		log.Warn("vtq: job exceeded its timeout", "id", job.ID, "timeout", q.opts.JobTimeout, "took", took, "queue", q.opts.Queue)
	}
	if q.opts.OnResult != nil {
		q.opts.OnResult(job, took, err)
	}

	// Bookkeeping outlives a shutdown of the consumer.
	bctx := context.WithoutCancel(ctx)
	if err == nil {
		if aerr := q.Ack(bctx, job.ID); aerr != nil {
			log.Warn("vtq: ack failed", "id", job.ID, "error", aerr, "queue", q.opts.Queue)
		}
		return nil
	}

	dead, nerr := q.Nack(bctx, job, err)
	switch {
	case nerr != nil:
		log.Error("vtq: nack failed", "id", job.ID, "error", nerr, "cause", err, "queue", q.opts.Queue)
	case dead:
		log.Error("vtq: job dead-lettered", "id", job.ID, "attempts", job.Attempts, "error", err, "queue", q.opts.Queue)
	default:
		log.Warn("vtq: handler failed, nacking", "id", job.ID, "attempts", job.Attempts, "error", err, "queue", q.opts.Queue)
	}
	return err
}

// RunBatch polls in batches and processes jobs with bounded concurrency.
// It blocks until ctx is cancelled, draining in-flight handlers before
// returning.
func (q *Q) RunBatch(ctx context.Context, batchSize, maxConcurrency int, handler Handler) {
	if batchSize <= 0 {
		batchSize = 1
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	log := q.opts.Logger
	log.Info("vtq: batch consumer started",
		"queue", q.opts.Queue,
		"batch_size", batchSize,
		"max_concurrency", maxConcurrency,
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval,
		"max_attempts", q.opts.MaxAttempts,
	)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("vtq: batch consumer stopping, draining in-flight handlers", "queue", q.opts.Queue)
			wg.Wait()
			log.Info("vtq: batch consumer stopped", "queue", q.opts.Queue)
			return
		case <-ticker.C:
			jobs, err := q.BatchClaim(ctx, batchSize)
			if err != nil {
				if ctx.Err() != nil {
					wg.Wait()
					return
				}
				log.Warn("vtq: batch claim failed", "error", err, "queue", q.opts.Queue)
				continue
			}

			for i, job := range jobs {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					// Unstarted jobs become visible again for the next consumer.
					for _, j := range jobs[i:] {
						q.release(j.ID)
					}
					wg.Wait()
					return
				}

				wg.Add(1)
				go func(j *Job) {
					defer wg.Done()
					defer func() { <-sem }()
					q.Process(ctx, j, handler)
				}(job)
			}
		}
	}
}

// release makes a claimed but unprocessed job visible again without
// counting the attempt.
func (q *Q) release(id string) {
	_, err := q.db.ExecContext(context.Background(),
		`UPDATE vtq_jobs SET visible_at = 0, attempts = MAX(attempts - 1, 0) WHERE id = ? AND queue = ?`,
		id, q.opts.Queue)
	if err != nil {
		q.opts.Logger.Warn("vtq: release failed", "id", id, "error", err, "queue", q.opts.Queue)
	}
}
