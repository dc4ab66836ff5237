package janitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Suhail-S/Hadoota-Masreya-CRM/dbopen"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/metrics"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/observability"
	"github.com/Suhail-S/Hadoota-Masreya-CRM/vtq"
	_ "modernc.org/sqlite"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

func TestAddValidates(t *testing.T) {
	j := New()
	noop := func(context.Context) error { return nil }

	if err := j.Add(Task{Name: "bad", Schedule: "every tuesday", Run: noop}); err == nil {
		t.Fatal("invalid schedule accepted")
	}
	if err := j.Add(Task{Schedule: "@daily", Run: noop}); err == nil {
		t.Fatal("unnamed task accepted")
	}
	if err := j.Add(Task{Name: "ok", Schedule: "@every 30s", Run: noop}); err != nil {
		t.Fatal(err)
	}
	if err := j.Add(Task{Name: "ok", Schedule: "@daily", Run: noop}); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if err := j.Add(Task{Name: "nightly", Schedule: "0 30 3 * * *", Run: noop}); err != nil {
		t.Fatalf("six-field schedule: %v", err)
	}
}

func TestRunNowRecordsRuns(t *testing.T) {
	j := New(WithClock(clock))
	calls := 0
	if err := j.Add(Task{Name: "count", Schedule: "@daily", Run: func(context.Context) error {
		calls++
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if err := j.Add(Task{Name: "broken", Schedule: "@daily", Run: func(context.Context) error {
		return errors.New("disk full")
	}}); err != nil {
		t.Fatal(err)
	}
	if err := j.Add(Task{Name: "panics", Schedule: "@daily", Run: func(context.Context) error {
		panic("boom")
	}}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := j.RunNow(ctx, "count"); err != nil || calls != 1 {
		t.Fatalf("count: err=%v calls=%d", err, calls)
	}
	if err := j.RunNow(ctx, "broken"); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("broken: %v", err)
	}
	if err := j.RunNow(ctx, "panics"); err == nil {
		t.Fatal("panic not converted to error")
	}
	if err := j.RunNow(ctx, "missing"); err == nil {
		t.Fatal("unknown task ran")
	}

	runs := j.Runs()
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if !runs[0].Success || runs[1].Success || runs[1].Error != "disk full" || runs[2].Success {
		t.Fatalf("runs: %+v", runs)
	}
}

func TestRunHonoursTimeout(t *testing.T) {
	j := New(WithTimeout(10 * time.Millisecond))
	if err := j.Add(Task{Name: "slow", Schedule: "@daily", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}); err != nil {
		t.Fatal(err)
	}
	if err := j.RunNow(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestStartStop(t *testing.T) {
	j := New()
	if err := j.Add(Task{Name: "tick", Schedule: "@every 1h", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatal(err)
	}
	j.Start()
	next, ok := j.Next("tick")
	if !ok || next.IsZero() {
		t.Fatalf("next = %v, %v", next, ok)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)

	if _, ok := j.Next("missing"); ok {
		t.Fatal("unknown task has a next run")
	}
}

// ---------------------------------------------------------------------------
// Standard tasks
// ---------------------------------------------------------------------------

func TestRetention(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	audit := observability.NewAuditLogger(db, 4)
	defer audit.Close()
	ctx := context.Background()

	for _, ts := range []time.Time{testNow.AddDate(0, 0, -120), testNow.AddDate(0, 0, -1)} {
		if err := audit.Log(ctx, &observability.AuditEntry{Timestamp: ts, Component: "staff", Operation: "close"}); err != nil {
			t.Fatal(err)
		}
	}

	j := New(WithClock(clock))
	if err := j.Add(Task{Name: TaskRetention, Schedule: "@daily",
		Run: Retention(db, observability.RetentionConfig{AuditDays: 90}, clock, j.logger)}); err != nil {
		t.Fatal(err)
	}
	if err := j.RunNow(ctx, TaskRetention); err != nil {
		t.Fatal(err)
	}

	left, err := audit.Query(ctx, observability.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || !left[0].Timestamp.After(testNow.AddDate(0, 0, -2)) {
		t.Fatalf("left: %+v", left)
	}
}

func TestStandardTasks(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema), dbopen.WithSchema(vtq.Schema))
	old := func() time.Time { return testNow.AddDate(0, 0, -30) }
	q := vtq.New(db, vtq.Options{Queue: "webhook", MaxAttempts: 1, Clock: old})
	ctx := context.Background()

	for _, id := range []string{"job_1", "job_2"} {
		if _, err := q.Publish(ctx, id, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	job, err := q.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("claim: %v %v", job, err)
	}
	if dead, err := q.Nack(ctx, job, errors.New("bad payload")); !dead || err != nil {
		t.Fatalf("nack: %v %v", dead, err)
	}

	m := metrics.New()
	j := New(WithClock(clock))
	err = j.Standard(StandardConfig{
		DB:             db,
		Queue:          q,
		Metrics:        m,
		Retention:      observability.RetentionConfig{AuditDays: 90},
		DeadLetterKeep: 14 * 24 * time.Hour,
		Schedules:      Schedules{Retention: "@daily", DeadLetters: "@daily", QueueGauge: "@every 30s"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := j.RunNow(ctx, TaskQueueGauge); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 1 {
		t.Fatalf("queue depth gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.DeadLetters); got != 1 {
		t.Fatalf("dead letters gauge = %v", got)
	}

	if err := j.RunNow(ctx, TaskDeadLetters); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.DeadLen(ctx); n != 0 {
		t.Fatalf("dead letters left: %d", n)
	}
	if err := j.RunNow(ctx, TaskRetention); err != nil {
		t.Fatal(err)
	}
}

func TestStandardSkipsEmptySchedules(t *testing.T) {
	j := New()
	if err := j.Standard(StandardConfig{Schedules: Schedules{QueueGauge: "@every 30s"}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := j.Next(TaskRetention); ok {
		t.Fatal("retention registered without a schedule")
	}
	if _, ok := j.Next(TaskQueueGauge); !ok {
		t.Fatal("queue gauge not registered")
	}
}
