package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"quill/internal/queue"
	"quill/internal/services"
	"quill/internal/testsupport"
	"quill/internal/worker"
)

type echoPayload struct {
	Value string `json:"value"`
}

func newRunner(t *testing.T) (*worker.Runner, *queue.Store, *testsupport.Clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Queue.MaxAttempts = 3
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	_, jobs := testsupport.MustOpenStores(t, cfg, clock)
	runner := worker.New(jobs, nil, worker.Options{
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})
	return runner, jobs, clock
}

func TestRunOnceCompletesJobWithResult(t *testing.T) {
	runner, jobs, _ := newRunner(t)
	ctx := context.Background()

	runner.Register("generation", "echo", func(ctx context.Context, job *queue.Job) (any, error) {
		var p echoPayload
		if err := job.Decode(&p); err != nil {
			return nil, err
		}
		if id, ok := services.JobIDFromContext(ctx); !ok || id != job.ID {
			t.Fatalf("expected job id in context, got %q", id)
		}
		worker.ReportProgress(ctx, 0.5)
		return map[string]string{"echo": p.Value}, nil
	})

	enqueued, err := jobs.Enqueue(ctx, "generation", "echo", echoPayload{Value: "hi"}, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ran, err := runner.RunOnce(ctx, "generation")
	if err != nil || !ran {
		t.Fatalf("RunOnce ran=%v err=%v", ran, err)
	}

	job, err := jobs.Get(ctx, enqueued.Seq)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if string(job.Result) != `{"echo":"hi"}` {
		t.Fatalf("unexpected result %s", job.Result)
	}
	if job.Progress != 1 {
		t.Fatalf("expected progress 1 after completion, got %v", job.Progress)
	}

	ran, err = runner.RunOnce(ctx, "generation")
	if err != nil || ran {
		t.Fatalf("expected empty queue, ran=%v err=%v", ran, err)
	}
}

func TestRetryableFailureGoesBackToPending(t *testing.T) {
	runner, jobs, clock := newRunner(t)
	ctx := context.Background()

	var calls atomic.Int32
	runner.Register("generation", "flaky", func(context.Context, *queue.Job) (any, error) {
		if calls.Add(1) == 1 {
			return nil, services.Wrap(services.ErrTransient, "test", "call", "upstream busy", nil)
		}
		return "ok", nil
	})
	enqueued, err := jobs.Enqueue(ctx, "generation", "flaky", echoPayload{}, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := runner.RunOnce(ctx, "generation"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := jobs.Get(ctx, enqueued.Seq)
	if job.Status != queue.StatusPending || job.LastError == "" {
		t.Fatalf("expected pending retry with last error, got %+v", job)
	}

	ran, _ := runner.RunOnce(ctx, "generation")
	if ran {
		t.Fatal("retry should wait for backoff")
	}
	clock.Advance(jobs.Backoff(1) + time.Second)
	if ran, err := runner.RunOnce(ctx, "generation"); err != nil || !ran {
		t.Fatalf("expected retry to run, ran=%v err=%v", ran, err)
	}
	job, _ = jobs.Get(ctx, enqueued.Seq)
	if job.Status != queue.StatusCompleted || job.Attempts != 2 {
		t.Fatalf("expected completed on second attempt, got %+v", job)
	}
}

func TestNonRetryableFailureFailsImmediately(t *testing.T) {
	runner, jobs, _ := newRunner(t)
	ctx := context.Background()

	runner.Register("generation", "missing", func(context.Context, *queue.Job) (any, error) {
		return nil, services.Wrap(services.ErrNotFound, "test", "load", "artifact gone", nil)
	})
	enqueued, _ := jobs.Enqueue(ctx, "generation", "missing", echoPayload{}, queue.EnqueueOptions{})
	if _, err := runner.RunOnce(ctx, "generation"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := jobs.Get(ctx, enqueued.Seq)
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if status := runner.Status(ctx); status.Failed != 1 || status.LastError == "" {
		t.Fatalf("unexpected status summary: %+v", status)
	}
}

func TestUnknownJobTypeFails(t *testing.T) {
	runner, jobs, _ := newRunner(t)
	ctx := context.Background()
	runner.Register("generation", "known", func(context.Context, *queue.Job) (any, error) { return nil, nil })

	enqueued, _ := jobs.Enqueue(ctx, "generation", "mystery", echoPayload{}, queue.EnqueueOptions{})
	if _, err := runner.RunOnce(ctx, "generation"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := jobs.Get(ctx, enqueued.Seq)
	if job.Status != queue.StatusFailed {
		t.Fatalf("expected failed for unknown type, got %s", job.Status)
	}
}

func TestHandlerPanicIsRecordedAsFailure(t *testing.T) {
	runner, jobs, _ := newRunner(t)
	ctx := context.Background()
	runner.Register("generation", "boom", func(context.Context, *queue.Job) (any, error) {
		panic("kaboom")
	})
	enqueued, _ := jobs.Enqueue(ctx, "generation", "boom", echoPayload{}, queue.EnqueueOptions{})
	if _, err := runner.RunOnce(ctx, "generation"); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	job, _ := jobs.Get(ctx, enqueued.Seq)
	if job.Status != queue.StatusPending || job.LastError == "" {
		t.Fatalf("expected panic to be retried, got %+v", job)
	}
}

func TestStartProcessesJobsAcrossPool(t *testing.T) {
	runner, jobs, _ := newRunner(t)
	ctx := context.Background()

	var done atomic.Int32
	runner.Register("derived", "derive", func(context.Context, *queue.Job) (any, error) {
		done.Add(1)
		return nil, nil
	})
	for i := 0; i < 5; i++ {
		if _, err := jobs.Enqueue(ctx, "derived", "derive", echoPayload{}, queue.EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if err := runner.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := runner.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
	deadline := time.Now().Add(5 * time.Second)
	for done.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	runner.Stop()
	if got := done.Load(); got != 5 {
		t.Fatalf("expected 5 jobs processed, got %d", got)
	}
	if runner.Status(ctx).Running {
		t.Fatal("expected runner stopped")
	}
}

func TestStartWithoutHandlersFails(t *testing.T) {
	runner, _, _ := newRunner(t)
	if err := runner.Start(context.Background()); err == nil {
		t.Fatal("expected error without handlers")
	}
}

func TestReclaimReturnsLapsedLeases(t *testing.T) {
	runner, jobs, clock := newRunner(t)
	ctx := context.Background()

	enqueued, _ := jobs.Enqueue(ctx, "generation", "slow", echoPayload{}, queue.EnqueueOptions{})
	if _, err := jobs.Claim(ctx, "generation"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	clock.Advance(jobs.Lease() + time.Second)
	if got := runner.Reclaim(ctx); got != 1 {
		t.Fatalf("expected one reclaimed job, got %d", got)
	}
	job, _ := jobs.Get(ctx, enqueued.Seq)
	if job.Status != queue.StatusPending {
		t.Fatalf("expected pending after reclaim, got %s", job.Status)
	}
}

func TestReportProgressOutsideWorkerIsNoop(t *testing.T) {
	worker.ReportProgress(context.Background(), 0.3)
	var nilCtx context.Context
	worker.ReportProgress(nilCtx, 0.3)
}

func TestRestrictDropsOtherQueues(t *testing.T) {
	_, jobs, _ := newRunner(t)
	r := worker.New(jobs, nil, worker.Options{})
	noop := func(context.Context, *queue.Job) (any, error) { return nil, nil }
	r.Register("generation", "generation.run", noop)
	r.Register("derived", "derived.run", noop)
	r.Register("social", "social.sync", noop)

	r.Restrict("derived", "social")
	if got := r.Queues(); len(got) != 2 || got[0] != "derived" || got[1] != "social" {
		t.Fatalf("unexpected queues after restrict: %v", got)
	}
}
