package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"quill/internal/queue"
	"quill/internal/testsupport"
)

func newQueue(t *testing.T) (*queue.Store, *testsupport.Clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	_, jobs := testsupport.MustOpenStores(t, cfg, clock)
	return jobs, clock
}

type payload struct {
	ArtifactID string `json:"artifact_id"`
}

func TestEnqueueAndClaimRespectsPriority(t *testing.T) {
	jobs, _ := newQueue(t)
	ctx := context.Background()

	if _, err := jobs.Enqueue(ctx, "generation", "generate", payload{"bg"}, queue.EnqueueOptions{Priority: queue.PriorityBackground}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := jobs.Enqueue(ctx, "generation", "generate", payload{"user"}, queue.EnqueueOptions{Priority: queue.PriorityUser}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := jobs.Enqueue(ctx, "derived", "derive", payload{"other-queue"}, queue.EnqueueOptions{Priority: queue.PriorityUser}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := jobs.Claim(ctx, "generation")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	var p payload
	if err := job.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.ArtifactID != "user" {
		t.Fatalf("expected user priority job first, got %q", p.ArtifactID)
	}
	if job.Status != queue.StatusActive || job.Attempts != 1 || job.LeaseUntil == nil {
		t.Fatalf("unexpected claimed job state: %+v", job)
	}
}

func TestClaimHonoursDelay(t *testing.T) {
	jobs, clock := newQueue(t)
	ctx := context.Background()

	if _, err := jobs.Enqueue(ctx, "social", "social.sync", payload{"a"}, queue.EnqueueOptions{Delay: time.Minute}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := jobs.Claim(ctx, "social")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job != nil {
		t.Fatalf("expected delayed job to be invisible, got %+v", job)
	}
	clock.Advance(61 * time.Second)
	job, err = jobs.Claim(ctx, "social")
	if err != nil || job == nil {
		t.Fatalf("expected job after delay, got %v %v", job, err)
	}
}

func TestEnqueueSameJobIDReplacesPendingRow(t *testing.T) {
	jobs, _ := newQueue(t)
	ctx := context.Background()

	first, err := jobs.Enqueue(ctx, "social", "social.sync", payload{"v1"}, queue.EnqueueOptions{JobID: "social-sync:42", Delay: time.Hour})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := jobs.Enqueue(ctx, "social", "social.sync", payload{"v2"}, queue.EnqueueOptions{JobID: "social-sync:42", Delay: time.Minute})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first.Seq != second.Seq {
		t.Fatalf("expected same row to be replaced, got seq %d and %d", first.Seq, second.Seq)
	}
	if !second.RunAt.Before(first.RunAt) {
		t.Fatalf("expected replacement to carry new run_at")
	}
	pending, err := jobs.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusPending}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending row, got %d", len(pending))
	}
	var p payload
	if err := json.Unmarshal(pending[0].Payload, &p); err != nil || p.ArtifactID != "v2" {
		t.Fatalf("expected latest payload, got %s", pending[0].Payload)
	}
}

func TestEnqueueKeepLaterPreservesPendingDelay(t *testing.T) {
	jobs, _ := newQueue(t)
	ctx := context.Background()

	first, err := jobs.Enqueue(ctx, "social", "social.sync", payload{"v1"}, queue.EnqueueOptions{JobID: "social-sync:42", Delay: time.Hour})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := jobs.Enqueue(ctx, "social", "social.sync", payload{"v2"}, queue.EnqueueOptions{JobID: "social-sync:42", KeepLater: true})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !second.RunAt.Equal(first.RunAt) {
		t.Fatalf("expected run_at %v to be kept, got %v", first.RunAt, second.RunAt)
	}
	third, err := jobs.Enqueue(ctx, "social", "social.sync", payload{"v3"}, queue.EnqueueOptions{JobID: "social-sync:42", Delay: 2 * time.Hour, KeepLater: true})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !third.RunAt.After(first.RunAt) {
		t.Fatalf("expected a longer delay to move run_at out, got %v", third.RunAt)
	}
}

func TestActiveJobCanEnqueueItsOwnSuccessor(t *testing.T) {
	jobs, _ := newQueue(t)
	ctx := context.Background()

	if _, err := jobs.Enqueue(ctx, "social", "social.sync", nil, queue.EnqueueOptions{JobID: "social-sync:7"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	active, err := jobs.Claim(ctx, "social")
	if err != nil || active == nil {
		t.Fatalf("Claim: %v %v", active, err)
	}
	successor, err := jobs.Enqueue(ctx, "social", "social.sync", nil, queue.EnqueueOptions{JobID: "social-sync:7", Delay: time.Minute})
	if err != nil {
		t.Fatalf("re-enqueue while active: %v", err)
	}
	if successor.Seq == active.Seq {
		t.Fatal("expected a new pending row alongside the active one")
	}
	if err := jobs.Complete(ctx, active.Seq, map[string]bool{"rescheduled": true}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	done, err := jobs.Get(ctx, active.Seq)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.Status != queue.StatusCompleted || string(done.Result) != `{"rescheduled":true}` {
		t.Fatalf("unexpected completed job %+v", done)
	}
}

func TestFailRetriesWithBackoffThenFails(t *testing.T) {
	jobs, clock := newQueue(t)
	ctx := context.Background()

	if _, err := jobs.Enqueue(ctx, "generation", "generate", nil, queue.EnqueueOptions{MaxAttempts: 2}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, _ := jobs.Claim(ctx, "generation")
	outcome, err := jobs.Fail(ctx, job, errors.New("provider timeout"), true)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if outcome != queue.OutcomeRetried {
		t.Fatalf("expected retry, got %s", outcome)
	}
	retried, _ := jobs.Get(ctx, job.Seq)
	if retried.Status != queue.StatusPending || retried.LastError != "provider timeout" {
		t.Fatalf("unexpected retried job %+v", retried)
	}
	if want := clock.Now().Add(jobs.Backoff(1)); !retried.RunAt.Equal(want) {
		t.Fatalf("run_at = %s, want %s", retried.RunAt, want)
	}

	clock.Advance(jobs.Backoff(1))
	job, _ = jobs.Claim(ctx, "generation")
	if job == nil || job.Attempts != 2 {
		t.Fatalf("expected second attempt, got %+v", job)
	}
	outcome, err = jobs.Fail(ctx, job, errors.New("provider timeout"), true)
	if err != nil || outcome != queue.OutcomeFailed {
		t.Fatalf("expected final failure, got %s %v", outcome, err)
	}
}

func TestFailNonRetryableFailsImmediately(t *testing.T) {
	jobs, _ := newQueue(t)
	ctx := context.Background()
	if _, err := jobs.Enqueue(ctx, "generation", "generate", nil, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, _ := jobs.Claim(ctx, "generation")
	outcome, err := jobs.Fail(ctx, job, errors.New("artifact missing"), false)
	if err != nil || outcome != queue.OutcomeFailed {
		t.Fatalf("expected failed outcome, got %s %v", outcome, err)
	}
}

func TestFailSupersededByPendingDuplicate(t *testing.T) {
	jobs, _ := newQueue(t)
	ctx := context.Background()
	if _, err := jobs.Enqueue(ctx, "derived", "derive", nil, queue.EnqueueOptions{JobID: "derive:a"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, _ := jobs.Claim(ctx, "derived")
	if _, err := jobs.Enqueue(ctx, "derived", "derive", nil, queue.EnqueueOptions{JobID: "derive:a"}); err != nil {
		t.Fatalf("Enqueue duplicate: %v", err)
	}
	outcome, err := jobs.Fail(ctx, job, errors.New("boom"), true)
	if err != nil || outcome != queue.OutcomeSuperseded {
		t.Fatalf("expected superseded, got %s %v", outcome, err)
	}
}

func TestBackoffIsExponentialAndCapped(t *testing.T) {
	jobs := queue.New(nil, queue.Options{BackoffBase: 10 * time.Second, BackoffMax: 60 * time.Second})
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, w := range want {
		if got := jobs.Backoff(i + 1); got != w {
			t.Fatalf("Backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestHeartbeatAndReclaimExpired(t *testing.T) {
	jobs, clock := newQueue(t)
	ctx := context.Background()

	if _, err := jobs.Enqueue(ctx, "generation", "generate", nil, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, _ := jobs.Claim(ctx, "generation")

	clock.Advance(jobs.Lease() / 2)
	if err := jobs.Heartbeat(ctx, job.Seq); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	clock.Advance(jobs.Lease() / 2)
	if n, err := jobs.ReclaimExpired(ctx); err != nil || n != 0 {
		t.Fatalf("expected heartbeat to keep lease alive, reclaimed %d (%v)", n, err)
	}

	clock.Advance(jobs.Lease() + time.Second)
	n, err := jobs.ReclaimExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one reclaimed job, got %d (%v)", n, err)
	}
	reclaimed, _ := jobs.Get(ctx, job.Seq)
	if reclaimed.Status != queue.StatusPending {
		t.Fatalf("expected pending after reclaim, got %s", reclaimed.Status)
	}
	if err := jobs.Complete(ctx, job.Seq, nil); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected lease lost completing reclaimed job, got %v", err)
	}
}

func TestUpdateProgressAndStats(t *testing.T) {
	jobs, _ := newQueue(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := jobs.Enqueue(ctx, "maintenance", "reap", nil, queue.EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	job, _ := jobs.Claim(ctx, "maintenance")
	if err := jobs.UpdateProgress(ctx, job.Seq, 1.7); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, _ := jobs.Get(ctx, job.Seq)
	if got.Progress != 1 {
		t.Fatalf("expected progress clamped to 1, got %v", got.Progress)
	}
	stats, err := jobs.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 1 || stats[0].Counts[queue.StatusPending] != 2 || stats[0].Counts[queue.StatusActive] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRetryFailedAndPurgeFinished(t *testing.T) {
	jobs, clock := newQueue(t)
	ctx := context.Background()
	if _, err := jobs.Enqueue(ctx, "generation", "generate", nil, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, _ := jobs.Claim(ctx, "generation")
	if _, err := jobs.Fail(ctx, job, errors.New("bad input"), false); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	n, err := jobs.RetryFailed(ctx, job.Seq)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed: %d %v", n, err)
	}
	job, _ = jobs.Claim(ctx, "generation")
	if job == nil || job.Attempts != 1 {
		t.Fatalf("expected fresh attempt budget, got %+v", job)
	}
	if err := jobs.Complete(ctx, job.Seq, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	clock.Advance(48 * time.Hour)
	purged, err := jobs.PurgeFinished(ctx, 24*time.Hour)
	if err != nil || purged != 1 {
		t.Fatalf("PurgeFinished: %d %v", purged, err)
	}
	if _, err := jobs.Get(ctx, job.Seq); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected purged job to be gone, got %v", err)
	}
}
