package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"quill/internal/config"
	"quill/internal/queue"
	"quill/internal/ratelimit"
	"quill/internal/services"
	"quill/internal/testsupport"
)

const window = 15 * time.Minute

func newLimiter(t *testing.T) (*ratelimit.Limiter, *testsupport.Clock) {
	t.Helper()
	client, _ := testsupport.NewRedis(t)
	clock := testsupport.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	limiter := ratelimit.New(client, map[string]ratelimit.Quota{
		config.EndpointPostCreate:   {Limit: 5, Window: window},
		config.EndpointUserTimeline: {Limit: 100, Window: window},
	}, ratelimit.WithClock(clock.Now), ratelimit.WithKeyPrefix("quill"))
	return limiter, clock
}

func fill(t *testing.T, l *ratelimit.Limiter, clock *testsupport.Clock, n int, spacing time.Duration) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		decision, err := l.Check(ctx, config.EndpointPostCreate, "acct-1")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("call %d unexpectedly denied: %+v", i+1, decision)
		}
		if err := l.Record(ctx, config.EndpointPostCreate, "acct-1"); err != nil {
			t.Fatalf("Record: %v", err)
		}
		clock.Advance(spacing)
	}
}

func TestCheckDeniesCallOverQuota(t *testing.T) {
	l, clock := newLimiter(t)
	fill(t, l, clock, 5, 10*time.Second)

	decision, err := l.Check(context.Background(), config.EndpointPostCreate, "acct-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Fatalf("expected 6th call to be denied")
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > window {
		t.Fatalf("retry after out of range: %v", decision.RetryAfter)
	}
	// Oldest call was 50s ago.
	if decision.RetryAfter != window-50*time.Second {
		t.Fatalf("expected retry after derived from oldest call, got %v", decision.RetryAfter)
	}
	if decision.Count != 5 || decision.Limit != 5 {
		t.Fatalf("unexpected counts: %+v", decision)
	}
}

func TestWindowEmptiesAfterFullWindow(t *testing.T) {
	l, clock := newLimiter(t)
	fill(t, l, clock, 5, 0)

	clock.Advance(window)
	decision, err := l.Check(context.Background(), config.EndpointPostCreate, "acct-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed || decision.Count != 0 {
		t.Fatalf("expected empty window after %v, got %+v", window, decision)
	}
}

func TestRetryAfterIsNonIncreasing(t *testing.T) {
	l, clock := newLimiter(t)
	fill(t, l, clock, 5, 0)
	ctx := context.Background()

	first, err := l.Check(ctx, config.EndpointPostCreate, "acct-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	second, err := l.Check(ctx, config.EndpointPostCreate, "acct-1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if first.Allowed || second.Allowed {
		t.Fatalf("expected both checks denied")
	}
	if second.RetryAfter > first.RetryAfter {
		t.Fatalf("retry after grew: %v then %v", first.RetryAfter, second.RetryAfter)
	}

	previous := second.RetryAfter
	for i := 0; i < 5; i++ {
		clock.Advance(90 * time.Second)
		next, err := l.Check(ctx, config.EndpointPostCreate, "acct-1")
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		if next.Allowed {
			t.Fatalf("window should still be full after %d steps", i+1)
		}
		if next.RetryAfter > previous {
			t.Fatalf("retry after grew: %v then %v", previous, next.RetryAfter)
		}
		previous = next.RetryAfter
	}
}

func TestSubjectsAndEndpointsAreIsolated(t *testing.T) {
	l, clock := newLimiter(t)
	fill(t, l, clock, 5, 0)
	ctx := context.Background()

	other, err := l.Check(ctx, config.EndpointPostCreate, "acct-2")
	if err != nil || !other.Allowed {
		t.Fatalf("other subject should be allowed: %+v %v", other, err)
	}
	timeline, err := l.Check(ctx, config.EndpointUserTimeline, "acct-1")
	if err != nil || !timeline.Allowed || timeline.Limit != 100 {
		t.Fatalf("other endpoint should be allowed: %+v %v", timeline, err)
	}
}

func TestRecordSetsExpiry(t *testing.T) {
	client, server := testsupport.NewRedis(t)
	l := ratelimit.New(client, map[string]ratelimit.Quota{"post.create": {Limit: 1, Window: window}})
	if err := l.Record(context.Background(), "post.create", "acct-1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	ttl := server.TTL(l.Key("post.create", "acct-1"))
	if ttl <= window || ttl > window+time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestUnknownEndpointIsConfigurationError(t *testing.T) {
	l, _ := newLimiter(t)
	_, err := l.Check(context.Background(), "media.upload", "acct-1")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRedisFailureIsTransient(t *testing.T) {
	client, server := testsupport.NewRedis(t)
	l := ratelimit.New(client, map[string]ratelimit.Quota{"post.create": {Limit: 1, Window: window}})
	server.Close()
	_, err := l.Check(context.Background(), "post.create", "acct-1")
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestRescheduleCollapsesDuplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, jobs := testsupport.MustOpenStores(t, cfg, nil)
	ctx := context.Background()
	decision := ratelimit.Decision{Allowed: false, RetryAfter: 2 * time.Minute, Count: 5, Limit: 5}
	jobID := ratelimit.SocialSyncJobID("acct-1")

	for i := 0; i < 3; i++ {
		out, err := ratelimit.Reschedule(ctx, jobs, nil, config.QueueSocial, "social.sync", jobID,
			map[string]string{"subject_id": "acct-1"}, config.EndpointPostCreate, "acct-1", decision)
		if err != nil {
			t.Fatalf("Reschedule: %v", err)
		}
		if out.JobID != "social-sync:acct-1" || out.RetryAfter != 120 {
			t.Fatalf("unexpected reschedule result: %+v", out)
		}
	}
	pending, err := jobs.List(ctx, queue.ListFilter{Statuses: []queue.Status{queue.StatusPending}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != jobID {
		t.Fatalf("expected one pending job, got %d", len(pending))
	}

	if _, err := ratelimit.Reschedule(ctx, jobs, nil, config.QueueSocial, "social.sync", jobID, nil, "", "", ratelimit.Decision{Allowed: true}); err == nil {
		t.Fatalf("expected error rescheduling an allowed decision")
	}
}
