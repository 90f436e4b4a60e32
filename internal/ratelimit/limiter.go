package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"quill/internal/config"
	"quill/internal/services"
)

// expirySlack is added to the window when setting key expiry.
const expirySlack = time.Minute

// Quota is the number of calls allowed within Window.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Count      int
	Limit      int
}

// Limiter enforces sliding-window quotas.
type Limiter struct {
	client redis.Cmdable
	quotas map[string]Quota
	prefix string
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithKeyPrefix namespaces window keys.
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) {
		l.prefix = strings.TrimSpace(prefix)
	}
}

// New constructs a limiter over client with the given endpoint quotas.
func New(client redis.Cmdable, quotas map[string]Quota, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		quotas: make(map[string]Quota, len(quotas)),
		now:    time.Now,
	}
	for endpoint, quota := range quotas {
		l.quotas[endpoint] = quota
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewClient dials Redis using the configured connection settings.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// NewFromConfig builds a limiter with the configured quotas and key prefix.
func NewFromConfig(client redis.Cmdable, cfg *config.Config, opts ...Option) *Limiter {
	quotas := make(map[string]Quota, len(cfg.RateLimits))
	for endpoint, rl := range cfg.RateLimits {
		quotas[endpoint] = Quota{Limit: rl.Limit, Window: rl.Window()}
	}
	opts = append([]Option{WithKeyPrefix(cfg.Redis.KeyPrefix)}, opts...)
	return New(client, quotas, opts...)
}

// Quota returns the configured quota for endpoint.
func (l *Limiter) Quota(endpoint string) (Quota, error) {
	quota, ok := l.quotas[endpoint]
	if !ok || quota.Limit <= 0 || quota.Window <= 0 {
		return Quota{}, services.Wrap(services.ErrConfiguration, "ratelimit", "quota",
			fmt.Sprintf("no quota configured for endpoint %q", endpoint), nil)
	}
	return quota, nil
}

// Key returns the Redis key tracking endpoint calls for subject.
func (l *Limiter) Key(endpoint, subject string) string {
	key := "ratelimit:" + endpoint + ":" + subject
	if l.prefix != "" {
		key = l.prefix + ":" + key
	}
	return key
}

// Check reports whether one more call to endpoint on behalf of subject fits
// the quota. It does not record the call.
func (l *Limiter) Check(ctx context.Context, endpoint, subject string) (Decision, error) {
	quota, err := l.Quota(endpoint)
	if err != nil {
		return Decision{}, err
	}
	key := l.Key(endpoint, subject)
	now := l.now()
	cutoff := now.Add(-quota.Window).UnixMilli()

	var (
		card   *redis.IntCmd
		oldest *redis.ZSliceCmd
	)
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		return Decision{}, services.Wrap(services.ErrTransient, "ratelimit", "check", "window query failed", err)
	}

	decision := Decision{Count: int(card.Val()), Limit: quota.Limit}
	if decision.Count < quota.Limit {
		decision.Allowed = true
		return decision, nil
	}
	entries := oldest.Val()
	if len(entries) == 0 {
		decision.RetryAfter = quota.Window
		return decision, nil
	}
	decision.RetryAfter = retryAfter(int64(entries[0].Score), now, quota.Window)
	return decision, nil
}

// Record appends a call to the window for endpoint and subject.
func (l *Limiter) Record(ctx context.Context, endpoint, subject string) error {
	quota, err := l.Quota(endpoint)
	if err != nil {
		return err
	}
	key := l.Key(endpoint, subject)
	now := l.now()
	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
		pipe.PExpire(ctx, key, quota.Window+expirySlack)
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, "ratelimit", "record", "window update failed", err)
	}
	return nil
}

// Reset drops the window for endpoint and subject.
func (l *Limiter) Reset(ctx context.Context, endpoint, subject string) error {
	if err := l.client.Del(ctx, l.Key(endpoint, subject)).Err(); err != nil {
		return services.Wrap(services.ErrTransient, "ratelimit", "reset", "window delete failed", err)
	}
	return nil
}

// retryAfter is the time until the oldest call leaves the window, rounded up
// to whole seconds and clamped to (0, window].
func retryAfter(oldestMillis int64, now time.Time, window time.Duration) time.Duration {
	wait := time.UnixMilli(oldestMillis).Add(window).Sub(now)
	seconds := math.Ceil(wait.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	out := time.Duration(seconds) * time.Second
	if out > window {
		out = window
	}
	return out
}
