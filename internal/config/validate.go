package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateRateLimits(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateVideo(); err != nil {
		return err
	}
	if err := c.validateBlob(); err != nil {
		return err
	}
	if err := c.validateReaper(); err != nil {
		return err
	}
	if err := c.validateSocial(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.poll_interval_ms":     c.Queue.PollIntervalMillis,
		"queue.lease_seconds":        c.Queue.LeaseSeconds,
		"queue.heartbeat_interval":   c.Queue.HeartbeatInterval,
		"queue.max_attempts":         c.Queue.MaxAttempts,
		"queue.backoff_base_seconds": c.Queue.BackoffBaseSeconds,
		"queue.backoff_max_seconds":  c.Queue.BackoffMaxSeconds,
	}); err != nil {
		return err
	}
	if c.Queue.LeaseSeconds <= c.Queue.HeartbeatInterval {
		return errors.New("queue.lease_seconds must be greater than queue.heartbeat_interval")
	}
	if c.Queue.BackoffMaxSeconds < c.Queue.BackoffBaseSeconds {
		return errors.New("queue.backoff_max_seconds must be >= queue.backoff_base_seconds")
	}
	for _, name := range sortedKeys(c.Queue.Concurrency) {
		if c.Queue.Concurrency[name] <= 0 {
			return fmt.Errorf("queue.concurrency.%s must be positive", name)
		}
	}
	return nil
}

func (c *Config) validateRateLimits() error {
	for _, endpoint := range sortedKeys(c.RateLimits) {
		quota := c.RateLimits[endpoint]
		if quota.Limit <= 0 {
			return fmt.Errorf("rate_limits.%s.limit must be positive", endpoint)
		}
		if quota.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limits.%s.window_seconds must be positive", endpoint)
		}
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.InputCostPerMTok < 0 || c.LLM.OutputCostPerMTok < 0 {
		return errors.New("llm cost rates must be >= 0")
	}
	return nil
}

func (c *Config) validateVideo() error {
	if !c.Video.Enabled {
		return nil
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return errors.New("video.width and video.height must be positive")
	}
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return errors.New("video.width and video.height must be even")
	}
	return nil
}

func (c *Config) validateBlob() error {
	switch c.Blob.Backend {
	case BlobBackendFS:
		if strings.TrimSpace(c.Blob.Dir) == "" {
			return errors.New("blob.dir must be set when blob.backend is fs")
		}
	case BlobBackendS3:
		if c.Blob.S3Bucket == "" {
			return errors.New("blob.s3_bucket must be set when blob.backend is s3 (or set QUILL_S3_BUCKET)")
		}
	default:
		return fmt.Errorf("blob.backend %q is not supported (use fs or s3)", c.Blob.Backend)
	}
	return nil
}

func (c *Config) validateReaper() error {
	if err := ensurePositiveMap(map[string]int{
		"reaper.batch_size":              c.Reaper.BatchSize,
		"reaper.concurrency":             c.Reaper.Concurrency,
		"reaper.expired_retention_days":  c.Reaper.ExpiredRetentionDays,
		"reaper.provisional_ttl_minutes": c.Reaper.ProvisionalTTLMinutes,
	}); err != nil {
		return err
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Reaper.Schedule); err != nil {
		return fmt.Errorf("reaper.schedule: %w", err)
	}
	if _, err := parser.Parse(c.Reaper.SweepSchedule); err != nil {
		return fmt.Errorf("reaper.sweep_schedule: %w", err)
	}
	return nil
}

func (c *Config) validateSocial() error {
	if c.Social.Enabled && c.Social.Token == "" {
		return errors.New("social.token must be set when social.enabled is true (or set QUILL_SOCIAL_TOKEN)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for _, key := range sortedKeys(values) {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func sortedKeys[V any](values map[string]V) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
