package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRedis()
	c.normalizeQueue()
	c.normalizeRateLimits()
	c.normalizeLLM()
	c.normalizeNarration()
	c.normalizeVideo()
	if err := c.normalizeBlob(); err != nil {
		return err
	}
	c.normalizeReaper()
	c.normalizeSocial()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = filepath.Join(c.Paths.DataDir, "work")
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = filepath.Join(c.Paths.DataDir, defaultDatabaseName)
	}
	if c.Database.Path, err = expandPath(c.Database.Path); err != nil {
		return fmt.Errorf("database.path: %w", err)
	}
	if c.Database.BusyTimeoutMillis <= 0 {
		c.Database.BusyTimeoutMillis = defaultBusyTimeoutMillis
	}
	return nil
}

func (c *Config) normalizeRedis() {
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Redis.Password == "" {
		if value, ok := os.LookupEnv("QUILL_REDIS_PASSWORD"); ok {
			c.Redis.Password = strings.TrimSpace(value)
		}
	}
	c.Redis.KeyPrefix = strings.Trim(strings.TrimSpace(c.Redis.KeyPrefix), ":")
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.PollIntervalMillis <= 0 {
		c.Queue.PollIntervalMillis = defaultQueuePollMillis
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = defaultQueueMaxAttempts
	}
	if c.Queue.Concurrency == nil {
		c.Queue.Concurrency = defaultConcurrency()
	}
	normalized := make(map[string]int, len(c.Queue.Concurrency))
	for name, n := range c.Queue.Concurrency {
		normalized[strings.ToLower(strings.TrimSpace(name))] = n
	}
	for name, n := range defaultConcurrency() {
		if _, ok := normalized[name]; !ok {
			normalized[name] = n
		}
	}
	c.Queue.Concurrency = normalized
}

func (c *Config) normalizeRateLimits() {
	normalized := make(map[string]RateLimit, len(c.RateLimits))
	for endpoint, quota := range c.RateLimits {
		normalized[strings.ToLower(strings.TrimSpace(endpoint))] = quota
	}
	for endpoint, quota := range defaultRateLimits() {
		if _, ok := normalized[endpoint]; !ok {
			normalized[endpoint] = quota
		}
	}
	c.RateLimits = normalized
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("QUILL_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
}

func (c *Config) normalizeNarration() {
	c.Narration.APIKey = strings.TrimSpace(c.Narration.APIKey)
	if c.Narration.APIKey == "" {
		if value, ok := os.LookupEnv("QUILL_NARRATION_API_KEY"); ok {
			c.Narration.APIKey = strings.TrimSpace(value)
		}
	}
	c.Narration.BaseURL = strings.TrimSpace(c.Narration.BaseURL)
	if c.Narration.BaseURL == "" {
		c.Narration.BaseURL = defaultNarrationBaseURL
	}
	c.Narration.Voice = strings.TrimSpace(c.Narration.Voice)
	if c.Narration.Voice == "" {
		c.Narration.Voice = defaultNarrationVoice
	}
	c.Narration.Model = strings.TrimSpace(c.Narration.Model)
	if c.Narration.Model == "" {
		c.Narration.Model = defaultNarrationModel
	}
	if c.Narration.TimeoutSeconds <= 0 {
		c.Narration.TimeoutSeconds = defaultNarrationTimeout
	}
}

func (c *Config) normalizeVideo() {
	c.Video.FFmpegBinary = strings.TrimSpace(c.Video.FFmpegBinary)
	if c.Video.FFmpegBinary == "" {
		c.Video.FFmpegBinary = defaultFFmpegBinary
	}
	c.Video.FFprobeBinary = strings.TrimSpace(c.Video.FFprobeBinary)
	if c.Video.FFprobeBinary == "" {
		c.Video.FFprobeBinary = defaultFFprobeBinary
	}
	c.Video.BackgroundColor = strings.TrimSpace(c.Video.BackgroundColor)
	if c.Video.BackgroundColor == "" {
		c.Video.BackgroundColor = defaultVideoBackground
	}
	if c.Video.TimeoutSeconds <= 0 {
		c.Video.TimeoutSeconds = defaultVideoTimeoutSeconds
	}
}

func (c *Config) normalizeBlob() error {
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	if c.Blob.Backend == "" {
		c.Blob.Backend = defaultBlobBackend
	}
	if strings.TrimSpace(c.Blob.Dir) == "" {
		c.Blob.Dir = filepath.Join(c.Paths.DataDir, "blobs")
	}
	var err error
	if c.Blob.Dir, err = expandPath(c.Blob.Dir); err != nil {
		return fmt.Errorf("blob.dir: %w", err)
	}
	c.Blob.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Blob.PublicBaseURL), "/")
	envFallback(&c.Blob.S3Bucket, "QUILL_S3_BUCKET")
	envFallback(&c.Blob.S3Region, "QUILL_S3_REGION")
	envFallback(&c.Blob.S3Endpoint, "QUILL_S3_ENDPOINT")
	envFallback(&c.Blob.S3Prefix, "QUILL_S3_PREFIX")
	c.Blob.S3Prefix = strings.Trim(c.Blob.S3Prefix, "/")
	return nil
}

func (c *Config) normalizeReaper() {
	c.Reaper.Schedule = strings.TrimSpace(c.Reaper.Schedule)
	if c.Reaper.Schedule == "" {
		c.Reaper.Schedule = defaultReaperSchedule
	}
	c.Reaper.SweepSchedule = strings.TrimSpace(c.Reaper.SweepSchedule)
	if c.Reaper.SweepSchedule == "" {
		c.Reaper.SweepSchedule = defaultReaperSweepSchedule
	}
}

func (c *Config) normalizeSocial() {
	c.Social.Token = strings.TrimSpace(c.Social.Token)
	if c.Social.Token == "" {
		if value, ok := os.LookupEnv("QUILL_SOCIAL_TOKEN"); ok {
			c.Social.Token = strings.TrimSpace(value)
		}
	}
	c.Social.BaseURL = strings.TrimRight(strings.TrimSpace(c.Social.BaseURL), "/")
	if c.Social.BaseURL == "" {
		c.Social.BaseURL = defaultSocialBaseURL
	}
	if c.Social.TimeoutSeconds <= 0 {
		c.Social.TimeoutSeconds = defaultSocialTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
}

func envFallback(target *string, key string) {
	*target = strings.TrimSpace(*target)
	if *target != "" {
		return
	}
	if value, ok := os.LookupEnv(key); ok {
		*target = strings.TrimSpace(value)
	}
}
