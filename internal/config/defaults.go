package config

const (
	defaultDataDir                = "~/.local/share/quill"
	defaultLogDir                 = "~/.local/share/quill/logs"
	defaultWorkDir                = "~/.local/share/quill/work"
	defaultBlobDir                = "~/.local/share/quill/blobs"
	defaultDatabaseName           = "quill.db"
	defaultBusyTimeoutMillis      = 5000
	defaultRedisAddr              = "127.0.0.1:6379"
	defaultRedisKeyPrefix         = "quill"
	defaultQueuePollMillis        = 1000
	defaultQueueLeaseSeconds      = 300
	defaultQueueHeartbeatSeconds  = 30
	defaultQueueMaxAttempts       = 3
	defaultQueueBackoffBase       = 10
	defaultQueueBackoffMax        = 600
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-2.5-flash"
	defaultLLMReferer             = "https://github.com/quill/quill"
	defaultLLMTitle               = "Quill Generator"
	defaultLLMTimeoutSeconds      = 120
	defaultNarrationBaseURL       = "https://api.openai.com/v1/audio/speech"
	defaultNarrationModel         = "gpt-4o-mini-tts"
	defaultNarrationVoice         = "alloy"
	defaultNarrationTimeout       = 180
	defaultNarrationCostPerKChar  = 0.015
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultVideoWidth             = 1080
	defaultVideoHeight            = 1920
	defaultVideoBackground        = "0x1f1f24"
	defaultVideoTimeoutSeconds    = 600
	defaultBlobBackend            = BlobBackendFS
	defaultReaperBatchSize        = 100
	defaultReaperConcurrency      = 4
	defaultReaperSchedule         = "@every 15m"
	defaultReaperSweepSchedule    = "@daily"
	defaultExpiredRetentionDays   = 7
	defaultProvisionalTTLMinutes  = 60
	defaultSocialBaseURL          = "https://api.social.example/v2"
	defaultSocialTimeoutSeconds   = 30
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultLogMaxSizeMB           = 100
	defaultLogMaxBackups          = 5
	defaultRateLimitWindowSeconds = 15 * 60
)

// Queue names used by the worker pools.
const (
	QueueGeneration  = "generation"
	QueueDerived     = "derived"
	QueueSocial      = "social"
	QueueMaintenance = "maintenance"
)

// Rate-limited external endpoints.
const (
	EndpointPostCreate   = "post.create"
	EndpointUserTimeline = "user.timeline"
)

// Blob backends.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

func defaultConcurrency() map[string]int {
	return map[string]int{
		QueueGeneration:  3,
		QueueDerived:     2,
		QueueSocial:      3,
		QueueMaintenance: 1,
	}
}

func defaultRateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		EndpointPostCreate:   {Limit: 5, WindowSeconds: defaultRateLimitWindowSeconds},
		EndpointUserTimeline: {Limit: 100, WindowSeconds: defaultRateLimitWindowSeconds},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			WorkDir: defaultWorkDir,
		},
		Database: Database{
			BusyTimeoutMillis: defaultBusyTimeoutMillis,
		},
		Redis: Redis{
			Addr:      defaultRedisAddr,
			KeyPrefix: defaultRedisKeyPrefix,
		},
		Queue: Queue{
			PollIntervalMillis: defaultQueuePollMillis,
			LeaseSeconds:       defaultQueueLeaseSeconds,
			HeartbeatInterval:  defaultQueueHeartbeatSeconds,
			MaxAttempts:        defaultQueueMaxAttempts,
			BackoffBaseSeconds: defaultQueueBackoffBase,
			BackoffMaxSeconds:  defaultQueueBackoffMax,
			Concurrency:        defaultConcurrency(),
		},
		RateLimits: defaultRateLimits(),
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Narration: Narration{
			Enabled:        true,
			BaseURL:        defaultNarrationBaseURL,
			Model:          defaultNarrationModel,
			Voice:          defaultNarrationVoice,
			TimeoutSeconds: defaultNarrationTimeout,
			CostPerKChar:   defaultNarrationCostPerKChar,
		},
		Video: Video{
			Enabled:         true,
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			Width:           defaultVideoWidth,
			Height:          defaultVideoHeight,
			BackgroundColor: defaultVideoBackground,
			TimeoutSeconds:  defaultVideoTimeoutSeconds,
		},
		Blob: Blob{
			Backend: defaultBlobBackend,
			Dir:     defaultBlobDir,
		},
		Reaper: Reaper{
			BatchSize:             defaultReaperBatchSize,
			Concurrency:           defaultReaperConcurrency,
			Schedule:              defaultReaperSchedule,
			SweepSchedule:         defaultReaperSweepSchedule,
			ExpiredRetentionDays:  defaultExpiredRetentionDays,
			ProvisionalTTLMinutes: defaultProvisionalTTLMinutes,
		},
		Social: Social{
			BaseURL:        defaultSocialBaseURL,
			TimeoutSeconds: defaultSocialTimeoutSeconds,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Generation:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
		},
	}
}
