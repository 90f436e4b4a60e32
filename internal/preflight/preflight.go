package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"quill/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Options supplies collaborators that callers may already hold.
type Options struct {
	// Redis is pinged when set; otherwise a client is dialed from config.
	Redis redis.Cmdable
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results,
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
	)
	if cfg.Blob.Backend == config.BlobBackendFS {
		results = append(results, CheckDirectoryAccess("Blob directory", cfg.Blob.Dir))
	}

	client := opts.Redis
	if client == nil {
		dialed := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer dialed.Close()
		client = dialed
	}
	results = append(results, CheckRedis(ctx, client))

	results = append(results, CheckLLM(ctx, "LLM", cfg.GetLLM()))
	if cfg.Narration.Enabled {
		results = append(results, CheckCredential("Narration", cfg.Narration.APIKey, cfg.Narration.BaseURL))
	}
	if cfg.Social.Enabled {
		results = append(results, CheckCredential("Social platform", cfg.Social.Token, cfg.Social.BaseURL))
	}
	results = append(results, CheckBinaries(cfg)...)
	return results
}

// Err folds failed required checks into one error, or nil when everything
// required passed.
func Err(results []Result) error {
	var failed []string
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.New("preflight failed: " + strings.Join(failed, "; "))
}
