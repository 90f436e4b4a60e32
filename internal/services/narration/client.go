package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"quill/internal/services"
)

const defaultTimeout = 180 * time.Second

// Config captures the provider settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Voice          string
	TimeoutSeconds int
	CostPerKChar   float64
}

// Client synthesizes speech.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a narration client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	c := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result describes a synthesized file.
type Result struct {
	Path        string
	Bytes       int64
	Characters  int
	CostUSD     float64
	Model       string
	Voice       string
	Provider    string
	ContentType string
	Elapsed     time.Duration
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize renders text to an MP3 file at dst.
func (c *Client) Synthesize(ctx context.Context, text, dst string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, services.Wrap(services.ErrValidation, "narration", "synthesize", "narration text is empty", nil)
	}
	if c.cfg.APIKey == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "narration", "synthesize", "api key required", nil)
	}
	body, err := json.Marshal(speechRequest{Model: c.cfg.Model, Voice: c.cfg.Voice, Input: text, ResponseFormat: "mp3"})
	if err != nil {
		return Result{}, fmt.Errorf("narration: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("narration: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	started := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternal, "narration", "synthesize", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, statusError(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{}, fmt.Errorf("narration: create output dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return Result{}, fmt.Errorf("narration: create output: %w", err)
	}
	written, copyErr := io.Copy(out, resp.Body)
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(dst)
		return Result{}, services.Wrap(services.ErrExternal, "narration", "synthesize", "read audio stream", copyErr)
	}
	if written == 0 {
		_ = os.Remove(dst)
		return Result{}, services.Wrap(services.ErrGeneration, "narration", "synthesize", "provider returned empty audio", nil)
	}

	chars := utf8.RuneCountInString(text)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return Result{
		Path:        dst,
		Bytes:       written,
		Characters:  chars,
		CostUSD:     float64(chars) / 1000 * c.cfg.CostPerKChar,
		Model:       c.cfg.Model,
		Voice:       c.cfg.Voice,
		Provider:    c.provider(),
		ContentType: contentType,
		Elapsed:     c.now().Sub(started),
	}, nil
}

func (c *Client) provider() string {
	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil || parsed.Host == "" {
		return "narration"
	}
	return parsed.Hostname()
}

func statusError(code int, body string) error {
	err := fmt.Errorf("narration: http %d: %s", code, body)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "narration", "synthesize", "provider rejected credentials", err)
	case code == http.StatusBadRequest:
		return services.Wrap(services.ErrGeneration, "narration", "synthesize", "provider rejected input", err)
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "narration", "synthesize", "provider unavailable", err)
	default:
		return services.Wrap(services.ErrExternal, "narration", "synthesize", "request failed", err)
	}
}
