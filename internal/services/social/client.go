package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quill/internal/services"
)

const defaultTimeout = 30 * time.Second

// Post is a published platform post.
type Post struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ClientRef string    `json:"client_ref,omitempty"`
	MediaURL  string    `json:"media_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PostRequest is the body for CreatePost.
type PostRequest struct {
	Text      string `json:"text"`
	ClientRef string `json:"client_ref,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
}

// Client talks to the platform API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a platform client.
func NewClient(baseURL, token string, timeoutSeconds int) *Client {
	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RateLimitedError reports an upstream 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("platform rate limited (retry after %s)", e.RetryAfter)
}

// Timeline returns up to limit recent posts of subject, newest first.
func (c *Client) Timeline(ctx context.Context, subject string, limit int) ([]Post, error) {
	endpoint := c.baseURL + "/users/" + url.PathEscape(subject) + "/posts"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Data []Post `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out, "timeline"); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreatePost publishes a post on behalf of subject.
func (c *Client) CreatePost(ctx context.Context, subject string, req PostRequest) (Post, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Post{}, services.Wrap(services.ErrValidation, "social", "create post", "post text is empty", nil)
	}
	endpoint := c.baseURL + "/users/" + url.PathEscape(subject) + "/posts"
	var out struct {
		Data Post `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, req, &out, "create post"); err != nil {
		return Post{}, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, target any, op string) error {
	if c.token == "" {
		return services.Wrap(services.ErrConfiguration, "social", op, "platform token required", nil)
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("social %s: encode: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("social %s: new request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternal, "social", op, "request failed", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrExternal, "social", op, "read response", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry, _ := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After")))
		return services.Wrap(services.ErrTransient, "social", op, "rate limited", &RateLimitedError{RetryAfter: time.Duration(retry) * time.Second})
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "social", op, "platform rejected token", fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "social", op, "subject not found", fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusMultipleChoices:
		return services.Wrap(services.ErrExternal, "social", op, fmt.Sprintf("http %d", resp.StatusCode), fmt.Errorf("%s", strings.TrimSpace(string(payload))))
	}
	if target == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return services.Wrap(services.ErrExternal, "social", op, "decode response", err)
	}
	return nil
}
