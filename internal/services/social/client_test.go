package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quill/internal/services"
)

func TestTimelineAndCreatePost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("missing token")
		}
		if r.URL.Path != "/users/acct-1/posts" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("limit") != "20" {
				t.Fatalf("unexpected query %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []Post{{ID: "p1", Text: "hi", ClientRef: "art-1"}}})
		case http.MethodPost:
			var req PostRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": Post{ID: "p2", Text: req.Text, ClientRef: req.ClientRef}})
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "tok", 5)
	posts, err := client.Timeline(context.Background(), "acct-1", 20)
	if err != nil || len(posts) != 1 || posts[0].ClientRef != "art-1" {
		t.Fatalf("Timeline = %+v, %v", posts, err)
	}
	post, err := client.CreatePost(context.Background(), "acct-1", PostRequest{Text: "new", ClientRef: "art-2"})
	if err != nil || post.ID != "p2" || post.ClientRef != "art-2" {
		t.Fatalf("CreatePost = %+v, %v", post, err)
	}
}

func TestRateLimitedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok", 5)
	_, err := client.CreatePost(context.Background(), "acct-1", PostRequest{Text: "x"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var limited *RateLimitedError
	if !errors.As(err, &limited) || limited.RetryAfter != 30*time.Second {
		t.Fatalf("expected RateLimitedError with 30s, got %v", err)
	}
}

func TestMissingTokenIsConfigurationError(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "", 1)
	if _, err := client.Timeline(context.Background(), "acct-1", 1); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
