package narration

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"quill/internal/services"
)

func TestSynthesizeWritesAudioAndCost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Voice != "alloy" || req.ResponseFormat != "mp3" || req.Input != "Hello there" {
			t.Fatalf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fakeaudio"))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", BaseURL: server.URL, Model: "tts", Voice: "alloy", CostPerKChar: 15})
	dst := filepath.Join(t.TempDir(), "out", "audio.mp3")
	res, err := client.Synthesize(context.Background(), "  Hello there ", dst)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Characters != 11 || res.Bytes != 12 || res.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if math.Abs(res.CostUSD-0.165) > 1e-9 {
		t.Fatalf("expected cost 0.165, got %v", res.CostUSD)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected audio file: %v", err)
	}
}

func TestSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		marker error
	}{
		{"unauthorized", http.StatusUnauthorized, services.ErrConfiguration},
		{"bad input", http.StatusBadRequest, services.ErrGeneration},
		{"busy", http.StatusServiceUnavailable, services.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()
			client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
			dst := filepath.Join(t.TempDir(), "a.mp3")
			if _, err := client.Synthesize(context.Background(), "text", dst); !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
			if _, err := os.Stat(dst); !os.IsNotExist(err) {
				t.Fatalf("expected no output file on failure")
			}
		})
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	client := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Synthesize(context.Background(), "   ", filepath.Join(t.TempDir(), "a.mp3")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSynthesizeEmptyAudioIsGenerationFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer server.Close()
	client := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	if _, err := client.Synthesize(context.Background(), "text", filepath.Join(t.TempDir(), "a.mp3")); !errors.Is(err, services.ErrGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}
}
