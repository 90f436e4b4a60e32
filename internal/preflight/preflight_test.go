package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quill/internal/config"
	"quill/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func llmServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":` + content + `}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckLLM_OK(t *testing.T) {
	srv := llmServer(t, http.StatusOK, `"{\"ok\":true}"`)
	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{APIKey: "good-key", BaseURL: srv.URL, Model: "demo"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckLLM_BadKey(t *testing.T) {
	srv := llmServer(t, http.StatusOK, `"{\"ok\":true}"`)
	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{APIKey: "bad-key", BaseURL: srv.URL, Model: "demo"})
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{BaseURL: "http://localhost"})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("expected missing key failure, got %+v", result)
	}
}

func TestCheckRedis(t *testing.T) {
	client, server := testsupport.NewRedis(t)
	if result := CheckRedis(context.Background(), client); !result.Passed {
		t.Fatalf("expected ping to pass, got %s", result.Detail)
	}
	server.Close()
	if result := CheckRedis(context.Background(), client); result.Passed {
		t.Fatal("expected ping to fail once the server is gone")
	}
}

func TestCheckCredential(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		url    string
		passed bool
	}{
		{name: "complete", secret: "s", url: "https://api.test", passed: true},
		{name: "no secret", url: "https://api.test"},
		{name: "no url", secret: "s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CheckCredential("svc", tc.secret, tc.url); got.Passed != tc.passed {
				t.Fatalf("expected passed=%v, got %+v", tc.passed, got)
			}
		})
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, Options{}); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_HealthyConfig(t *testing.T) {
	srv := llmServer(t, http.StatusOK, `"{\"ok\":true}"`)
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.LLM.APIKey = "good-key"
	cfg.LLM.BaseURL = srv.URL
	cfg.Narration.Enabled = false
	cfg.Social.Enabled = false
	client, _ := testsupport.NewRedis(t)

	results := RunAll(context.Background(), cfg, Options{Redis: client})
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if err := Err(results); err != nil {
		t.Fatalf("Err: %v", err)
	}
}

func TestErrIgnoresOptionalFailures(t *testing.T) {
	results := []Result{
		{Name: "Data directory", Passed: true},
		{Name: "FFmpeg", Optional: true, Detail: "binary \"ffmpeg\" not found"},
	}
	if err := Err(results); err != nil {
		t.Fatalf("optional failure should not fail preflight: %v", err)
	}
	results = append(results, Result{Name: "Redis", Detail: "connection refused"})
	err := Err(results)
	if err == nil || !strings.Contains(err.Error(), "Redis: connection refused") {
		t.Fatalf("expected Redis failure in error, got %v", err)
	}
}
