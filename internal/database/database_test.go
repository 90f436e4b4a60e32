package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"quill/internal/database"
)

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "quill.db")

	db, err := database.Open(ctx, path, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	versions, err := database.AppliedVersions(ctx, db)
	if err != nil {
		t.Fatalf("AppliedVersions: %v", err)
	}
	if len(versions) != 2 || versions[0] != "0001_entities" || versions[1] != "0002_jobs" {
		t.Fatalf("unexpected versions %v", versions)
	}
	for _, table := range []string{"inputs", "artifacts", "artifact_pages", "derived_assets", "provisional_resources", "jobs"} {
		var count int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("query table %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist", table)
		}
	}
	_ = db.Close()

	reopened, err := database.Open(ctx, path, 1000)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	again, err := database.AppliedVersions(ctx, reopened)
	if err != nil || len(again) != 2 {
		t.Fatalf("expected migrations to be recorded once, got %v (%v)", again, err)
	}
}

func TestOpenEnablesForeignKeysOnEveryConnection(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "fk.db"), 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(3)

	for i := 0; i < 3; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			t.Fatalf("conn: %v", err)
		}
		var enabled int
		if err := conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&enabled); err != nil {
			t.Fatalf("pragma: %v", err)
		}
		if enabled != 1 {
			t.Fatalf("foreign keys disabled on connection %d", i)
		}
		defer conn.Close()
	}
}

type busyErr struct{}

func (busyErr) Error() string { return "database is locked (5) (SQLITE_BUSY)" }
func (busyErr) Code() int     { return 5 }

func TestRetryOnBusyRetriesContention(t *testing.T) {
	calls := 0
	err := database.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return busyErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("constraint failed")
	calls := 0
	err := database.RetryOnBusy(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single call returning boom, got %v after %d calls", err, calls)
	}
}

func TestFormatTimeSortsChronologically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(500 * time.Millisecond),
		base,
		base.Add(time.Second),
		base.Add(1),
	}
	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = database.FormatTime(ts)
	}
	sort.Strings(formatted)
	want := []time.Time{base, base.Add(1), base.Add(500 * time.Millisecond), base.Add(time.Second)}
	for i, value := range formatted {
		parsed, err := database.ParseTime(value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		if !parsed.Equal(want[i]) {
			t.Fatalf("position %d: got %s want %s", i, parsed, want[i])
		}
	}
}

func TestPlaceholders(t *testing.T) {
	if got := database.Placeholders(3); got != "?,?,?" {
		t.Fatalf("unexpected placeholders %q", got)
	}
	if got := database.Placeholders(0); got != "" {
		t.Fatalf("expected empty placeholders, got %q", got)
	}
}
