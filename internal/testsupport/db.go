package testsupport

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/queue"
	"quill/internal/store"
)

// MustOpenDB opens the configured SQLite database and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *sql.DB {
	t.Helper()

	db, err := database.OpenFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// MustExec runs statements on a separate connection to the configured
// database. Tests use it to install triggers that inject faults.
func MustExec(t testing.TB, cfg *config.Config, statements ...string) {
	t.Helper()

	db := MustOpenDB(t, cfg)
	for _, stmt := range statements {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

// MustOpenStores opens the entity store and job queue on one database.
func MustOpenStores(t testing.TB, cfg *config.Config, clock *Clock) (*store.Store, *queue.Store) {
	t.Helper()

	db := MustOpenDB(t, cfg)
	var now func() time.Time
	if clock != nil {
		now = clock.Now
	}
	entities := store.New(db, store.WithClock(now))
	jobs := queue.New(db, queue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseSeconds) * time.Second,
		BackoffMax:  time.Duration(cfg.Queue.BackoffMaxSeconds) * time.Second,
		Lease:       time.Duration(cfg.Queue.LeaseSeconds) * time.Second,
		Now:         now,
	})
	return entities, jobs
}

// NewRedis starts an in-process Redis server and returns a connected client.
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, server
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
