package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"quill/internal/blob"
	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/store"
)

// ErrLocked is returned when another pass holds the reaper lock.
var ErrLocked = errors.New("reaper lock held by another process")

// Report summarises one reaper pass.
type Report struct {
	Batches      int           `json:"batches"`
	Scanned      int           `json:"scanned"`
	Removed      int           `json:"removed"`
	Skipped      int           `json:"skipped"`
	Failures     int           `json:"failures"`
	BlobFailures int           `json:"blob_failures"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Options tunes a Reaper.
type Options struct {
	BatchSize   int
	Concurrency int
	// LockPath guards passes across processes on one host. Empty disables
	// locking.
	LockPath string
	Notifier notifications.Service
}

// Reaper purges abandoned provisional resources.
type Reaper struct {
	store       *store.Store
	blobs       blob.Store
	logger      *slog.Logger
	notifier    notifications.Service
	batchSize   int
	concurrency int
	lockPath    string
}

// New constructs a Reaper.
func New(entities *store.Store, blobs blob.Store, logger *slog.Logger, opts Options) *Reaper {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.NewService(nil)
	}
	return &Reaper{
		store:       entities,
		blobs:       blobs,
		logger:      logging.NewComponentLogger(logger, "reaper"),
		notifier:    opts.Notifier,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		lockPath:    opts.LockPath,
	}
}

// NewFromConfig builds a Reaper from the reaper config section.
func NewFromConfig(cfg *config.Config, entities *store.Store, blobs blob.Store, logger *slog.Logger) *Reaper {
	return New(entities, blobs, logger, Options{
		BatchSize:   cfg.Reaper.BatchSize,
		Concurrency: cfg.Reaper.Concurrency,
		LockPath:    cfg.LockPath("reaper"),
		Notifier:    notifications.NewService(cfg),
	})
}

// Run removes every pending resource whose expiry has passed. progress, when
// non-nil, receives the fraction of the initial backlog handled so far.
func (r *Reaper) Run(ctx context.Context, progress func(float64)) (Report, error) {
	unlock, err := r.lock()
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	started := time.Now()
	var report Report
	total, err := r.store.CountExpiredPending(ctx)
	if err != nil {
		return report, err
	}
	r.logger.Info("reaper pass started",
		logging.Int("expired", total),
		logging.Int("batch_size", r.batchSize),
		logging.Event("reaper_started"),
	)

	// Rows that fail to delete stay listed; page past them by cursor.
	var cursor store.ExpiryCursor
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := r.store.ListExpiredPending(ctx, cursor, r.batchSize)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}
		cursor = store.CursorAt(batch[len(batch)-1])
		report.Batches++
		before := report.Removed
		r.settle(ctx, batch, &report)
		r.logger.Debug("reaper batch settled",
			logging.Int("batch", report.Batches),
			logging.Int("size", len(batch)),
			logging.Int("removed", report.Removed-before),
		)
		if progress != nil && total > 0 {
			progress(min(1, float64(report.Scanned)/float64(total)))
		}
		if len(batch) < r.batchSize {
			break
		}
	}

	report.Elapsed = time.Since(started)
	r.finish(ctx, "reaper pass finished", report)
	return report, nil
}

// SweepExpired purges rows already in status expired whose expiry is older
// than retention.
func (r *Reaper) SweepExpired(ctx context.Context, retention time.Duration) (Report, error) {
	unlock, err := r.lock()
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	started := time.Now()
	var report Report
	cutoff := r.store.Now().Add(-retention)
	var cursor store.ExpiryCursor
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := r.store.ListExpiredBefore(ctx, cutoff, cursor, r.batchSize)
		if err != nil {
			return report, err
		}
		if len(batch) == 0 {
			break
		}
		cursor = store.CursorAt(batch[len(batch)-1])
		report.Batches++
		r.settle(ctx, batch, &report)
		if len(batch) < r.batchSize {
			break
		}
	}
	report.Elapsed = time.Since(started)
	r.finish(ctx, "expired resources swept", report)
	return report, nil
}

// settle processes every item of a batch with bounded concurrency. Item
// failures are counted, never returned, so one bad item cannot stop the
// others.
func (r *Reaper) settle(ctx context.Context, batch []*store.ProvisionalResource, report *Report) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for _, res := range batch {
		g.Go(func() error {
			outcome := r.reapOne(ctx, res)
			mu.Lock()
			defer mu.Unlock()
			report.Scanned++
			switch outcome {
			case outcomeRemoved:
				report.Removed++
			case outcomeRemovedBlobFailed:
				report.Removed++
				report.BlobFailures++
			case outcomeSkipped:
				report.Skipped++
			case outcomeFailed:
				report.Failures++
			}
			return nil
		})
	}
	_ = g.Wait()
}

type outcome int

const (
	outcomeRemoved outcome = iota
	outcomeRemovedBlobFailed
	outcomeSkipped
	outcomeFailed
)

func (r *Reaper) reapOne(ctx context.Context, res *store.ProvisionalResource) outcome {
	logger := r.logger.With(
		logging.String("resource_id", res.ID),
		logging.String("storage_key", res.StorageKey),
	)
	blobFailed := false
	if res.StorageKey != "" {
		if err := r.blobs.Delete(ctx, res.StorageKey); err != nil {
			blobFailed = true
			logging.WarnWithContext(logger, "blob delete failed; removing row anyway", "storage_inconsistency",
				logging.Error(err),
				logging.String(logging.FieldImpact, "an orphaned blob may remain in storage"),
			)
		}
	}
	deleted, err := r.store.DeleteProvisional(ctx, res.ID)
	if err != nil {
		logger.Error("provisional row delete failed",
			logging.Error(err),
			logging.Event("reaper_item_failed"),
		)
		return outcomeFailed
	}
	if !deleted {
		// Committed or refreshed since the batch was listed.
		logger.Debug("resource no longer reapable")
		return outcomeSkipped
	}
	if blobFailed {
		return outcomeRemovedBlobFailed
	}
	return outcomeRemoved
}

func (r *Reaper) finish(ctx context.Context, msg string, report Report) {
	attrs := []logging.Attr{
		logging.Int("batches", report.Batches),
		logging.Int("removed", report.Removed),
		logging.Int("skipped", report.Skipped),
		logging.Int("failures", report.Failures),
		logging.Int("blob_failures", report.BlobFailures),
		logging.Seconds("elapsed_seconds", report.Elapsed),
	}
	if report.Failures == 0 {
		r.logger.Info(msg, logging.Args(append(attrs, logging.Event("reaper_complete"))...)...)
		return
	}
	logging.WarnWithContext(r.logger, msg+" with failures", "reaper_partial_failure",
		append(attrs, logging.String(logging.FieldImpact, "failed resources are retried on the next pass"))...)
	if err := r.notifier.Publish(ctx, notifications.EventReaperFailures, notifications.Payload{
		"removed":  report.Removed,
		"failures": report.Failures,
	}); err != nil {
		r.logger.Warn("reaper notification failed", logging.Error(err))
	}
}

func (r *Reaper) lock() (func(), error) {
	if r.lockPath == "" {
		return func() {}, nil
	}
	lock := flock.New(r.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire reaper lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() { _ = lock.Unlock() }, nil
}
