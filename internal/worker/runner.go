package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/queue"
	"quill/internal/services"
)

// HandlerFunc processes one claimed job. The returned value is stored as the
// job result; a returned error hands the job to the retry policy.
type HandlerFunc func(ctx context.Context, job *queue.Job) (any, error)

// Options tunes the runner loops.
type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	ReclaimInterval   time.Duration
	ErrorRetry        time.Duration
	// Concurrency maps queue name to pool size. Missing queues get one worker.
	Concurrency map[string]int
}

type registration struct {
	queue   string
	handler HandlerFunc
}

// Runner owns the worker pools.
type Runner struct {
	jobs   *queue.Store
	logger *slog.Logger
	opts   Options

	mu        sync.RWMutex
	handlers  map[string]registration
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastJob   *queue.Job
	processed int64
	failed    int64
}

// New constructs a runner.
func New(jobs *queue.Store, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = 30 * time.Second
	}
	if opts.ErrorRetry <= 0 {
		opts.ErrorRetry = 5 * time.Second
	}
	return &Runner{
		jobs:     jobs,
		logger:   logging.NewComponentLogger(logger, "worker"),
		opts:     opts,
		handlers: make(map[string]registration),
	}
}

// NewFromConfig builds a runner using the [queue] settings.
func NewFromConfig(jobs *queue.Store, logger *slog.Logger, cfg *config.Config) *Runner {
	concurrency := make(map[string]int, len(cfg.Queue.Concurrency))
	for name := range cfg.Queue.Concurrency {
		concurrency[name] = cfg.QueueConcurrency(name)
	}
	return New(jobs, logger, Options{
		PollInterval:      time.Duration(cfg.Queue.PollIntervalMillis) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Queue.HeartbeatInterval) * time.Second,
		ReclaimInterval:   time.Duration(cfg.Queue.LeaseSeconds) * time.Second / 2,
		Concurrency:       concurrency,
	})
}

// Register binds a job type to the queue it is consumed from.
func (r *Runner) Register(queueName, jobType string, handler HandlerFunc) {
	if handler == nil {
		panic(fmt.Sprintf("worker: nil handler for %s", jobType))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = registration{queue: queueName, handler: handler}
}

// Restrict drops every registration outside queues. It must be called
// before Start.
func (r *Runner) Restrict(queues ...string) {
	allowed := make(map[string]bool, len(queues))
	for _, name := range queues {
		allowed[name] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for jobType, reg := range r.handlers {
		if !allowed[reg.queue] {
			delete(r.handlers, jobType)
		}
	}
}

// Queues lists the queues that have at least one registered job type.
func (r *Runner) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, reg := range r.handlers {
		seen[reg.queue] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches one pool per registered queue, plus the reclaimer.
func (r *Runner) Start(ctx context.Context) error {
	queues := r.Queues()
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("worker already running")
	}
	if len(queues) == 0 {
		r.mu.Unlock()
		return errors.New("no job handlers registered")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runReclaimer(runCtx)

	for _, name := range queues {
		size := r.opts.Concurrency[name]
		if size <= 0 {
			size = 1
		}
		r.logger.Info("worker pool started",
			logging.Queue(name),
			logging.Int("concurrency", size),
			logging.Event("pool_started"),
		)
		r.wg.Add(size)
		for i := 0; i < size; i++ {
			go r.runLoop(runCtx, name)
		}
	}
	return nil
}

// Stop cancels the pools and waits for in-flight handlers to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Runner) runLoop(ctx context.Context, queueName string) {
	defer r.wg.Done()
	logger := r.logger.With(logging.Queue(queueName))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ran, err := r.RunOnce(ctx, queueName)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.setLastError(err)
			logger.Error("failed to fetch next job",
				logging.Error(err),
				logging.Event("queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			r.wait(ctx, r.opts.ErrorRetry)
			continue
		}
		if !ran {
			r.wait(ctx, r.opts.PollInterval)
		}
	}
}

func (r *Runner) wait(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// RunOnce claims at most one job from queueName and processes it
// synchronously. It reports whether a job was claimed. Handler failures are
// recorded on the job and are not returned; only queue errors are.
func (r *Runner) RunOnce(ctx context.Context, queueName string) (bool, error) {
	job, err := r.jobs.Claim(ctx, queueName)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	r.setLastJob(job)
	r.process(ctx, job)
	return true, nil
}

// Drain runs jobs from queueName until none are due.
func (r *Runner) Drain(ctx context.Context, queueName string) (int, error) {
	count := 0
	for {
		ran, err := r.RunOnce(ctx, queueName)
		if err != nil {
			return count, err
		}
		if !ran {
			return count, nil
		}
		count++
	}
}

func (r *Runner) process(ctx context.Context, job *queue.Job) {
	jobCtx := services.WithJobID(ctx, job.ID)
	jobCtx = services.WithQueue(jobCtx, job.Queue)
	jobCtx = services.WithRequestID(jobCtx, fmt.Sprintf("%s#%d", job.ID, job.Seq))
	logger := logging.WithContext(jobCtx, r.logger).With(
		logging.String("job_type", job.Type),
		logging.Int("attempt", job.Attempts),
	)

	r.mu.RLock()
	reg, ok := r.handlers[job.Type]
	r.mu.RUnlock()
	if !ok {
		err := services.Wrap(services.ErrValidation, "worker", "dispatch",
			fmt.Sprintf("no handler registered for job type %q", job.Type), nil)
		r.recordFailure(jobCtx, logger, job, err, time.Now())
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go r.heartbeatLoop(hbCtx, &hbWG, logger, job.Seq)

	handlerCtx := withProgress(jobCtx, r.progressReporter(logger, job.Seq))
	started := time.Now()
	logger.Info("job started", logging.Event("job_start"))

	result, err := r.invoke(handlerCtx, reg.handler, job)

	stopHeartbeat()
	hbWG.Wait()

	if err != nil {
		r.recordFailure(jobCtx, logger, job, err, started)
		return
	}

	if cerr := r.jobs.Complete(context.WithoutCancel(jobCtx), job.Seq, result); cerr != nil {
		if errors.Is(cerr, queue.ErrLeaseLost) {
			logging.WarnWithContext(logger, "job finished after its lease was reclaimed", "lease_lost",
				logging.String(logging.FieldImpact, "the job may run again on another worker"),
			)
			return
		}
		r.setLastError(cerr)
		logger.Error("failed to mark job completed", logging.Error(cerr),
			logging.Event("job_complete_failed"))
		return
	}
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
	logger.Info("job completed",
		logging.Seconds("elapsed_seconds", time.Since(started)),
		logging.Event("job_complete"),
	)
}

func (r *Runner) invoke(ctx context.Context, handler HandlerFunc, job *queue.Job) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = services.Wrap(services.ErrGeneration, "worker", "handle", fmt.Sprintf("handler panic: %v", rec), nil)
		}
	}()
	return handler(ctx, job)
}

func (r *Runner) recordFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, err error, started time.Time) {
	r.setLastError(err)
	retryable := services.Retryable(err)
	outcome, ferr := r.jobs.Fail(context.WithoutCancel(ctx), job, err, retryable)
	if ferr != nil {
		logger.Error("failed to record job failure", logging.Error(ferr),
			logging.Event("job_fail_record_failed"))
		return
	}
	details := services.Details(err)
	attrs := []logging.Attr{
		logging.Error(err),
		logging.String("error_kind", details.Kind),
		logging.String("outcome", string(outcome)),
		logging.Bool("retryable", retryable),
		logging.Seconds("elapsed_seconds", time.Since(started)),
		logging.Event("job_failed"),
	}
	if outcome == queue.OutcomeRetried {
		logger.Warn("job failed; will retry", logging.Args(attrs...)...)
		return
	}
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
	attrs = append(attrs, logging.Alert("job_failed"))
	logger.Error("job failed", logging.Args(attrs...)...)
}

func (r *Runner) setLastError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

func (r *Runner) setLastJob(job *queue.Job) {
	r.mu.Lock()
	if job != nil {
		copy := *job
		r.lastJob = &copy
	} else {
		r.lastJob = nil
	}
	r.mu.Unlock()
}
