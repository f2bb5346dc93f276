package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/draftline/internal/metrics"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeNormalizeReferrals = "normalize_referrals"
	JobTypeReconcileReferrals = "reconcile_referrals"
)

// ErrJobRunning is returned by RunOnce when the job is already running.
var ErrJobRunning = errors.New("job is already running")

// ErrUnknownJob is returned by RunOnce for an unregistered job type.
var ErrUnknownJob = errors.New("no handler registered for job type")

// Worker runs registered job handlers on fixed intervals.
//
// Each schedule has its own goroutine, and a schedule never overlaps with
// itself: a tick that arrives while the previous run is still going is
// skipped, as is a RunOnce call.
type Worker struct {
	schedules map[string]*schedule
	config    Config
	logger    *slog.Logger

	// Synchronization
	wg     sync.WaitGroup
	stopCh chan struct{}
}

type schedule struct {
	handler    JobHandler
	interval   time.Duration
	payload    []byte
	runOnStart bool
	running    atomic.Bool
}

// ScheduleOption is a functional option for customizing a schedule.
type ScheduleOption func(*schedule) error

// WithPayload marshals v as the payload passed to every run.
func WithPayload(v interface{}) ScheduleOption {
	return func(s *schedule) error {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		s.payload = payload
		return nil
	}
}

// WithRunOnStart runs the job once immediately when the worker starts.
func WithRunOnStart() ScheduleOption {
	return func(s *schedule) error {
		s.runOnStart = true
		return nil
	}
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		schedules: make(map[string]*schedule),
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Register adds a job handler that runs every interval.
// The handler's Type() must be unique. Call this before Start().
func (w *Worker) Register(handler JobHandler, interval time.Duration, opts ...ScheduleOption) error {
	jobType := handler.Type()
	if interval < w.config.MinInterval {
		return fmt.Errorf("interval for %s must be at least %v, got %v", jobType, w.config.MinInterval, interval)
	}

	s := &schedule{handler: handler, interval: interval}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return fmt.Errorf("schedule %s: %w", jobType, err)
		}
	}

	if _, exists := w.schedules[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	}
	w.schedules[jobType] = s
	w.logger.Debug("Registered job handler", "job_type", jobType, "interval", interval)
	return nil
}

// Start launches one goroutine per registered schedule.
func (w *Worker) Start(ctx context.Context) {
	for jobType, s := range w.schedules {
		w.wg.Add(1)
		go w.runSchedule(ctx, jobType, s)
	}

	w.logger.Info("Worker started", "schedules", len(w.schedules))
}

// Stop signals all schedules to stop and waits for running jobs to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopCh)

	// Wait for schedules with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some jobs may still be running")
	}
}

// RunOnce runs a registered job now, outside its schedule. It returns
// ErrJobRunning instead of overlapping a run already in progress.
func (w *Worker) RunOnce(ctx context.Context, jobType string) error {
	s, ok := w.schedules[jobType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobType)
	}
	return w.run(ctx, jobType, s, w.logger.With("job_type", jobType, "trigger", "manual"))
}

// runSchedule is the main loop for one schedule.
// It runs the job on every tick until stopCh is closed.
func (w *Worker) runSchedule(ctx context.Context, jobType string, s *schedule) {
	defer w.wg.Done()

	logger := w.logger.With("job_type", jobType)
	logger.Debug("Schedule started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		if stop := w.tick(ctx, jobType, s, logger); stop {
			return
		}
	}

	for {
		select {
		case <-w.stopCh:
			logger.Debug("Schedule stopping")
			return
		case <-ctx.Done():
			logger.Debug("Schedule context done")
			return
		case <-ticker.C:
			if stop := w.tick(ctx, jobType, s, logger); stop {
				return
			}
		}
	}
}

// tick runs one scheduled execution. It reports whether the schedule should
// stop because the job failed permanently.
func (w *Worker) tick(ctx context.Context, jobType string, s *schedule, logger *slog.Logger) bool {
	err := w.run(ctx, jobType, s, logger)
	switch {
	case err == nil, errors.Is(err, ErrJobRunning):
		return false
	case IsPermanent(err):
		logger.Error("Job failed with permanent error, stopping schedule", "error", err)
		return true
	default:
		// Transient: the next tick tries again.
		return false
	}
}

// run executes the job with a timeout context unless it is already running.
func (w *Worker) run(ctx context.Context, jobType string, s *schedule, logger *slog.Logger) error {
	if !s.running.CompareAndSwap(false, true) {
		metrics.JobSkipped(jobType)
		logger.Debug("Job still running, skipping")
		return ErrJobRunning
	}
	defer s.running.Store(false)

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	logger.Info("Processing job")
	start := time.Now()

	if err := s.handler.Handle(jobCtx, s.payload); err != nil {
		metrics.JobFailed(jobType)
		logger.Error("Job failed", "error", err, "duration", time.Since(start))
		return err
	}

	duration := time.Since(start)
	metrics.JobCompleted(jobType, duration)
	logger.Info("Job completed", "duration", duration)
	return nil
}
