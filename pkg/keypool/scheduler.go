package keypool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultResetSchedule runs the daily reset at 07:00 UTC, when upstream
// quota windows roll over.
const DefaultResetSchedule = "0 7 * * *"

// Resetter is the operation the scheduler invokes.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ResetScheduler runs Reset on a cron schedule.
type ResetScheduler struct {
	resetter Resetter
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
	onReset  func(error)
}

// SchedulerOption configures a ResetScheduler.
type SchedulerOption func(*ResetScheduler)

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *ResetScheduler) {
		if logger != nil {
			s.logger = logger.With("component", "keypool.scheduler")
		}
	}
}

// WithResetHook registers fn to be called after every scheduled reset with
// its result.
func WithResetHook(fn func(error)) SchedulerOption {
	return func(s *ResetScheduler) {
		s.onReset = fn
	}
}

// NewResetScheduler creates a scheduler for resetter. schedule is a standard
// five-field cron expression evaluated in loc (UTC when nil).
func NewResetScheduler(resetter Resetter, schedule string, loc *time.Location, opts ...SchedulerOption) (*ResetScheduler, error) {
	if schedule == "" {
		schedule = DefaultResetSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	s := &ResetScheduler{
		resetter: resetter,
		schedule: schedule,
		cron:     cron.New(cron.WithLocation(loc)),
		logger:   slog.Default().With("component", "keypool.scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start registers the reset job and starts the cron runner. Cancelling ctx
// stops the scheduler. Calling Start on a running scheduler is a no-op.
func (s *ResetScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if len(s.cron.Entries()) == 0 {
		if _, err := s.cron.AddFunc(s.schedule, func() { s.runReset(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule reset: %w", err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("reset scheduler started",
		"schedule", s.schedule,
		"location", s.cron.Location().String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runReset executes one reset. The job context outlives ctx cancellation so
// a reset already under way can save its snapshot.
func (s *ResetScheduler) runReset(ctx context.Context) {
	s.logger.Info("starting scheduled key pool reset")

	err := s.resetter.Reset(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Error("scheduled reset failed", "error", err)
	} else {
		s.logger.Info("scheduled reset completed")
	}

	if s.onReset != nil {
		s.onReset(err)
	}
}

// Stop stops the scheduler and waits for a running reset to finish.
func (s *ResetScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("reset scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is running.
func (s *ResetScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled reset, or nil before Start.
func (s *ResetScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		return nil
	}

	next := entries[0].Next
	return &next
}

// Schedule returns the cron expression.
func (s *ResetScheduler) Schedule() string {
	return s.schedule
}
