package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep daily at 03:00 UTC.
const DefaultSchedule = "0 3 * * *"

// CronTrigger fires the scheduler on a cron schedule. Each run gets its own
// timeout and is cancelled when the trigger stops.
type CronTrigger struct {
	cron      *cron.Cron
	scheduler *Scheduler
	schedule  string
	timeout   time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	entry  cron.EntryID
}

// NewCronTrigger validates schedule, which may be a five-field expression or a
// descriptor such as "@every 24h".
func NewCronTrigger(s *Scheduler, schedule string, timeout time.Duration, logger *slog.Logger) (*CronTrigger, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", schedule, err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &CronTrigger{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		scheduler: s,
		schedule:  schedule,
		timeout:   timeout,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	id, err := t.cron.AddFunc(schedule, t.run)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("registering sweep job: %w", err)
	}
	t.entry = id
	return t, nil
}

func (t *CronTrigger) run() {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	t.logger.Info("scheduled sweep triggered", "schedule", t.schedule)
	if _, ran, err := t.scheduler.Fire(ctx); err != nil {
		t.logger.Error("scheduled sweep failed", "error", err)
	} else if !ran {
		t.logger.Info("scheduled sweep skipped, previous sweep still running")
	}
}

func (t *CronTrigger) Start() {
	t.cron.Start()
	t.logger.Info("sweep schedule started", "schedule", t.schedule, "next_run", t.Next())
}

// Stop cancels any running sweep's context and waits for it to return or ctx to expire.
func (t *CronTrigger) Stop(ctx context.Context) error {
	t.cancel()
	done := t.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time if not started.
func (t *CronTrigger) Next() time.Time {
	return t.cron.Entry(t.entry).Next
}
