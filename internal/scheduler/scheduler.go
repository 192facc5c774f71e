// Package scheduler decides when the renewal sweep runs. Only one sweep runs
// per process at a time; triggers that arrive mid-sweep are dropped, not queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/restobill/renewals/internal/engine"
	"github.com/restobill/renewals/internal/metrics"
)

type Sweeper interface {
	RunSweep(ctx context.Context) (*engine.SweepReport, error)
}

type Scheduler struct {
	sweeper Sweeper
	metrics *metrics.Metrics
	logger  *slog.Logger

	busy atomic.Bool

	mu   sync.RWMutex
	last *engine.SweepReport
}

func New(sweeper Sweeper, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	return &Scheduler{sweeper: sweeper, metrics: m, logger: logger}
}

// Fire runs one sweep unless one is already running, in which case it returns
// ran=false immediately.
func (s *Scheduler) Fire(ctx context.Context) (*engine.SweepReport, bool, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.SweepSkipped()
		s.logger.Warn("sweep already running, trigger skipped")
		return nil, false, nil
	}
	defer s.busy.Store(false)

	report, err := s.sweeper.RunSweep(ctx)
	if report != nil {
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}
	if err != nil {
		s.logger.Error("sweep finished with errors", "error", err)
	}
	return report, true, err
}

// Busy reports whether a sweep is in progress.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// LastReport returns the report of the most recent sweep, or nil.
func (s *Scheduler) LastReport() *engine.SweepReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
