// Package scheduler rescans the configured packages on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/CosmoTheDev/deltascan/internal/config"
	"github.com/CosmoTheDev/deltascan/models"
)

// ScanFunc scans a batch of packages.
type ScanFunc func(ctx context.Context, targets []models.PackageTarget) []*models.ScanResult

// Sweep summarises one scheduled rescan.
type Sweep struct {
	StartedAt time.Time
	Duration  time.Duration
	Packages  int
	Failed    int
}

// Scheduler registers the watch schedule with robfig/cron. When it fires,
// every configured target is rescanned. A sweep is skipped while the
// previous one is still running.
type Scheduler struct {
	cron    *cron.Cron
	expr    string
	targets []models.PackageTarget
	scan    ScanFunc
	now     func() time.Time

	mu      sync.Mutex
	running bool
	last    *Sweep
	entry   cron.EntryID
}

// New validates the schedule of cfg and returns a stopped Scheduler.
func New(cfg config.WatchConfig, scan ScanFunc) (*Scheduler, error) {
	if err := Validate(cfg.Schedule); err != nil {
		return nil, config.Errorf("watch.schedule", "invalid cron expression %q: %v", cfg.Schedule, err)
	}
	if len(cfg.Targets) == 0 {
		return nil, config.Errorf("watch.targets", "at least one target is required")
	}
	return &Scheduler{
		cron:    cron.New(),
		expr:    cfg.Schedule,
		targets: append([]models.PackageTarget(nil), cfg.Targets...),
		scan:    scan,
		now:     time.Now,
	}, nil
}

// Validate checks that expr is parseable by robfig/cron without adding it
// to any runner.
func Validate(expr string) error {
	tmp := cron.New()
	id, err := tmp.AddFunc(expr, func() {})
	if err != nil {
		return err
	}
	tmp.Remove(id)
	return nil
}

// Start registers the schedule and starts the cron runner. Sweeps run with
// ctx, so cancelling it aborts a running sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.expr, func() {
		if _, ran := s.TriggerNow(ctx); !ran {
			slog.Warn("Previous sweep still running, skipping", "schedule", s.expr)
		}
	})
	if err != nil {
		return fmt.Errorf("registering schedule %q: %w", s.expr, err)
	}
	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()

	s.cron.Start()
	slog.Info("Watch scheduler started", "schedule", s.expr, "targets", len(s.targets), "next_run", s.Next())
	return nil
}

// Stop halts the cron runner. The returned context is done once running
// sweeps completed.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Next returns the next activation time, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Last returns the last completed sweep, or nil.
func (s *Scheduler) Last() *Sweep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// TriggerNow runs a sweep immediately. It reports false without scanning
// when a sweep is already running.
func (s *Scheduler) TriggerNow(ctx context.Context) (Sweep, bool) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Sweep{}, false
	}
	s.running = true
	s.mu.Unlock()

	sweep := Sweep{StartedAt: s.now(), Packages: len(s.targets)}
	slog.Info("Sweep started", "targets", len(s.targets))
	for _, res := range s.scan(ctx, s.targets) {
		if res == nil || res.Summary.HasErrors() {
			sweep.Failed++
		}
	}
	sweep.Duration = s.now().Sub(sweep.StartedAt)
	slog.Info("Sweep finished", "packages", sweep.Packages, "failed", sweep.Failed,
		"duration", sweep.Duration.Round(time.Second))

	s.mu.Lock()
	s.running = false
	s.last = &sweep
	s.mu.Unlock()
	return sweep, true
}
