package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vigilis/sentinel/pkg/logger"
)

// ErrCycleInProgress is returned when a cycle is already running here or on
// another instance.
var ErrCycleInProgress = errors.New("scan cycle already in progress")

// CycleRunner runs one scan cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// CycleLocker guards cycles across instances.
type CycleLocker interface {
	TryLock(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

// ScanSchedulerConfig holds configuration for the scan scheduler.
type ScanSchedulerConfig struct {
	// Cron is a 5-field crontab expression. When set it takes precedence over Interval.
	Cron string
	// Interval between cycles when Cron is empty (default: 1 hour)
	Interval time.Duration
	// RunOnStart triggers a cycle immediately on Start
	RunOnStart bool
	// CycleTimeout bounds probe dispatch in a single cycle (default: 5 minutes)
	CycleTimeout time.Duration
	// CheckInterval is how often the cron schedule is evaluated (default: 1 minute)
	CheckInterval time.Duration
}

// ScanScheduler periodically triggers scan cycles.
type ScanScheduler struct {
	runner   CycleRunner
	locker   CycleLocker
	logger   *logger.Logger
	schedule cron.Schedule

	cfg     ScanSchedulerConfig
	now     func() time.Time
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// ParseCron parses a 5-field crontab expression.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cannot parse cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// NewScanScheduler creates a new ScanScheduler. locker may be nil.
func NewScanScheduler(runner CycleRunner, locker CycleLocker, cfg ScanSchedulerConfig, log *logger.Logger) (*ScanScheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 5 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}

	var schedule cron.Schedule
	if cfg.Cron != "" {
		var err error
		if schedule, err = ParseCron(cfg.Cron); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ScanScheduler{
		runner:   runner,
		locker:   locker,
		logger:   log.With("component", "scan_scheduler"),
		schedule: schedule,
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start starts the scan scheduler.
func (s *ScanScheduler) Start() {
	s.wg.Add(1)
	go s.run()
	if s.schedule != nil {
		s.logger.Info("scan scheduler started", "cron", s.cfg.Cron, "check_interval", s.cfg.CheckInterval)
	} else {
		s.logger.Info("scan scheduler started", "interval", s.cfg.Interval)
	}
}

// Stop stops the scheduler and waits for a running cycle to finish.
func (s *ScanScheduler) Stop() {
	close(s.stopCh)
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scan scheduler stopped")
}

func (s *ScanScheduler) run() {
	defer s.wg.Done()

	tick := s.cfg.Interval
	if s.schedule != nil {
		tick = s.cfg.CheckInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	if s.cfg.RunOnStart {
		s.trigger()
	}

	var next time.Time
	if s.schedule != nil {
		next = s.schedule.Next(s.now())
	}

	for {
		select {
		case <-ticker.C:
			if s.schedule != nil {
				now := s.now()
				if now.Before(next) {
					continue
				}
				next = s.schedule.Next(now)
			}
			s.trigger()
		case <-s.stopCh:
			return
		}
	}
}

// trigger starts a cycle in the background unless one is already running.
func (s *ScanScheduler) trigger() {
	if s.running.Load() {
		CyclesSkipped.WithLabelValues("running").Inc()
		s.logger.Warn("previous scan cycle still running, skipping")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.RunOnce(s.ctx)
		if err != nil && !errors.Is(err, ErrCycleInProgress) {
			s.logger.Error("scheduled scan cycle failed", "error", err)
		}
	}()
}

// RunOnce runs one cycle now, holding the in-process flag and the shared
// lock when configured. It returns ErrCycleInProgress when either is held.
// CycleTimeout stops new probes from starting. Persisting the results is
// bounded separately by the cycle's PersistTimeout.
func (s *ScanScheduler) RunOnce(ctx context.Context) (*CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		CyclesSkipped.WithLabelValues("running").Inc()
		return nil, ErrCycleInProgress
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	return RunLocked(ctx, s.locker, s.runner, s.logger)
}

// RunLocked runs one cycle under locker. A nil locker runs unguarded.
func RunLocked(ctx context.Context, locker CycleLocker, runner CycleRunner, log *logger.Logger) (*CycleReport, error) {
	if locker != nil {
		release, acquired, err := locker.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire cycle lock: %w", err)
		}
		if !acquired {
			CyclesSkipped.WithLabelValues("locked").Inc()
			log.Info("scan cycle held by another instance, skipping")
			return nil, ErrCycleInProgress
		}
		defer func() {
			// The cycle context may already be done.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				log.Warn("failed to release cycle lock", "error", err)
			}
		}()
	}

	return runner.RunCycle(ctx)
}
