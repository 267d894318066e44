// Package scheduler runs a task on a cron schedule driven by an injectable
// clock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/logger"
)

// DefaultSpec crawls four times a day.
const DefaultSpec = "@every 6h"

// Task is one scheduled unit of work.
type Task func(ctx context.Context) error

// Tick describes a finished run.
type Tick struct {
	Seq      int
	At       time.Time
	Duration time.Duration
	Err      error
}

type Scheduler struct {
	spec       string
	schedule   cron.Schedule
	task       Task
	clock      clock.Clock
	logger     *zap.Logger
	timeout    time.Duration
	runOnStart bool
	onTick     func(Tick)
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger.OrNop(l) }
}

// WithTimeout bounds every run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.timeout = d }
}

// RunOnStart runs the task once before waiting for the first tick.
func RunOnStart() Option {
	return func(s *Scheduler) { s.runOnStart = true }
}

// OnTick registers fn to observe every finished run.
func OnTick(fn func(Tick)) Option {
	return func(s *Scheduler) { s.onTick = fn }
}

// New parses spec as a standard five-field crontab line or a descriptor such
// as "@every 6h" or "@daily".
func New(spec string, task Task, opts ...Option) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if task == nil {
		return nil, errors.New("scheduler: task is required")
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cron.ParseStandard(%q): %w", spec, err)
	}

	s := &Scheduler{
		spec:     spec,
		schedule: schedule,
		task:     task,
		clock:    clock.Real(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) Spec() string { return s.spec }

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled and always returns its error. Runs never
// overlap; the next activation is computed after the previous run finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.String("spec", s.spec))
	seq := 0

	if s.runOnStart {
		seq++
		s.fire(ctx, seq)
	}

	for {
		now := s.clock.Now()
		next := s.schedule.Next(now)
		s.logger.Debug("next scheduled run", zap.Time("at", next))

		if err := clock.Sleep(ctx, s.clock, next.Sub(now)); err != nil {
			s.logger.Info("scheduler stopped", zap.Int("runs", seq))
			return err
		}
		seq++
		s.fire(ctx, seq)
	}
}

func (s *Scheduler) fire(ctx context.Context, seq int) {
	runCtx, cancel := context.WithCancel(ctx)
	if s.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	startedAt := s.clock.Now()
	err := s.task(runCtx)
	tick := Tick{Seq: seq, At: startedAt, Duration: s.clock.Now().Sub(startedAt), Err: err}

	if err != nil {
		s.logger.Warn("scheduled run failed", zap.Int("seq", seq), zap.Error(err))
	} else {
		s.logger.Info("scheduled run finished", zap.Int("seq", seq), zap.Duration("took", tick.Duration))
	}
	if s.onTick != nil {
		s.onTick(tick)
	}
}
