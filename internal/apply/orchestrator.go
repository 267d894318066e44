package apply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

type State string

const (
	StatePending        State = "pending"
	StateApplying       State = "applying"
	StateSuccess        State = "success"
	StateFailed         State = "failed"
	StateRequiresManual State = "requires_manual"
)

const (
	ReasonLimitReached   = "limit reached"
	ReasonMissingProfile = "missing applicant profile"
	ReasonAlreadyApplied = "already applied"
)

// IneligibleError names the gate an apply attempt did not pass.
type IneligibleError struct {
	Reason string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("%s: %s", jobs.ErrApplyIneligible, e.Reason)
}

func (e *IneligibleError) Unwrap() error { return jobs.ErrApplyIneligible }

// Tracker persists per-match application state. store.Store satisfies it.
type Tracker interface {
	GetMatch(ctx context.Context, userID, jobID string) (jobs.MatchResult, error)
	SetApplicationStatus(ctx context.Context, userID, jobID string, status jobs.ApplicationStatus, detail string) error
}

// Outcome is the result of one apply attempt.
type Outcome struct {
	JobID       string
	Method      Method
	State       State
	Status      jobs.ApplicationStatus
	Detail      string
	URL         string
	Submitted   bool
	AttemptedAt time.Time
}

type Config struct {
	LimitPerDay int
	BatchDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{LimitPerDay: 10, BatchDelay: 5 * time.Second}
}

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger.OrNop(log) }
}

type Orchestrator struct {
	cfg       Config
	quota     QuotaStore
	profiles  ProfileSource
	submitter Submitter
	tracker   Tracker
	clock     clock.Clock
	logger    *zap.Logger

	mu    sync.Mutex
	users map[string]chan struct{}
}

func NewOrchestrator(cfg Config, quota QuotaStore, profiles ProfileSource, submitter Submitter, tracker Tracker, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.LimitPerDay <= 0 {
		cfg.LimitPerDay = def.LimitPerDay
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if quota == nil {
		quota = NewMemoryQuota()
	}
	o := &Orchestrator{
		cfg:       cfg,
		quota:     quota,
		profiles:  profiles,
		submitter: submitter,
		tracker:   tracker,
		clock:     clock.Real(),
		logger:    zap.NewNop(),
		users:     map[string]chan struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Quota returns the user's counter for the current day.
func (o *Orchestrator) Quota(ctx context.Context, userID string) (jobs.ApplyQuota, error) {
	day := jobs.Day(o.clock.Now())
	n, err := o.quota.Count(ctx, userID, day)
	if err != nil {
		return jobs.ApplyQuota{}, err
	}
	return jobs.ApplyQuota{UserID: userID, Count: n, LimitPerDay: o.cfg.LimitPerDay, ResetDate: day}, nil
}

// CheckEligibility runs the apply gates in order without changing any state.
// A failed gate is reported as *IneligibleError.
func (o *Orchestrator) CheckEligibility(ctx context.Context, userID string, job jobs.JobPosting) error {
	_, err := o.eligible(ctx, userID, job)
	return err
}

func (o *Orchestrator) eligible(ctx context.Context, userID string, job jobs.JobPosting) (Profile, error) {
	q, err := o.Quota(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if q.Exhausted() {
		return Profile{}, &IneligibleError{Reason: ReasonLimitReached}
	}

	var profile Profile
	if o.profiles != nil {
		profile, err = o.profiles.Profile(ctx, userID)
		if err != nil && !errors.Is(err, jobs.ErrNotFound) {
			return Profile{}, err
		}
	}
	if !profile.IsComplete() {
		return Profile{}, &IneligibleError{Reason: ReasonMissingProfile}
	}

	if o.tracker != nil {
		m, err := o.tracker.GetMatch(ctx, userID, job.ID)
		switch {
		case errors.Is(err, jobs.ErrNotFound):
		case err != nil:
			return Profile{}, err
		case m.ApplicationStatus == jobs.AppApplied:
			return Profile{}, &IneligibleError{Reason: ReasonAlreadyApplied}
		}
	}
	return profile, nil
}

// Apply makes one attempt for job. Ineligible attempts return the gate error
// and leave state untouched. Submission failures are recorded on the match and
// returned wrapping jobs.ErrApplyFailed.
func (o *Orchestrator) Apply(ctx context.Context, userID string, job jobs.JobPosting) (Outcome, error) {
	unlock, err := o.lock(ctx, userID)
	if err != nil {
		return Outcome{JobID: job.ID, State: StatePending}, err
	}
	defer unlock()
	return o.apply(ctx, userID, job)
}

func (o *Orchestrator) apply(ctx context.Context, userID string, job jobs.JobPosting) (Outcome, error) {
	log := logger.WithFields(o.logger, logger.User(userID), logger.Job(job.ID))
	out := Outcome{
		JobID:       job.ID,
		Method:      SelectMethod(job.ExternalURL),
		State:       StatePending,
		URL:         job.ExternalURL,
		AttemptedAt: o.clock.Now(),
	}

	profile, err := o.eligible(ctx, userID, job)
	if err != nil {
		out.Detail = err.Error()
		var inel *IneligibleError
		if errors.As(err, &inel) {
			out.Detail = inel.Reason
		}
		log.Info("apply skipped", zap.String("reason", out.Detail))
		return out, err
	}

	if out.Method == MethodManual || o.submitter == nil {
		out.Method = MethodManual
		o.finish(ctx, log, userID, &out, StateRequiresManual, job.ExternalURL)
		log.Info("apply requires manual action", zap.String("url", job.ExternalURL))
		return out, nil
	}

	out.State = StateApplying
	o.record(ctx, log, userID, job.ID, jobs.AppApplying, "")

	log.Debug("submitting application", zap.String("method", string(out.Method)))
	out.Submitted = true
	err = o.submitter.Submit(ctx, Submission{UserID: userID, Method: out.Method, Job: job, Profile: profile})

	// Whatever happened remotely is recorded even if the caller gave up.
	persist := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if _, qerr := o.quota.Increment(persist, userID, jobs.Day(o.clock.Now())); qerr != nil {
			log.Warn("failed to increment apply quota", zap.Error(qerr))
		}
		o.finish(persist, log, userID, &out, StateSuccess, "")
		log.Info("applied", zap.String("method", string(out.Method)))
		return out, nil
	case errors.Is(err, ErrRequiresManual):
		o.finish(persist, log, userID, &out, StateRequiresManual, job.ExternalURL)
		log.Info("apply requires manual action", zap.String("url", job.ExternalURL), zap.Error(err))
		return out, nil
	default:
		o.finish(persist, log, userID, &out, StateFailed, err.Error())
		log.Warn("apply failed", zap.Error(err))
		if !errors.Is(err, jobs.ErrApplyFailed) {
			err = fmt.Errorf("%w: %w", jobs.ErrApplyFailed, err)
		}
		return out, err
	}
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, userID string, out *Outcome, state State, detail string) {
	out.State = state
	out.Detail = detail
	switch state {
	case StateSuccess:
		out.Status = jobs.AppApplied
	case StateFailed:
		out.Status = jobs.AppFailed
	case StateRequiresManual:
		out.Status = jobs.AppRequiresManual
	}
	o.record(ctx, log, userID, out.JobID, out.Status, detail)
}

func (o *Orchestrator) record(ctx context.Context, log *zap.Logger, userID, jobID string, status jobs.ApplicationStatus, detail string) {
	if o.tracker == nil {
		return
	}
	err := o.tracker.SetApplicationStatus(ctx, userID, jobID, status, detail)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrNotFound):
		log.Debug("no stored match to track", zap.String("status", string(status)))
	default:
		log.Warn("failed to record application status", zap.String("status", string(status)), zap.Error(err))
	}
}

// lock serializes applies per user. Waiting honours ctx.
func (o *Orchestrator) lock(ctx context.Context, userID string) (func(), error) {
	o.mu.Lock()
	sem, ok := o.users[userID]
	if !ok {
		sem = make(chan struct{}, 1)
		o.users[userID] = sem
	}
	o.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BatchReport summarizes a BatchApply call.
type BatchReport struct {
	Outcomes       []Outcome
	Applied        int
	Failed         int
	RequiresManual int
	Skipped        int
	Canceled       bool
}

// BatchApply applies to postings in order, waiting BatchDelay between
// submissions. A failing job never stops the batch; cancellation does, and
// leaves everything already committed in place.
func (o *Orchestrator) BatchApply(ctx context.Context, userID string, postings []jobs.JobPosting) BatchReport {
	var report BatchReport
	log := logger.WithFields(o.logger, logger.User(userID))

	unlock, err := o.lock(ctx, userID)
	if err != nil {
		report.Canceled = true
		return report
	}
	defer unlock()

	submitted := false
	for _, job := range postings {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}
		if submitted && SelectMethod(job.ExternalURL) != MethodManual {
			if err := clock.Sleep(ctx, o.clock, o.cfg.BatchDelay); err != nil {
				report.Canceled = true
				break
			}
		}

		out, err := o.apply(ctx, userID, job)
		if out.Submitted {
			submitted = true
		}
		report.Outcomes = append(report.Outcomes, out)
		switch out.State {
		case StateSuccess:
			report.Applied++
		case StateFailed:
			report.Failed++
		case StateRequiresManual:
			report.RequiresManual++
		default:
			report.Skipped++
		}
		if err != nil && ctx.Err() != nil {
			report.Canceled = true
			break
		}
	}

	log.Info("batch apply finished",
		zap.Int("requested", len(postings)),
		zap.Int("applied", report.Applied),
		zap.Int("failed", report.Failed),
		zap.Int("requires_manual", report.RequiresManual),
		zap.Int("skipped", report.Skipped),
		zap.Bool("canceled", report.Canceled),
	)
	return report
}
