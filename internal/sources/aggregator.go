package sources

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// SourceOutcome is what one source contributed to a run.
type SourceOutcome struct {
	Kind     jobs.SourceKind
	Fetched  int
	Pages    int
	Duration time.Duration
	// Err is set when the source failed. Postings from pages fetched before
	// the failure are still part of the run.
	Err error
}

// Summary is the result of one aggregation run.
type Summary struct {
	Postings   []jobs.RawPosting
	Sources    map[string]SourceOutcome
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed lists the ids of sources that reported an error, sorted.
func (s Summary) Failed() []string {
	var ids []string
	for id, o := range s.Sources {
		if o.Err != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type Aggregator struct {
	registry *Registry
	clock    clock.Clock
	logger   *zap.Logger
}

type AggregatorOption func(*Aggregator)

func WithClock(c clock.Clock) AggregatorOption {
	return func(a *Aggregator) { a.clock = c }
}

func WithLogger(l *zap.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger.OrNop(l) }
}

func NewAggregator(registry *Registry, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{registry: registry, clock: clock.Real(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run queries every active source concurrently. A failing or slow source
// never affects the others; its error is recorded in the summary. Postings
// are returned in registration order of their sources.
func (a *Aggregator) Run(ctx context.Context, q Query) Summary {
	active := a.registry.Active()
	summary := Summary{
		Sources:   make(map[string]SourceOutcome, len(active)),
		StartedAt: a.clock.Now().UTC(),
	}

	collected := make([][]jobs.RawPosting, len(active))
	outcomes := make([]SourceOutcome, len(active))

	// No shared cancellation: one source failing must not stop the rest.
	var g errgroup.Group
	for i, src := range active {
		g.Go(func() error {
			collected[i], outcomes[i] = a.runSource(ctx, src, q)
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range active {
		id := src.Config.ID
		summary.Sources[id] = outcomes[i]
		summary.Postings = append(summary.Postings, collected[i]...)
		if outcomes[i].Err == nil || outcomes[i].Fetched > 0 {
			a.registry.Record(id, summary.StartedAt, outcomes[i].Fetched)
		}
	}
	summary.FinishedAt = a.clock.Now().UTC()

	a.logger.Info("aggregation finished",
		zap.Int("sources", len(active)),
		zap.Int("postings", len(summary.Postings)),
		zap.Strings("failed", summary.Failed()),
	)
	return summary
}

func (a *Aggregator) runSource(ctx context.Context, src Registered, q Query) ([]jobs.RawPosting, SourceOutcome) {
	log := a.logger.With(logger.Source(src.Config.ID))
	opts := src.Options
	outcome := SourceOutcome{Kind: src.Config.Kind}
	start := a.clock.Now()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var postings []jobs.RawPosting
	for page := 0; page < opts.MaxPages; page++ {
		batch, err := src.Adapter.Fetch(ctx, q, Pagination{Page: page, PerPage: opts.PerPage})
		if err != nil {
			outcome.Err = err
			log.Warn("source failed", zap.Int("page", page), zap.Error(err))
			break
		}
		outcome.Pages++
		postings = append(postings, batch...)
		if len(batch) < opts.PerPage {
			break
		}
	}

	outcome.Fetched = len(postings)
	outcome.Duration = a.clock.Now().Sub(start)
	log.Debug("source fetched",
		zap.Int("postings", outcome.Fetched),
		zap.Int("pages", outcome.Pages),
		zap.Duration("duration", outcome.Duration),
	)
	return postings, outcome
}
