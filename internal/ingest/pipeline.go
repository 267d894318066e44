// Package ingest runs one crawl end to end: fetch from every active source,
// normalize, filter and deduplicate, embed, and persist.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/embedding"
	"github.com/spigell/jobmatch/internal/filtering"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/normalize"
	"github.com/spigell/jobmatch/internal/sources"
	"github.com/spigell/jobmatch/internal/store"
)

// Embedder fills a posting's embedding. *embedding.Generator satisfies it.
type Embedder interface {
	EmbedPosting(ctx context.Context, j *jobs.JobPosting) (embedding.Origin, error)
}

// Report summarizes one pipeline run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Sources map[string]sources.SourceOutcome
	Steps   []filtering.Step

	Fetched     int
	Invalid     int
	Normalized  int
	Kept        int
	Duplicates  int
	Embedded    int
	EmbedFailed int
	Reused      int
	Saved       int
	Origins     map[embedding.Origin]int
}

// Failed lists sources that reported an error, sorted.
func (r Report) Failed() []string {
	return sources.Summary{Sources: r.Sources}.Failed()
}

type Pipeline struct {
	registry   *sources.Registry
	aggregator *sources.Aggregator
	store      store.Store
	normalizer *normalize.Normalizer
	filterCfg  *filtering.Config
	filters    []filtering.Filter
	embedder   Embedder
	clock      clock.Clock
	logger     *zap.Logger
}

type Option func(*Pipeline)

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) { p.normalizer = n }
}

// WithFilters replaces the default filter steps and their configuration.
// A nil steps slice keeps filtering.Default.
func WithFilters(cfg *filtering.Config, steps []filtering.Filter) Option {
	return func(p *Pipeline) {
		if cfg != nil {
			p.filterCfg = cfg
		}
		if steps != nil {
			p.filters = steps
		}
	}
}

func WithEmbedder(e Embedder) Option {
	return func(p *Pipeline) { p.embedder = e }
}

func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger.OrNop(l) }
}

func New(registry *sources.Registry, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:   registry,
		store:      st,
		normalizer: normalize.New(),
		filterCfg:  filtering.DefaultConfig(),
		filters:    filtering.Default(),
		clock:      clock.Real(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.aggregator = sources.NewAggregator(registry, sources.WithClock(p.clock), sources.WithLogger(p.logger))
	return p
}

// Restore loads persisted crawl bookkeeping into the registry.
func (p *Pipeline) Restore(ctx context.Context) error {
	saved, err := p.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	p.registry.Restore(saved)
	return nil
}

// Run performs one ingestion. Failing sources are reported, not returned;
// the error is reserved for cancellation, filter misconfiguration and
// storage failures.
func (p *Pipeline) Run(ctx context.Context, q sources.Query) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: p.clock.Now(),
		Origins:   map[embedding.Origin]int{},
	}
	log := logger.WithFields(p.logger, logger.Run(report.RunID))

	summary := p.aggregator.Run(ctx, q)
	report.Sources = summary.Sources
	report.Fetched = len(summary.Postings)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	postings := p.normalize(ctx, log, summary.Postings, &report)

	known, err := p.store.ListCanonical(ctx)
	if err != nil {
		return report, fmt.Errorf("list stored postings: %w", err)
	}
	incoming := make(map[string]bool, len(postings))
	for _, j := range postings {
		incoming[j.ID] = true
	}
	stored := make(map[string]jobs.JobPosting, len(known))
	others := make([]jobs.JobPosting, 0, len(known))
	for _, j := range known {
		stored[j.ID] = j
		// an expired canonical must not swallow a fresh copy of the job
		if !incoming[j.ID] && j.Status == jobs.StatusActive {
			others = append(others, j)
		}
	}

	kept, steps, err := filtering.Run(ctx, p.filterCfg, filtering.Deps{Logger: log, Known: others}, p.filters, postings)
	if err != nil {
		return report, fmt.Errorf("filter postings: %w", err)
	}
	report.Steps = steps
	report.Kept = len(kept)

	for i := range kept {
		j := &kept[i]
		if !j.IsCanonical() {
			report.Duplicates++
			continue
		}
		if err := p.embed(ctx, log, j, stored, &report); err != nil {
			return report, err
		}
	}

	if err := p.store.SavePostings(ctx, kept); err != nil {
		return report, fmt.Errorf("save postings: %w", err)
	}
	report.Saved = len(kept)

	p.saveSources(ctx, log, summary)

	report.FinishedAt = p.clock.Now()
	log.Info("ingestion finished",
		zap.Int("fetched", report.Fetched),
		zap.Int("invalid", report.Invalid),
		zap.Int("kept", report.Kept),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("embedded", report.Embedded),
		zap.Int("saved", report.Saved),
		zap.Strings("failed_sources", report.Failed()),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// normalize converts raw postings, dropping invalid ones and repeats of the
// same id within the run. The first occurrence wins.
func (p *Pipeline) normalize(ctx context.Context, log *zap.Logger, raws []jobs.RawPosting, report *Report) []jobs.JobPosting {
	out := make([]jobs.JobPosting, 0, len(raws))
	seen := make(map[string]bool, len(raws))
	for _, raw := range raws {
		j := p.normalizer.NormalizeEnriched(ctx, raw, raw.SourceID)
		if err := j.Validate(); err != nil {
			report.Invalid++
			log.Debug("dropping invalid posting", logger.Source(raw.SourceID), zap.String("url", raw.URL), zap.Error(err))
			continue
		}
		if seen[j.ID] {
			continue
		}
		seen[j.ID] = true
		out = append(out, j)
	}
	report.Normalized = len(out)
	return out
}

// embed reuses the stored vector when the posting text did not change.
func (p *Pipeline) embed(ctx context.Context, log *zap.Logger, j *jobs.JobPosting, stored map[string]jobs.JobPosting, report *Report) error {
	if prev, ok := stored[j.ID]; ok && prev.HasEmbedding() && embedding.JobText(prev) == embedding.JobText(*j) {
		j.Embedding = prev.Embedding
		report.Reused++
		return nil
	}
	if p.embedder == nil {
		return nil
	}

	origin, err := p.embedder.EmbedPosting(ctx, j)
	switch {
	case err == nil:
		report.Embedded++
		report.Origins[origin]++
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		report.EmbedFailed++
		log.Warn("failed to embed posting", logger.Job(j.ID), zap.Error(err))
		return nil
	}
}

func (p *Pipeline) saveSources(ctx context.Context, log *zap.Logger, summary sources.Summary) {
	ids := make([]string, 0, len(summary.Sources))
	for id := range summary.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg, ok := p.registry.Config(id)
		if !ok {
			continue
		}
		if err := p.store.UpsertSource(ctx, cfg); err != nil {
			log.Warn("failed to save source state", logger.Source(id), zap.Error(err))
		}
	}
}

// Expire marks stored postings older than maxAge as expired.
func (p *Pipeline) Expire(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	n, err := p.store.ExpirePostings(ctx, p.clock.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("expire postings: %w", err)
	}
	return n, nil
}
