package ranking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/embedding"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/normalize"
)

// Corpus provides the postings a run matches against.
type Corpus interface {
	ListCanonical(ctx context.Context) ([]jobs.JobPosting, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) (embedding.Result, error)
}

type Config struct {
	SimilarityThreshold float64 `mapstructure:"similarity-threshold" validate:"gte=0,lte=1"`
	Metric              string  `mapstructure:"metric" validate:"omitempty,oneof=cosine euclidean manhattan cluster_cosine hybrid"`
	Limit               int     `mapstructure:"limit" validate:"gte=1"`
	ClusterMinResults   int     `mapstructure:"cluster-min-results" validate:"gte=0"`
	Seed                uint64  `mapstructure:"seed"`
}

func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.7,
		Metric:              string(MetricClusterCosine),
		Limit:               20,
		ClusterMinResults:   10,
		Seed:                1,
	}
}

// Request is one candidate's matching request. Either QueryText or
// QueryVector must be set.
type Request struct {
	UserID      string
	QueryText   string
	QueryVector []float32
	Preferences Preferences
	// History holds the candidate's past search queries.
	History []string
	Limit   int
}

// OriginSupplied marks a query vector handed in by the caller.
const OriginSupplied embedding.Origin = "supplied"

type RunState string

const (
	StateIdle      RunState = "idle"
	StateEmbedding RunState = "embedding"
	StateScoring   RunState = "scoring"
	StateRanking   RunState = "ranking"
	StateDone      RunState = "done"
	StateFailed    RunState = "failed"
)

var nextState = map[RunState]RunState{
	StateIdle:      StateEmbedding,
	StateEmbedding: StateScoring,
	StateScoring:   StateRanking,
	StateRanking:   StateDone,
}

type Stats struct {
	Corpus   int `json:"corpus"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
	Admitted int `json:"admitted"`
	Clusters int `json:"clusters"`
}

// Run is the record of a single matching run.
type Run struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	State       RunState           `json:"state"`
	History     []RunState         `json:"history"`
	QueryOrigin embedding.Origin   `json:"queryOrigin,omitempty"`
	Results     []jobs.MatchResult `json:"results"`
	Stats       Stats              `json:"stats"`
	Err         error              `json:"-"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
}

func (r *Run) advance(to RunState) error {
	if to != StateFailed && nextState[r.State] != to {
		return fmt.Errorf("run %s: invalid transition %s -> %s", r.ID, r.State, to)
	}
	if r.State == StateDone || r.State == StateFailed {
		return fmt.Errorf("run %s: already finished", r.ID)
	}
	r.State = to
	r.History = append(r.History, to)
	return nil
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger.OrNop(l) }
}

// Engine runs matching over a corpus snapshot. It is safe for concurrent use;
// runs share nothing but the query cache.
type Engine struct {
	corpus   Corpus
	embedder Embedder
	cfg      Config
	metric   Metric
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	queries map[string]embedding.Result
}

func NewEngine(corpus Corpus, embedder Embedder, cfg Config, opts ...Option) (*Engine, error) {
	if corpus == nil || embedder == nil {
		return nil, errors.New("ranking engine requires a corpus and an embedder")
	}
	metric, err := ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}

	e := &Engine{
		corpus:   corpus,
		embedder: embedder,
		cfg:      cfg,
		metric:   metric,
		clock:    clock.Real(),
		logger:   zap.NewNop(),
		queries:  make(map[string]embedding.Result),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type candidate struct {
	job     jobs.JobPosting
	score   float64
	rank    float64
	reasons []string
	cluster int
}

// Match ranks the corpus for req. The returned run is never nil; it ends in
// StateDone or StateFailed. Only a missing query or an empty corpus fail a
// run, besides cancellation.
func (e *Engine) Match(ctx context.Context, req Request) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		State:     StateIdle,
		History:   []RunState{StateIdle},
		StartedAt: e.clock.Now(),
	}
	log := e.logger.With(logger.Run(run.ID), logger.User(req.UserID))

	fail := func(err error) (*Run, error) {
		_ = run.advance(StateFailed)
		run.Err = err
		run.FinishedAt = e.clock.Now()
		log.Warn("matching run failed", zap.Error(err))
		return run, err
	}

	if strings.TrimSpace(req.QueryText) == "" && len(req.QueryVector) == 0 {
		return fail(jobs.ErrNoQuery)
	}

	corpus, err := e.corpus.ListCanonical(ctx)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", jobs.ErrNoCorpus, err))
	}
	corpus = slices.DeleteFunc(corpus, func(j jobs.JobPosting) bool {
		return !j.IsCanonical() || j.Status != jobs.StatusActive
	})
	run.Stats.Corpus = len(corpus)
	if len(corpus) == 0 {
		return fail(jobs.ErrNoCorpus)
	}

	if err := run.advance(StateEmbedding); err != nil {
		return fail(err)
	}
	query, err := e.queryVector(ctx, req, run)
	if err != nil {
		return fail(err)
	}
	corpus, err = e.embedCorpus(ctx, corpus, run, log)
	if err != nil {
		return fail(err)
	}

	if err := run.advance(StateScoring); err != nil {
		return fail(err)
	}
	candidates := e.score(query, corpus, req.Preferences)
	run.Stats.Admitted = len(candidates)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if err := run.advance(StateRanking); err != nil {
		return fail(err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.Limit
	}
	picked := e.rank(candidates, req.History, limit, run)
	run.Results = e.results(req, picked)

	if err := run.advance(StateDone); err != nil {
		return fail(err)
	}
	run.FinishedAt = e.clock.Now()
	log.Info("matching run finished",
		zap.Int("corpus", run.Stats.Corpus),
		zap.Int("admitted", run.Stats.Admitted),
		zap.Int("results", len(run.Results)),
		zap.String("query_origin", string(run.QueryOrigin)),
	)
	return run, nil
}

func (e *Engine) queryVector(ctx context.Context, req Request, run *Run) ([]float32, error) {
	if len(req.QueryVector) > 0 {
		if v, ok := embedding.Normalize(req.QueryVector); ok {
			run.QueryOrigin = OriginSupplied
			return v, nil
		}
		if strings.TrimSpace(req.QueryText) == "" {
			return nil, fmt.Errorf("%w: supplied query vector is degenerate", jobs.ErrNoQuery)
		}
	}

	key := embedding.CacheKey(strings.TrimSpace(req.QueryText), embedding.Dim)
	e.mu.Lock()
	cached, ok := e.queries[key]
	e.mu.Unlock()
	if ok {
		run.QueryOrigin = embedding.OriginCache
		return cached.Vector, nil
	}

	res, err := e.embedder.Embed(ctx, req.QueryText)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", jobs.ErrNoQuery, err)
	}
	// Local vectors are cheap to recompute and would pin a degraded result.
	if res.Origin != embedding.OriginLocal {
		e.mu.Lock()
		e.queries[key] = res
		e.mu.Unlock()
	}
	run.QueryOrigin = res.Origin
	return res.Vector, nil
}

func (e *Engine) embedCorpus(ctx context.Context, corpus []jobs.JobPosting, run *Run, log *zap.Logger) ([]jobs.JobPosting, error) {
	out := corpus[:0]
	for _, j := range corpus {
		if !j.HasEmbedding() {
			res, err := e.embedder.Embed(ctx, embedding.JobText(j))
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				log.Debug("skipping posting without embedding", logger.Job(j.ID), zap.Error(err))
				run.Stats.Skipped++
				continue
			}
			j.Embedding = res.Vector
			run.Stats.Embedded++
		}
		out = append(out, j)
	}
	return out, nil
}

func (e *Engine) score(query []float32, corpus []jobs.JobPosting, prefs Preferences) []*candidate {
	var out []*candidate
	for _, j := range corpus {
		base := e.metric.Similarity(query, j.Embedding)
		score, reasons := Personalize(base, j, prefs)
		if score < e.cfg.SimilarityThreshold {
			continue
		}
		out = append(out, &candidate{
			job:     j,
			score:   score,
			reasons: append([]string{fmt.Sprintf("semantic similarity %.2f", base)}, reasons...),
			cluster: -1,
		})
	}
	return out
}

// rank applies history and recency boosts, then greedily selects the best
// remaining candidate after the diversity penalty against those already
// selected. Above ClusterMinResults the selection is diversified by k-means.
func (e *Engine) rank(candidates []*candidate, history []string, limit int, run *Run) []*candidate {
	if len(candidates) == 0 {
		return nil
	}
	now := e.clock.Now()

	boosted := make([]float64, len(candidates))
	for i, c := range candidates {
		h := HistoryBoost(c.job, history)
		r := RecencyBoost(c.job, now)
		boosted[i] = c.score + h + r
		if h > 0 {
			c.reasons = append(c.reasons, "similar to past searches")
		}
		if r >= recencyWeight {
			c.reasons = append(c.reasons, "recently posted")
		}
	}

	profiles := make([]profile, len(candidates))
	for i, c := range candidates {
		profiles[i] = profileOf(c.job)
	}
	seen := make([]resemblance, len(candidates))
	taken := make([]bool, len(candidates))
	order := make([]int, 0, len(candidates))
	for len(order) < len(candidates) {
		best, bestScore := -1, 0.0
		for i, c := range candidates {
			if taken[i] {
				continue
			}
			s := boosted[i] - seen[i].penalty()
			if best < 0 || s > bestScore || (s == bestScore && c.job.ID < candidates[best].job.ID) {
				best, bestScore = i, s
			}
		}
		taken[best] = true
		candidates[best].rank = bestScore
		order = append(order, best)
		for i := range candidates {
			if !taken[i] {
				seen[i].observe(profiles[i], profiles[best])
			}
		}
	}

	picked := order
	if e.cfg.ClusterMinResults > 0 && len(order) > e.cfg.ClusterMinResults {
		k := ClusterCount(len(order))
		vectors := make([][]float32, len(candidates))
		for i, c := range candidates {
			vectors[i] = c.job.Embedding
		}
		rng := rand.New(rand.NewPCG(e.cfg.Seed, uint64(len(candidates))))
		assign := KMeans(vectors, k, rng)
		for i, c := range candidates {
			c.cluster = assign[i]
		}
		run.Stats.Clusters = k
		picked = representatives(order, assign, limit)
	} else if len(picked) > limit {
		picked = picked[:limit]
	}

	out := make([]*candidate, 0, len(picked))
	for _, idx := range picked {
		out = append(out, candidates[idx])
	}
	slices.SortStableFunc(out, func(a, b *candidate) int {
		if c := cmp.Compare(b.rank, a.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.job.ID, b.job.ID)
	})
	return out
}

func (e *Engine) results(req Request, picked []*candidate) []jobs.MatchResult {
	algorithm := string(e.metric)
	if !req.Preferences.IsZero() {
		algorithm += "+personalization"
	}
	skills := candidateSkills(req)
	now := e.clock.Now()

	out := make([]jobs.MatchResult, 0, len(picked))
	for _, c := range picked {
		matching, missing := SkillGap(skills, c.job)
		out = append(out, jobs.MatchResult{
			UserID:            req.UserID,
			JobID:             c.job.ID,
			SimilarityScore:   c.score,
			RankScore:         c.rank,
			MatchReasons:      c.reasons,
			Algorithm:         algorithm,
			MatchLevel:        jobs.MatchLevelFor(c.score),
			MatchingSkills:    matching,
			MissingSkills:     missing,
			ClusterID:         c.cluster,
			ApplicationStatus: jobs.AppNotApplied,
			ComputedAt:        now,
		})
	}
	return out
}

// candidateSkills merges the stated skills with those mentioned in the query.
func candidateSkills(req Request) []string {
	skills := slices.Clone(req.Preferences.Skills)
	for _, t := range normalize.Match(req.QueryText) {
		skills = append(skills, t.Name)
	}
	return skills
}
