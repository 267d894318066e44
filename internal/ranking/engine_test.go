package ranking

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/embedding"
	"github.com/spigell/jobmatch/internal/jobs"
)

type fakeCorpus struct {
	postings []jobs.JobPosting
	err      error
}

func (f *fakeCorpus) ListCanonical(context.Context) ([]jobs.JobPosting, error) {
	out := make([]jobs.JobPosting, 0, len(f.postings))
	for _, p := range f.postings {
		out = append(out, *p.Clone())
	}
	return out, f.err
}

type fakeEmbedder struct {
	fn    func(text string) (embedding.Result, error)
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (embedding.Result, error) {
	f.calls++
	return f.fn(text)
}

func remoteVector(v ...float32) *fakeEmbedder {
	return &fakeEmbedder{fn: func(string) (embedding.Result, error) {
		return embedding.Result{Vector: v, Origin: embedding.OriginRemote}, nil
	}}
}

func vecJob(id, company, title string, v ...float32) jobs.JobPosting {
	return jobs.JobPosting{
		ID:        id,
		Company:   company,
		Title:     title,
		Status:    jobs.StatusActive,
		Embedding: v,
	}
}

// at returns a unit vector at angle whose cosine to (1,0,0,0) is c.
func at(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0, 0}
}

var start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, corpus Corpus, emb Embedder, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Metric = string(MetricCosine)
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithClock(clock.NewFake(start))}, opts...)
	e, err := NewEngine(corpus, emb, cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestMatchAppliesThresholdAndOrdering(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{postings: []jobs.JobPosting{
		vecJob("b", "Beta", "Data Scientist", at(0.85)...),
		vecJob("a", "Acme", "ML Engineer", 1, 0, 0, 0),
		vecJob("c", "Gamma", "Analyst", at(0.6)...),
		vecJob("d", "Delta", "Chef", 0, 1, 0, 0),
	}}
	e := newEngine(t, corpus, remoteVector(1, 0, 0, 0), nil)

	run, err := e.Match(context.Background(), Request{UserID: "u1", QueryText: "ml engineer"})
	require.NoError(t, err)

	assert.Equal(t, StateDone, run.State)
	assert.Equal(t, []RunState{StateIdle, StateEmbedding, StateScoring, StateRanking, StateDone}, run.History)
	assert.Equal(t, embedding.OriginRemote, run.QueryOrigin)
	assert.Equal(t, Stats{Corpus: 4, Admitted: 2}, run.Stats)

	require.Len(t, run.Results, 2)
	first, second := run.Results[0], run.Results[1]
	assert.Equal(t, "a", first.JobID)
	assert.Equal(t, "b", second.JobID)
	assert.InDelta(t, 1.0, first.SimilarityScore, 1e-6)
	assert.InDelta(t, 0.85, second.SimilarityScore, 1e-6)
	assert.InDelta(t, 1.005, first.RankScore, 1e-6)

	assert.Equal(t, "u1", first.UserID)
	assert.Equal(t, "cosine", first.Algorithm)
	assert.Equal(t, "Excellent Match", first.MatchLevel)
	assert.Equal(t, -1, first.ClusterID)
	assert.Equal(t, jobs.AppNotApplied, first.ApplicationStatus)
	assert.Equal(t, "semantic similarity 1.00", first.MatchReasons[0])
	assert.Equal(t, start, first.ComputedAt)

	for _, r := range run.Results {
		require.NoError(t, r.Validate())
		assert.GreaterOrEqual(t, r.SimilarityScore, 0.7)
	}
}

func TestMatchFailsWithoutQueryOrCorpus(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	corpus := &fakeCorpus{postings: []jobs.JobPosting{vecJob("a", "Acme", "ML", 1, 0)}}
	e := newEngine(t, corpus, remoteVector(1, 0), nil, WithLogger(zap.New(core)))

	run, err := e.Match(context.Background(), Request{UserID: "u", QueryText: "  "})
	require.ErrorIs(t, err, jobs.ErrNoQuery)
	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, []RunState{StateIdle, StateFailed}, run.History)
	assert.Equal(t, 1, logs.FilterMessage("matching run failed").Len())

	empty := newEngine(t, &fakeCorpus{}, remoteVector(1, 0), nil)
	_, err = empty.Match(context.Background(), Request{QueryText: "ml"})
	require.ErrorIs(t, err, jobs.ErrNoCorpus)

	dup := vecJob("dup", "Acme", "ML", 1, 0)
	require.NoError(t, dup.MarkDuplicate("a"))
	expired := vecJob("old", "Acme", "ML", 1, 0)
	expired.Status = jobs.StatusExpired
	onlyStale := newEngine(t, &fakeCorpus{postings: []jobs.JobPosting{dup, expired}}, remoteVector(1, 0), nil)
	_, err = onlyStale.Match(context.Background(), Request{QueryText: "ml"})
	require.ErrorIs(t, err, jobs.ErrNoCorpus)

	broken := newEngine(t, &fakeCorpus{err: errors.New("db down")}, remoteVector(1, 0), nil)
	_, err = broken.Match(context.Background(), Request{QueryText: "ml"})
	require.ErrorIs(t, err, jobs.ErrNoCorpus)
	assert.ErrorContains(t, err, "db down")
}

func TestMatchDegradedQueryVector(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{postings: []jobs.JobPosting{vecJob("a", "Acme", "ML", 1, 0)}}
	failing := &fakeEmbedder{fn: func(string) (embedding.Result, error) {
		return embedding.Result{}, errors.New("text has no embeddable terms")
	}}
	e := newEngine(t, corpus, failing, nil)

	_, err := e.Match(context.Background(), Request{QueryVector: []float32{0, 0}})
	require.ErrorIs(t, err, jobs.ErrNoQuery)

	_, err = e.Match(context.Background(), Request{QueryText: "the"})
	require.ErrorIs(t, err, jobs.ErrNoQuery)

	run, err := e.Match(context.Background(), Request{QueryVector: []float32{2, 0}})
	require.NoError(t, err)
	assert.Equal(t, OriginSupplied, run.QueryOrigin)
	require.Len(t, run.Results, 1)
}

func TestMatchCachesRemoteQueryEmbeddings(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{postings: []jobs.JobPosting{vecJob("a", "Acme", "ML", 1, 0)}}
	emb := remoteVector(1, 0)
	e := newEngine(t, corpus, emb, nil)

	_, err := e.Match(context.Background(), Request{QueryText: "ml engineer"})
	require.NoError(t, err)
	run, err := e.Match(context.Background(), Request{QueryText: " ml engineer "})
	require.NoError(t, err)

	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, embedding.OriginCache, run.QueryOrigin)
}

func TestMatchEmbedsMissingPostingVectors(t *testing.T) {
	t.Parallel()

	missing := vecJob("m", "Acme", "ML Engineer")
	broken := vecJob("x", "Bad", "Broken")
	corpus := &fakeCorpus{postings: []jobs.JobPosting{missing, broken}}

	emb := &fakeEmbedder{fn: func(text string) (embedding.Result, error) {
		if text == embedding.JobText(broken) {
			return embedding.Result{}, errors.New("no terms")
		}
		return embedding.Result{Vector: []float32{1, 0}, Origin: embedding.OriginLocal}, nil
	}}
	e := newEngine(t, corpus, emb, nil)

	run, err := e.Match(context.Background(), Request{QueryText: "ml"})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Stats.Embedded)
	assert.Equal(t, 1, run.Stats.Skipped)
	require.Len(t, run.Results, 1)
	assert.Equal(t, "m", run.Results[0].JobID)
	assert.Nil(t, corpus.postings[0].Embedding, "the corpus snapshot is not mutated")
}

func TestMatchDiversityPenalty(t *testing.T) {
	t.Parallel()

	corpus := &fakeCorpus{postings: []jobs.JobPosting{
		vecJob("x1", "Acme", "ML Engineer", 1, 0, 0, 0),
		vecJob("x2", "Acme", "Research Scientist", at(0.99)...),
		vecJob("y", "Beta", "Data Analyst", at(0.95)...),
	}}
	e := newEngine(t, corpus, remoteVector(1, 0, 0, 0), nil)

	run, err := e.Match(context.Background(), Request{QueryText: "ml"})
	require.NoError(t, err)
	require.Len(t, run.Results, 3)

	ids := []string{run.Results[0].JobID, run.Results[1].JobID, run.Results[2].JobID}
	assert.Equal(t, []string{"x1", "y", "x2"}, ids)
	assert.InDelta(t, 0.99+0.005-0.1, run.Results[2].RankScore, 1e-6)
	assert.InDelta(t, 0.99, run.Results[2].SimilarityScore, 1e-6, "the penalty only affects ordering")
}

func TestMatchHistoryAndRecencyReasons(t *testing.T) {
	t.Parallel()

	fresh := vecJob("fresh", "Acme", "NLP Engineer", 1, 0)
	fresh.PostedDate = start.Add(-24 * time.Hour)
	e := newEngine(t, &fakeCorpus{postings: []jobs.JobPosting{fresh}}, remoteVector(1, 0), nil)

	run, err := e.Match(context.Background(), Request{QueryText: "nlp", History: []string{"nlp engineer"}})
	require.NoError(t, err)
	require.Len(t, run.Results, 1)
	r := run.Results[0]
	assert.InDelta(t, 1+0.1+0.05, r.RankScore, 1e-6)
	assert.Equal(t, []string{"semantic similarity 1.00", "similar to past searches", "recently posted"}, r.MatchReasons)
}

func TestMatchClustersLargeResultSets(t *testing.T) {
	t.Parallel()

	e0 := []float32{1, 0, 0, 0}
	e1 := []float32{0, 1, 0, 0}
	corpus := &fakeCorpus{postings: []jobs.JobPosting{
		vecJob("a1", "A1", "Alpha One", e0...),
		vecJob("a2", "A2", "Alpha Two", e0...),
		vecJob("a3", "A3", "Alpha Three", e0...),
		vecJob("b1", "B1", "Beta One", e1...),
		vecJob("b2", "B2", "Beta Two", e1...),
		vecJob("b3", "B3", "Beta Three", e1...),
	}}
	e := newEngine(t, corpus, remoteVector(1, 1, 0, 0), func(c *Config) { c.ClusterMinResults = 3 })

	run, err := e.Match(context.Background(), Request{QueryText: "ml", Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, run.Stats.Clusters)
	require.Len(t, run.Results, 2)
	assert.NotEqual(t, run.Results[0].ClusterID, run.Results[1].ClusterID)
	assert.NotEqual(t, run.Results[0].JobID[0], run.Results[1].JobID[0], "one representative per topic")
}

func TestMatchPersonalizationAndSkillGap(t *testing.T) {
	t.Parallel()

	job := vecJob("a", "Acme", "ML Engineer", at(0.6)...)
	job.ExperienceLevel = jobs.LevelSenior
	job.Skills = []string{"aws", "pytorch"}
	job.Location = "Berlin"
	job.Remote = jobs.RemoteFull
	job.CompanyType = "startup"
	job.Specializations = []string{"machine learning"}

	e := newEngine(t, &fakeCorpus{postings: []jobs.JobPosting{job}}, remoteVector(1, 0, 0, 0), nil)

	plain, err := e.Match(context.Background(), Request{QueryText: "ml"})
	require.NoError(t, err)
	assert.Empty(t, plain.Results, "0.6 is under the threshold without preferences")

	run, err := e.Match(context.Background(), Request{
		QueryText: "experienced with pytorch",
		Preferences: Preferences{
			Locations:       []string{"Berlin"},
			FocusAreas:      []string{"machine learning"},
			ExperienceLevel: jobs.LevelSenior,
			CompanyTypes:    []string{"startup"},
			Remote:          "remote",
		},
	})
	require.NoError(t, err)
	require.Len(t, run.Results, 1)

	r := run.Results[0]
	assert.InDelta(t, 0.72, r.SimilarityScore, 1e-6)
	assert.Equal(t, "cosine+personalization", r.Algorithm)
	assert.Equal(t, []string{"pytorch"}, r.MatchingSkills)
	assert.Equal(t, []string{"aws", "machine learning"}, r.MissingSkills)
}

func TestMatchStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, &fakeCorpus{postings: []jobs.JobPosting{vecJob("a", "Acme", "ML", 1, 0)}}, remoteVector(1, 0), nil)
	run, err := e.Match(ctx, Request{QueryVector: []float32{1, 0}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, run.State)
	assert.Empty(t, run.Results)
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(nil, remoteVector(1), DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Metric = "dot"
	_, err = NewEngine(&fakeCorpus{}, remoteVector(1), cfg)
	assert.Error(t, err)
}
