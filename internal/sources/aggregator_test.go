package sources

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
)

type fakeAdapter struct {
	id    string
	calls atomic.Int32
	fetch func(ctx context.Context, p Pagination) ([]jobs.RawPosting, error)
}

func (f *fakeAdapter) ID() string            { return f.id }
func (f *fakeAdapter) Kind() jobs.SourceKind { return jobs.KindSearchAPI }

func (f *fakeAdapter) Fetch(ctx context.Context, _ Query, p Pagination) ([]jobs.RawPosting, error) {
	f.calls.Add(1)
	return f.fetch(ctx, p)
}

func page(sourceID string, from, n int) []jobs.RawPosting {
	out := make([]jobs.RawPosting, n)
	for i := range out {
		out[i] = jobs.RawPosting{SourceID: sourceID, Title: fmt.Sprintf("%s-%d", sourceID, from+i)}
	}
	return out
}

func TestAggregatorIsolatesFailures(t *testing.T) {
	t.Parallel()

	paged := &fakeAdapter{id: "paged", fetch: func(_ context.Context, p Pagination) ([]jobs.RawPosting, error) {
		if p.Page == 0 {
			return page("paged", 0, p.PerPage), nil
		}
		return page("paged", p.PerPage, 1), nil
	}}
	broken := &fakeAdapter{id: "broken", fetch: func(context.Context, Pagination) ([]jobs.RawPosting, error) {
		return nil, fmt.Errorf("%w: bad status: 502", jobs.ErrSourceUnavailable)
	}}
	slow := &fakeAdapter{id: "slow", fetch: func(ctx context.Context, _ Pagination) ([]jobs.RawPosting, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	off := &fakeAdapter{id: "off", fetch: func(context.Context, Pagination) ([]jobs.RawPosting, error) {
		return page("off", 0, 1), nil
	}}

	reg := NewRegistry()
	require.NoError(t, reg.Register(paged, jobs.SourceConfig{IsActive: true}, Options{PerPage: 2, MaxPages: 5}))
	require.NoError(t, reg.Register(broken, jobs.SourceConfig{IsActive: true}, Options{}))
	require.NoError(t, reg.Register(slow, jobs.SourceConfig{IsActive: true}, Options{Timeout: 20 * time.Millisecond}))
	require.NoError(t, reg.Register(off, jobs.SourceConfig{IsActive: false}, Options{}))

	core, logs := observer.New(zapcore.DebugLevel)
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	agg := NewAggregator(reg, WithClock(clock.NewFake(start)), WithLogger(zap.New(core)))

	summary := agg.Run(context.Background(), Query{Keywords: []string{"ml"}})

	require.Len(t, summary.Postings, 3)
	assert.Equal(t, "paged-0", summary.Postings[0].Title)
	assert.Equal(t, "paged-2", summary.Postings[2].Title)

	assert.Equal(t, 3, summary.Sources["paged"].Fetched)
	assert.Equal(t, 2, summary.Sources["paged"].Pages, "a short page ends pagination")
	assert.NoError(t, summary.Sources["paged"].Err)
	assert.ErrorIs(t, summary.Sources["broken"].Err, jobs.ErrSourceUnavailable)
	assert.ErrorIs(t, summary.Sources["slow"].Err, context.DeadlineExceeded)
	assert.NotContains(t, summary.Sources, "off")
	assert.Zero(t, off.calls.Load())
	assert.Equal(t, []string{"broken", "slow"}, summary.Failed())

	cfg, ok := reg.Config("paged")
	require.True(t, ok)
	assert.Equal(t, start, cfg.LastCrawledAt)
	assert.Equal(t, 3, cfg.JobsFound)
	cfg, _ = reg.Config("broken")
	assert.True(t, cfg.LastCrawledAt.IsZero(), "failed sources are not marked crawled")

	assert.Equal(t, 2, logs.FilterMessage("source failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("aggregation finished").Len())
}

func TestAggregatorKeepsPagesBeforeFailure(t *testing.T) {
	t.Parallel()

	flaky := &fakeAdapter{id: "flaky", fetch: func(_ context.Context, p Pagination) ([]jobs.RawPosting, error) {
		if p.Page == 0 {
			return page("flaky", 0, p.PerPage), nil
		}
		return nil, jobs.ErrSourceUnavailable
	}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(flaky, jobs.SourceConfig{IsActive: true}, Options{PerPage: 2, MaxPages: 3}))

	summary := NewAggregator(reg).Run(context.Background(), Query{})
	assert.Len(t, summary.Postings, 2)
	assert.Equal(t, 1, summary.Sources["flaky"].Pages)
	assert.ErrorIs(t, summary.Sources["flaky"].Err, jobs.ErrSourceUnavailable)

	cfg, _ := reg.Config("flaky")
	assert.Equal(t, 2, cfg.JobsFound)
}

func TestAggregatorCancellation(t *testing.T) {
	t.Parallel()

	blocked := &fakeAdapter{id: "blocked", fetch: func(ctx context.Context, _ Pagination) ([]jobs.RawPosting, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	reg := NewRegistry()
	require.NoError(t, reg.Register(blocked, jobs.SourceConfig{IsActive: true}, Options{Timeout: time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary := NewAggregator(reg).Run(ctx, Query{})
	assert.Empty(t, summary.Postings)
	assert.ErrorIs(t, summary.Sources["blocked"].Err, context.Canceled)
}

func TestLimitedReturnsRateLimited(t *testing.T) {
	t.Parallel()

	inner := &fakeAdapter{id: "inner", fetch: func(context.Context, Pagination) ([]jobs.RawPosting, error) {
		return nil, nil
	}}
	a := Limited(inner, rate.NewLimiter(rate.Every(time.Hour), 1), 0)
	assert.Equal(t, "inner", a.ID())

	_, err := a.Fetch(context.Background(), Query{}, Pagination{})
	require.NoError(t, err)
	_, err = a.Fetch(context.Background(), Query{}, Pagination{})
	assert.ErrorIs(t, err, jobs.ErrRateLimited)
	assert.Equal(t, int32(1), inner.calls.Load())

	assert.Same(t, inner, Limited(inner, nil, 0))
}

func TestRegistryBookkeeping(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{id: "a"}
	reg := NewRegistry()
	require.NoError(t, reg.Register(a, jobs.SourceConfig{RateLimitPerWindow: 10, Window: time.Minute}, Options{}))
	assert.Error(t, reg.Register(a, jobs.SourceConfig{}, Options{}), "duplicate id")
	assert.Error(t, reg.Register(&fakeAdapter{id: "b"}, jobs.SourceConfig{ID: "c"}, Options{}), "mismatched id")

	assert.Empty(t, reg.Active())
	require.NoError(t, reg.SetActive("a", true))
	active := reg.Active()
	require.Len(t, active, 1)
	assert.Equal(t, jobs.KindSearchAPI, active[0].Config.Kind)
	assert.NotSame(t, a, active[0].Adapter, "rate limited sources are wrapped")
	assert.Equal(t, defaultMaxPages, active[0].Options.MaxPages)

	assert.ErrorIs(t, reg.SetActive("missing", true), jobs.ErrNotFound)

	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	reg.Restore([]jobs.SourceConfig{{ID: "a", JobsFound: 7, LastCrawledAt: at, IsActive: false}, {ID: "ghost"}})
	cfg, _ := reg.Config("a")
	assert.Equal(t, 7, cfg.JobsFound)
	assert.Equal(t, at, cfg.LastCrawledAt)
	assert.True(t, cfg.IsActive)
	assert.Len(t, reg.Configs(), 1)
}
