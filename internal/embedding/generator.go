// Package embedding converts posting and candidate text into fixed-size vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/ratelimit"
)

type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
	OriginCache  Origin = "cache"
)

// Remote is a network embedding provider.
type Remote interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Result struct {
	Vector []float32
	Origin Origin
}

type Config struct {
	CallsPerMinute int           `mapstructure:"calls-per-minute" validate:"gte=0"`
	MinSpacing     time.Duration `mapstructure:"min-spacing"`
	MaxQueue       int           `mapstructure:"max-queue" validate:"gte=0"`
	WaitTimeout    time.Duration `mapstructure:"wait-timeout"`
	CacheTTL       time.Duration `mapstructure:"cache-ttl"`
}

func DefaultConfig() Config {
	return Config{
		CallsPerMinute: 10,
		MinSpacing:     6 * time.Second,
		MaxQueue:       4,
		WaitTimeout:    8 * time.Second,
		CacheTTL:       24 * time.Hour,
	}
}

// Limiter builds the process-wide limiter for remote calls.
func (c Config) Limiter() *rate.Limiter {
	return ratelimit.Policy{Calls: c.CallsPerMinute, Window: time.Minute, MinSpacing: c.MinSpacing}.Limiter()
}

// Generator produces embeddings, preferring the remote provider and falling
// back to Local whenever it is unavailable, throttled or returns garbage.
type Generator struct {
	remote Remote
	queue  *ratelimit.Queue
	cache  Cache
	logger *zap.Logger
}

// NewGenerator wires the generator. remote and cache may be nil. The limiter
// must be shared by every caller in the process.
func NewGenerator(remote Remote, limiter *rate.Limiter, cache Cache, cfg Config, log *zap.Logger) *Generator {
	return &Generator{
		remote: remote,
		queue:  ratelimit.NewQueue(limiter, cfg.MaxQueue, cfg.WaitTimeout),
		cache:  cache,
		logger: logger.OrNop(log),
	}
}

// Embed returns a unit vector of length Dim for text.
func (g *Generator) Embed(ctx context.Context, text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, errors.New("cannot embed empty text")
	}

	if g.remote != nil {
		key := CacheKey(text, Dim)
		if g.cache != nil {
			if vec, ok := g.cache.Get(ctx, key); ok && len(vec) == Dim {
				return Result{Vector: vec, Origin: OriginCache}, nil
			}
		}

		vec, err := g.embedRemote(ctx, text)
		if err == nil {
			if g.cache != nil {
				g.cache.Set(ctx, key, vec)
			}
			return Result{Vector: vec, Origin: OriginRemote}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		g.logger.Debug("remote embedding unavailable, using local", zap.Error(err))
	}

	vec, err := Local(text)
	if err != nil {
		return Result{}, err
	}
	return Result{Vector: vec, Origin: OriginLocal}, nil
}

func (g *Generator) embedRemote(ctx context.Context, text string) ([]float32, error) {
	if err := g.queue.Acquire(ctx); err != nil {
		return nil, err
	}

	vec, err := g.remote.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != Dim {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", jobs.ErrEmbeddingInvalid, len(vec), Dim)
	}
	for i, v := range vec {
		if v < -1 || v > 1 || math.IsNaN(float64(v)) {
			return nil, fmt.Errorf("%w: component %d is %v, want [-1, 1]", jobs.ErrEmbeddingInvalid, i, v)
		}
	}
	unit, ok := Normalize(vec)
	if !ok {
		return nil, fmt.Errorf("%w: degenerate vector", jobs.ErrEmbeddingInvalid)
	}
	return unit, nil
}

// EmbedPosting computes the posting's embedding when it has none.
func (g *Generator) EmbedPosting(ctx context.Context, j *jobs.JobPosting) (Origin, error) {
	if j.HasEmbedding() {
		return "", nil
	}
	res, err := g.Embed(ctx, JobText(*j))
	if err != nil {
		return "", fmt.Errorf("embed posting %s: %w", j.ID, err)
	}
	j.Embedding = res.Vector
	return res.Origin, nil
}

// JobText is the text a posting is embedded from.
func JobText(j jobs.JobPosting) string {
	var b strings.Builder
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	line("Job Title", j.Title)
	line("Company", j.Company)
	line("Location", j.Location)
	line("Seniority", string(j.ExperienceLevel))
	line("Job Type", j.JobType)
	line("Specializations", strings.Join(j.Specializations, ", "))
	line("Required Skills", strings.Join(j.Skills, ", "))
	if j.Salary.Valid() {
		line("Salary", fmt.Sprintf("%.0f-%.0f %s", j.Salary.Min, j.Salary.Max, j.Salary.Currency))
	}
	line("Description", j.Description)

	return strings.TrimSpace(b.String())
}
