package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/ratelimit"
)

// Limited guards every Fetch with a token from lim, waiting at most timeout.
func Limited(a Adapter, lim *rate.Limiter, timeout time.Duration) Adapter {
	if lim == nil {
		return a
	}
	return &limited{Adapter: a, lim: lim, timeout: timeout}
}

type limited struct {
	Adapter
	lim     *rate.Limiter
	timeout time.Duration
}

func (l *limited) Fetch(ctx context.Context, q Query, p Pagination) ([]jobs.RawPosting, error) {
	if err := ratelimit.Acquire(ctx, l.lim, l.timeout); err != nil {
		return nil, err
	}
	return l.Adapter.Fetch(ctx, q, p)
}

// Options bound one source's share of an aggregation run.
type Options struct {
	Timeout  time.Duration
	MaxPages int
	PerPage  int
	// RateWait is how long a fetch may wait for a rate limit token.
	RateWait time.Duration
}

const (
	defaultSourceTimeout = 30 * time.Second
	defaultMaxPages      = 1
	defaultPerPage       = 50
	defaultRateWait      = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultSourceTimeout
	}
	if o.MaxPages <= 0 {
		o.MaxPages = defaultMaxPages
	}
	if o.PerPage <= 0 {
		o.PerPage = defaultPerPage
	}
	if o.RateWait <= 0 {
		o.RateWait = defaultRateWait
	}
	return o
}

// Registry owns the configured sources and their crawl bookkeeping. It is
// the only writer of jobs.SourceConfig.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry
}

type entry struct {
	adapter Adapter
	cfg     jobs.SourceConfig
	opts    Options
}

// Registered is a snapshot of one source.
type Registered struct {
	Adapter Adapter
	Config  jobs.SourceConfig
	Options Options
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Register adds a source. The config's id and kind are taken from the
// adapter; a positive RateLimitPerWindow wraps the adapter in Limited.
func (r *Registry) Register(a Adapter, cfg jobs.SourceConfig, opts Options) error {
	if cfg.ID != "" && cfg.ID != a.ID() {
		return fmt.Errorf("source config id %q does not match adapter id %q", cfg.ID, a.ID())
	}
	cfg.ID = a.ID()
	cfg.Kind = a.Kind()
	opts = opts.withDefaults()

	if cfg.RateLimitPerWindow > 0 {
		lim := ratelimit.Policy{Calls: cfg.RateLimitPerWindow, Window: cfg.Window, Burst: cfg.Burst}.Limiter()
		a = Limited(a, lim, opts.RateWait)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[cfg.ID]; ok {
		return fmt.Errorf("source %q is already registered", cfg.ID)
	}
	r.entries[cfg.ID] = &entry{adapter: a, cfg: cfg, opts: opts}
	r.order = append(r.order, cfg.ID)
	return nil
}

// SetActive toggles whether aggregation runs include the source.
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("source %q: %w", id, jobs.ErrNotFound)
	}
	e.cfg.IsActive = active
	return nil
}

// Active lists the active sources in registration order.
func (r *Registry) Active() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registered
	for _, id := range r.order {
		if e := r.entries[id]; e.cfg.IsActive {
			out = append(out, Registered{Adapter: e.adapter, Config: e.cfg, Options: e.opts})
		}
	}
	return out
}

// Record notes a completed crawl of id.
func (r *Registry) Record(id string, at time.Time, found int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.cfg.LastCrawledAt = at
		e.cfg.JobsFound += found
	}
}

// Restore applies persisted bookkeeping to already registered sources.
// Unknown ids are ignored. The active flag stays as configured.
func (r *Registry) Restore(saved []jobs.SourceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range saved {
		if e, ok := r.entries[s.ID]; ok {
			e.cfg.LastCrawledAt = s.LastCrawledAt
			e.cfg.JobsFound = s.JobsFound
		}
	}
}

// Config returns the current config of id.
func (r *Registry) Config(id string) (jobs.SourceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return jobs.SourceConfig{}, false
	}
	return e.cfg, true
}

// Configs lists every source config in registration order.
func (r *Registry) Configs() []jobs.SourceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]jobs.SourceConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].cfg)
	}
	return out
}
