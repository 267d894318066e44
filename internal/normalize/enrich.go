package normalize

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// Enricher extracts structured fields from posting text, typically with an LLM.
type Enricher interface {
	Extract(ctx context.Context, title, description string) (*ai.PostingFields, error)
}

// Normalizer wraps Normalize with optional enrichment.
type Normalizer struct {
	enricher Enricher
	timeout  time.Duration
	logger   *zap.Logger
}

type Option func(*Normalizer)

func WithEnricher(e Enricher, timeout time.Duration) Option {
	return func(n *Normalizer) {
		n.enricher = e
		n.timeout = timeout
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(n *Normalizer) { n.logger = logger.OrNop(l) }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NormalizeEnriched asks the enricher for fields the source did not supply and
// falls back to the heuristics when it fails. It never returns an error.
func (n *Normalizer) NormalizeEnriched(ctx context.Context, raw jobs.RawPosting, sourceID string) jobs.JobPosting {
	if n == nil || n.enricher == nil || !needsEnrichment(raw) {
		return Normalize(raw, sourceID)
	}

	callCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	fields, err := n.enricher.Extract(callCtx, raw.Title, raw.Description)
	if err != nil {
		n.logger.Debug("enrichment failed, using heuristics",
			logger.Source(raw.SourceID),
			zap.String("url", raw.URL),
			zap.Error(err),
		)
		return Normalize(raw, sourceID)
	}

	return normalize(raw, sourceID, fields)
}

// needsEnrichment reports whether the source left out fields the text may hold.
func needsEnrichment(raw jobs.RawPosting) bool {
	if raw.Payload == nil {
		return true
	}
	if raw.Payload.Kind() == jobs.KindPosting {
		return false
	}
	h := raw.Payload.Hints()
	return raw.Title == "" || h.Company == "" || h.Location == "" || h.Salary == nil
}
