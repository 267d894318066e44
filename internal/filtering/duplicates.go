package filtering

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// Signature is the bucket key for duplicate detection.
func Signature(j jobs.JobPosting) string {
	return squash(j.Title) + "|" + squash(j.Company) + "|" + squash(j.Location)
}

func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Similarity compares two postings that share a signature. Title and
// location mismatches cost half a point, a company mismatch a full point.
func Similarity(a, b jobs.JobPosting) float64 {
	title, company, location := 0.5, 0.0, 0.5
	if strings.TrimSpace(a.Title) == strings.TrimSpace(b.Title) {
		title = 1
	}
	if strings.TrimSpace(a.Company) == strings.TrimSpace(b.Company) {
		company = 1
	}
	if strings.TrimSpace(a.Location) == strings.TrimSpace(b.Location) {
		location = 1
	}
	return (title + company + location) / 3
}

// Index groups canonical postings by signature.
type Index struct {
	threshold float64
	buckets   map[string][]jobs.JobPosting
}

func NewIndex(threshold float64) *Index {
	return &Index{threshold: threshold, buckets: make(map[string][]jobs.JobPosting)}
}

// Add registers a canonical posting. Duplicates are ignored.
func (ix *Index) Add(j jobs.JobPosting) {
	if !j.IsCanonical() {
		return
	}
	key := Signature(j)
	for _, existing := range ix.buckets[key] {
		if existing.ID == j.ID {
			return
		}
	}
	ix.buckets[key] = append(ix.buckets[key], j)
}

// Find returns the first canonical posting j duplicates, if any.
func (ix *Index) Find(j jobs.JobPosting) (canonical jobs.JobPosting, score float64, ok bool) {
	for _, c := range ix.buckets[Signature(j)] {
		if c.ID == j.ID {
			return jobs.JobPosting{}, 0, false
		}
		if s := Similarity(c, j); s >= ix.threshold {
			return c, s, true
		}
	}
	return jobs.JobPosting{}, 0, false
}

type duplicatesFilter struct {
	toggle
	threshold float64
}

// NewDuplicates creates the step that flags duplicates. Flagged postings stay
// in the batch so they are persisted with their canonical reference.
func NewDuplicates() Filter {
	return &duplicatesFilter{}
}

func (f *duplicatesFilter) Name() string { return "duplicates" }

func (f *duplicatesFilter) Validate(cfg *Config) error {
	if cfg.DuplicateThreshold <= 0 || cfg.DuplicateThreshold > 1 {
		return fmt.Errorf("duplicate threshold %.2f out of range", cfg.DuplicateThreshold)
	}
	f.threshold = cfg.DuplicateThreshold
	return nil
}

func (f *duplicatesFilter) Apply(_ context.Context, deps Deps, postings []jobs.JobPosting) ([]jobs.JobPosting, Step, error) {
	log := logger.OrNop(deps.Logger)

	ix := NewIndex(f.threshold)
	for _, known := range deps.Known {
		ix.Add(known)
	}

	out := make([]jobs.JobPosting, 0, len(postings))
	flagged := 0
	for _, p := range postings {
		if !p.IsCanonical() {
			out = append(out, p)
			continue
		}

		if canonical, score, ok := ix.Find(p); ok {
			if err := p.MarkDuplicate(canonical.ID); err != nil {
				return nil, Step{}, err
			}
			flagged++
			log.Debug("duplicate posting",
				logger.Job(p.ID),
				zap.String("canonical_id", canonical.ID),
				zap.Float64("similarity", score),
			)
		} else {
			ix.Add(p)
		}
		out = append(out, p)
	}

	return out, Step{Initial: len(postings), Flagged: flagged, Left: len(out)}, nil
}

func (f *duplicatesFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"threshold": fmt.Sprintf("%.2f", f.threshold)},
	}
}
