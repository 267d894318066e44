package filtering

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

var unknownCompanies = map[string]bool{
	"":             true,
	"unknown":      true,
	"n/a":          true,
	"na":           true,
	"confidential": true,
}

// Score returns the completeness score of a posting in [0,1].
func Score(j jobs.JobPosting, minDescriptionWords int) float64 {
	score := 0.0
	if len([]rune(strings.TrimSpace(j.Title))) >= 3 {
		score += 0.20
	}
	if len(strings.Fields(j.Description)) >= minDescriptionWords {
		score += 0.25
	}
	if !unknownCompanies[strings.ToLower(strings.TrimSpace(j.Company))] {
		score += 0.15
	}
	if len(j.Skills) > 0 || len(j.Specializations) > 0 {
		score += 0.20
	}
	if absoluteHTTP(j.ExternalURL) {
		score += 0.10
	}
	if loc := strings.ToLower(strings.TrimSpace(j.Location)); loc != "" && loc != "unknown" {
		score += 0.10
	}
	return score
}

func absoluteHTTP(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type qualityFilter struct {
	toggle
	floor    float64
	minWords int
}

// NewQuality creates the step that scores postings and drops those below the floor.
func NewQuality() Filter {
	return &qualityFilter{}
}

func (f *qualityFilter) Name() string { return "quality" }

func (f *qualityFilter) Validate(cfg *Config) error {
	if cfg.QualityFloor < 0 || cfg.QualityFloor > 1 {
		return fmt.Errorf("quality floor %.2f out of range", cfg.QualityFloor)
	}
	f.floor = cfg.QualityFloor
	f.minWords = cfg.MinDescriptionWords
	return nil
}

func (f *qualityFilter) Apply(_ context.Context, deps Deps, postings []jobs.JobPosting) ([]jobs.JobPosting, Step, error) {
	log := logger.OrNop(deps.Logger)
	initial := len(postings)

	kept := postings[:0:0]
	for _, p := range postings {
		// Round away float noise so 0.6 compares as 0.6.
		p.QualityScore = math.Round(Score(p, f.minWords)*100) / 100
		if p.QualityScore < f.floor {
			log.Debug("dropping low quality posting",
				logger.Job(p.ID),
				zap.String("title", p.Title),
				zap.Float64("quality_score", p.QualityScore),
			)
			continue
		}
		kept = append(kept, p)
	}

	return kept, Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}, nil
}

func (f *qualityFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{
			"floor":                 fmt.Sprintf("%.2f", f.floor),
			"min_description_words": fmt.Sprintf("%d", f.minWords),
		},
	}
}
