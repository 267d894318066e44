// Package filtering scores, deduplicates and prunes normalized postings.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// Filter is a single step of the posting pipeline.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, postings []jobs.JobPosting) ([]jobs.JobPosting, Step, error)
}

// Deps aggregates dependencies shared across all steps.
type Deps struct {
	Logger *zap.Logger
	// Known are active canonical postings already persisted. The duplicate
	// step points new duplicates at them.
	Known []jobs.JobPosting
}

// Step describes the result of executing a filtering step.
type Step struct {
	Name    string
	Initial int
	Dropped int
	Flagged int
	Left    int
}

type Config struct {
	QualityFloor        float64  `mapstructure:"floor" validate:"gte=0,lte=1"`
	DuplicateThreshold  float64  `mapstructure:"duplicate-threshold" validate:"gt=0,lte=1"`
	MinDescriptionWords int      `mapstructure:"min-description-words" validate:"gte=0"`
	RedFlags            []string `mapstructure:"red-flags"`
	ExcludedCompanies   []string `mapstructure:"excluded-companies"`
}

// DefaultConfig returns the tunable defaults.
func DefaultConfig() *Config {
	return &Config{
		QualityFloor:        0.6,
		DuplicateThreshold:  0.8,
		MinDescriptionWords: 10,
	}
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// Default returns the standard step order. Duplicates run last so a
// canonical posting is never dropped after others were pointed at it.
func Default() []Filter {
	return []Filter{
		NewQuality(),
		NewRedFlags(),
		NewExcludedCompanies(),
		NewDuplicates(),
	}
}

// DisableByName marks a filter as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run validates and then executes the enabled steps sequentially.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, postings []jobs.JobPosting) ([]jobs.JobPosting, []Step, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := logger.OrNop(deps.Logger)

	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	report := make([]Step, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return postings, report, err
		}
		if !step.IsEnabled() {
			log.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}

		next, info, err := step.Apply(ctx, deps, postings)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
		info.Name = step.Name()

		log.Info("filter step",
			zap.String("name", info.Name),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("flagged", info.Flagged),
			zap.Int("left", info.Left),
		)

		report = append(report, info)
		postings = next
	}

	return postings, report, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}
		statuses = append(statuses, Status{Name: step.Name(), Enabled: step.IsEnabled()})
	}
	return statuses
}

// toggle carries the enable state every step shares.
type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }
