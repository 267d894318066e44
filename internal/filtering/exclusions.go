package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

type redFlagsFilter struct {
	toggle
	terms []string
}

// NewRedFlags creates the step that drops postings mentioning configured terms.
func NewRedFlags() Filter {
	return &redFlagsFilter{}
}

func (f *redFlagsFilter) Name() string { return "red_flags" }

func (f *redFlagsFilter) Validate(cfg *Config) error {
	f.terms = f.terms[:0]
	for _, term := range cfg.RedFlags {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			f.terms = append(f.terms, term)
		}
	}
	return nil
}

func (f *redFlagsFilter) Apply(_ context.Context, deps Deps, postings []jobs.JobPosting) ([]jobs.JobPosting, Step, error) {
	initial := len(postings)
	if len(f.terms) == 0 {
		return postings, Step{Initial: initial, Left: initial}, nil
	}
	log := logger.OrNop(deps.Logger)

	kept := make([]jobs.JobPosting, 0, initial)
	for _, p := range postings {
		text := strings.ToLower(p.Title + "\n" + p.Description)
		if term, hit := firstContained(text, f.terms); hit {
			log.Debug("dropping posting with red flag", logger.Job(p.ID), zap.String("term", term))
			continue
		}
		kept = append(kept, p)
	}

	return kept, Step{Initial: initial, Dropped: initial - len(kept), Left: len(kept)}, nil
}

func (f *redFlagsFilter) Status() Status {
	details := map[string]string{}
	if len(f.terms) > 0 {
		details["terms"] = strings.Join(f.terms, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}

func firstContained(text string, terms []string) (string, bool) {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return term, true
		}
	}
	return "", false
}

type companiesFilter struct {
	toggle
	companies map[string]bool
	names     []string
}

// NewExcludedCompanies creates the step that drops postings by configured companies.
func NewExcludedCompanies() Filter {
	return &companiesFilter{}
}

func (f *companiesFilter) Name() string { return "excluded_companies" }

func (f *companiesFilter) Validate(cfg *Config) error {
	f.companies = make(map[string]bool, len(cfg.ExcludedCompanies))
	f.names = f.names[:0]
	for _, c := range cfg.ExcludedCompanies {
		if key := squash(c); key != "" {
			f.companies[key] = true
			f.names = append(f.names, c)
		}
	}
	return nil
}

func (f *companiesFilter) Apply(_ context.Context, deps Deps, postings []jobs.JobPosting) ([]jobs.JobPosting, Step, error) {
	initial := len(postings)
	if len(f.companies) == 0 {
		return postings, Step{Initial: initial, Left: initial}, nil
	}

	kept := make([]jobs.JobPosting, 0, initial)
	var excluded []string
	for _, p := range postings {
		if f.companies[squash(p.Company)] {
			excluded = append(excluded, p.ID)
			continue
		}
		kept = append(kept, p)
	}

	if len(excluded) > 0 {
		logger.OrNop(deps.Logger).Info("excluding postings by company",
			zap.Strings("excluded_companies", f.names),
			zap.Strings("excluded_postings", excluded),
			zap.Int("postings_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	if len(f.names) > 0 {
		details["companies"] = strings.Join(f.names, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
