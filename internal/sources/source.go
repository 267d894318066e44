// Package sources fetches raw postings from external job sources and
// aggregates them concurrently.
package sources

import (
	"context"
	"strings"

	"github.com/spigell/jobmatch/internal/jobs"
)

// Query is what the aggregation asks every source for. Sources ignore the
// parts they cannot express.
type Query struct {
	Keywords []string
	Location string
	Hashtags []string
}

// Text joins the keywords with spaces.
func (q Query) Text() string {
	return strings.Join(q.Keywords, " ")
}

// Pagination selects one page. Page is zero based.
type Pagination struct {
	Page    int
	PerPage int
}

// Adapter fetches one page of postings from a single source. Implementations
// wrap transport and parse failures in jobs.ErrSourceUnavailable and budget
// exhaustion in jobs.ErrRateLimited.
type Adapter interface {
	ID() string
	Kind() jobs.SourceKind
	Fetch(ctx context.Context, q Query, p Pagination) ([]jobs.RawPosting, error)
}

// matchesKeywords reports whether any keyword occurs in one of the texts.
// An empty keyword list matches everything.
func matchesKeywords(keywords []string, texts ...string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, kw := range keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}
