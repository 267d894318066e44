// Package store persists postings, match results and source bookkeeping.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
)

// Store is the persistence boundary. Missing records are reported as
// jobs.ErrNotFound. Returned values never alias stored state.
type Store interface {
	// SavePostings inserts or replaces postings by id.
	SavePostings(ctx context.Context, postings []jobs.JobPosting) error
	GetPosting(ctx context.Context, id string) (jobs.JobPosting, error)
	// ListCanonical returns every non-duplicate posting ordered by id.
	ListCanonical(ctx context.Context) ([]jobs.JobPosting, error)
	SetPostingStatus(ctx context.Context, id string, status jobs.PostingStatus) error
	// ExpirePostings marks active postings older than cutoff as expired and
	// returns how many changed. Age is taken from the posted date, else the
	// crawl time.
	ExpirePostings(ctx context.Context, cutoff time.Time) (int, error)

	// SaveMatches upserts results by (user, job). Bookmarks and application
	// state of existing results are kept.
	SaveMatches(ctx context.Context, matches []jobs.MatchResult) error
	GetMatch(ctx context.Context, userID, jobID string) (jobs.MatchResult, error)
	ListMatches(ctx context.Context, userID string, filter MatchFilter) ([]jobs.MatchResult, error)
	SetApplicationStatus(ctx context.Context, userID, jobID string, status jobs.ApplicationStatus, detail string) error
	SetBookmark(ctx context.Context, userID, jobID string, bookmarked bool) error

	UpsertSource(ctx context.Context, cfg jobs.SourceConfig) error
	ListSources(ctx context.Context) ([]jobs.SourceConfig, error)

	// ApplyCount returns how many applications the user submitted on day
	// (YYYY-MM-DD). IncrementApplyCount adds one and returns the new total.
	ApplyCount(ctx context.Context, userID, day string) (int, error)
	IncrementApplyCount(ctx context.Context, userID, day string) (int, error)

	Close() error
}

// Quota exposes the apply counters of a Store as a daily quota.
type Quota struct {
	Store Store
}

func (q Quota) Count(ctx context.Context, userID, day string) (int, error) {
	return q.Store.ApplyCount(ctx, userID, day)
}

func (q Quota) Increment(ctx context.Context, userID, day string) (int, error) {
	return q.Store.IncrementApplyCount(ctx, userID, day)
}

// MatchFilter narrows ListMatches. Zero values do not filter.
type MatchFilter struct {
	Status         jobs.ApplicationStatus
	BookmarkedOnly bool
	Limit          int
}

func (f MatchFilter) keep(m jobs.MatchResult) bool {
	if f.Status != "" && m.ApplicationStatus != f.Status {
		return false
	}
	return !f.BookmarkedOnly || m.Bookmarked
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured backend and migrates it.
func Open(ctx context.Context, driver, dsn string, log *zap.Logger) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn, log)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// EncodeStrings serializes a list for a TEXT column. Nil and empty lists both
// encode as "[]".
func EncodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeStrings reverses EncodeStrings. Empty lists decode as nil.
func DecodeStrings(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(s), &values); err != nil {
		return nil, fmt.Errorf("decoding string list: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}

// EncodeVector serializes an embedding; a missing embedding is "".
func EncodeVector(v []float32) string {
	if len(v) == 0 {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func DecodeVector(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decoding time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// expired reports whether an active posting crossed the cutoff.
func expired(j jobs.JobPosting, cutoff time.Time) bool {
	if j.Status != jobs.StatusActive && j.Status != "" {
		return false
	}
	posted := j.PostedDate
	if posted.IsZero() {
		posted = j.CrawlTimestamp
	}
	return !posted.IsZero() && posted.Before(cutoff)
}
