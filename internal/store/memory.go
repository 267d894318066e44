package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/spigell/jobmatch/internal/jobs"
)

type matchKey struct{ user, job string }

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	postings map[string]jobs.JobPosting
	matches  map[matchKey]jobs.MatchResult
	sources  map[string]jobs.SourceConfig
	applies  map[matchKey]int
}

func NewMemory() *Memory {
	return &Memory{
		postings: map[string]jobs.JobPosting{},
		matches:  map[matchKey]jobs.MatchResult{},
		sources:  map[string]jobs.SourceConfig{},
		applies:  map[matchKey]int{},
	}
}

func (m *Memory) SavePostings(_ context.Context, postings []jobs.JobPosting) error {
	for i := range postings {
		if err := postings[i].Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range postings {
		m.postings[postings[i].ID] = *postings[i].Clone()
	}
	return nil
}

func (m *Memory) GetPosting(_ context.Context, id string) (jobs.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.postings[id]
	if !ok {
		return jobs.JobPosting{}, fmt.Errorf("posting %s: %w", id, jobs.ErrNotFound)
	}
	return *j.Clone(), nil
}

func (m *Memory) ListCanonical(_ context.Context) ([]jobs.JobPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]jobs.JobPosting, 0, len(m.postings))
	for _, j := range m.postings {
		if j.IsCanonical() {
			out = append(out, *j.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *Memory) SetPostingStatus(_ context.Context, id string, status jobs.PostingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.postings[id]
	if !ok {
		return fmt.Errorf("posting %s: %w", id, jobs.ErrNotFound)
	}
	if err := j.Transition(status); err != nil {
		return err
	}
	m.postings[id] = j
	return nil
}

func (m *Memory) ExpirePostings(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.postings {
		if !expired(j, cutoff) {
			continue
		}
		j.Status = jobs.StatusExpired
		m.postings[id] = j
		n++
	}
	return n, nil
}

func (m *Memory) SaveMatches(_ context.Context, matches []jobs.MatchResult) error {
	for i := range matches {
		if err := matches[i].Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range matches {
		key := matchKey{r.UserID, r.JobID}
		if prev, ok := m.matches[key]; ok {
			r.Bookmarked = prev.Bookmarked
			r.ApplicationStatus = prev.ApplicationStatus
			r.ApplicationError = prev.ApplicationError
		}
		m.matches[key] = cloneMatch(r)
	}
	return nil
}

func (m *Memory) GetMatch(_ context.Context, userID, jobID string) (jobs.MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.matches[matchKey{userID, jobID}]
	if !ok {
		return jobs.MatchResult{}, fmt.Errorf("match %s/%s: %w", userID, jobID, jobs.ErrNotFound)
	}
	return cloneMatch(r), nil
}

func (m *Memory) ListMatches(_ context.Context, userID string, filter MatchFilter) ([]jobs.MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []jobs.MatchResult
	for key, r := range m.matches {
		if key.user == userID && filter.keep(r) {
			out = append(out, cloneMatch(r))
		}
	}
	sortMatches(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) SetApplicationStatus(_ context.Context, userID, jobID string, status jobs.ApplicationStatus, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := matchKey{userID, jobID}
	r, ok := m.matches[key]
	if !ok {
		return fmt.Errorf("match %s/%s: %w", userID, jobID, jobs.ErrNotFound)
	}
	r.ApplicationStatus = status
	r.ApplicationError = detail
	m.matches[key] = r
	return nil
}

func (m *Memory) SetBookmark(_ context.Context, userID, jobID string, bookmarked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := matchKey{userID, jobID}
	r, ok := m.matches[key]
	if !ok {
		return fmt.Errorf("match %s/%s: %w", userID, jobID, jobs.ErrNotFound)
	}
	r.Bookmarked = bookmarked
	m.matches[key] = r
	return nil
}

func (m *Memory) UpsertSource(_ context.Context, cfg jobs.SourceConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("source id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[cfg.ID] = cfg
	return nil
}

func (m *Memory) ListSources(_ context.Context) ([]jobs.SourceConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]jobs.SourceConfig, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// Apply counters reuse matchKey with the day in place of the job.

func (m *Memory) ApplyCount(_ context.Context, userID, day string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applies[matchKey{userID, day}], nil
}

func (m *Memory) IncrementApplyCount(_ context.Context, userID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := matchKey{userID, day}
	m.applies[key]++
	return m.applies[key], nil
}

func (m *Memory) Close() error { return nil }

func cloneMatch(r jobs.MatchResult) jobs.MatchResult {
	r.MatchReasons = slices.Clone(r.MatchReasons)
	r.MatchingSkills = slices.Clone(r.MatchingSkills)
	r.MissingSkills = slices.Clone(r.MissingSkills)
	return r
}

// sortMatches orders by rank score descending, then job id.
func sortMatches(ms []jobs.MatchResult) {
	sort.SliceStable(ms, func(a, b int) bool {
		if ms[a].RankScore != ms[b].RankScore {
			return ms[a].RankScore > ms[b].RankScore
		}
		return ms[a].JobID < ms[b].JobID
	})
}
