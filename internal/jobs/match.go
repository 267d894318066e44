package jobs

import (
	"fmt"
	"time"
)

type ApplicationStatus string

const (
	AppNotApplied     ApplicationStatus = "not_applied"
	AppApplying       ApplicationStatus = "applying"
	AppApplied        ApplicationStatus = "applied"
	AppFailed         ApplicationStatus = "failed"
	AppRequiresManual ApplicationStatus = "requires_manual"
)

// MatchResult is one candidate-to-job pairing produced by a matching run.
type MatchResult struct {
	UserID            string            `json:"userId"`
	JobID             string            `json:"jobId"`
	SimilarityScore   float64           `json:"similarityScore"`
	RankScore         float64           `json:"rankScore"`
	MatchReasons      []string          `json:"matchReasons"`
	Algorithm         string            `json:"algorithm"`
	MatchLevel        string            `json:"matchLevel"`
	MatchingSkills    []string          `json:"matchingSkills"`
	MissingSkills     []string          `json:"missingSkills"`
	ClusterID         int               `json:"clusterId"`
	Bookmarked        bool              `json:"bookmarked"`
	ApplicationStatus ApplicationStatus `json:"applicationStatus"`
	ApplicationError  string            `json:"applicationError,omitempty"`
	ComputedAt        time.Time         `json:"computedAt"`
}

// Validate checks the score bounds.
func (m *MatchResult) Validate() error {
	if m.SimilarityScore < 0 || m.SimilarityScore > 1 {
		return fmt.Errorf("match %s: similarity score %.4f out of range", m.JobID, m.SimilarityScore)
	}
	return nil
}

// MatchLevelFor labels a score.
func MatchLevelFor(score float64) string {
	switch {
	case score >= 0.8:
		return "Excellent Match"
	case score >= 0.6:
		return "Good Match"
	case score >= 0.4:
		return "Partial Match"
	default:
		return "Low Match"
	}
}
