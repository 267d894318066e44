// Package jobs holds the data model shared by the aggregation, matching and apply layers.
package jobs

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ExperienceLevel string

const (
	LevelEntry     ExperienceLevel = "entry"
	LevelMid       ExperienceLevel = "mid"
	LevelSenior    ExperienceLevel = "senior"
	LevelPrincipal ExperienceLevel = "principal"
)

// Rank returns the position of the level in the seniority hierarchy.
// Unknown levels rank as mid.
func (l ExperienceLevel) Rank() int {
	switch l {
	case LevelEntry:
		return 0
	case LevelSenior:
		return 2
	case LevelPrincipal:
		return 3
	default:
		return 1
	}
}

func ParseExperienceLevel(s string) (ExperienceLevel, bool) {
	switch ExperienceLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelEntry:
		return LevelEntry, true
	case LevelMid:
		return LevelMid, true
	case LevelSenior:
		return LevelSenior, true
	case LevelPrincipal:
		return LevelPrincipal, true
	}
	return "", false
}

type PostingStatus string

const (
	StatusActive  PostingStatus = "active"
	StatusExpired PostingStatus = "expired"
	StatusClosed  PostingStatus = "closed"
)

const (
	RemoteFull   = "remote"
	RemoteHybrid = "hybrid"
	RemoteOnsite = "onsite"
)

type SalaryRange struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency,omitempty"`
}

// Valid reports whether the range is usable for overlap computations.
func (s *SalaryRange) Valid() bool {
	return s != nil && s.Min > 0 && s.Max >= s.Min
}

// JobPosting is the canonical representation of one opening.
type JobPosting struct {
	ID             string `json:"id"`
	SourceID       string `json:"sourceId"`
	SourceNativeID string `json:"sourceNativeId"`

	Title           string          `json:"title"`
	Company         string          `json:"company"`
	Description     string          `json:"description"`
	Location        string          `json:"location"`
	ExperienceLevel ExperienceLevel `json:"experienceLevel"`
	JobType         string          `json:"jobType"`
	CompanyType     string          `json:"companyType,omitempty"`
	Remote          string          `json:"remote"`
	Skills          []string        `json:"skills"`
	Specializations []string        `json:"specializations"`
	Salary          *SalaryRange    `json:"salaryRange,omitempty"`
	ExternalURL     string          `json:"externalUrl"`

	QualityScore   float64       `json:"qualityScore"`
	IsDuplicate    bool          `json:"isDuplicate"`
	CanonicalID    string        `json:"canonicalId,omitempty"`
	Embedding      []float32     `json:"embedding,omitempty"`
	CrawlTimestamp time.Time     `json:"crawlTimestamp"`
	PostedDate     time.Time     `json:"postedDate"`
	Status         PostingStatus `json:"status"`
}

var postingNamespace = uuid.MustParse("6f1d8a52-4c1b-4f8e-9a57-2f9d0c3b7e11")

// NewID derives a stable posting id from the source and the id the source uses.
func NewID(sourceID, nativeID string) string {
	return uuid.NewSHA1(postingNamespace, []byte(sourceID+"\x00"+nativeID)).String()
}

// MarkDuplicate flags the posting as a duplicate of canonicalID.
func (j *JobPosting) MarkDuplicate(canonicalID string) error {
	if canonicalID == "" {
		return fmt.Errorf("canonical id is required")
	}
	if canonicalID == j.ID {
		return fmt.Errorf("posting %s cannot be its own canonical", j.ID)
	}
	j.IsDuplicate = true
	j.CanonicalID = canonicalID
	return nil
}

// IsCanonical reports whether the posting is a surviving record.
func (j *JobPosting) IsCanonical() bool {
	return !j.IsDuplicate && j.CanonicalID == ""
}

// Validate checks the canonical/duplicate invariant.
func (j *JobPosting) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("posting id is empty")
	}
	if j.IsDuplicate != (j.CanonicalID != "") {
		return fmt.Errorf("posting %s: duplicate flag and canonical id disagree", j.ID)
	}
	return nil
}

// Transition moves an active posting to expired or closed.
func (j *JobPosting) Transition(to PostingStatus) error {
	if j.Status == to {
		return nil
	}
	if j.Status != StatusActive && j.Status != "" {
		return fmt.Errorf("posting %s is %s and cannot become %s", j.ID, j.Status, to)
	}
	if to != StatusExpired && to != StatusClosed {
		return fmt.Errorf("unsupported posting status %q", to)
	}
	j.Status = to
	return nil
}

// HasEmbedding reports whether an embedding has been computed.
func (j *JobPosting) HasEmbedding() bool {
	return len(j.Embedding) > 0
}

// Clone returns a deep copy.
func (j *JobPosting) Clone() *JobPosting {
	c := *j
	c.Skills = slices.Clone(j.Skills)
	c.Specializations = slices.Clone(j.Specializations)
	c.Embedding = slices.Clone(j.Embedding)
	if j.Salary != nil {
		s := *j.Salary
		c.Salary = &s
	}
	return &c
}

// Age returns the posting age relative to now, using the crawl time when the
// posted date is unknown.
func (j *JobPosting) Age(now time.Time) time.Duration {
	posted := j.PostedDate
	if posted.IsZero() {
		posted = j.CrawlTimestamp
	}
	if posted.IsZero() {
		return 0
	}
	return now.Sub(posted)
}
