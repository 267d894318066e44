package jobs

import "time"

type SourceKind string

const (
	KindSearchAPI  SourceKind = "search_api"
	KindSocial     SourceKind = "social"
	KindCareerSite SourceKind = "career_site"
	KindFeed       SourceKind = "feed"
	KindPosting    SourceKind = "posting"
)

// RawPosting is what a source adapter returns before normalization.
type RawPosting struct {
	SourceID    string
	Title       string
	Description string
	URL         string
	FetchedAt   time.Time
	Payload     Payload
}

// Hints are the structured fields a source supplied alongside the text.
// Empty values mean the source did not provide them.
type Hints struct {
	NativeID        string
	Company         string
	Location        string
	JobType         string
	ExperienceLevel ExperienceLevel
	CompanyType     string
	Remote          string
	Salary          *SalaryRange
	PostedAt        time.Time
	Skills          []string
	Specializations []string
}

// Payload is the closed set of per-source variants. Only types in this package
// implement it.
type Payload interface {
	Kind() SourceKind
	Hints() Hints
	sealed()
}

// SearchAPIPayload is produced by keyword search APIs that return structured items.
type SearchAPIPayload struct {
	ID           string
	Company      string
	Location     string
	SalaryMin    float64
	SalaryMax    float64
	Currency     string
	ContractType string
	PostedAt     time.Time
	Tags         []string
}

func (p SearchAPIPayload) Kind() SourceKind { return KindSearchAPI }

func (p SearchAPIPayload) Hints() Hints {
	h := Hints{
		NativeID: p.ID,
		Company:  p.Company,
		Location: p.Location,
		JobType:  p.ContractType,
		PostedAt: p.PostedAt,
		Skills:   p.Tags,
	}
	if p.SalaryMin > 0 || p.SalaryMax > 0 {
		h.Salary = salaryFromBounds(p.SalaryMin, p.SalaryMax, p.Currency)
	}
	return h
}

func (SearchAPIPayload) sealed() {}

// SocialPayload is an unstructured post found by hashtag search.
type SocialPayload struct {
	PostID   string
	Author   string
	Hashtags []string
	PostedAt time.Time
}

func (p SocialPayload) Kind() SourceKind { return KindSocial }

func (p SocialPayload) Hints() Hints {
	return Hints{NativeID: p.PostID, PostedAt: p.PostedAt}
}

func (SocialPayload) sealed() {}

// CareerSitePayload is scraped from a company careers page.
type CareerSitePayload struct {
	Company    string
	Location   string
	Department string
	Path       string
	PostedAt   time.Time
}

func (p CareerSitePayload) Kind() SourceKind { return KindCareerSite }

func (p CareerSitePayload) Hints() Hints {
	return Hints{
		NativeID: p.Path,
		Company:  p.Company,
		Location: p.Location,
		PostedAt: p.PostedAt,
	}
}

func (CareerSitePayload) sealed() {}

// FeedPayload is pushed to the engine through the webhook feed.
type FeedPayload struct {
	ExternalID string
	Company    string
	Location   string
	JobType    string
	Level      string
	SalaryMin  float64
	SalaryMax  float64
	Currency   string
	Skills     []string
	PostedAt   time.Time
}

func (p FeedPayload) Kind() SourceKind { return KindFeed }

func (p FeedPayload) Hints() Hints {
	h := Hints{
		NativeID: p.ExternalID,
		Company:  p.Company,
		Location: p.Location,
		JobType:  p.JobType,
		PostedAt: p.PostedAt,
		Skills:   p.Skills,
	}
	if lvl, ok := ParseExperienceLevel(p.Level); ok {
		h.ExperienceLevel = lvl
	}
	if p.SalaryMin > 0 || p.SalaryMax > 0 {
		h.Salary = salaryFromBounds(p.SalaryMin, p.SalaryMax, p.Currency)
	}
	return h
}

func (FeedPayload) sealed() {}

// PostingPayload wraps an already normalized posting so it can be fed back
// through the normalizer.
type PostingPayload struct {
	Posting JobPosting
}

func (p PostingPayload) Kind() SourceKind { return KindPosting }

func (p PostingPayload) Hints() Hints {
	j := p.Posting
	h := Hints{
		NativeID:        j.SourceNativeID,
		Company:         j.Company,
		Location:        j.Location,
		JobType:         j.JobType,
		ExperienceLevel: j.ExperienceLevel,
		CompanyType:     j.CompanyType,
		Remote:          j.Remote,
		PostedAt:        j.PostedDate,
		Skills:          j.Skills,
		Specializations: j.Specializations,
	}
	if j.Salary != nil {
		s := *j.Salary
		h.Salary = &s
	}
	return h
}

func (PostingPayload) sealed() {}

// FromPosting builds a RawPosting carrying a normalized posting.
func FromPosting(j JobPosting) RawPosting {
	return RawPosting{
		SourceID:    j.SourceID,
		Title:       j.Title,
		Description: j.Description,
		URL:         j.ExternalURL,
		FetchedAt:   j.CrawlTimestamp,
		Payload:     PostingPayload{Posting: *j.Clone()},
	}
}

func salaryFromBounds(lo, hi float64, currency string) *SalaryRange {
	if lo <= 0 {
		lo = hi
	}
	if hi <= 0 {
		hi = lo
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return &SalaryRange{Min: lo, Max: hi, Currency: currency}
}
