// Package normalize turns source-specific raw postings into canonical JobPostings.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/jobs"
)

// Normalize converts raw into the canonical shape. It performs no I/O and
// only fills fields the source left empty, so normalizing an already
// normalized posting returns it unchanged.
func Normalize(raw jobs.RawPosting, sourceID string) jobs.JobPosting {
	return normalize(raw, sourceID, nil)
}

// normalize applies source hints first, then extracted fields, then text
// heuristics.
func normalize(raw jobs.RawPosting, sourceID string, extracted *ai.PostingFields) jobs.JobPosting {
	if sourceID == "" {
		sourceID = raw.SourceID
	}

	var hints jobs.Hints
	if raw.Payload != nil {
		hints = raw.Payload.Hints()
	}
	if extracted == nil {
		extracted = &ai.PostingFields{}
	}

	description := strings.TrimSpace(raw.Description)
	text := raw.Title + "\n" + description

	j := jobs.JobPosting{
		SourceID:    sourceID,
		Description: description,
		ExternalURL: strings.TrimSpace(raw.URL),
		Status:      jobs.StatusActive,
	}

	j.Title = firstNonEmpty(cleanField(raw.Title), cleanField(extracted.Title), extractTitle(description))
	j.Company = firstNonEmpty(cleanField(hints.Company), cleanField(extracted.Company), extractCompany(text))
	j.Location = firstNonEmpty(cleanField(hints.Location), cleanField(extracted.Location), extractLocation(text))

	j.ExperienceLevel = hints.ExperienceLevel
	if j.ExperienceLevel == "" {
		if lvl, ok := jobs.ParseExperienceLevel(extracted.ExperienceLevel); ok {
			j.ExperienceLevel = lvl
		} else {
			j.ExperienceLevel = ExperienceFromTitle(j.Title)
		}
	}

	j.JobType = firstNonEmpty(normalizeJobType(hints.JobType), normalizeJobType(extracted.JobType), jobType(text), "full-time")
	j.Remote = firstNonEmpty(normalizeRemote(hints.Remote), normalizeRemote(extracted.Remote), remoteMode(text+" "+j.Location))
	j.CompanyType = firstNonEmpty(hints.CompanyType, companyType(text))

	switch {
	case hints.Salary != nil:
		s := *hints.Salary
		s.Currency = strings.ToUpper(strings.TrimSpace(s.Currency))
		j.Salary = &s
	case extracted.SalaryMin > 0 || extracted.SalaryMax > 0:
		j.Salary = bounds(extracted.SalaryMin, extracted.SalaryMax, strings.ToUpper(extracted.Currency))
	default:
		j.Salary = extractSalary(text)
	}

	j.Skills, j.Specializations = classify(text, hints.Skills, hints.Specializations, extracted.Skills)

	if !hints.PostedAt.IsZero() {
		j.PostedDate = hints.PostedAt.UTC()
	}
	if !raw.FetchedAt.IsZero() {
		j.CrawlTimestamp = raw.FetchedAt.UTC()
	}

	j.SourceNativeID = strings.TrimSpace(hints.NativeID)
	if j.SourceNativeID == "" {
		j.SourceNativeID = j.ExternalURL
	}
	key := j.SourceNativeID
	if key == "" {
		sum := sha256.Sum256([]byte(j.Title + "\x00" + j.Company + "\x00" + description))
		key = hex.EncodeToString(sum[:])
	}
	j.ID = jobs.NewID(sourceID, key)

	// Already normalized postings keep the fields later stages derived.
	if p, ok := raw.Payload.(jobs.PostingPayload); ok {
		prev := p.Posting
		j.QualityScore = prev.QualityScore
		j.IsDuplicate = prev.IsDuplicate
		j.CanonicalID = prev.CanonicalID
		j.Embedding = slices.Clone(prev.Embedding)
		if prev.Status != "" {
			j.Status = prev.Status
		}
	}

	return j
}

// classify merges supplied and detected skills and splits them into
// core-AI specializations and everything else.
func classify(text string, supplied ...[]string) (skills, specializations []string) {
	skillSet := map[string]bool{}
	specSet := map[string]bool{}

	add := func(name string) {
		name = Canonical(name)
		if name == "" {
			return
		}
		if cat, ok := CategoryOf(name); ok && cat == CategoryCoreAI {
			specSet[name] = true
			return
		}
		skillSet[name] = true
	}

	for _, list := range supplied {
		for _, s := range list {
			add(s)
		}
	}
	for _, t := range Match(text) {
		add(t.Name)
	}

	return sortedKeys(skillSet), sortedKeys(specSet)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func bounds(lo, hi float64, currency string) *jobs.SalaryRange {
	if lo <= 0 {
		lo = hi
	}
	if hi <= 0 {
		hi = lo
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return &jobs.SalaryRange{Min: lo, Max: hi, Currency: currency}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
