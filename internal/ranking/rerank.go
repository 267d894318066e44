package ranking

import (
	"strings"
	"time"
	"unicode"

	"github.com/spigell/jobmatch/internal/jobs"
)

const (
	historyWeight = 0.1
	recencyWeight = 0.05

	companyPenalty     = 0.1
	titlePenalty       = 0.08
	skillPenalty       = 0.05
	maxPenalty         = 0.2
	nearIdenticalTitle = 0.8
	highSkillOverlap   = 0.7
)

var keywordStopWords = map[string]bool{
	"and": true, "the": true, "for": true, "with": true, "you": true, "are": true,
	"job": true, "jobs": true, "role": true, "team": true, "work": true, "position": true,
	"looking": true, "want": true, "from": true, "our": true, "your": true,
}

// keywords tokenizes text into lowercase words of three or more runes,
// keeping '+' and '#' so "c++" and "c#" survive.
func keywords(text string) map[string]bool {
	kw := make(map[string]bool)
	var word strings.Builder
	flush := func() {
		w := word.String()
		word.Reset()
		if len([]rune(w)) >= 3 && !keywordStopWords[w] {
			kw[w] = true
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '+' || r == '#' {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return kw
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// coverage is the share of q's keywords found in doc.
func coverage(q, doc map[string]bool) float64 {
	if len(q) == 0 {
		return 0
	}
	hit := 0
	for k := range q {
		if doc[k] {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

// HistoryBoost rewards jobs whose title and skills cover one of the past
// search queries.
func HistoryBoost(job jobs.JobPosting, history []string) float64 {
	if len(history) == 0 {
		return 0
	}
	doc := keywords(job.Title + " " + strings.Join(job.Skills, " ") + " " + strings.Join(job.Specializations, " "))
	best := 0.0
	for _, q := range history {
		best = max(best, coverage(keywords(q), doc))
	}
	return historyWeight * best
}

// Recency is the freshness factor for a posting age.
func Recency(age time.Duration) float64 {
	days := age.Hours() / 24
	switch {
	case days <= 7:
		return 1
	case days <= 14:
		return 0.7
	case days <= 30:
		return 0.4
	default:
		return 0.1
	}
}

// RecencyBoost scales Recency for re-ranking. Postings with no known date get
// the lowest factor.
func RecencyBoost(job jobs.JobPosting, now time.Time) float64 {
	if job.PostedDate.IsZero() && job.CrawlTimestamp.IsZero() {
		return recencyWeight * Recency(365*24*time.Hour)
	}
	return recencyWeight * Recency(job.Age(now))
}

// profile is the part of a posting the diversity penalty compares.
type profile struct {
	company string
	title   map[string]bool
	skills  map[string]bool
}

func profileOf(j jobs.JobPosting) profile {
	return profile{
		company: strings.ToLower(strings.TrimSpace(j.Company)),
		title:   keywords(j.Title),
		skills:  stringSet(jobTerms(j)),
	}
}

// resemblance records which kinds of overlap a posting has with the selected set.
type resemblance struct {
	company, title, skills bool
}

func (r *resemblance) observe(p, selected profile) {
	if p.company != "" && p.company == selected.company {
		r.company = true
	}
	if jaccard(p.title, selected.title) >= nearIdenticalTitle {
		r.title = true
	}
	if len(p.skills) > 0 && jaccard(p.skills, selected.skills) >= highSkillOverlap {
		r.skills = true
	}
}

func (r resemblance) penalty() float64 {
	penalty := 0.0
	if r.company {
		penalty += companyPenalty
	}
	if r.title {
		penalty += titlePenalty
	}
	if r.skills {
		penalty += skillPenalty
	}
	return min(penalty, maxPenalty)
}

// DiversityPenalty is how much job loses for resembling already selected
// postings. It is capped.
func DiversityPenalty(job jobs.JobPosting, selected []jobs.JobPosting) float64 {
	p := profileOf(job)
	var r resemblance
	for _, s := range selected {
		r.observe(p, profileOf(s))
	}
	return r.penalty()
}

func stringSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
