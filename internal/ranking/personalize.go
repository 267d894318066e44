package ranking

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/normalize"
)

// Preferences are what a candidate told us about the job they want. Every
// field is optional.
type Preferences struct {
	Locations       []string             `mapstructure:"locations"`
	FocusAreas      []string             `mapstructure:"focus-areas"`
	ExperienceLevel jobs.ExperienceLevel `mapstructure:"experience-level"`
	Salary          *jobs.SalaryRange    `mapstructure:"salary"`
	CompanyTypes    []string             `mapstructure:"company-types"`
	Remote          string               `mapstructure:"remote"`
	Skills          []string             `mapstructure:"skills"`
}

// IsZero reports whether no preference is set.
func (p Preferences) IsZero() bool {
	return len(p.Locations) == 0 && len(p.FocusAreas) == 0 && p.ExperienceLevel == "" &&
		!p.Salary.Valid() && len(p.CompanyTypes) == 0 && p.Remote == "" && len(p.Skills) == 0
}

const (
	weightLocation    = 0.15
	weightFocus       = 0.20
	weightExperience  = 0.15
	weightSalary      = 0.15
	weightCompanyType = 0.10
	weightRemote      = 0.10
	weightSkills      = 0.15

	baseShare      = 0.7
	boostShare     = 0.3
	fullConfidence = 5.0

	// sub-scores at or above this produce a match reason
	reasonFloor = 0.5
)

// focusHierarchy maps broad focus areas to the specific terms that imply them.
var focusHierarchy = map[string][]string{
	"machine learning": {
		"deep learning", "reinforcement learning", "pytorch", "tensorflow", "keras", "jax",
		"scikit-learn", "xgboost", "mlops", "mlflow", "kubeflow", "sagemaker", "vertex ai",
	},
	"natural language processing": {
		"large language models", "hugging face", "speech recognition", "chatbots",
		"retrieval augmented generation",
	},
	"large language models": {
		"retrieval augmented generation", "langchain", "llamaindex", "openai", "vector databases",
		"pinecone", "weaviate", "qdrant", "milvus", "faiss", "chroma", "pgvector",
	},
	"generative ai": {
		"large language models", "langchain", "llamaindex", "openai", "hugging face",
		"retrieval augmented generation",
	},
	"computer vision": {"deep learning", "pytorch", "tensorflow"},
	"chatbots":        {"dialogflow", "rasa", "amazon lex", "bot framework", "speech recognition"},
	"data science":    {"machine learning", "python", "sql", "spark", "scikit-learn", "xgboost"},
	"mlops":           {"kubernetes", "docker", "mlflow", "kubeflow", "sagemaker", "vertex ai", "terraform", "airflow"},
}

type subScore struct {
	weight float64
	value  float64
	reason string
}

// Personalize blends base with the preference boost and returns the final
// score with the reasons that contributed to it.
func Personalize(base float64, job jobs.JobPosting, prefs Preferences) (float64, []string) {
	base = clamp01(base)

	var subs []subScore
	add := func(weight, value float64, ok bool, reason string) {
		if ok {
			subs = append(subs, subScore{weight: weight, value: value, reason: reason})
		}
	}

	v, ok, r := locationScore(job, prefs.Locations)
	add(weightLocation, v, ok, r)
	v, ok, r = focusScore(job, prefs.FocusAreas)
	add(weightFocus, v, ok, r)
	v, ok, r = experienceScore(job.ExperienceLevel, prefs.ExperienceLevel)
	add(weightExperience, v, ok, r)
	v, ok, r = salaryScore(job.Salary, prefs.Salary)
	add(weightSalary, v, ok, r)
	v, ok, r = companyTypeScore(job.CompanyType, prefs.CompanyTypes)
	add(weightCompanyType, v, ok, r)
	v, ok, r = remoteScore(job.Remote, prefs.Remote)
	add(weightRemote, v, ok, r)
	v, ok, r = skillsScore(job, prefs.Skills)
	add(weightSkills, v, ok, r)

	if len(subs) == 0 {
		return base, nil
	}

	var sum, weights float64
	var reasons []string
	for _, s := range subs {
		sum += s.weight * s.value
		weights += s.weight
		if s.value >= reasonFloor && s.reason != "" {
			reasons = append(reasons, s.reason)
		}
	}
	confidence := math.Min(1, float64(len(subs))/fullConfidence)
	boost := sum / weights * confidence

	return clamp01(baseShare*base + boostShare*math.Min(1, base+boost)), reasons
}

func locationScore(job jobs.JobPosting, preferred []string) (float64, bool, string) {
	loc := strings.ToLower(strings.TrimSpace(job.Location))
	if len(preferred) == 0 || (loc == "" && job.Remote == "") {
		return 0, false, ""
	}

	best, bestPref := 0.0, ""
	for _, p := range preferred {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		s := 0.0
		switch {
		case p == jobs.RemoteFull && job.Remote == jobs.RemoteFull:
			s = 1
		case loc == "":
		case strings.Contains(loc, p) || strings.Contains(p, loc):
			s = 1
		default:
			s = 1 - float64(levenshtein.ComputeDistance(loc, p))/float64(max(len(loc), len(p)))
		}
		if s > best {
			best, bestPref = s, p
		}
	}
	return best, true, "location matches " + bestPref
}

func focusScore(job jobs.JobPosting, areas []string) (float64, bool, string) {
	if len(areas) == 0 {
		return 0, false, ""
	}
	have := make(map[string]bool, len(job.Skills)+len(job.Specializations))
	for _, s := range job.Skills {
		have[s] = true
	}
	for _, s := range job.Specializations {
		have[s] = true
	}

	best, bestArea := 0.0, ""
	for _, area := range areas {
		area = normalize.Canonical(area)
		s := 0.0
		if have[area] {
			s = 1
		} else if slices.ContainsFunc(focusHierarchy[area], func(c string) bool { return have[c] }) {
			s = 0.8
		}
		if s > best {
			best, bestArea = s, area
		}
	}
	return best, true, "focus area " + bestArea
}

// ExperienceCloseness scores how far apart two levels are.
func ExperienceCloseness(a, b jobs.ExperienceLevel) float64 {
	diff := a.Rank() - b.Rank()
	if diff < 0 {
		diff = -diff
	}
	switch diff {
	case 0:
		return 1
	case 1:
		return 0.8
	case 2:
		return 0.6
	default:
		return math.Max(0.2, 1-0.15*float64(diff))
	}
}

func experienceScore(job, preferred jobs.ExperienceLevel) (float64, bool, string) {
	if job == "" || preferred == "" {
		return 0, false, ""
	}
	return ExperienceCloseness(job, preferred), true, fmt.Sprintf("%s level", job)
}

// SalaryOverlap is the intersection over union of two ranges.
func SalaryOverlap(a, b jobs.SalaryRange) float64 {
	lo, hi := math.Max(a.Min, b.Min), math.Min(a.Max, b.Max)
	if hi < lo {
		return 0
	}
	union := math.Max(a.Max, b.Max) - math.Min(a.Min, b.Min)
	if union == 0 {
		return 1
	}
	return (hi - lo) / union
}

func salaryScore(job, preferred *jobs.SalaryRange) (float64, bool, string) {
	if !job.Valid() || !preferred.Valid() {
		return 0, false, ""
	}
	if job.Currency != "" && preferred.Currency != "" && !strings.EqualFold(job.Currency, preferred.Currency) {
		return 0, false, ""
	}
	return SalaryOverlap(*job, *preferred), true, "salary range overlaps"
}

func companyTypeScore(job string, preferred []string) (float64, bool, string) {
	if job == "" || len(preferred) == 0 {
		return 0, false, ""
	}
	if slices.ContainsFunc(preferred, func(p string) bool { return strings.EqualFold(strings.TrimSpace(p), job) }) {
		return 1, true, job + " company"
	}
	return 0, true, ""
}

func remoteScore(job, preferred string) (float64, bool, string) {
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if job == "" || preferred == "" {
		return 0, false, ""
	}
	switch {
	case job == preferred:
		return 1, true, job + " work"
	case preferred == jobs.RemoteHybrid && job == jobs.RemoteFull,
		preferred == jobs.RemoteFull && job == jobs.RemoteHybrid:
		return 0.5, true, job + " work"
	default:
		return 0, true, ""
	}
}

// skillsScore weighs the job's skills by taxonomy category and returns the
// share of that weight the candidate covers.
func skillsScore(job jobs.JobPosting, skills []string) (float64, bool, string) {
	required := jobTerms(job)
	if len(skills) == 0 || len(required) == 0 {
		return 0, false, ""
	}
	have := canonicalSet(skills)

	var covered, total float64
	var matched []string
	for _, s := range required {
		w := skillWeight(s)
		total += w
		if have[s] {
			covered += w
			matched = append(matched, s)
		}
	}
	if len(matched) > 3 {
		matched = matched[:3]
	}
	return covered / total, true, "skills: " + strings.Join(matched, ", ")
}

func skillWeight(skill string) float64 {
	if c, ok := normalize.CategoryOf(skill); ok {
		return c.Weight()
	}
	return 0.5
}

// jobTerms returns the job's specializations followed by its skills.
func jobTerms(job jobs.JobPosting) []string {
	out := make([]string, 0, len(job.Specializations)+len(job.Skills))
	seen := make(map[string]bool, cap(out))
	for _, s := range slices.Concat(job.Specializations, job.Skills) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func canonicalSet(skills []string) map[string]bool {
	out := make(map[string]bool, len(skills))
	for _, s := range skills {
		if c := normalize.Canonical(s); c != "" {
			out[c] = true
		}
	}
	return out
}
