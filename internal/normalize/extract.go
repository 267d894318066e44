package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spigell/jobmatch/internal/jobs"
)

var (
	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:we(?:'re| are)\s+)?hiring(?:\s+an?)?[:\s]+([A-Za-z][\w+#/ .-]{2,60}?)(?:\s+(?:at|in|for|to|with)\b|[.,!;:()\n]|$)`),
		regexp.MustCompile(`(?i)\blooking\s+for\s+(?:an?\s+)?([A-Za-z][\w+#/ .-]{2,60}?)(?:\s+(?:at|in|for|to|with|who)\b|[.,!;:()\n]|$)`),
		regexp.MustCompile(`(?im)^\s*(?:position|role|title)\s*:\s*(.+)$`),
	}
	companyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*company\s*:\s*(.+)$`),
		regexp.MustCompile(`\bat\s+([A-Z][\w&-]*(?:\s+[A-Z][\w&-]*){0,3})`),
		regexp.MustCompile(`\b([A-Z][\w&-]*(?:\s+[A-Z][\w&-]*){0,3})\s+is\s+hiring\b`),
	}
	locationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^\s*location\s*:\s*(.+)$`),
		regexp.MustCompile(`(?i)\bbased\s+in\s+([A-Z][\w .'-]{1,40}?)(?:[.,;!()\n]|$)`),
	}
	remoteParen = regexp.MustCompile(`(?i)\((?:fully\s+)?remote\)`)

	salaryPattern = regexp.MustCompile(`([$€£])\s?(\d{1,3}(?:[,.]\d{3})+|\d+(?:\.\d+)?)\s*([kK])?\s*(?:-|–|—|to)\s*[$€£]?\s?(\d{1,3}(?:[,.]\d{3})+|\d+(?:\.\d+)?)\s*([kK])?`)
)

var currencyBySymbol = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if v := cleanField(m[1]); v != "" {
				return v
			}
		}
	}
	return ""
}

func extractTitle(text string) string { return firstMatch(titlePatterns, text) }

func extractCompany(text string) string { return firstMatch(companyPatterns, text) }

func extractLocation(text string) string {
	if loc := firstMatch(locationPatterns, text); loc != "" {
		return loc
	}
	if remoteParen.MatchString(text) {
		return "Remote"
	}
	return ""
}

// extractSalary parses the first "$120k - $150k" style range in text.
func extractSalary(text string) *jobs.SalaryRange {
	m := salaryPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}

	lo := parseAmount(m[2], m[3] != "" || m[5] != "")
	hi := parseAmount(m[4], m[5] != "")
	if lo <= 0 || hi <= 0 {
		return nil
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return &jobs.SalaryRange{Min: lo, Max: hi, Currency: currencyBySymbol[m[1]]}
}

func parseAmount(s string, thousands bool) float64 {
	// "90,000" and "90.000" are thousands separators; "1.5" is a decimal.
	if idx := strings.LastIndexAny(s, ",."); idx >= 0 && len(s)-idx-1 == 3 {
		s = strings.NewReplacer(",", "", ".", "").Replace(s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if thousands {
		v *= 1000
	}
	return v
}

// ExperienceFromTitle classifies seniority from title keywords.
func ExperienceFromTitle(title string) jobs.ExperienceLevel {
	t := fold(title)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(t, " "+w+" ") {
				return true
			}
		}
		return false
	}

	switch {
	case has("principal", "staff architect", "distinguished", "fellow"):
		return jobs.LevelPrincipal
	case has("senior", "sr", "staff", "lead"):
		return jobs.LevelSenior
	case has("junior", "jr", "entry", "entry level", "graduate", "intern", "internship"):
		return jobs.LevelEntry
	default:
		return jobs.LevelMid
	}
}

func jobType(text string) string {
	t := fold(text)
	switch {
	case strings.Contains(t, " internship ") || strings.Contains(t, " intern "):
		return "internship"
	case strings.Contains(t, " contract ") || strings.Contains(t, " contractor ") || strings.Contains(t, " freelance "):
		return "contract"
	case strings.Contains(t, " part time "):
		return "part-time"
	case strings.Contains(t, " full time "):
		return "full-time"
	default:
		return ""
	}
}

func remoteMode(text string) string {
	t := fold(text)
	switch {
	case strings.Contains(t, " hybrid "):
		return jobs.RemoteHybrid
	case strings.Contains(t, " remote "), strings.Contains(t, " work from home "), strings.Contains(t, " wfh "):
		return jobs.RemoteFull
	case strings.Contains(t, " on site "), strings.Contains(t, " onsite "), strings.Contains(t, " in office "):
		return jobs.RemoteOnsite
	default:
		return ""
	}
}

func companyType(text string) string {
	t := fold(text)
	switch {
	case strings.Contains(t, " startup "), strings.Contains(t, " start up "), strings.Contains(t, " seed "), strings.Contains(t, " series a "), strings.Contains(t, " series b "):
		return "startup"
	case strings.Contains(t, " research lab "), strings.Contains(t, " research institute "), strings.Contains(t, " university "):
		return "research"
	case strings.Contains(t, " agency "), strings.Contains(t, " consultancy "):
		return "agency"
	case strings.Contains(t, " enterprise "), strings.Contains(t, " fortune 500 "):
		return "enterprise"
	default:
		return ""
	}
}

// normalizeJobType maps free-form source values onto the four known types.
func normalizeJobType(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return ""
	}
	if jt := jobType(s); jt != "" {
		return jt
	}
	switch strings.ToLower(s) {
	case "full-time", "fulltime", "permanent", "full_time":
		return "full-time"
	case "part-time", "parttime", "part_time":
		return "part-time"
	case "temporary", "contract":
		return "contract"
	}
	return ""
}

func normalizeRemote(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case jobs.RemoteFull, "fully remote", "true", "yes":
		return jobs.RemoteFull
	case jobs.RemoteHybrid:
		return jobs.RemoteHybrid
	case jobs.RemoteOnsite, "on-site", "office", "false", "no":
		return jobs.RemoteOnsite
	}
	return ""
}

// cleanField collapses whitespace and trims punctuation left over by patterns.
func cleanField(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " -–,.;:!*")
}
