package ranking

import (
	"sort"

	"github.com/spigell/jobmatch/internal/jobs"
)

// SkillGap splits the job's skills and specializations into those the
// candidate has and those they lack. Both lists are sorted and never nil.
func SkillGap(candidate []string, job jobs.JobPosting) (matching, missing []string) {
	have := canonicalSet(candidate)
	matching, missing = []string{}, []string{}
	for _, s := range jobTerms(job) {
		if have[s] {
			matching = append(matching, s)
		} else {
			missing = append(missing, s)
		}
	}
	sort.Strings(matching)
	sort.Strings(missing)
	return matching, missing
}
