// Package apply routes job applications to a submission method and runs them
// under a per-user daily quota.
package apply

import (
	"net/url"
	"strings"
)

type Method string

const (
	MethodLinkedInEasy  Method = "linkedin_easy"
	MethodIndeedAPI     Method = "indeed_api"
	MethodCompanyDirect Method = "company_direct"
	MethodManual        Method = "manual"
)

var (
	easyApplyDomains = []string{"linkedin.com"}
	jobBoardDomains  = []string{"indeed.com"}
	atsDomains       = []string{
		"greenhouse.io",
		"lever.co",
		"myworkdayjobs.com",
		"ashbyhq.com",
		"smartrecruiters.com",
		"bamboohr.com",
		"jobvite.com",
		"icims.com",
		"workable.com",
	}
)

// SelectMethod picks the submission method from the host of the external URL.
// Anything unrecognized, including unparseable URLs, is manual.
func SelectMethod(rawURL string) Method {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return MethodManual
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "":
		return MethodManual
	case hostIn(host, easyApplyDomains):
		return MethodLinkedInEasy
	case hostIn(host, jobBoardDomains):
		return MethodIndeedAPI
	case hostIn(host, atsDomains):
		return MethodCompanyDirect
	default:
		return MethodManual
	}
}

func hostIn(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
