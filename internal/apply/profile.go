package apply

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/jobmatch/internal/jobs"
)

// Profile is the applicant data sent with an application.
type Profile struct {
	FullName    string `mapstructure:"full-name"`
	Email       string `mapstructure:"email"`
	Phone       string `mapstructure:"phone"`
	ResumeURL   string `mapstructure:"resume-url"`
	CoverLetter string `mapstructure:"cover-letter"`
}

// IsComplete reports whether the profile carries enough to submit.
func (p Profile) IsComplete() bool {
	return strings.TrimSpace(p.FullName) != "" &&
		strings.TrimSpace(p.Email) != "" &&
		strings.TrimSpace(p.ResumeURL) != ""
}

type ProfileSource interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// AnyUser keys the profile used for users without their own entry.
const AnyUser = "*"

// StaticProfiles serves profiles loaded from configuration.
type StaticProfiles map[string]Profile

func (s StaticProfiles) Profile(_ context.Context, userID string) (Profile, error) {
	if p, ok := s[userID]; ok {
		return p, nil
	}
	if p, ok := s[AnyUser]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("profile %s: %w", userID, jobs.ErrNotFound)
}
