package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsDeterministic(t *testing.T) {
	t.Parallel()

	a := NewID("remoteok", "123")
	b := NewID("remoteok", "123")
	c := NewID("remoteok", "124")
	d := NewID("remoteo", "k123")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}

func TestMarkDuplicateKeepsInvariant(t *testing.T) {
	t.Parallel()

	j := JobPosting{ID: "a"}
	require.True(t, j.IsCanonical())
	require.NoError(t, j.Validate())

	require.Error(t, j.MarkDuplicate(""))
	require.Error(t, j.MarkDuplicate("a"))
	require.True(t, j.IsCanonical())

	require.NoError(t, j.MarkDuplicate("b"))
	assert.False(t, j.IsCanonical())
	assert.Equal(t, "b", j.CanonicalID)
	require.NoError(t, j.Validate())

	j.IsDuplicate = false
	require.Error(t, j.Validate())
}

func TestTransition(t *testing.T) {
	t.Parallel()

	j := JobPosting{ID: "a", Status: StatusActive}
	require.NoError(t, j.Transition(StatusExpired))
	require.NoError(t, j.Transition(StatusExpired))
	require.Error(t, j.Transition(StatusClosed))
	require.Error(t, j.Transition(StatusActive))

	k := JobPosting{ID: "b", Status: StatusActive}
	require.Error(t, k.Transition("archived"))
	require.NoError(t, k.Transition(StatusClosed))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := JobPosting{
		ID:        "a",
		Skills:    []string{"pytorch"},
		Embedding: []float32{0.1, 0.2},
		Salary:    &SalaryRange{Min: 1, Max: 2},
	}
	c := orig.Clone()
	c.Skills[0] = "tensorflow"
	c.Embedding[0] = 9
	c.Salary.Max = 99

	assert.Equal(t, "pytorch", orig.Skills[0])
	assert.Equal(t, float32(0.1), orig.Embedding[0])
	assert.InDelta(t, 2, orig.Salary.Max, 1e-9)
}

func TestAgeFallsBackToCrawlTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	j := JobPosting{CrawlTimestamp: now.Add(-48 * time.Hour)}
	assert.Equal(t, 48*time.Hour, j.Age(now))

	j.PostedDate = now.Add(-24 * time.Hour)
	assert.Equal(t, 24*time.Hour, j.Age(now))

	assert.Zero(t, (&JobPosting{}).Age(now))
}

func TestFromPostingCarriesHints(t *testing.T) {
	t.Parallel()

	p := JobPosting{
		ID:              NewID("feed", "x1"),
		SourceID:        "feed",
		SourceNativeID:  "x1",
		Title:           "ML Engineer",
		Company:         "Acme",
		Location:        "Berlin",
		ExperienceLevel: LevelSenior,
		Skills:          []string{"pytorch"},
		Salary:          &SalaryRange{Min: 100, Max: 120, Currency: "EUR"},
	}
	raw := FromPosting(p)
	require.Equal(t, KindPosting, raw.Payload.Kind())

	h := raw.Payload.Hints()
	assert.Equal(t, "x1", h.NativeID)
	assert.Equal(t, "Acme", h.Company)
	assert.Equal(t, LevelSenior, h.ExperienceLevel)
	require.NotNil(t, h.Salary)
	h.Salary.Max = 1
	assert.InDelta(t, 120, p.Salary.Max, 1e-9)
}

func TestSalaryFromBounds(t *testing.T) {
	t.Parallel()

	h := SearchAPIPayload{SalaryMax: 150000, Currency: "USD"}.Hints()
	require.NotNil(t, h.Salary)
	assert.Equal(t, SalaryRange{Min: 150000, Max: 150000, Currency: "USD"}, *h.Salary)

	h = FeedPayload{SalaryMin: 200, SalaryMax: 100, Level: "Senior"}.Hints()
	assert.Equal(t, SalaryRange{Min: 100, Max: 200}, *h.Salary)
	assert.Equal(t, LevelSenior, h.ExperienceLevel)

	assert.Nil(t, SocialPayload{}.Hints().Salary)
}

func TestExperienceRank(t *testing.T) {
	t.Parallel()

	assert.Less(t, LevelEntry.Rank(), LevelMid.Rank())
	assert.Less(t, LevelSenior.Rank(), LevelPrincipal.Rank())
	assert.Equal(t, LevelMid.Rank(), ExperienceLevel("").Rank())

	_, ok := ParseExperienceLevel("guru")
	assert.False(t, ok)
}
