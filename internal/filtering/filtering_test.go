package filtering

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobmatch/internal/jobs"
)

func posting(id, title, company, location string) jobs.JobPosting {
	return jobs.JobPosting{
		ID:          id,
		Title:       title,
		Company:     company,
		Location:    location,
		Description: strings.Repeat("build machine learning systems ", 4),
		Skills:      []string{"pytorch"},
		ExternalURL: "https://jobs.example/" + id,
		Status:      jobs.StatusActive,
	}
}

func TestScore(t *testing.T) {
	t.Parallel()

	full := posting("a", "ML Engineer", "Acme", "Berlin")
	assert.InDelta(t, 1.0, Score(full, 10), 1e-9)

	empty := jobs.JobPosting{Title: "ML", Company: "Confidential", ExternalURL: "/relative"}
	assert.InDelta(t, 0.0, Score(empty, 10), 1e-9)

	noCompany := full
	noCompany.Company = "N/A"
	noCompany.Location = ""
	assert.InDelta(t, 0.75, Score(noCompany, 10), 1e-9)
}

func TestQualityDropsBelowFloor(t *testing.T) {
	t.Parallel()

	good := posting("a", "ML Engineer", "Acme", "Berlin")
	borderline := good
	borderline.ID = "b"
	borderline.ExternalURL = "ftp://x"
	borderline.Location = ""
	borderline.Company = ""
	borderline.Description = "short"
	// title 0.20 + skills 0.20 = 0.40
	floor := good
	floor.ID = "c"
	floor.Description = "short"
	floor.ExternalURL = ""
	floor.Location = ""
	// title 0.20 + company 0.15 + skills 0.20 = 0.55
	atFloor := good
	atFloor.ID = "d"
	atFloor.Description = "short"
	atFloor.Location = ""
	// 0.55 + url 0.10 = 0.65

	cfg := DefaultConfig()
	out, steps, err := Run(context.Background(), cfg, Deps{}, []Filter{NewQuality()}, []jobs.JobPosting{good, borderline, floor, atFloor})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, Step{Name: "quality", Initial: 4, Dropped: 2, Left: 2}, steps[0])

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.InDelta(t, 1.0, out[0].QualityScore, 1e-9)
	assert.Equal(t, "d", out[1].ID)
	assert.InDelta(t, 0.65, out[1].QualityScore, 1e-9)
}

func TestDuplicatesFlagsAgainstFirstSeen(t *testing.T) {
	t.Parallel()

	a := posting("a", "Senior ML Engineer", "Acme", "Berlin")
	b := posting("b", "senior ml engineer", "Acme", "Berlin") // title differs by case: 0.83
	c := posting("c", "Senior ML Engineer", "ACME", "Berlin") // company differs: 0.67
	d := posting("d", "Senior ML Engineer", "Acme", "Munich") // different bucket

	out, steps, err := Run(context.Background(), nil, Deps{}, []Filter{NewDuplicates()}, []jobs.JobPosting{a, b, c, d})
	require.NoError(t, err)
	assert.Equal(t, 1, steps[0].Flagged)
	require.Len(t, out, 4)

	assert.True(t, out[0].IsCanonical())
	assert.True(t, out[1].IsDuplicate)
	assert.Equal(t, "a", out[1].CanonicalID)
	assert.True(t, out[2].IsCanonical())
	assert.True(t, out[3].IsCanonical())

	for _, p := range out {
		require.NoError(t, p.Validate())
	}
}

func TestDuplicatesSeededFromStore(t *testing.T) {
	t.Parallel()

	stored := posting("stored", "Data Scientist", "Acme", "Remote")
	again := posting("stored", "Data Scientist", "Acme", "Remote")
	fresh := posting("fresh", "Data Scientist", "Acme", "Remote")

	out, _, err := Run(context.Background(), nil, Deps{Known: []jobs.JobPosting{stored}}, []Filter{NewDuplicates()}, []jobs.JobPosting{again, fresh})
	require.NoError(t, err)

	assert.True(t, out[0].IsCanonical(), "re-ingested posting must not duplicate itself")
	assert.Equal(t, "stored", out[1].CanonicalID)
}

func TestIndexIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	dup := posting("x", "A", "B", "C")
	require.NoError(t, dup.MarkDuplicate("y"))

	ix := NewIndex(0.8)
	ix.Add(dup)
	_, _, ok := ix.Find(posting("z", "A", "B", "C"))
	assert.False(t, ok)
}

func TestExclusions(t *testing.T) {
	t.Parallel()

	core, observed := observer.New(zapcore.InfoLevel)
	deps := Deps{Logger: zap.New(core)}

	a := posting("a", "ML Engineer", "Acme", "Berlin")
	b := posting("b", "ML Engineer", "Shady  Corp", "Berlin")
	c := posting("c", "ML Engineer (unpaid)", "Good", "Berlin")

	cfg := DefaultConfig()
	cfg.RedFlags = []string{" Unpaid ", ""}
	cfg.ExcludedCompanies = []string{"shady corp"}

	out, steps, err := Run(context.Background(), cfg, deps, []Filter{NewRedFlags(), NewExcludedCompanies()}, []jobs.JobPosting{a, b, c})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, 1, steps[0].Dropped)
	assert.Equal(t, 1, steps[1].Dropped)

	entries := observed.FilterMessage("excluding postings by company").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["postings_left"])
}

func TestRunSkipsDisabledAndValidates(t *testing.T) {
	t.Parallel()

	steps := Default()
	DisableByName(steps, "quality", "testing")

	low := jobs.JobPosting{ID: "low", Title: "x"}
	out, report, err := Run(context.Background(), nil, Deps{}, steps, []jobs.JobPosting{low})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	require.Len(t, report, 3)
	assert.Equal(t, "duplicates", report[2].Name)

	statuses := Describe(steps)
	require.Len(t, statuses, 4)
	assert.False(t, statuses[0].Enabled)
	assert.Equal(t, "testing", statuses[0].Reason)

	bad := DefaultConfig()
	bad.DuplicateThreshold = 0
	_, _, err = Run(context.Background(), bad, Deps{}, Default(), nil)
	require.Error(t, err)
}
