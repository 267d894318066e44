package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/jobmatch/internal/apply"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/store"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Matching.SimilarityThreshold)
	assert.Equal(t, "cluster_cosine", cfg.Matching.Metric)
	assert.Equal(t, 20, cfg.Matching.Limit)
	assert.Equal(t, 10, cfg.Matching.ClusterMinResults)
	assert.Equal(t, 0.6, cfg.Quality.QualityFloor)
	assert.Equal(t, 0.8, cfg.Quality.DuplicateThreshold)
	assert.Equal(t, 10, cfg.Quality.MinDescriptionWords)
	assert.Equal(t, 10, cfg.Apply.LimitPerDay)
	assert.Equal(t, 5*time.Second, cfg.Apply.BatchDelay)
	assert.Equal(t, 10, cfg.Embedding.CallsPerMinute)
	assert.Equal(t, 6*time.Second, cfg.Embedding.MinSpacing)
	assert.Equal(t, 4, cfg.Embedding.MaxQueue)
	assert.Equal(t, 8*time.Second, cfg.Embedding.WaitTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Embedding.CacheTTL)
	assert.Equal(t, store.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "@every 6h", cfg.Schedule.Spec)
	assert.Equal(t, 30*24*time.Hour, cfg.Schedule.ExpireAfter)
	assert.Empty(t, cfg.Sources)
	assert.Empty(t, cfg.Profiles())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "jobmatch.yaml", `
matching:
  similarity-threshold: 0.55
  metric: hybrid
apply:
  limit-per-day: 3
  batch-delay: 2s
  endpoints:
    company_direct: https://apply.example.com/ats
filters:
  red-flags: ["unpaid"]
  excluded-companies: ["Initech"]
applicant:
  full-name: Alice Doe
  email: alice@example.com
  resume-url: https://cv.example.com/alice.pdf
applicants:
  bob:
    full-name: Bob Roe
    email: bob@example.com
    resume-url: https://cv.example.com/bob.pdf
sources:
  - id: board
    kind: search_api
    url: https://api.example.com/jobs
    rate-limit-per-window: 30
    window: 1m
    max-pages: 3
  - id: acme
    kind: career_site
    url: https://acme.example.com/careers
    company: Acme
    active: false
    selectors:
      item: div.role
  - id: hook
    kind: feed
    capacity: 50
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 0.55, cfg.Matching.SimilarityThreshold)
	assert.Equal(t, "hybrid", cfg.Matching.Metric)
	assert.Equal(t, 3, cfg.ApplyConfig().LimitPerDay)
	assert.Equal(t, 2*time.Second, cfg.ApplyConfig().BatchDelay)
	assert.Equal(t, "https://apply.example.com/ats", cfg.ApplyEndpoints()[apply.MethodCompanyDirect])

	f := cfg.Filtering()
	assert.Equal(t, []string{"unpaid"}, f.RedFlags)
	assert.Equal(t, []string{"Initech"}, f.ExcludedCompanies)
	assert.Equal(t, 0.6, f.QualityFloor)

	profiles := cfg.Profiles()
	assert.Equal(t, "Alice Doe", profiles[apply.AnyUser].FullName)
	assert.Equal(t, "Bob Roe", profiles["bob"].FullName)

	require.Len(t, cfg.Sources, 3)
	board := cfg.Sources[0].Job()
	assert.Equal(t, jobs.KindSearchAPI, board.Kind)
	assert.Equal(t, 30, board.RateLimitPerWindow)
	assert.Equal(t, time.Minute, board.Window)
	assert.True(t, board.IsActive)
	assert.Equal(t, 3, cfg.Sources[0].Options().MaxPages)

	acme := cfg.Sources[1]
	assert.False(t, acme.IsActive())
	sel := acme.CareerSelectors()
	assert.Equal(t, "div.role", sel.Item)
	assert.Equal(t, "a", sel.Link)

	assert.Equal(t, 50, cfg.Sources[2].Capacity)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JOBMATCH_MATCHING_SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("JOBMATCH_APPLY_LIMIT_PER_DAY", "25")
	t.Setenv("JOBMATCH_STORAGE_DRIVER", "memory")
	t.Setenv("JOBMATCH_SCHEDULE_SPEC", "0 */2 * * *")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Matching.SimilarityThreshold)
	assert.Equal(t, 25, cfg.Apply.LimitPerDay)
	assert.Equal(t, store.DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "0 */2 * * *", cfg.Schedule.Spec)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"threshold":       "matching:\n  similarity-threshold: 1.5\n",
		"metric":          "matching:\n  metric: jaccard\n",
		"driver":          "storage:\n  driver: mongo\n",
		"limit":           "apply:\n  limit-per-day: 0\n",
		"endpoint method": "apply:\n  endpoints:\n    fax: https://x.example.com\n",
		"source kind":     "sources:\n  - id: x\n    kind: rss\n    url: https://x.example.com\n",
		"source url":      "sources:\n  - id: x\n    kind: search_api\n",
		"duplicate ids":   "sources:\n  - id: x\n    kind: feed\n  - id: x\n    kind: feed\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(viper.New(), writeFile(t, "jobmatch.yaml", body))
			require.Error(t, err)
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "JOBMATCH_TEST_DOTENV=from-file\n")
	t.Setenv("JOBMATCH_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("JOBMATCH_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("JOBMATCH_TEST_DOTENV"))
}
