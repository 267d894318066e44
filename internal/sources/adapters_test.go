package sources

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
)

var fetchedAt = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

const searchBody = `{
  "items": [
    {"id": 123, "title": "ML Engineer", "company": "Acme", "location": "Berlin",
     "description": "PyTorch and AWS", "url": "https://jobs.example/123",
     "salary_min": "120000", "salary_max": 150000, "currency": "USD",
     "contract_type": "full-time", "created": "2026-04-28T10:00:00Z", "tags": ["pytorch", "aws"]},
    {"id": {"nested": true}, "title": "broken"}
  ],
  "found": 2, "pages": 1, "page": 0, "per_page": 50
}`

func TestSearchAPIFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "ml engineer", r.URL.Query().Get("what"))
		assert.Equal(t, "Berlin", r.URL.Query().Get("where"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		assert.Empty(t, r.URL.Query().Get("page"), "page 0 is omitted")

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(searchBody))
		_ = gz.Close()
	}))
	defer srv.Close()

	api, err := NewSearchAPI(SearchAPIConfig{ID: "board", URL: srv.URL, Token: "secret", Clock: clock.NewFake(fetchedAt)}, nil)
	require.NoError(t, err)

	postings, err := api.Fetch(context.Background(), Query{Keywords: []string{"ml", "engineer"}, Location: "Berlin"}, Pagination{PerPage: 50})
	require.NoError(t, err)
	require.Len(t, postings, 1, "undecodable items are skipped")

	p := postings[0]
	assert.Equal(t, "board", p.SourceID)
	assert.Equal(t, "ML Engineer", p.Title)
	assert.Equal(t, "https://jobs.example/123", p.URL)
	assert.Equal(t, fetchedAt, p.FetchedAt)
	assert.Equal(t, jobs.SearchAPIPayload{
		ID:           "123",
		Company:      "Acme",
		Location:     "Berlin",
		SalaryMin:    120000,
		SalaryMax:    150000,
		Currency:     "USD",
		ContractType: "full-time",
		PostedAt:     time.Date(2026, 4, 28, 10, 0, 0, 0, time.UTC),
		Tags:         []string{"pytorch", "aws"},
	}, p.Payload)
}

func TestSearchAPIFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		handler http.HandlerFunc
		want    error
	}{
		"server error": {
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    jobs.ErrSourceUnavailable,
		},
		"throttled": {
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    jobs.ErrRateLimited,
		},
		"malformed body": {
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>")) },
			want:    jobs.ErrSourceUnavailable,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			api, err := NewSearchAPI(SearchAPIConfig{ID: "board", URL: srv.URL}, nil)
			require.NoError(t, err)
			_, err = api.Fetch(context.Background(), Query{}, Pagination{})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	api, err := NewSearchAPI(SearchAPIConfig{ID: "board", URL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	_, err = api.Fetch(context.Background(), Query{}, Pagination{})
	assert.ErrorIs(t, err, jobs.ErrSourceUnavailable, "connection refused")

	_, err = NewSearchAPI(SearchAPIConfig{ID: "board"}, nil)
	assert.Error(t, err)
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	q := buildParams(socialParams{Tags: []string{"hiring", "mljobs"}, Page: 2})
	assert.Equal(t, []string{"hiring", "mljobs"}, q["tag"])
	assert.Equal(t, "2", q.Get("page"))
	assert.False(t, q.Has("limit"))
}

func TestSocialFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"hiring", "aijobs"}, r.URL.Query()["tag"])
		_, _ = w.Write([]byte(`{"posts": [
			{"id": "p1", "author": "recruiter", "text": "We're hiring a Senior ML Engineer at Acme (Remote)",
			 "url": "https://social.example/p1", "created_at": "2026-04-30T08:00:00Z", "hashtags": ["#Hiring"]},
			{"id": "p2", "text": "   "}
		]}`))
	}))
	defer srv.Close()

	social, err := NewSocial(SocialConfig{ID: "social", URL: srv.URL, Hashtags: []string{"#unused"}}, nil)
	require.NoError(t, err)

	postings, err := social.Fetch(context.Background(), Query{Hashtags: []string{"#Hiring", "AIJobs"}}, Pagination{})
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Empty(t, postings[0].Title)
	assert.Contains(t, postings[0].Description, "Senior ML Engineer")
	assert.Equal(t, jobs.SocialPayload{
		PostID:   "p1",
		Author:   "recruiter",
		Hashtags: []string{"hiring"},
		PostedAt: time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC),
	}, postings[0].Payload)
}

func TestSocialWithoutHashtagsSkipsRequest(t *testing.T) {
	t.Parallel()

	social, err := NewSocial(SocialConfig{ID: "social", URL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	postings, err := social.Fetch(context.Background(), Query{}, Pagination{})
	require.NoError(t, err)
	assert.Empty(t, postings)
}

const careersPage = `<html><body><ul>
<li class="posting">
  <h3>Senior  ML Engineer</h3>
  <span class="location">Berlin</span>
  <span class="department">AI</span>
  <a href="/jobs/42">Apply</a>
  <div class="description"><p>Build <strong>PyTorch</strong> models.</p><ul><li>AWS</li></ul></div>
</li>
<li class="posting">
  <h3>Office Manager</h3>
  <a href="/jobs/43">Apply</a>
  <div class="description"><p>Keep the office running.</p></div>
</li>
<li class="posting"><span class="location">nowhere</span></li>
</ul></body></html>`

func TestCareerSiteFetch(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(careersPage))
	}))
	defer srv.Close()

	site, err := NewCareerSite(CareerSiteConfig{ID: "acme-careers", URL: srv.URL + "/careers", Company: "Acme"}, nil)
	require.NoError(t, err)

	postings, err := site.Fetch(context.Background(), Query{Keywords: []string{"PyTorch"}}, Pagination{})
	require.NoError(t, err)
	require.Len(t, postings, 1)

	p := postings[0]
	assert.Equal(t, "Senior ML Engineer", p.Title)
	assert.Equal(t, srv.URL+"/jobs/42", p.URL)
	assert.Contains(t, p.Description, "**PyTorch**")
	assert.Contains(t, p.Description, "AWS")
	assert.NotContains(t, p.Description, "<p>")
	assert.Equal(t, jobs.CareerSitePayload{
		Company:    "Acme",
		Location:   "Berlin",
		Department: "AI",
		Path:       "/jobs/42",
	}, p.Payload)

	all, err := site.Fetch(context.Background(), Query{}, Pagination{})
	require.NoError(t, err)
	assert.Len(t, all, 2, "postings without a title are skipped")

	more, err := site.Fetch(context.Background(), Query{}, Pagination{Page: 1})
	require.NoError(t, err)
	assert.Empty(t, more)
	assert.Equal(t, int32(2), requests.Load(), "later pages are not requested")

	_, err = NewCareerSite(CareerSiteConfig{ID: "x", URL: "not a url"}, nil)
	assert.Error(t, err)
}

func TestFeedPushAndDrain(t *testing.T) {
	t.Parallel()

	feed := NewFeed("hook", 2, clock.NewFake(fetchedAt), nil)
	n, err := feed.Push([]FeedItem{
		{ExternalID: "a", Title: " ML Engineer ", Level: "senior", SalaryMin: 100, Currency: "USD"},
		{ExternalID: "b", Title: "Data Scientist"},
		{ExternalID: "c", Title: "Dropped"},
	})
	assert.ErrorIs(t, err, ErrFeedFull)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, feed.Len())

	first, err := feed.Fetch(context.Background(), Query{}, Pagination{PerPage: 1})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "ML Engineer", first[0].Title)
	assert.Equal(t, fetchedAt, first[0].FetchedAt)
	hints := first[0].Payload.Hints()
	assert.Equal(t, jobs.LevelSenior, hints.ExperienceLevel)
	assert.Equal(t, &jobs.SalaryRange{Min: 100, Max: 100, Currency: "USD"}, hints.Salary)

	rest, err := feed.Fetch(context.Background(), Query{}, Pagination{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", rest[0].Payload.Hints().NativeID)
	assert.Zero(t, feed.Len())
}

func TestFeedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	feed := NewFeed("hook", 1, nil, nil)
	r := gin.New()
	Routes(r, feed)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodPost, "/feeds/hook/postings", `{"postings": [{"title": "ML Engineer", "external_id": "1"}]}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"accepted": 1}`, w.Body.String())

	w = do(http.MethodPost, "/feeds/hook/postings", `{"postings": [{"title": "Overflow"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(http.MethodPost, "/feeds/hook/postings", `{"postings": [{"company": "no title"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPost, "/feeds/hook/postings", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPost, "/feeds/other/postings", `{"postings": []}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 1, feed.Len())
	assert.True(t, strings.Contains(w.Body.String(), "unknown feed"))
}
