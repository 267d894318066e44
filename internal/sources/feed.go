package sources

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// ErrFeedFull is returned by Push when the buffer cannot take more postings.
var ErrFeedFull = errors.New("feed buffer is full")

const defaultFeedCapacity = 1000

// FeedItem is one pushed posting.
type FeedItem struct {
	ExternalID  string   `json:"external_id"`
	Title       string   `json:"title" binding:"required"`
	Company     string   `json:"company"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Location    string   `json:"location"`
	JobType     string   `json:"job_type"`
	Level       string   `json:"level"`
	SalaryMin   float64  `json:"salary_min" binding:"gte=0"`
	SalaryMax   float64  `json:"salary_max" binding:"gte=0"`
	Currency    string   `json:"currency"`
	Skills      []string `json:"skills"`
	PostedAt    string   `json:"posted_at"`
}

type feedRequest struct {
	Postings []FeedItem `json:"postings" binding:"required,dive"`
}

// Feed buffers postings pushed over HTTP until the next aggregation drains
// them.
type Feed struct {
	id       string
	capacity int
	clock    clock.Clock
	logger   *zap.Logger

	mu  sync.Mutex
	buf []jobs.RawPosting
}

func NewFeed(id string, capacity int, c clock.Clock, log *zap.Logger) *Feed {
	if capacity <= 0 {
		capacity = defaultFeedCapacity
	}
	if c == nil {
		c = clock.Real()
	}
	return &Feed{
		id:       id,
		capacity: capacity,
		clock:    c,
		logger:   logger.WithFields(logger.OrNop(log), logger.Source(id)),
	}
}

func (f *Feed) ID() string            { return f.id }
func (f *Feed) Kind() jobs.SourceKind { return jobs.KindFeed }

// Len reports the number of buffered postings.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

// Push buffers items in order. When the buffer fills up the remaining items
// are rejected and ErrFeedFull is returned with the accepted count.
func (f *Feed) Push(items []FeedItem) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now().UTC()
	accepted := 0
	for _, item := range items {
		if len(f.buf) >= f.capacity {
			return accepted, ErrFeedFull
		}
		f.buf = append(f.buf, jobs.RawPosting{
			SourceID:    f.id,
			Title:       strings.TrimSpace(item.Title),
			Description: item.Description,
			URL:         item.URL,
			FetchedAt:   now,
			Payload: jobs.FeedPayload{
				ExternalID: item.ExternalID,
				Company:    item.Company,
				Location:   item.Location,
				JobType:    item.JobType,
				Level:      item.Level,
				SalaryMin:  item.SalaryMin,
				SalaryMax:  item.SalaryMax,
				Currency:   item.Currency,
				Skills:     item.Skills,
				PostedAt:   parseTime(item.PostedAt),
			},
		})
		accepted++
	}
	return accepted, nil
}

// Fetch drains up to PerPage buffered postings, all of them when PerPage is
// not positive. The query is ignored.
func (f *Feed) Fetch(ctx context.Context, _ Query, p Pagination) ([]jobs.RawPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.buf)
	if p.PerPage > 0 && p.PerPage < n {
		n = p.PerPage
	}
	out := make([]jobs.RawPosting, n)
	copy(out, f.buf[:n])
	f.buf = append(f.buf[:0:0], f.buf[n:]...)
	return out, nil
}

// Handle accepts {"postings": [...]} and answers 202 with the accepted count,
// or 503 when the buffer overflowed.
func (f *Feed) Handle(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid postings: " + err.Error()})
		return
	}

	accepted, err := f.Push(req.Postings)
	if err != nil {
		f.logger.Warn("feed overflow", zap.Int("accepted", accepted), zap.Int("rejected", len(req.Postings)-accepted))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "accepted": accepted})
		return
	}
	f.logger.Debug("feed postings accepted", zap.Int("accepted", accepted))
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted})
}

// Routes registers POST /feeds/:id/postings for every feed and GET /healthz.
func Routes(r gin.IRouter, feeds ...*Feed) {
	byID := make(map[string]*Feed, len(feeds))
	for _, f := range feeds {
		byID[f.id] = f
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := r.Group("/feeds")
	{
		group.POST("/:id/postings", func(c *gin.Context) {
			f, ok := byID[c.Param("id")]
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown feed"})
				return
			}
			f.Handle(c)
		})
	}
}
