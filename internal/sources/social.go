package sources

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// SocialConfig configures a hashtag search source. Hashtags are used when the
// query carries none.
type SocialConfig struct {
	ID       string
	URL      string
	Token    string
	Hashtags []string
	Clock    clock.Clock
}

// Social searches a posts feed by hashtag. Posts are free text, so everything
// except the id, author and date is left to the normalizer.
type Social struct {
	id       string
	url      string
	hashtags []string
	client   *client
	clock    clock.Clock
	logger   *zap.Logger
}

func NewSocial(cfg SocialConfig, log *zap.Logger) (*Social, error) {
	if strings.TrimSpace(cfg.ID) == "" || strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("social source needs an id and a url")
	}
	log = logger.WithFields(logger.OrNop(log), logger.Source(cfg.ID))
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Social{
		id:       cfg.ID,
		url:      cfg.URL,
		hashtags: normalizeHashtags(cfg.Hashtags),
		client:   newClient(cfg.Token, log),
		clock:    c,
		logger:   log,
	}, nil
}

func (s *Social) ID() string            { return s.id }
func (s *Social) Kind() jobs.SourceKind { return jobs.KindSocial }

type socialParams struct {
	Tags  []string `param:"tag"`
	Page  int      `param:"page"`
	Limit int      `param:"limit"`
}

type socialPost struct {
	ID        string   `json:"id"`
	Author    string   `json:"author"`
	Text      string   `json:"text"`
	URL       string   `json:"url"`
	CreatedAt string   `json:"created_at"`
	Hashtags  []string `json:"hashtags"`
}

type socialResponse struct {
	Posts []socialPost `json:"posts"`
}

func (s *Social) Fetch(ctx context.Context, q Query, p Pagination) ([]jobs.RawPosting, error) {
	tags := normalizeHashtags(q.Hashtags)
	if len(tags) == 0 {
		tags = s.hashtags
	}
	if len(tags) == 0 {
		s.logger.Debug("no hashtags to search")
		return nil, nil
	}

	var response socialResponse
	params := socialParams{Tags: tags, Page: p.Page, Limit: p.PerPage}
	if err := s.client.getJSON(ctx, s.url, buildParams(params), &response); err != nil {
		return nil, err
	}

	fetched := s.clock.Now().UTC()
	postings := make([]jobs.RawPosting, 0, len(response.Posts))
	for _, post := range response.Posts {
		if strings.TrimSpace(post.Text) == "" {
			continue
		}
		postings = append(postings, jobs.RawPosting{
			SourceID:    s.id,
			Description: post.Text,
			URL:         post.URL,
			FetchedAt:   fetched,
			Payload: jobs.SocialPayload{
				PostID:   post.ID,
				Author:   post.Author,
				Hashtags: normalizeHashtags(post.Hashtags),
				PostedAt: parseTime(post.CreatedAt),
			},
		})
	}
	return postings, nil
}

// normalizeHashtags lowercases tags and strips the leading '#'.
func normalizeHashtags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
