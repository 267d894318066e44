package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// SearchAPIConfig configures a keyword search API source.
type SearchAPIConfig struct {
	ID    string
	URL   string
	Token string
	Clock clock.Clock
}

// SearchAPI queries a JSON search endpoint that returns loosely typed items.
type SearchAPI struct {
	id     string
	url    string
	client *client
	clock  clock.Clock
	logger *zap.Logger
}

func NewSearchAPI(cfg SearchAPIConfig, log *zap.Logger) (*SearchAPI, error) {
	if strings.TrimSpace(cfg.ID) == "" || strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("search api source needs an id and a url")
	}
	log = logger.WithFields(logger.OrNop(log), logger.Source(cfg.ID))
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	return &SearchAPI{
		id:     cfg.ID,
		url:    cfg.URL,
		client: newClient(cfg.Token, log),
		clock:  c,
		logger: log,
	}, nil
}

func (s *SearchAPI) ID() string            { return s.id }
func (s *SearchAPI) Kind() jobs.SourceKind { return jobs.KindSearchAPI }

type searchParams struct {
	What    string `param:"what"`
	Where   string `param:"where"`
	Page    int    `param:"page"`
	PerPage int    `param:"per_page"`
}

type searchResponse struct {
	Items   []map[string]any `json:"items"`
	Found   int              `json:"found"`
	Pages   int              `json:"pages"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

type searchItem struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Company      string   `json:"company"`
	Location     string   `json:"location"`
	Description  string   `json:"description"`
	URL          string   `json:"url"`
	SalaryMin    float64  `json:"salary_min"`
	SalaryMax    float64  `json:"salary_max"`
	Currency     string   `json:"currency"`
	ContractType string   `json:"contract_type"`
	Created      string   `json:"created"`
	Tags         []string `json:"tags"`
}

// Fetch requests one page. Items that cannot be decoded are skipped.
func (s *SearchAPI) Fetch(ctx context.Context, q Query, p Pagination) ([]jobs.RawPosting, error) {
	params := searchParams{What: q.Text(), Where: q.Location, Page: p.Page, PerPage: p.PerPage}

	var response searchResponse
	if err := s.client.getJSON(ctx, s.url, buildParams(params), &response); err != nil {
		return nil, err
	}
	s.logger.Debug("got search response",
		zap.Int("page", response.Page),
		zap.Int("pages", response.Pages),
		zap.Int("found", response.Found),
	)

	fetched := s.clock.Now().UTC()
	postings := make([]jobs.RawPosting, 0, len(response.Items))
	for i, raw := range response.Items {
		item, err := decodeItem(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable item", zap.Int("index", i), zap.Error(err))
			continue
		}
		postings = append(postings, jobs.RawPosting{
			SourceID:    s.id,
			Title:       item.Title,
			Description: item.Description,
			URL:         item.URL,
			FetchedAt:   fetched,
			Payload: jobs.SearchAPIPayload{
				ID:           item.ID,
				Company:      item.Company,
				Location:     item.Location,
				SalaryMin:    item.SalaryMin,
				SalaryMax:    item.SalaryMax,
				Currency:     item.Currency,
				ContractType: item.ContractType,
				PostedAt:     parseTime(item.Created),
				Tags:         item.Tags,
			},
		})
	}
	return postings, nil
}

// decodeItem maps a loosely typed item onto searchItem. Numbers given as
// strings and ids given as numbers are both accepted.
func decodeItem(raw map[string]any) (searchItem, error) {
	var item searchItem
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &item,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return item, err
	}
	if err := decoder.Decode(raw); err != nil {
		return item, err
	}
	return item, nil
}
