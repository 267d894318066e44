package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/clock"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// Selectors locate postings on a careers page. Item selects one posting; the
// other selectors are evaluated inside it.
type Selectors struct {
	Item        string `mapstructure:"item"`
	Title       string `mapstructure:"title"`
	Location    string `mapstructure:"location"`
	Department  string `mapstructure:"department"`
	Link        string `mapstructure:"link"`
	Description string `mapstructure:"description"`
}

// DefaultSelectors fit the common "ul.jobs > li" layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:        ".job, .opening, li.posting",
		Title:       "h2, h3, .title",
		Location:    ".location",
		Department:  ".department",
		Link:        "a",
		Description: ".description",
	}
}

type CareerSiteConfig struct {
	ID        string
	URL       string
	Company   string
	Selectors Selectors
	Clock     clock.Clock
}

// CareerSite scrapes a single company careers page. The page has no
// pagination, so only page 0 returns postings.
type CareerSite struct {
	id        string
	base      *url.URL
	company   string
	selectors Selectors
	client    *client
	clock     clock.Clock
	logger    *zap.Logger
}

func NewCareerSite(cfg CareerSiteConfig, log *zap.Logger) (*CareerSite, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return nil, fmt.Errorf("career site source needs an id")
	}
	base, err := url.Parse(cfg.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("career site %s: invalid url %q", cfg.ID, cfg.URL)
	}
	sel := cfg.Selectors
	if sel.Item == "" {
		sel = DefaultSelectors()
	}
	log = logger.WithFields(logger.OrNop(log), logger.Source(cfg.ID))
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	return &CareerSite{
		id:        cfg.ID,
		base:      base,
		company:   cfg.Company,
		selectors: sel,
		client:    newClient("", log),
		clock:     c,
		logger:    log,
	}, nil
}

func (s *CareerSite) ID() string            { return s.id }
func (s *CareerSite) Kind() jobs.SourceKind { return jobs.KindCareerSite }

// Fetch scrapes the page and keeps the postings mentioning any query keyword.
func (s *CareerSite) Fetch(ctx context.Context, q Query, p Pagination) ([]jobs.RawPosting, error) {
	if p.Page > 0 {
		return nil, nil
	}

	body, err := s.client.get(ctx, s.base.String(), nil, "text/html")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing html: %v", jobs.ErrSourceUnavailable, err)
	}

	fetched := s.clock.Now().UTC()
	var postings []jobs.RawPosting
	doc.Find(s.selectors.Item).Each(func(_ int, item *goquery.Selection) {
		title := text(item, s.selectors.Title)
		if title == "" {
			return
		}
		description := s.description(item)
		if !matchesKeywords(q.Keywords, title, description) {
			return
		}

		link := s.link(item)
		path := link
		if u, err := url.Parse(link); err == nil && u.Path != "" {
			path = u.Path
		}
		postings = append(postings, jobs.RawPosting{
			SourceID:    s.id,
			Title:       title,
			Description: description,
			URL:         link,
			FetchedAt:   fetched,
			Payload: jobs.CareerSitePayload{
				Company:    s.company,
				Location:   text(item, s.selectors.Location),
				Department: text(item, s.selectors.Department),
				Path:       path,
			},
		})
	})

	s.logger.Debug("scraped careers page", zap.Int("postings", len(postings)))
	return postings, nil
}

// description converts the description markup to markdown, falling back to
// the plain text when conversion fails.
func (s *CareerSite) description(item *goquery.Selection) string {
	if s.selectors.Description == "" {
		return ""
	}
	sel := item.Find(s.selectors.Description).First()
	html, err := sel.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return strings.TrimSpace(sel.Text())
	}
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return strings.TrimSpace(sel.Text())
	}
	return strings.TrimSpace(md)
}

func (s *CareerSite) link(item *goquery.Selection) string {
	if s.selectors.Link == "" {
		return ""
	}
	href, ok := item.Find(s.selectors.Link).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return s.base.ResolveReference(ref).String()
}

func text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(item.Find(selector).First().Text()), " ")
}
