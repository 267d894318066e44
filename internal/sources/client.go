package sources

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	userAgent       = "jobmatch/aggregator"
	defaultTimeout  = 10 * time.Second
)

// client is the HTTP plumbing shared by the pull adapters.
type client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
}

func newClient(token string, log *zap.Logger) *client {
	return &client{
		token:      token,
		logger:     logger.OrNop(log),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		UserAgent:  userAgent,
	}
}

func (c *client) setHeaders(req *http.Request) *http.Request {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

// get performs a GET and returns the decoded body. Any transport failure or
// non-200 status is reported as jobs.ErrSourceUnavailable, except 429 which is
// jobs.ErrRateLimited.
func (c *client) get(ctx context.Context, rawURL string, q url.Values, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrSourceUnavailable, err)
	}

	req = c.setHeaders(req)
	req.Header.Set("Accept", accept)
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	c.logger.Debug("make request", zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", jobs.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", jobs.ErrRateLimited, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: bad status: %s", jobs.ErrSourceUnavailable, resp.Status)
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", jobs.ErrSourceUnavailable, err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", jobs.ErrSourceUnavailable, err)
	}
	return data, nil
}

func (c *client) getJSON(ctx context.Context, rawURL string, q url.Values, target any) error {
	data, err := c.get(ctx, rawURL, q, contentType)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: decoding response: %v", jobs.ErrSourceUnavailable, err)
	}
	return nil
}

// buildParams turns a params struct into query values. The "param" tag names
// the key; empty strings, zero numbers and empty slices are omitted and slices
// add one value per element.
func buildParams(params any) url.Values {
	q := url.Values{}
	v := reflect.Indirect(reflect.ValueOf(params))
	for _, field := range reflect.VisibleFields(v.Type()) {
		key := field.Tag.Get("param")
		if key == "" {
			continue
		}
		value := v.FieldByIndex(field.Index)
		switch value.Kind() {
		case reflect.Slice:
			for i := 0; i < value.Len(); i++ {
				q.Add(key, fmt.Sprintf("%v", value.Index(i).Interface()))
			}
		case reflect.Int, reflect.Int64:
			if n := value.Int(); n != 0 {
				q.Set(key, strconv.FormatInt(n, 10))
			}
		default:
			if s := fmt.Sprintf("%v", value.Interface()); s != "" {
				q.Set(key, s)
			}
		}
	}
	return q
}

// parseTime accepts RFC 3339 timestamps and plain dates. Unparseable values
// yield the zero time.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
