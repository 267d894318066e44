package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

// ErrRequiresManual is returned by a Submitter when the target accepted the
// request but needs a human to finish the application.
var ErrRequiresManual = errors.New("requires manual application")

// Submission is one application sent to a third party.
type Submission struct {
	UserID  string
	Method  Method
	Job     jobs.JobPosting
	Profile Profile
}

// Submitter performs the single external call of an apply attempt. It
// returns nil on success, ErrRequiresManual, or an error wrapping
// jobs.ErrApplyFailed.
type Submitter interface {
	Submit(ctx context.Context, s Submission) error
}

const userAgent = "jobmatch/apply"

// HTTPSubmitter posts multipart forms to one endpoint per method.
type HTTPSubmitter struct {
	endpoints  map[Method]string
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
}

func NewHTTPSubmitter(endpoints map[Method]string, token string, log *zap.Logger) *HTTPSubmitter {
	return &HTTPSubmitter{
		endpoints:  endpoints,
		token:      token,
		logger:     logger.OrNop(log),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		UserAgent:  userAgent,
	}
}

func (h *HTTPSubmitter) Submit(ctx context.Context, s Submission) error {
	endpoint := strings.TrimSpace(h.endpoints[s.Method])
	if endpoint == "" {
		return fmt.Errorf("%w: no endpoint configured for %s", ErrRequiresManual, s.Method)
	}

	data := map[string]string{
		"user_id":      s.UserID,
		"job_id":       s.Job.ID,
		"job_url":      s.Job.ExternalURL,
		"title":        s.Job.Title,
		"company":      s.Job.Company,
		"full_name":    s.Profile.FullName,
		"email":        s.Profile.Email,
		"phone":        s.Profile.Phone,
		"resume_url":   s.Profile.ResumeURL,
		"cover_letter": s.Profile.CoverLetter,
	}
	return h.postFormData(ctx, endpoint, data)
}

func (h *HTTPSubmitter) postFormData(ctx context.Context, endpoint string, data map[string]string) error {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for key, val := range data {
		if val == "" {
			continue
		}
		field, err := w.CreateFormField(key)
		if err != nil {
			return fmt.Errorf("%w: %v", jobs.ErrApplyFailed, err)
		}
		if _, err = io.Copy(field, strings.NewReader(val)); err != nil {
			return fmt.Errorf("%w: %v", jobs.ErrApplyFailed, err)
		}
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &b)
	if err != nil {
		return fmt.Errorf("%w: %v", jobs.ErrApplyFailed, err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", h.token))
	}
	req.Header.Set("User-Agent", h.UserAgent)
	req.Header.Set("Content-Type", w.FormDataContentType())

	h.logger.Debug("make request", zap.String("url", endpoint))
	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", jobs.ErrApplyFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnprocessableEntity,
		resp.StatusCode == http.StatusPreconditionRequired:
		return fmt.Errorf("%w: %s", ErrRequiresManual, resp.Status)
	default:
		return fmt.Errorf("%w: bad status: %s", jobs.ErrApplyFailed, resp.Status)
	}
}
