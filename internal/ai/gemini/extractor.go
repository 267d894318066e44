package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/logger"
)

const (
	defaultMaxLogLength = 200
	maxPostingRunes     = 6000
)

const extractorSystemPrompt = `You extract structured data from job postings.
Reply with a single JSON object with the keys: title, company, location,
experience_level (entry|mid|senior|principal), job_type (full-time|part-time|contract|internship),
remote (remote|hybrid|onsite), skills (array of strings), salary_min, salary_max, currency (ISO 4217).
Use null for anything the posting does not state. Do not guess.`

// Extractor asks the model to pull structured fields out of unstructured postings.
type Extractor struct {
	generator ai.Generator
	logger    *zap.Logger
	maxLogLen int
}

func NewExtractor(generator ai.Generator, log *zap.Logger, maxLogLength int) *Extractor {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Extractor{generator: generator, logger: logger.OrNop(log), maxLogLen: maxLogLength}
}

// Extract returns the fields found in title and description.
func (e *Extractor) Extract(ctx context.Context, title, description string) (*ai.PostingFields, error) {
	if e == nil || e.generator == nil {
		return nil, errors.New("extractor is not configured")
	}

	text := strings.TrimSpace(title + "\n\n" + description)
	if text == "" {
		return nil, errors.New("posting text is empty")
	}
	if utf8.RuneCountInString(text) > maxPostingRunes {
		text = string([]rune(text)[:maxPostingRunes])
	}

	e.logger.Debug("gemini extract request",
		zap.Int("prompt_length", utf8.RuneCountInString(text)),
		zap.String("prompt_preview", logger.TruncateForLog(text, e.maxLogLen)),
	)

	raw, err := e.generator.Generate(ctx, ai.Request{
		SystemPrompt: extractorSystemPrompt,
		UserText:     text,
		Temperature:  0.1,
		MaxTokens:    1024,
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("gemini extract response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, e.maxLogLen)),
	)

	return parseFields(raw)
}

func parseFields(raw string) (*ai.PostingFields, error) {
	data, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	fields := &ai.PostingFields{
		Title:           coerceString(data["title"]),
		Company:         coerceString(data["company"]),
		Location:        coerceString(data["location"]),
		ExperienceLevel: strings.ToLower(coerceString(data["experience_level"])),
		JobType:         strings.ToLower(coerceString(data["job_type"])),
		Remote:          strings.ToLower(coerceString(data["remote"])),
		Skills:          coerceStrings(data["skills"]),
		SalaryMin:       nonNegative(coerceFloat(data["salary_min"])),
		SalaryMax:       nonNegative(coerceFloat(data["salary_max"])),
		Currency:        strings.ToUpper(coerceString(data["currency"])),
	}
	if fields.SalaryMin > 0 && fields.SalaryMax > 0 && fields.SalaryMax < fields.SalaryMin {
		return nil, fmt.Errorf("parse gemini response: salary_max %.0f below salary_min %.0f", fields.SalaryMax, fields.SalaryMin)
	}
	return fields, nil
}
