// Package ai defines the contract between the engine and LLM providers.
package ai

import "context"

// Request is one completion call.
type Request struct {
	Model        string
	SystemPrompt string
	UserText     string
	Temperature  float32
	MaxTokens    int32
	// JSON asks the provider for a JSON-only response.
	JSON bool
}

// Generator produces a text completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Model() string
}

// PostingFields are the structured fields an LLM extracted from free text.
// Empty values mean the model could not tell.
type PostingFields struct {
	Title           string   `json:"title"`
	Company         string   `json:"company"`
	Location        string   `json:"location"`
	ExperienceLevel string   `json:"experience_level"`
	JobType         string   `json:"job_type"`
	Remote          string   `json:"remote"`
	Skills          []string `json:"skills"`
	SalaryMin       float64  `json:"salary_min"`
	SalaryMax       float64  `json:"salary_max"`
	Currency        string   `json:"currency"`
}
