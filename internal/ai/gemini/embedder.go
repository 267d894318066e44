package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/ai"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
)

const embedderSystemPrompt = `You are a semantic embedding function for job matching.
Return only a JSON object {"embedding": [...]} containing exactly %d numbers between -1 and 1
that encode the meaning of the user's text. Similar texts must produce similar vectors.`

const embeddingSchema = `{
  "type": "object",
  "required": ["embedding"],
  "properties": {
    "embedding": {
      "type": "array",
      "minItems": %d,
      "maxItems": %d,
      "items": {"type": "number", "minimum": -1, "maximum": 1}
    }
  }
}`

// Embedder obtains embeddings by prompting the model for a JSON vector.
type Embedder struct {
	generator ai.Generator
	dim       int
	schema    *gojsonschema.Schema
	logger    *zap.Logger
}

func NewEmbedder(generator ai.Generator, dim int, log *zap.Logger) (*Embedder, error) {
	if generator == nil {
		return nil, errors.New("generator is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(fmt.Sprintf(embeddingSchema, dim, dim)))
	if err != nil {
		return nil, fmt.Errorf("compile embedding schema: %w", err)
	}

	return &Embedder{generator: generator, dim: dim, schema: schema, logger: logger.OrNop(log)}, nil
}

// Embed returns the raw vector reported by the model. Any response that does
// not match the schema is reported as jobs.ErrEmbeddingInvalid.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("text is empty")
	}

	raw, err := e.generator.Generate(ctx, ai.Request{
		SystemPrompt: fmt.Sprintf(embedderSystemPrompt, e.dim),
		UserText:     text,
		Temperature:  0.1,
		MaxTokens:    int32(e.dim * 12),
		JSON:         true,
	})
	if err != nil {
		return nil, err
	}

	return e.parse(raw)
}

func (e *Embedder) parse(raw string) ([]float32, error) {
	doc := extractJSON(raw)

	result, err := e.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrEmbeddingInvalid, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		e.logger.Debug("embedding response rejected", zap.Strings("violations", msgs))
		return nil, fmt.Errorf("%w: %s", jobs.ErrEmbeddingInvalid, strings.Join(msgs, "; "))
	}

	data, err := decodeObject(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jobs.ErrEmbeddingInvalid, err)
	}

	items, _ := data["embedding"].([]any)
	vec := make([]float32, len(items))
	for i, item := range items {
		vec[i] = float32(coerceFloat(item))
	}
	return vec, nil
}
