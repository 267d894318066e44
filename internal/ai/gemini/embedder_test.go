package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
)

func vectorJSON(n int, value string) string {
	items := make([]string, n)
	for i := range items {
		items[i] = value
	}
	return fmt.Sprintf(`{"embedding": [%s]}`, strings.Join(items, ","))
}

func TestEmbedderAcceptsValidVector(t *testing.T) {
	stub := &stubGenerator{response: vectorJSON(8, "0.25")}
	emb, err := NewEmbedder(stub, 8, zap.NewNop())
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}

	vec, err := emb.Embed(context.Background(), "ml engineer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 8 || vec[0] != 0.25 {
		t.Fatalf("unexpected vector: %v", vec)
	}
	if !stub.last.JSON || !strings.Contains(stub.last.SystemPrompt, "exactly 8 numbers") {
		t.Fatalf("unexpected request: %+v", stub.last)
	}
}

func TestEmbedderRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"wrong length":  vectorJSON(7, "0.1"),
		"out of range":  vectorJSON(8, "1.5"),
		"not numbers":   vectorJSON(8, `"x"`),
		"missing field": `{"vector": []}`,
		"not json":      "no embedding today",
	}

	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			emb, err := NewEmbedder(&stubGenerator{response: response}, 8, nil)
			if err != nil {
				t.Fatalf("new embedder: %v", err)
			}
			_, err = emb.Embed(context.Background(), "text")
			if !errors.Is(err, jobs.ErrEmbeddingInvalid) {
				t.Fatalf("expected ErrEmbeddingInvalid, got %v", err)
			}
		})
	}
}

func TestEmbedderPassesThroughGeneratorErrors(t *testing.T) {
	boom := errors.New("unavailable")
	emb, err := NewEmbedder(&stubGenerator{err: boom}, 8, nil)
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	if _, err := emb.Embed(context.Background(), "text"); !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}

	if _, err := NewEmbedder(nil, 8, nil); err == nil {
		t.Fatal("expected error for nil generator")
	}
}
