package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/jobmatch/internal/ai"
)

type fakeModels struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []fakeCall
}

type fakeResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeCall struct {
	model  string
	text   string
	config *genai.GenerateContentConfig
}

func (f *fakeModels) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{resp: resp, err: err})
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	text := ""
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		text = contents[0].Parts[0].Text
	}
	f.calls = append(f.calls, fakeCall{model: model, text: text, config: config})

	if len(f.responses) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.responses[0]
	f.responses = f.responses[1:]
	return res.resp, res.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	original := sleep
	sleep = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { sleep = original })
}

func TestGeneratorRetriesOnTemporaryError(t *testing.T) {
	noSleep(t)

	fake := &fakeModels{}
	fake.enqueue(nil, genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"})
	fake.enqueue(textResponse("retry ok"), nil)

	g := &Generator{models: fake, model: "gemini-pro", maxRetries: 2, logger: zap.NewNop()}

	output, err := g.Generate(context.Background(), ai.Request{
		SystemPrompt: "system",
		UserText:     "message",
		Temperature:  0.1,
		MaxTokens:    256,
		JSON:         true,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != "retry ok" {
		t.Fatalf("unexpected output: %q", output)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(fake.calls))
	}

	for _, call := range fake.calls {
		if call.model != "gemini-pro" {
			t.Fatalf("unexpected model %q", call.model)
		}
		if call.config.SystemInstruction == nil || call.config.SystemInstruction.Parts[0].Text != "system" {
			t.Fatalf("expected system instruction to be set")
		}
		if call.config.Temperature == nil || *call.config.Temperature != 0.1 {
			t.Fatalf("expected temperature to be set")
		}
		if call.config.MaxOutputTokens != 256 {
			t.Fatalf("unexpected max tokens: %d", call.config.MaxOutputTokens)
		}
		if call.config.ResponseMIMEType != "application/json" {
			t.Fatalf("expected json response type")
		}
		if call.text != "message" {
			t.Fatalf("unexpected message: %q", call.text)
		}
	}
}

func TestGeneratorStopsAfterRetriesExhausted(t *testing.T) {
	noSleep(t)

	fake := &fakeModels{}
	tempErr := genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"}
	fake.enqueue(nil, tempErr)
	fake.enqueue(nil, tempErr)

	g := &Generator{models: fake, model: "gemini-pro", maxRetries: 2, logger: zap.NewNop()}

	if _, err := g.Generate(context.Background(), ai.Request{UserText: "msg"}); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(fake.calls))
	}
}

func TestGeneratorDoesNotRetryOnLongQuotaDelay(t *testing.T) {
	fake := &fakeModels{}
	fake.enqueue(nil, genai.APIError{
		Code:    http.StatusTooManyRequests,
		Status:  "RESOURCE_EXHAUSTED",
		Message: "quota exhausted, retry after 60 seconds",
	})

	g := &Generator{models: fake, model: "gemini-pro", maxRetries: 3, logger: zap.NewNop()}

	if _, err := g.Generate(context.Background(), ai.Request{UserText: "msg"}); err == nil {
		t.Fatal("expected error when quota delay too long")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(fake.calls))
	}
}

func TestGeneratorDoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeModels{}
	fake.enqueue(nil, genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"})

	g := &Generator{models: fake, model: "gemini-pro", maxRetries: 3, logger: zap.NewNop()}

	if _, err := g.Generate(context.Background(), ai.Request{UserText: "msg"}); err == nil {
		t.Fatal("expected error")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(fake.calls))
	}
}

func TestGeneratorRejectsEmptyPrompt(t *testing.T) {
	g := &Generator{models: &fakeModels{}, model: "m", logger: zap.NewNop()}
	if _, err := g.Generate(context.Background(), ai.Request{UserText: "  "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}

	var nilGen *Generator
	if _, err := nilGen.Generate(context.Background(), ai.Request{UserText: "x"}); err == nil {
		t.Fatal("expected error for nil generator")
	}
}

func TestRetryDelayHonoursShortQuotaHint(t *testing.T) {
	delay, ok := retryDelay(genai.APIError{Code: http.StatusTooManyRequests, Message: "Please retry in 2.5s."}, 0)
	if !ok || delay != 2500*time.Millisecond {
		t.Fatalf("unexpected delay %v (retry=%v)", delay, ok)
	}

	delay, ok = retryDelay(genai.APIError{Code: http.StatusBadGateway}, 2)
	if !ok || delay != 4*time.Second {
		t.Fatalf("unexpected backoff %v (retry=%v)", delay, ok)
	}

	if _, ok := retryDelay(errors.New("network down"), 0); ok {
		t.Fatal("plain errors must not be retried")
	}
}
