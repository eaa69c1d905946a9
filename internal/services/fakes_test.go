package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/prompts"
	"github.com/pokoscribe/scribeflow/internal/provider"
	"github.com/pokoscribe/scribeflow/internal/retry"
	"github.com/pokoscribe/scribeflow/internal/tokens"
)

// wordMeter counts whitespace separated words; the paragraph delimiter is free.
var wordMeter = tokens.MeterFunc(func(s string) (int, error) {
	return len(strings.Fields(s)), nil
})

var testPrompts = prompts.Set{Role: "ROLE", Single: "SINGLE", Batch: "BATCH", Synthesis: "SYNTH"}

type fakeProvider struct {
	budget  int
	respond func(req models.GenerationRequest, attempt int) (string, error)

	mu       sync.Mutex
	requests []models.GenerationRequest
	attempts map[string]int
}

func newFakeProvider(budget int, respond func(req models.GenerationRequest, attempt int) (string, error)) *fakeProvider {
	if respond == nil {
		respond = func(req models.GenerationRequest, _ int) (string, error) {
			return "answer " + req.Label, nil
		}
	}
	return &fakeProvider{budget: budget, respond: respond, attempts: map[string]int{}}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) TokenBudget() int { return f.budget }

func (f *fakeProvider) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Retryable: provider.IsRetryable}
}

func (f *fakeProvider) BuildRequest(label, system, user string) models.GenerationRequest {
	return provider.Params{Model: "fake-model"}.Build(label, system, user)
}

func (f *fakeProvider) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.attempts[req.Label]++
	attempt := f.attempts[req.Label]
	f.mu.Unlock()

	text, err := f.respond(req, attempt)
	if err != nil {
		return models.GenerationResult{}, err
	}
	return models.GenerationResult{Label: req.Label, Provider: "fake", Model: "fake-model", Text: text}, nil
}

func (f *fakeProvider) labels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Label
	}
	return out
}

func (f *fakeProvider) last() models.GenerationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// paragraphs builds n paragraphs of words words each.
func paragraphs(n, words int) string {
	word := strings.TrimSpace(strings.Repeat("lorem ", words))
	parts := make([]string, n)
	for i := range parts {
		parts[i] = word
	}
	return strings.Join(parts, "\n\n")
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func transient(label string) error {
	return provider.NewError("fake", provider.KindTransport, fmt.Errorf("%s: connection reset", label))
}
