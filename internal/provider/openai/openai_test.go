package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go"

	"github.com/pokoscribe/scribeflow/internal/provider"
)

type capturedRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc, key string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	temp := 0.7
	return New(Config{
		Name:    "openai",
		APIKey:  key,
		BaseURL: srv.URL,
		Params: provider.Params{
			Model:           "gpt-4o-mini",
			MaxOutputTokens: 4500,
			Temperature:     &temp,
			TokenBudget:     27000,
			Timeout:         5 * time.Second,
		},
	})
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
	})
}

func TestGenerateSendsSystemAndUser(t *testing.T) {
	var got capturedRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		writeCompletion(w, "  A concise summary.  ")
	}, "sk-test")

	req := c.BuildRequest("chunk-1", "You are a research assistant.", "Summarize this.")
	res, err := c.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "A concise summary." || res.Provider != "openai" || res.Label != "chunk-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.PromptTokens != 12 || res.OutputTokens != 3 {
		t.Fatalf("usage not carried: %+v", res)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 4500 || got.Temperature != 0.7 {
		t.Fatalf("parameters not sent: %+v", got)
	}
}

func TestGenerateClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   provider.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error"}}`, provider.KindAuth},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"requests"}}`, provider.KindRateLimited},
		{"server error", http.StatusBadGateway, `{"error":{"message":"upstream","type":"server_error"}}`, provider.KindTransport},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad","type":"invalid_request_error"}}`, provider.KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, "sk-test")
			_, err := c.Generate(context.Background(), c.BuildRequest("x", "s", "u"))
			if provider.KindOf(err) != tt.want {
				t.Fatalf("want %s, got %v", tt.want, err)
			}
		})
	}
}

func TestGenerateEmptyContentIsParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "   ")
	}, "sk-test")
	_, err := c.Generate(context.Background(), c.BuildRequest("x", "s", "u"))
	if provider.KindOf(err) != provider.KindParse || !provider.IsRetryable(err) {
		t.Fatalf("want retryable parse error, got %v", err)
	}
}

func TestGenerateRefusalIsParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "I cannot fulfill this request.")
	}, "sk-test")
	_, err := c.Generate(context.Background(), c.BuildRequest("x", "s", "u"))
	if !errors.Is(err, provider.ErrRefusal) {
		t.Fatalf("want refusal, got %v", err)
	}
}

func TestMissingKeyFailsOnFirstCall(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeCompletion(w, "x")
	}, "")
	_, err := c.Generate(context.Background(), c.BuildRequest("x", "s", "u"))
	if !provider.IsFatal(err) || !errors.Is(err, provider.ErrMissingCredentials) {
		t.Fatalf("want fatal auth error, got %v", err)
	}
	if called {
		t.Fatalf("no request must be sent without credentials")
	}
}

func TestClassifyInsufficientQuota(t *testing.T) {
	c := New(Config{Name: "deepseek", APIKey: "k", BaseURL: DeepSeekBaseURL})
	perr := c.classify(&openai.Error{StatusCode: http.StatusTooManyRequests, Code: codeInsufficientQuota})
	if perr.Kind != provider.KindQuota || perr.Provider != "deepseek" {
		t.Fatalf("want deepseek quota, got %s %s", perr.Provider, perr.Kind)
	}
	if c.Name() != "deepseek" {
		t.Fatalf("unexpected name %q", c.Name())
	}
}

func TestToParamsOmitsSamplingCutoffs(t *testing.T) {
	topP, topK, temp := 0.95, 40, 0.7
	req := provider.Params{Model: "gpt-4o-mini", MaxOutputTokens: 100, Temperature: &temp, TopP: &topP, TopK: &topK}.Build("single", "sys", "user")

	body, err := json.Marshal(toParams(req))
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["top_p"]; ok {
		t.Fatalf("top_p must not be sent: %s", body)
	}
	if _, ok := fields["top_k"]; ok {
		t.Fatalf("top_k must not be sent: %s", body)
	}
	if fields["temperature"] != 0.7 || fields["max_tokens"] != float64(100) {
		t.Fatalf("unexpected params %s", body)
	}
}
