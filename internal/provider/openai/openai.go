// Package openai implements the OpenAI-compatible chat-completions provider.
// DeepSeek is the same wire with a different base URL and key.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/provider"
	"github.com/pokoscribe/scribeflow/internal/retry"
)

const (
	// DeepSeekBaseURL is the OpenAI-compatible endpoint for DeepSeek models.
	DeepSeekBaseURL = "https://api.deepseek.com"

	codeInsufficientQuota = "insufficient_quota"
)

// Config holds the connection settings for one OpenAI-compatible endpoint.
type Config struct {
	// Name is reported by Provider.Name, e.g. "openai" or "deepseek".
	Name    string
	APIKey  string
	BaseURL string
	Params  provider.Params
	// HTTPClient overrides the transport, used by tests.
	HTTPClient *http.Client
}

// Client is a provider.Provider over the chat-completions API.
type Client struct {
	name   string
	apiKey string
	params provider.Params
	api    openai.Client
}

// New builds the client. A missing key is not an error here; it surfaces as
// an auth failure on the first Generate.
func New(cfg Config) *Client {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Params.RequestTimeout()),
		// Retries are owned by the caller's retry policy.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Client{
		name:   name,
		apiKey: cfg.APIKey,
		params: cfg.Params,
		api:    openai.NewClient(opts...),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) TokenBudget() int { return c.params.TokenBudget }

func (c *Client) RetryPolicy() retry.Policy { return c.params.Policy() }

func (c *Client) BuildRequest(label, system, user string) models.GenerationRequest {
	return c.params.Build(label, system, user)
}

// Generate sends one chat completion and returns the first choice's content.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	logCtx := slog.With("provider", c.name, "model", req.Model, "label", req.Label)
	if strings.TrimSpace(c.apiKey) == "" {
		return models.GenerationResult{}, provider.NewError(c.name, provider.KindAuth, provider.ErrMissingCredentials)
	}

	resp, err := c.api.Chat.Completions.New(ctx, toParams(req))
	if err != nil {
		perr := c.classify(err)
		logCtx.Warn("Chat completion failed", "kind", perr.Kind, "status", perr.Status, "error", err)
		return models.GenerationResult{}, perr
	}
	if len(resp.Choices) == 0 {
		return models.GenerationResult{}, provider.NewError(c.name, provider.KindParse, errors.New("response has no choices"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return models.GenerationResult{}, provider.NewError(c.name, provider.KindParse, errors.New("first choice has empty content"))
	}
	if err := provider.CheckRefusal(c.name, text); err != nil {
		logCtx.Warn("Response looks like a refusal", "error", err)
		return models.GenerationResult{}, err
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	logCtx.Debug("Chat completion received", "prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return models.GenerationResult{
		Label:        req.Label,
		Provider:     c.name,
		Model:        model,
		Text:         text,
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func toParams(req models.GenerationRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(req.Model),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

// classify maps an SDK error onto a provider error kind.
func (c *Client) classify(err error) *provider.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		perr := &provider.Error{Provider: c.name, Status: apiErr.StatusCode, Err: err}
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			perr.Kind = provider.KindAuth
		case apiErr.StatusCode == http.StatusTooManyRequests && apiErr.Code == codeInsufficientQuota:
			perr.Kind = provider.KindQuota
		case apiErr.StatusCode == http.StatusTooManyRequests:
			perr.Kind = provider.KindRateLimited
		case apiErr.StatusCode == http.StatusPaymentRequired:
			perr.Kind = provider.KindQuota
		case apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusRequestTimeout:
			perr.Kind = provider.KindTransport
		default:
			perr.Kind = provider.KindInvalid
		}
		return perr
	}
	if errors.Is(err, context.Canceled) {
		return provider.NewError(c.name, provider.KindInvalid, fmt.Errorf("request cancelled: %w", err))
	}
	return provider.TransportError(c.name, err)
}
