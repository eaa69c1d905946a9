// Package provider defines the text-generation capability shared by every
// upstream service and the error kinds callers branch on.
package provider

import (
	"context"
	"time"

	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/retry"
)

// Provider is one upstream text-generation service. The concrete variant is
// chosen once at construction; callers only ever see this interface.
type Provider interface {
	// Name identifies the variant ("openai", "deepseek", "gemini").
	Name() string
	// BuildRequest assembles the role-tagged messages and this provider's
	// generation parameters into an immutable request.
	BuildRequest(label, system, user string) models.GenerationRequest
	// Generate performs one blocking call. Failures are *Error values.
	Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error)
	// RetryPolicy tells callers which failures are worth repeating.
	RetryPolicy() retry.Policy
	// TokenBudget is the largest request, in tokens, the provider is fed.
	TokenBudget() int
}

// Params is the per-provider parameter bundle. It is passed by value into
// constructors and never shared between providers.
type Params struct {
	Model            string
	MaxOutputTokens  int
	Temperature      *float64
	TopP             *float64
	TopK             *int
	ResponseMIMEType string
	TokenBudget      int
	Timeout          time.Duration
	MaxAttempts      int
	Backoff          time.Duration
}

// DefaultTimeout bounds one request when Params.Timeout is unset.
const DefaultTimeout = 120 * time.Second

// RequestTimeout returns the configured per-request timeout.
func (p Params) RequestTimeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

// Build assembles the logical request shared by all variants: a system
// message followed by a user message.
func (p Params) Build(label, system, user string) models.GenerationRequest {
	msgs := make([]models.Message, 0, 2)
	if system != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: system})
	}
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: user})
	return models.GenerationRequest{
		Label:            label,
		Messages:         msgs,
		Model:            p.Model,
		MaxOutputTokens:  p.MaxOutputTokens,
		Temperature:      p.Temperature,
		TopP:             p.TopP,
		TopK:             p.TopK,
		ResponseMIMEType: p.ResponseMIMEType,
	}
}

// Policy returns the retry policy shared by all variants: transport, rate
// limit and parse failures are retried, auth and quota failures are not.
func (p Params) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: p.MaxAttempts,
		Retryable:   IsRetryable,
		Backoff:     p.Backoff,
		MaxBackoff:  time.Minute,
	}
}
