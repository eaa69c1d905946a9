package services

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pokoscribe/scribeflow/internal/config"
	"github.com/pokoscribe/scribeflow/internal/gcp"
	"github.com/pokoscribe/scribeflow/internal/provider"
	"github.com/pokoscribe/scribeflow/internal/provider/gemini"
	"github.com/pokoscribe/scribeflow/internal/provider/openai"
)

// ProviderParams converts a config section into the provider parameter
// bundle, logging any sequence-to-scalar coercion.
func ProviderParams(name string, pc config.ProviderConfig) provider.Params {
	for param, n := range map[string]config.Number{
		"temperature": pc.Temperature,
		"top_p":       pc.TopP,
		"top_k":       pc.TopK,
	} {
		if n.Coerced {
			slog.Warn("Sequence given for a scalar parameter; using its first element", "provider", name, "parameter", param, "value", n.Value)
		}
	}
	return provider.Params{
		Model:            pc.Model,
		MaxOutputTokens:  pc.MaxOutputTokens,
		Temperature:      pc.Temperature.Float(),
		TopP:             pc.TopP.Float(),
		TopK:             pc.TopK.Int(),
		ResponseMIMEType: pc.ResponseMIMEType,
		TokenBudget:      pc.TokenBudget,
		Timeout:          pc.Timeout,
		MaxAttempts:      pc.MaxAttempts,
		Backoff:          pc.Backoff,
	}
}

// NewProvider builds the named provider. The variant is fixed here and
// callers only see the interface.
func NewProvider(name string, cfg config.Config) (provider.Provider, error) {
	pc, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	params := ProviderParams(name, pc)
	creds := cfg.Credentials
	switch name {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{Name: name, APIKey: creds.OpenAIKey, BaseURL: pc.BaseURL, Params: params}), nil
	case config.ProviderDeepSeek:
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = openai.DeepSeekBaseURL
		}
		return openai.New(openai.Config{Name: name, APIKey: creds.DeepSeekKey, BaseURL: baseURL, Params: params}), nil
	case config.ProviderGemini:
		return gemini.New(gemini.Config{
			ProjectID: creds.GeminiProjectID,
			Region:    creds.GeminiRegion,
			Vertex:    gcp.VertexOptions{APIKey: creds.GeminiKey, CredentialsFile: creds.GeminiCredentialsFile},
			Params:    params,
		}), nil
	default:
		// Any other section is an OpenAI-compatible endpoint.
		if pc.BaseURL == "" {
			return nil, fmt.Errorf("provider %q needs a base_url", name)
		}
		return openai.New(openai.Config{Name: name, APIKey: config.GetEnv(envKeyName(name), ""), BaseURL: pc.BaseURL, Params: params}), nil
	}
}

func envKeyName(provider string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(strings.ToUpper(provider)) + "_API_KEY"
}
