// Package gemini implements the provider over Vertex AI Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pokoscribe/scribeflow/internal/gcp"
	"github.com/pokoscribe/scribeflow/internal/models"
	"github.com/pokoscribe/scribeflow/internal/provider"
	"github.com/pokoscribe/scribeflow/internal/retry"
)

const name = "gemini"

// Config holds the Vertex AI location, credentials and model parameters.
type Config struct {
	ProjectID string
	Region    string
	Vertex    gcp.VertexOptions
	Params    provider.Params
}

type chatSender interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// newChatFunc opens a fresh session for one request.
type newChatFunc func(ctx context.Context, req models.GenerationRequest) (chatSender, error)

// Client is a provider.Provider over Vertex AI. The underlying client is
// created on the first Generate.
type Client struct {
	cfg     Config
	newChat newChatFunc

	mu     sync.Mutex
	vertex *gcp.VertexClient
}

func New(cfg Config) *Client {
	c := &Client{cfg: cfg}
	c.newChat = c.vertexChat
	return c
}

func (c *Client) Name() string { return name }

func (c *Client) TokenBudget() int { return c.cfg.Params.TokenBudget }

func (c *Client) RetryPolicy() retry.Policy { return c.cfg.Params.Policy() }

func (c *Client) BuildRequest(label, system, user string) models.GenerationRequest {
	return c.cfg.Params.Build(label, system, user)
}

func (c *Client) vertexChat(ctx context.Context, req models.GenerationRequest) (chatSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vertex == nil {
		if c.cfg.ProjectID == "" {
			return nil, provider.NewError(name, provider.KindAuth, fmt.Errorf("%w: GEMINI_PROJECT_ID is not set", provider.ErrMissingCredentials))
		}
		vc, err := gcp.NewVertexClient(ctx, c.cfg.ProjectID, c.cfg.Region, c.cfg.Vertex)
		if err != nil {
			return nil, provider.NewError(name, provider.KindAuth, err)
		}
		c.vertex = vc
	}
	return c.vertex.NewChat(req), nil
}

// Generate sends the user messages as one prompt on a new chat session.
func (c *Client) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	logCtx := slog.With("provider", name, "model", req.Model, "label", req.Label)

	cs, err := c.newChat(ctx, req)
	if err != nil {
		return models.GenerationResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Params.RequestTimeout())
	defer cancel()

	resp, err := cs.SendMessage(callCtx, genai.Text(req.User()))
	if err != nil {
		perr := classify(err)
		logCtx.Warn("Gemini call failed", "kind", perr.Kind, "error", err)
		return models.GenerationResult{}, perr
	}

	text, parts := extractText(resp)
	if parts > 1 {
		logCtx.Warn("Gemini response contained multiple text parts; they have been concatenated", "parts", parts)
	}
	if text == "" {
		return models.GenerationResult{}, provider.NewError(name, provider.KindParse, errors.New("response has no text parts"))
	}
	if err := provider.CheckRefusal(name, text); err != nil {
		logCtx.Warn("Response looks like a refusal", "error", err)
		return models.GenerationResult{}, err
	}

	res := models.GenerationResult{
		Label:    req.Label,
		Provider: name,
		Model:    req.Model,
		Text:     text,
	}
	if resp.UsageMetadata != nil {
		res.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		res.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return res, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, int) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", 0
	}
	var b strings.Builder
	var found int
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
			found++
		}
	}
	return strings.TrimSpace(b.String()), found
}

func classify(err error) *provider.Error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return provider.NewError(name, provider.KindParse, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		perr := &provider.Error{Provider: name, Status: gerr.Code, Err: err}
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			perr.Kind = provider.KindAuth
		case gerr.Code == http.StatusTooManyRequests:
			perr.Kind = provider.KindRateLimited
		case gerr.Code >= 500 || gerr.Code == http.StatusRequestTimeout:
			perr.Kind = provider.KindTransport
		default:
			perr.Kind = provider.KindInvalid
		}
		return perr
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated, codes.PermissionDenied:
			return provider.NewError(name, provider.KindAuth, err)
		case codes.ResourceExhausted:
			return provider.NewError(name, provider.KindQuota, err)
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return provider.NewError(name, provider.KindTransport, err)
		case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
			return provider.NewError(name, provider.KindInvalid, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return provider.NewError(name, provider.KindInvalid, err)
	}
	return provider.TransportError(name, err)
}
