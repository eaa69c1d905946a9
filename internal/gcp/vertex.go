package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/pokoscribe/scribeflow/internal/models"
)

// VertexClient wraps the Vertex AI generative client. Models are configured
// per request, so one client serves every document class.
type VertexClient struct {
	baseClient *genai.Client
}

// VertexOptions selects the credentials used for Vertex AI. Both empty means
// application default credentials.
type VertexOptions struct {
	APIKey          string
	CredentialsFile string
}

func (o VertexOptions) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if o.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(o.CredentialsFile))
	}
	if o.APIKey != "" {
		opts = append(opts, option.WithAPIKey(o.APIKey))
	}
	return opts
}

// NewVertexClient creates the client for one project and region.
func NewVertexClient(ctx context.Context, projectID, region string, vo VertexOptions) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region, vo.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexClient{baseClient: baseClient}, nil
}

// NewChat returns a fresh chat session for req. The system messages become
// the model's system instruction and no history is carried between calls.
func (c *VertexClient) NewChat(req models.GenerationRequest) *genai.ChatSession {
	model := c.baseClient.GenerativeModel(req.Model)
	if system := req.System(); system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}
	model.GenerationConfig = GenerationConfig(req)
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model.StartChat()
}

// GenerationConfig maps the logical request parameters onto Gemini's.
// Unset parameters stay nil so the service defaults apply.
func GenerationConfig(req models.GenerationRequest) genai.GenerationConfig {
	cfg := genai.GenerationConfig{ResponseMIMEType: req.ResponseMIMEType}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.TopK != nil {
		cfg.TopK = genai.Ptr(int32(*req.TopK))
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = genai.Ptr(int32(req.MaxOutputTokens))
	}
	return cfg
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
