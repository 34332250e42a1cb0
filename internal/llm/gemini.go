package llm

import (
	"context"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/spherical/register-extractor/internal/domain"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiClient talks to Gemini directly through the genai SDK
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a Gemini-backed completer.
func NewGeminiClient(ctx context.Context, apiKey, modelName string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, domain.ConfigError("Gemini API key is not set (GEMINI_API_KEY)", nil)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, domain.ConfigError("failed to create Gemini client", err)
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GeminiClient{client: cl, modelName: modelName}, nil
}

// Name identifies the backend in logs.
func (g *GeminiClient) Name() string {
	return "gemini:" + g.modelName
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Complete implements Completer.
func (g *GeminiClient) Complete(ctx context.Context, p *Prompt) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.ResponseMIMEType = "application/json"
	if p.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(p.System)},
		}
	}

	parts := []genai.Part{genai.Text(p.User)}
	for _, img := range p.Images {
		parts = append(parts, genai.ImageData("jpeg", img))
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.APIError("gemini generate failed", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}
