package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spherical/register-extractor/internal/domain"
	"github.com/spherical/register-extractor/internal/observability"
)

const (
	openRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultModel  = "google/gemini-2.5-flash-preview-09-2025"
)

// Completer sends one prompt to a model and returns the raw text answer.
type Completer interface {
	Complete(ctx context.Context, p *Prompt) (string, error)
	Name() string
}

// Client handles communication with OpenRouter API
type Client struct {
	apiKey     string
	model      string
	url        string
	retry      *RetryConfig
	httpClient *http.Client
	logger     *observability.Logger
}

// ClientOptions configures an OpenRouter client.
type ClientOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	Retry      *RetryConfig
	HTTPClient *http.Client
	Logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat asks the provider for a JSON object answer
type ResponseFormat struct {
	Type string `json:"type"`
}

// Request represents the API request structure
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string      `json:"id"`
	Choices []Choice    `json:"choices"`
	Error   *APIFailure `json:"error,omitempty"`
}

// APIFailure is an error object reported inside a stream
type APIFailure struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// Choice represents a single completion choice
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents a message delta in streaming response
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new OpenRouter client
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.APIKey == "" {
		return nil, domain.ConfigError("OpenRouter API key is not set (OPENROUTER_API_KEY)", nil)
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = openRouterURL
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryConfig()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}

	return &Client{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		url:        opts.BaseURL,
		retry:      opts.Retry,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.WithComponent("openrouter"),
	}, nil
}

// Name identifies the backend in logs.
func (c *Client) Name() string {
	return "openrouter:" + c.model
}

// Complete sends the prompt and accumulates the streamed answer
func (c *Client) Complete(ctx context.Context, p *Prompt) (string, error) {
	body, err := json.Marshal(c.buildRequest(p))
	if err != nil {
		return "", domain.APIError("Failed to marshal request", err)
	}

	resp, err := c.send(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", "https://github.com/spherical/register-extractor")
		req.Header.Set("X-Title", "Modbus Register Extractor")

		return c.httpClient.Do(req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)), nil)
	}

	text, err := readCompletion(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", domain.APIError("Failed to parse stream", err)
	}
	return text, nil
}

// buildRequest constructs the API request with any page images
func (c *Client) buildRequest(p *Prompt) *Request {
	content := []ContentPart{{Type: "text", Text: p.User}}
	for _, img := range p.Images {
		content = append(content, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	messages := make([]Message, 0, 2)
	if p.System != "" {
		messages = append(messages, Message{
			Role:    "system",
			Content: []ContentPart{{Type: "text", Text: p.System}},
		})
	}
	messages = append(messages, Message{Role: "user", Content: content})

	return &Request{
		Model:          c.model,
		Messages:       messages,
		Stream:         true,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	}
}
