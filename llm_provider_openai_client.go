package shopassist

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GrokBaseURL is xAI's OpenAI-compatible endpoint.
const GrokBaseURL = "https://api.x.ai/v1/"

// OpenAIClientProvider defines the interface for interacting with OpenAI's API.
// This interface abstracts the essential operations used by OpenAILLMProvider.
type OpenAIClientProvider interface {
	// CreateCompletion creates a new chat completion using OpenAI's API.
	CreateCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// OpenAIClient implements the OpenAIClientProvider interface using OpenAI's official SDK.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new instance of OpenAIClient with the provided API key
// and optional client options.
//
// Example usage:
//
//	// OpenAI
//	client := NewOpenAIClient("your-api-key")
//
//	// xAI Grok
//	client := NewOpenAIClient("your-xai-key", option.WithBaseURL(GrokBaseURL))
func NewOpenAIClient(apiKey string, opts ...option.RequestOption) *OpenAIClient {
	opts = append(opts, option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client: openai.NewClient(opts...),
	}
}

// CreateCompletion implements the OpenAIClientProvider interface using the OpenAI client.
func (c *OpenAIClient) CreateCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}
