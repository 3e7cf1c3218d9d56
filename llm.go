package shopassist

import (
	"context"
)

// LLMProvider is a chat backend. There is one implementation per vendor
// (OpenAI, Anthropic, Gemini, Bedrock) plus decorators and a no-op provider for tests.
type LLMProvider interface {
	GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error)
}

// LLMRequest binds a provider to a request configuration.
type LLMRequest struct {
	requestConfig LLMRequestConfig
	provider      LLMProvider
}

// NewLLMRequest creates a new LLMRequest with the specified configuration and provider.
//
// Example usage:
//
//	provider := shopassist.NewOpenAILLMProvider(shopassist.OpenAIProviderConfig{
//	    Client: shopassist.NewOpenAIClient("your-api-key"),
//	    Model:  "gpt-4o-mini",
//	})
//
//	llm := shopassist.NewLLMRequest(shopassist.NewRequestConfig(shopassist.WithTemperature(0)), provider)
//	response, err := llm.Generate(ctx, []shopassist.LLMMessage{
//	    shopassist.NewTextMessage(shopassist.UserRole, "Show me some headphones"),
//	})
func NewLLMRequest(config LLMRequestConfig, provider LLMProvider) *LLMRequest {
	return &LLMRequest{
		requestConfig: config,
		provider:      provider,
	}
}

// Generate sends messages to the configured provider and returns the response.
func (r *LLMRequest) Generate(ctx context.Context, messages []LLMMessage) (LLMResponse, error) {
	return r.provider.GetResponse(ctx, messages, r.requestConfig)
}
