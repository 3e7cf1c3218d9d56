package shopassist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
)

// OpenAILLMProvider implements the LLMProvider interface using OpenAI's official SDK.
// It also serves OpenAI-compatible APIs such as xAI Grok when the client points at their base URL.
type OpenAILLMProvider struct {
	client OpenAIClientProvider
	model  openai.ChatModel
}

// OpenAIProviderConfig holds configuration for OpenAI provider.
type OpenAIProviderConfig struct {
	// Client is the OpenAIClientProvider implementation to use
	Client OpenAIClientProvider
	// Model specifies which model to use (e.g., "gpt-4o-mini", "grok-3")
	Model openai.ChatModel
}

// NewOpenAILLMProvider creates a new OpenAI provider with the specified configuration.
// If no model is specified, it defaults to GPT-4o mini.
//
// Example usage:
//
//	provider := NewOpenAILLMProvider(OpenAIProviderConfig{
//	    Client: NewOpenAIClient("your-api-key"),
//	})
//
//	grok := NewOpenAILLMProvider(OpenAIProviderConfig{
//	    Client: NewOpenAIClient("xai-key", option.WithBaseURL(GrokBaseURL)),
//	    Model:  "grok-3",
//	})
func NewOpenAILLMProvider(config OpenAIProviderConfig) *OpenAILLMProvider {
	if config.Model == "" {
		config.Model = openai.ChatModelGPT4oMini
	}

	return &OpenAILLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// convertToOpenAIMessages converts internal message format to OpenAI's format.
// Images are sent as data URLs.
func (p *OpenAILLMProvider) convertToOpenAIMessages(messages []LLMMessage) []openai.ChatCompletionMessageParamUnion {
	var openAIMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case AssistantRole:
			openAIMessages = append(openAIMessages, openai.AssistantMessage(JoinText(msg.Content)))
		case SystemRole:
			openAIMessages = append(openAIMessages, openai.SystemMessage(JoinText(msg.Content)))
		default:
			openAIMessages = append(openAIMessages, p.userMessage(msg.Content))
		}
	}
	return openAIMessages
}

func (p *OpenAILLMProvider) userMessage(content []ContentPart) openai.ChatCompletionMessageParamUnion {
	if FirstImage(content) == nil {
		return openai.UserMessage(JoinText(content))
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	for _, part := range content {
		switch c := part.(type) {
		case TextPart:
			if c.Text != "" {
				parts = append(parts, openai.TextPart(c.Text))
			}
		case ImagePart:
			if len(c.Data) > 0 {
				parts = append(parts, openai.ImagePart(c.DataURL()))
			}
		}
	}
	return openai.UserMessageParts(parts...)
}

// createCompletionParams creates OpenAI API parameters from request config
func (p *OpenAILLMProvider) createCompletionParams(messages []openai.ChatCompletionMessageParamUnion, config LLMRequestConfig) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    openai.F(messages),
		Model:       openai.F(p.model),
		MaxTokens:   openai.Int(config.MaxToken),
		TopP:        openai.Float(config.TopP),
		Temperature: openai.Float(config.Temperature),
	}

	if config.ForcedTool == nil {
		return params, nil
	}

	paramSchema, err := toolSchemaMap(*config.ForcedTool)
	if err != nil {
		return params, fmt.Errorf("failed to parse tool parameter schema: %w", err)
	}

	params.Tools = openai.F([]openai.ChatCompletionToolParam{
		{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(config.ForcedTool.Name),
				Description: openai.String(config.ForcedTool.Description),
				Parameters:  openai.F(openai.FunctionParameters(paramSchema)),
			}),
		},
	})
	params.ToolChoice = openai.F[openai.ChatCompletionToolChoiceOptionUnionParam](openai.ChatCompletionNamedToolChoiceParam{
		Type: openai.F(openai.ChatCompletionNamedToolChoiceTypeFunction),
		Function: openai.F(openai.ChatCompletionNamedToolChoiceFunctionParam{
			Name: openai.String(config.ForcedTool.Name),
		}),
	})

	return params, nil
}

// GetResponse generates a response using OpenAI's API for the given messages and configuration.
// When config carries a forced tool, the first tool call is returned in LLMResponse.ToolCall.
func (p *OpenAILLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	params, err := p.createCompletionParams(p.convertToOpenAIMessages(messages), config)
	if err != nil {
		return LLMResponse{}, err
	}

	completion, err := p.client.CreateCompletion(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return LLMResponse{}, &LLMError{Code: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return LLMResponse{}, err
	}

	if len(completion.Choices) == 0 {
		return LLMResponse{}, &LLMError{Code: 400, Message: "no choices in response"}
	}

	message := completion.Choices[0].Message
	response := LLMResponse{
		Text:             message.Content,
		TotalInputToken:  int(completion.Usage.PromptTokens),
		TotalOutputToken: int(completion.Usage.CompletionTokens),
		CompletionTime:   time.Since(startTime).Seconds(),
	}

	if len(message.ToolCalls) > 0 {
		call := message.ToolCalls[0]
		response.ToolCall = &ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		}
	}

	return response, nil
}
