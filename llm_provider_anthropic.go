package shopassist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// AnthropicLLMProvider implements the LLMProvider interface using Anthropic's official Go SDK.
// It provides access to Claude models through Anthropic's API.
type AnthropicLLMProvider struct {
	client AnthropicClientProvider
	model  anthropic.Model
}

// AnthropicProviderConfig holds the configuration options for creating an Anthropic provider.
type AnthropicProviderConfig struct {
	// Client is the AnthropicClientProvider implementation to use
	Client AnthropicClientProvider

	// Model specifies which Anthropic model to use
	Model anthropic.Model
}

// NewAnthropicLLMProvider creates a new Anthropic provider with the specified configuration.
// If no model is specified, it defaults to Claude 3.5 Sonnet.
//
// Example usage:
//
//	client := NewAnthropicClient("your-api-key")
//	provider := NewAnthropicLLMProvider(AnthropicProviderConfig{
//	    Client: client,
//	    Model:  anthropic.ModelClaude_3_5_Sonnet_20240620,
//	})
func NewAnthropicLLMProvider(config AnthropicProviderConfig) *AnthropicLLMProvider {
	if config.Model == "" {
		config.Model = anthropic.ModelClaude_3_5_Sonnet_20240620
	}

	return &AnthropicLLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// prepareMessageParams creates the Anthropic message parameters from LLM messages and config.
// System messages go to the dedicated system parameter.
func (p *AnthropicLLMProvider) prepareMessageParams(messages []LLMMessage, config LLMRequestConfig) (anthropic.MessageNewParams, error) {
	var anthropicMessages []anthropic.MessageParam
	var systemMessage string

	for _, msg := range messages {
		switch msg.Role {
		case SystemRole:
			systemMessage = JoinText(msg.Content)
		case AssistantRole:
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(JoinText(msg.Content))))
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(p.contentBlocks(msg.Content)...))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(p.model),
		Messages:    anthropic.F(anthropicMessages),
		MaxTokens:   anthropic.F(config.MaxToken),
		TopP:        anthropic.Float(config.TopP),
		Temperature: anthropic.Float(config.Temperature),
	}

	if systemMessage != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{
			anthropic.NewTextBlock(systemMessage),
		})
	}

	if config.ForcedTool != nil {
		schema, err := toolSchemaMap(*config.ForcedTool)
		if err != nil {
			return params, err
		}

		params.Tools = anthropic.F([]anthropic.ToolUnionUnionParam{
			anthropic.ToolParam{
				Name:        anthropic.F(config.ForcedTool.Name),
				Description: anthropic.F(config.ForcedTool.Description),
				InputSchema: anthropic.F[interface{}](schema),
			},
		})
		params.ToolChoice = anthropic.F[anthropic.ToolChoiceUnionParam](anthropic.ToolChoiceToolParam{
			Type: anthropic.F(anthropic.ToolChoiceToolTypeTool),
			Name: anthropic.F(config.ForcedTool.Name),
		})
	}

	return params, nil
}

func (p *AnthropicLLMProvider) contentBlocks(content []ContentPart) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range content {
		switch c := part.(type) {
		case TextPart:
			if c.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			}
		case ImagePart:
			if len(c.Data) > 0 {
				blocks = append(blocks, anthropic.NewImageBlockBase64(c.mimeType(), c.Base64()))
			}
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(""))
	}
	return blocks
}

// GetResponse generates a response using Anthropic's API for the given messages and configuration.
// A forced tool's input is returned in LLMResponse.ToolCall.
func (p *AnthropicLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	params, err := p.prepareMessageParams(messages, config)
	if err != nil {
		return LLMResponse{}, err
	}

	message, err := p.client.CreateMessage(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return LLMResponse{}, &LLMError{Code: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return LLMResponse{}, err
	}

	var response LLMResponse
	var text strings.Builder

	for _, block := range message.Content {
		switch block := block.AsUnion().(type) {
		case anthropic.TextBlock:
			text.WriteString(block.Text)
			text.WriteString("\n")
		case anthropic.ToolUseBlock:
			if response.ToolCall == nil {
				response.ToolCall = &ToolCall{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: block.Input,
				}
			}
		default:
		}
	}

	response.Text = strings.TrimSpace(text.String())
	response.TotalInputToken = int(message.Usage.InputTokens)
	response.TotalOutputToken = int(message.Usage.OutputTokens)
	response.CompletionTime = time.Since(startTime).Seconds()

	return response, nil
}
