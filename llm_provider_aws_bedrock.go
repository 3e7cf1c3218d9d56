package shopassist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// DefaultBedrockModel is used when BedrockProviderConfig.Model is empty.
const DefaultBedrockModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

// BedrockLLMProvider implements the LLMProvider interface using the Bedrock Converse API.
type BedrockLLMProvider struct {
	client BedrockClient
	model  string
}

// BedrockProviderConfig holds the configuration options for creating a Bedrock provider.
type BedrockProviderConfig struct {
	Client BedrockClient
	Model  string
}

// NewBedrockLLMProvider creates a new Bedrock provider with the specified configuration.
// If no model is specified, it defaults to Claude 3.5 Sonnet.
func NewBedrockLLMProvider(config BedrockProviderConfig) *BedrockLLMProvider {
	if config.Model == "" {
		config.Model = DefaultBedrockModel
	}

	return &BedrockLLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// GetResponse generates a response using Bedrock's Converse API for the given messages and configuration.
func (p *BedrockLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	input, err := p.converseInput(messages, config)
	if err != nil {
		return LLMResponse{}, err
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		var statusErr interface{ HTTPStatusCode() int }
		if errors.As(err, &statusErr) {
			return LLMResponse{}, &LLMError{Code: statusErr.HTTPStatusCode(), Message: err.Error()}
		}
		return LLMResponse{}, err
	}

	var response LLMResponse
	if msgOutput, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		var text strings.Builder
		for _, block := range msgOutput.Value.Content {
			switch b := block.(type) {
			case *types.ContentBlockMemberText:
				text.WriteString(b.Value)
			case *types.ContentBlockMemberToolUse:
				if response.ToolCall != nil || b.Value.Input == nil {
					continue
				}
				args, err := b.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return LLMResponse{}, fmt.Errorf("failed to marshal tool input: %w", err)
				}
				response.ToolCall = &ToolCall{
					ID:        aws.ToString(b.Value.ToolUseId),
					Name:      aws.ToString(b.Value.Name),
					Arguments: args,
				}
			}
		}
		response.Text = strings.TrimSpace(text.String())
	}

	if output.Usage != nil {
		response.TotalInputToken = int(aws.ToInt32(output.Usage.InputTokens))
		response.TotalOutputToken = int(aws.ToInt32(output.Usage.OutputTokens))
	}
	response.CompletionTime = time.Since(startTime).Seconds()

	return response, nil
}

func (p *BedrockLLMProvider) converseInput(messages []LLMMessage, config LLMRequestConfig) (*bedrockruntime.ConverseInput, error) {
	var system []types.SystemContentBlock
	var bedrockMessages []types.Message

	for _, msg := range messages {
		if msg.Role == SystemRole {
			system = append(system, &types.SystemContentBlockMemberText{Value: JoinText(msg.Content)})
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == AssistantRole {
			role = types.ConversationRoleAssistant
		}

		blocks := bedrockContentBlocks(msg.Content)
		if len(blocks) == 0 {
			continue
		}
		bedrockMessages = append(bedrockMessages, types.Message{Role: role, Content: blocks})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: bedrockMessages,
		System:   system,
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(config.Temperature)),
			TopP:        aws.Float32(float32(config.TopP)),
			MaxTokens:   aws.Int32(int32(config.MaxToken)),
		},
	}

	if config.ForcedTool != nil {
		schemaDoc, err := toolSchemaMap(*config.ForcedTool)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = &types.ToolConfiguration{
			Tools: []types.Tool{
				&types.ToolMemberToolSpec{Value: types.ToolSpecification{
					Name:        aws.String(config.ForcedTool.Name),
					Description: aws.String(config.ForcedTool.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaDoc)},
				}},
			},
			ToolChoice: &types.ToolChoiceMemberTool{Value: types.SpecificToolChoice{
				Name: aws.String(config.ForcedTool.Name),
			}},
		}
	}

	return input, nil
}

func bedrockContentBlocks(content []ContentPart) []types.ContentBlock {
	var blocks []types.ContentBlock
	for _, part := range content {
		switch c := part.(type) {
		case TextPart:
			if c.Text != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: c.Text})
			}
		case ImagePart:
			if len(c.Data) > 0 {
				blocks = append(blocks, &types.ContentBlockMemberImage{Value: types.ImageBlock{
					Format: bedrockImageFormat(c.mimeType()),
					Source: &types.ImageSourceMemberBytes{Value: c.Data},
				}})
			}
		}
	}
	return blocks
}

func bedrockImageFormat(mimeType string) types.ImageFormat {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return types.ImageFormatPng
	case "image/gif":
		return types.ImageFormatGif
	case "image/webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}
