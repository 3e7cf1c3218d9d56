package shopassist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
)

const (
	GeminiRoleUser  GeminiRole = "user"
	GeminiRoleModel GeminiRole = "model"
)

type GeminiRole = string

// GeminiProvider implements LLMProvider on top of a GeminiModelService.
type GeminiProvider struct {
	service GeminiModelService
	log     Logger
}

// NewGeminiProvider wraps service. A nil logger disables logging.
func NewGeminiProvider(service GeminiModelService, log Logger) (*GeminiProvider, error) {
	if service == nil {
		return nil, errors.New("GeminiModelService cannot be nil")
	}
	if log == nil {
		log = NewNullLogger()
	}
	return &GeminiProvider{
		service: service,
		log:     log,
	}, nil
}

func (p *GeminiProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	settings, err := mapLLMConfigToGeminiSettings(config)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("failed to map request config: %w", err)
	}

	system, contents := p.mapLLMMessagesToGenaiContent(messages)
	if system != "" {
		settings.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(contents) == 0 {
		return LLMResponse{}, errors.New("cannot start gemini conversation without messages")
	}

	history := contents[:len(contents)-1]
	last := contents[len(contents)-1]

	resp, err := p.service.GenerateContent(ctx, settings, history, last.Parts...)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("gemini GenerateContent failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return LLMResponse{}, &LLMError{Code: 400, Message: "request blocked by API: " + resp.PromptFeedback.BlockReason.String()}
		}
		return LLMResponse{}, &LLMError{Code: 502, Message: "gemini API returned no candidates"}
	}

	candidate := resp.Candidates[0]
	response := LLMResponse{
		Text:           extractTextFromParts(candidate.Content.Parts),
		CompletionTime: time.Since(startTime).Seconds(),
	}

	if calls := findFunctionCalls(candidate); len(calls) > 0 {
		args, err := json.Marshal(calls[0].Args)
		if err != nil {
			return LLMResponse{}, fmt.Errorf("failed to marshal function call args: %w", err)
		}
		response.ToolCall = &ToolCall{Name: calls[0].Name, Arguments: args}
		p.log.WithFields(map[string]interface{}{"function": calls[0].Name}).Debug("Gemini returned a function call")
	}

	if resp.UsageMetadata != nil {
		response.TotalInputToken = int(resp.UsageMetadata.PromptTokenCount)
		response.TotalOutputToken = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return response, nil
}

// mapLLMMessagesToGenaiContent converts messages to genai contents, returning system text separately.
// Consecutive messages with the same role are merged, as Gemini expects alternating turns.
func (p *GeminiProvider) mapLLMMessagesToGenaiContent(messages []LLMMessage) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == SystemRole {
			system = append(system, JoinText(msg.Content))
			continue
		}

		role := GeminiRoleUser
		if msg.Role == AssistantRole {
			role = GeminiRoleModel
		}

		parts := genaiParts(msg.Content)
		if len(parts) == 0 {
			continue
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	return strings.Join(system, "\n"), contents
}

func genaiParts(content []ContentPart) []genai.Part {
	var parts []genai.Part
	for _, part := range content {
		switch c := part.(type) {
		case TextPart:
			if c.Text != "" {
				parts = append(parts, genai.Text(c.Text))
			}
		case ImagePart:
			if len(c.Data) > 0 {
				parts = append(parts, genai.Blob{MIMEType: c.mimeType(), Data: c.Data})
			}
		}
	}
	return parts
}

func mapLLMConfigToGeminiSettings(config LLMRequestConfig) (GeminiModelSettings, error) {
	var settings GeminiModelSettings

	if config.MaxToken > 0 {
		settings.GenerationConfig.SetMaxOutputTokens(int32(config.MaxToken))
	}
	settings.GenerationConfig.SetTemperature(float32(config.Temperature))
	if config.TopP > 0 {
		settings.GenerationConfig.SetTopP(float32(config.TopP))
	}
	if config.TopK > 0 {
		settings.GenerationConfig.SetTopK(int32(config.TopK))
	}

	if config.ForcedTool == nil {
		return settings, nil
	}

	schemaMap, err := toolSchemaMap(*config.ForcedTool)
	if err != nil {
		return settings, err
	}
	schema, err := convertJSONSchemaToGenaiSchema(schemaMap)
	if err != nil {
		return settings, fmt.Errorf("failed to convert tool '%s': %w", config.ForcedTool.Name, err)
	}

	settings.Tools = []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        config.ForcedTool.Name,
			Description: config.ForcedTool.Description,
			Parameters:  schema,
		}},
	}}
	settings.ToolConfig = &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingAny,
			AllowedFunctionNames: []string{config.ForcedTool.Name},
		},
	}

	return settings, nil
}

func extractTextFromParts(parts []genai.Part) string {
	var sb strings.Builder
	for _, part := range parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String())
}

func findFunctionCalls(candidate *genai.Candidate) []*genai.FunctionCall {
	calls := make([]*genai.FunctionCall, 0)
	if candidate == nil || candidate.Content == nil {
		return calls
	}
	for _, part := range candidate.Content.Parts {
		if fcValue, ok := part.(genai.FunctionCall); ok {
			fc := fcValue
			calls = append(calls, &fc)
		} else if fcPointer, ok := part.(*genai.FunctionCall); ok && fcPointer != nil {
			calls = append(calls, fcPointer)
		}
	}
	return calls
}

// convertJSONSchemaToGenaiSchema maps the subset of JSON Schema used by tool definitions
// (type, description, enum, items, properties, required) onto genai.Schema.
func convertJSONSchemaToGenaiSchema(js map[string]interface{}) (*genai.Schema, error) {
	gs := &genai.Schema{}

	if desc, ok := js["description"].(string); ok {
		gs.Description = desc
	}

	typeName, _ := js["type"].(string)
	switch typeName {
	case "string":
		gs.Type = genai.TypeString
		if values, ok := js["enum"].([]interface{}); ok {
			for _, v := range values {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("non-string enum value %v", v)
				}
				gs.Enum = append(gs.Enum, s)
			}
			gs.Format = "enum"
		}
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	case "array":
		gs.Type = genai.TypeArray
		items, ok := js["items"].(map[string]interface{})
		if !ok {
			return nil, errors.New("array schema without items")
		}
		itemSchema, err := convertJSONSchemaToGenaiSchema(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		gs.Items = itemSchema
	case "object":
		gs.Type = genai.TypeObject
		if props, ok := js["properties"].(map[string]interface{}); ok {
			gs.Properties = make(map[string]*genai.Schema, len(props))
			for name, raw := range props {
				prop, ok := raw.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("property %s is not an object", name)
				}
				propSchema, err := convertJSONSchemaToGenaiSchema(prop)
				if err != nil {
					return nil, fmt.Errorf("property %s: %w", name, err)
				}
				gs.Properties[name] = propSchema
			}
		}
		if required, ok := js["required"].([]interface{}); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					gs.Required = append(gs.Required, s)
				}
			}
		}
	default:
		return nil, fmt.Errorf("unsupported schema type %q", typeName)
	}

	return gs, nil
}
