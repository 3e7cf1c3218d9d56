package shopassist

import (
	"encoding/json"
)

// LLMMessageRole is the role of a message sent to a chat backend.
type LLMMessageRole string

const (
	UserRole      LLMMessageRole = "user"
	AssistantRole LLMMessageRole = "assistant"
	SystemRole    LLMMessageRole = "system"
)

// LLMMessage is a single message sent to a chat backend. Content may mix text and images.
type LLMMessage struct {
	Role    LLMMessageRole
	Content []ContentPart
}

// NewTextMessage builds a text-only LLMMessage.
func NewTextMessage(role LLMMessageRole, text string) LLMMessage {
	return LLMMessage{Role: role, Content: Text(text)}
}

// ToolDefinition describes a function the model is forced to call.
// InputSchema is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a function call returned by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// LLMResponse is the result of a single completion.
type LLMResponse struct {
	Text             string
	ToolCall         *ToolCall
	TotalInputToken  int
	TotalOutputToken int
	CompletionTime   float64
}

// LLMRequestConfig holds per-request generation parameters.
type LLMRequestConfig struct {
	MaxToken    int64
	TopP        float64
	Temperature float64
	TopK        int64

	// ForcedTool, when set, makes the backend return a call to this tool instead of free text.
	ForcedTool *ToolDefinition
}

// RequestOption configures an LLMRequestConfig.
type RequestOption func(*LLMRequestConfig)

// DefaultRequestConfig is the baseline applied before options.
var DefaultRequestConfig = LLMRequestConfig{
	MaxToken:    1000,
	TopP:        0.5,
	Temperature: 0.5,
	TopK:        40,
}

// NewRequestConfig creates a request config from DefaultRequestConfig and the given options.
//
// Example usage:
//
//	config := shopassist.NewRequestConfig(
//	    shopassist.WithMaxToken(500),
//	    shopassist.WithTemperature(0),
//	)
func NewRequestConfig(opts ...RequestOption) LLMRequestConfig {
	config := DefaultRequestConfig
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// WithMaxToken sets the maximum number of generated tokens.
func WithMaxToken(maxToken int64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.MaxToken = maxToken
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.TopP = topP
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.Temperature = temperature
	}
}

// WithTopK sets top-k sampling. Only some backends honour it.
func WithTopK(topK int64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.TopK = topK
	}
}

// WithForcedTool forces the model to answer with a call to tool.
func WithForcedTool(tool ToolDefinition) RequestOption {
	return func(c *LLMRequestConfig) {
		c.ForcedTool = &tool
	}
}

// toolSchemaMap decodes a tool's JSON Schema into a generic map, which is what most SDKs accept.
func toolSchemaMap(tool ToolDefinition) (map[string]interface{}, error) {
	schema := make(map[string]interface{})
	if len(tool.InputSchema) == 0 {
		return schema, nil
	}
	if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
		return nil, err
	}
	return schema, nil
}
