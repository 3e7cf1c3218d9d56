package shopassist

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestConfig(t *testing.T) {
	tool := ToolDefinition{Name: "intent_parser", InputSchema: json.RawMessage(`{"type":"object"}`)}

	tests := []struct {
		name     string
		opts     []RequestOption
		expected LLMRequestConfig
	}{
		{
			name:     "no options - should use defaults",
			expected: DefaultRequestConfig,
		},
		{
			name: "with single option",
			opts: []RequestOption{WithMaxToken(2000)},
			expected: LLMRequestConfig{
				MaxToken:    2000,
				TopP:        0.5,
				Temperature: 0.5,
				TopK:        40,
			},
		},
		{
			name: "with multiple options",
			opts: []RequestOption{
				WithMaxToken(2000),
				WithTopP(0.95),
				WithTemperature(0.8),
				WithTopK(100),
			},
			expected: LLMRequestConfig{
				MaxToken:    2000,
				TopP:        0.95,
				Temperature: 0.8,
				TopK:        100,
			},
		},
		{
			name: "with zero values - should override defaults",
			opts: []RequestOption{
				WithMaxToken(0),
				WithTopP(0),
				WithTemperature(0),
				WithTopK(0),
			},
			expected: LLMRequestConfig{},
		},
		{
			name: "with forced tool",
			opts: []RequestOption{WithForcedTool(tool), WithTemperature(0)},
			expected: LLMRequestConfig{
				MaxToken:    1000,
				TopP:        0.5,
				Temperature: 0,
				TopK:        40,
				ForcedTool:  &tool,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewRequestConfig(tt.opts...)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNewRequestConfig_DoesNotMutateDefaults(t *testing.T) {
	_ = NewRequestConfig(WithMaxToken(1), WithForcedTool(ToolDefinition{Name: "x"}))

	assert.Equal(t, int64(1000), DefaultRequestConfig.MaxToken)
	assert.Nil(t, DefaultRequestConfig.ForcedTool)
}

func TestToolSchemaMap(t *testing.T) {
	schema, err := toolSchemaMap(ToolDefinition{InputSchema: json.RawMessage(`{"type":"object","required":["a"]}`)})
	require.NoError(t, err)
	assert.Equal(t, "object", schema["type"])

	empty, err := toolSchemaMap(ToolDefinition{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = toolSchemaMap(ToolDefinition{InputSchema: json.RawMessage(`not json`)})
	assert.Error(t, err)
}
