package shopassist

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoStructuredPayload is returned when a response carries neither a tool call nor any JSON object.
var ErrNoStructuredPayload = errors.New("response contains no structured payload")

// ResponseExtractor pulls a structured JSON payload out of an LLM response.
type ResponseExtractor interface {
	Extract(response LLMResponse) (json.RawMessage, error)
}

// JSONExtractor implements ResponseExtractor. It prefers the forced tool call and falls back
// to JSON embedded in the text, for backends that answer in prose despite the tool choice.
type JSONExtractor struct {
	// ToolName, when set, is the only tool call accepted.
	ToolName string
}

// NewJSONExtractor creates a JSONExtractor that accepts calls to toolName.
func NewJSONExtractor(toolName string) *JSONExtractor {
	return &JSONExtractor{ToolName: toolName}
}

// Extract implements ResponseExtractor.Extract.
func (e *JSONExtractor) Extract(response LLMResponse) (json.RawMessage, error) {
	if call := response.ToolCall; call != nil {
		if e.ToolName != "" && call.Name != e.ToolName {
			return nil, fmt.Errorf("unexpected tool call %q", call.Name)
		}
		if !json.Valid(call.Arguments) {
			return nil, fmt.Errorf("tool call %q has invalid JSON arguments", call.Name)
		}
		return call.Arguments, nil
	}

	text := strings.TrimSpace(response.Text)
	if text == "" {
		return nil, ErrNoStructuredPayload
	}

	// Try to find JSON content within markdown code blocks first
	for _, candidate := range []string{extractFromCodeBlock(text, "json"), text, outermostObject(text)} {
		if candidate != "" && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, ErrNoStructuredPayload
}

// Helper function to extract content from markdown code blocks
func extractFromCodeBlock(text, language string) string {
	pattern := fmt.Sprintf("```%s\\s*\\n([\\s\\S]*?)```", language)
	re := regexp.MustCompile(pattern)
	matches := re.FindStringSubmatch(text)
	if len(matches) < 2 {
		return ""
	}
	return strings.TrimSpace(matches[1])
}

func outermostObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
