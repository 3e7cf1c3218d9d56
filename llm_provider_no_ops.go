package shopassist

import (
	"context"
	"sync"
)

// NoOpsLLMProvider implements LLMProvider interface for testing purposes.
// Scripted responses are returned in order; once exhausted the last one repeats.
type NoOpsLLMProvider struct {
	mu        sync.Mutex
	responses []noOpsResult
	calls     [][]LLMMessage
	configs   []LLMRequestConfig
}

type noOpsResult struct {
	response LLMResponse
	err      error
}

// NoOpsOption defines the function signature for option pattern.
type NoOpsOption func(*NoOpsLLMProvider)

// WithResponse appends a scripted LLMResponse.
func WithResponse(response LLMResponse) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.responses = append(n.responses, noOpsResult{response: response})
	}
}

// WithError appends a scripted failure.
func WithError(err error) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.responses = append(n.responses, noOpsResult{err: err})
	}
}

// WithToolCall appends a scripted response carrying a tool call with the given JSON arguments.
func WithToolCall(name, arguments string) NoOpsOption {
	return WithResponse(LLMResponse{ToolCall: &ToolCall{Name: name, Arguments: []byte(arguments)}})
}

// NewNoOpsLLMProvider creates a new NoOpsLLMProvider with optional configurations.
func NewNoOpsLLMProvider(opts ...NoOpsOption) *NoOpsLLMProvider {
	provider := &NoOpsLLMProvider{}

	for _, opt := range opts {
		opt(provider)
	}

	if len(provider.responses) == 0 {
		provider.responses = []noOpsResult{{response: LLMResponse{
			Text:             "Default NoOps response",
			TotalInputToken:  10,
			TotalOutputToken: 3,
			CompletionTime:   0.1,
		}}}
	}

	return provider
}

// GetResponse implements the LLMProvider interface. It honours context cancellation.
func (n *NoOpsLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return LLMResponse{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	idx := len(n.calls)
	if idx >= len(n.responses) {
		idx = len(n.responses) - 1
	}
	n.calls = append(n.calls, messages)
	n.configs = append(n.configs, config)

	result := n.responses[idx]
	return result.response, result.err
}

// Calls returns the message lists received so far.
func (n *NoOpsLLMProvider) Calls() [][]LLMMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]LLMMessage(nil), n.calls...)
}

// LastConfig returns the request config of the most recent call.
func (n *NoOpsLLMProvider) LastConfig() (LLMRequestConfig, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.configs) == 0 {
		return LLMRequestConfig{}, false
	}
	return n.configs[len(n.configs)-1], true
}
