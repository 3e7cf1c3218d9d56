package shopassist

import (
	"context"
	"time"

	"github.com/shaharia-lab/shopassist/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingLLMProvider implements the decorator pattern for tracing
type TracingLLMProvider struct {
	provider LLMProvider
	backend  string
	metrics  *observability.Metrics
}

// NewTracingLLMProvider creates a new tracing decorator for any LLMProvider.
// metrics may be nil.
func NewTracingLLMProvider(backend string, provider LLMProvider, metrics *observability.Metrics) *TracingLLMProvider {
	return &TracingLLMProvider{
		provider: provider,
		backend:  backend,
		metrics:  metrics,
	}
}

// GetResponse implements LLMProvider interface with added tracing
func (t *TracingLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	ctx, span := observability.StartSpan(ctx, "LLMProvider.GetResponse")
	defer span.End()

	startTime := time.Now()

	response, err := t.provider.GetResponse(ctx, messages, config)
	t.metrics.ObserveLLMCall(t.backend, err, time.Since(startTime))

	span.SetAttributes(
		attribute.String("backend", t.backend),
		attribute.Int("message_count", len(messages)),
		attribute.Bool("forced_tool", config.ForcedTool != nil),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return LLMResponse{}, err
	}

	span.SetAttributes(
		attribute.Int("total_input_token", response.TotalInputToken),
		attribute.Int("total_output_token", response.TotalOutputToken),
		attribute.Float64("completion_time", time.Since(startTime).Seconds()),
		attribute.Int64("max_token", config.MaxToken),
		attribute.Float64("temperature", config.Temperature),
		attribute.Float64("top_p", config.TopP),
		attribute.Int64("top_k", config.TopK),
	)

	return response, nil
}
