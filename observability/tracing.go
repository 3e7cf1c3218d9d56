// Package observability holds the tracing and metrics helpers shared by the chat pipeline and its HTTP layer.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans emitted by this module.
const TracerName = "github.com/shaharia-lab/shopassist"

// StartSpan starts a new span with the given name and options.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return trace.SpanFromContext(ctx).TracerProvider().
		Tracer(TracerName).
		Start(ctx, name, opts...)
}
