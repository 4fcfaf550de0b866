package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartPhaseSpan starts the span covering one load phase.
func StartPhaseSpan(ctx context.Context, tracer trace.Tracer, phase string, workers, messages int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "phase "+phase,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("chatfire.phase", phase),
		attribute.Int("chatfire.workers", workers),
		attribute.Int("chatfire.messages", messages),
	)
	return ctx, span
}

// StartSendSpan starts a client span for one measured send.
func StartSendSpan(ctx context.Context, tracer trace.Tracer, room, kind string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "send room "+room,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("messaging.system", "websocket"),
		attribute.String("chatfire.room", room),
		attribute.String("chatfire.message_type", kind),
	)
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTPHeaders injects W3C trace context into HTTP headers.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
