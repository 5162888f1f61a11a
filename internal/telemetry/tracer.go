package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrClientIP    = "client.ip"
	AttrSessionID   = "rpc.session_id"
	AttrApplication = "rpc.application"
	AttrCommID      = "rpc.communication_id"
	AttrCallCount   = "rpc.call_count"
	AttrObject      = "rpc.object"
	AttrMethod      = "rpc.method"
	AttrSerializer  = "rpc.serializer"
	AttrReplayed    = "rpc.replayed"
	AttrCompressed  = "rpc.compressed"
	AttrResultCount = "rpc.result_count"
)

// Span names.
const (
	SpanRequest  = "rpc.request"
	SpanCall     = "rpc.call"
	SpanCallback = "rpc.callback"
	SpanReaper   = "session.reap"
)

// StartRequestSpan starts the root span for one inbound frame.
func StartRequestSpan(ctx context.Context, clientIP string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanRequest,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String(AttrClientIP, clientIP)),
	)
}

// StartCallSpan starts a child span for one dispatched call.
func StartCallSpan(ctx context.Context, sessionID, object, method string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanCall,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.String(AttrObject, object),
			attribute.String(AttrMethod, method),
		),
	)
}

// StartCallbackSpan starts a span for an asynchronous callback execution.
func StartCallbackSpan(ctx context.Context, sessionID string, callbackID int64) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanCallback,
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.Int64("rpc.callback_id", callbackID),
		),
	)
}
