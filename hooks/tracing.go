package hooks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingHook opens a client span per query and marks transaction endings
// as events on the caller's span.
type TracingHook struct {
	tracer trace.Tracer
}

var (
	_ QueryHook = (*TracingHook)(nil)
	_ TxHook    = (*TracingHook)(nil)
)

func NewTracingHook(tracer trace.Tracer) *TracingHook {
	return &TracingHook{tracer: tracer}
}

// querySpan keys the span started by BeforeQuery, so AfterQuery never ends
// a span it did not start.
type querySpan struct{}

func (h *TracingHook) BeforeQuery(ctx context.Context, event *QueryEvent) context.Context {
	if h.tracer == nil {
		return ctx
	}
	ctx, span := h.tracer.Start(ctx, "db."+OperationType(event.Query),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(event.StartTime),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("scopedb.role", event.Role),
		),
	)
	return context.WithValue(ctx, querySpan{}, span)
}

func (h *TracingHook) AfterQuery(ctx context.Context, event *QueryEvent) {
	span, ok := ctx.Value(querySpan{}).(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	span.SetAttributes(
		attribute.String("db.statement", truncate(event.Query, 500)),
		attribute.String("db.operation", OperationType(event.Query)),
		attribute.Int64("db.rows", event.RowCount),
	)
	if event.Name != "" {
		span.SetAttributes(attribute.String("db.statement.name", event.Name))
	}

	if event.Err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(event.Err)
	span.SetStatus(codes.Error, event.Err.Error())
}

// AfterTx adds a "scopedb.<kind>.<outcome>" event to the span active in
// ctx. Nothing is recorded when ctx carries no recording span.
func (h *TracingHook) AfterTx(ctx context.Context, event *TxEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{attribute.Int64("scopedb.duration_ms", event.Duration.Milliseconds())}
	if event.Savepoint != "" {
		attrs = append(attrs, attribute.String("scopedb.savepoint", event.Savepoint))
	}
	if event.Err != nil {
		attrs = append(attrs, attribute.String("scopedb.error", event.Err.Error()))
	}
	if event.Cause != nil {
		attrs = append(attrs, attribute.String("scopedb.cause", event.Cause.Error()))
	}
	span.AddEvent("scopedb."+event.Kind()+"."+event.Outcome, trace.WithAttributes(attrs...))
}
