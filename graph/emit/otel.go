package emit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each vertex's VertexStarted/VertexCompleted (or
// VertexFailed) pair into a span, so a trace backend shows one span per
// vertex execution. Each span is started as a root span and carries run_id
// and vertex_id attributes; there is no enclosing run span. Message/Reasoning/ToolCall events
// become span events on the vertex's still-open span.
type OTelEmitter struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]spanEntry // vertex_id -> open span
}

type spanEntry struct {
	ctx  context.Context
	span trace.Span
}

// NewOTelEmitter builds an emitter from a tracer, typically
// otel.Tracer("workflowcore").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer, spans: make(map[string]spanEntry)}
}

func (o *OTelEmitter) Emit(event Event) {
	switch event.Kind {
	case VertexStarted:
		ctx, span := o.tracer.Start(context.Background(), event.VertexID,
			trace.WithAttributes(
				attribute.String("run_id", event.RunID),
				attribute.String("vertex_id", event.VertexID),
			))
		o.mu.Lock()
		o.spans[entryKey(event.RunID, event.VertexID)] = spanEntry{ctx: ctx, span: span}
		o.mu.Unlock()
	case VertexCompleted, VertexFailed:
		o.mu.Lock()
		entry, ok := o.spans[entryKey(event.RunID, event.VertexID)]
		if ok {
			delete(o.spans, entryKey(event.RunID, event.VertexID))
		}
		o.mu.Unlock()
		if !ok {
			return
		}
		if event.Kind == VertexFailed {
			entry.span.SetStatus(codes.Error, stringData(event.Data, "error"))
		}
		entry.span.End()
	default:
		o.mu.Lock()
		entry, ok := o.spans[entryKey(event.RunID, event.VertexID)]
		o.mu.Unlock()
		if !ok {
			return
		}
		attrs := make([]attribute.KeyValue, 0, len(event.Data))
		for k, v := range event.Data {
			attrs = append(attrs, attribute.String(k, toString(v)))
		}
		entry.span.AddEvent(string(event.Kind), trace.WithAttributes(attrs...))
	}
}

func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		o.Emit(e)
	}
	return nil
}

func (o *OTelEmitter) Flush(context.Context) error { return nil }

func entryKey(runID, vertexID string) string { return runID + "/" + vertexID }

func stringData(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		return toString(v)
	}
	return ""
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
