package emit

import "context"

// Emitter receives events from workflow execution and forwards them to an
// observability backend (logs, traces, metrics). Implementations must not
// block the producing vertex for long and must not panic.
type Emitter interface {
	// Emit sends a single event. Non-blocking best effort.
	Emit(event Event)

	// EmitBatch sends multiple events in publication order. Returns an error
	// only on catastrophic, non-recoverable failures.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events have been handed to the backend.
	Flush(ctx context.Context) error
}

// MultiEmitter fans a single event stream out to several backends.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter combines zero or more emitters into one.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (m *MultiEmitter) Emit(event Event) {
	for _, e := range m.emitters {
		e.Emit(event)
	}
}

func (m *MultiEmitter) EmitBatch(ctx context.Context, events []Event) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.EmitBatch(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiEmitter) Flush(ctx context.Context) error {
	var firstErr error
	for _, e := range m.emitters {
		if err := e.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
