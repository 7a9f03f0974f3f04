package emit

import (
	"context"
	"log/slog"
)

// LogEmitter writes events through a structured slog.Logger, one log record
// per event.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger falls back to slog.Default().
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(event Event) {
	attrs := make([]any, 0, 4+2*len(event.Data))
	attrs = append(attrs, slog.String("run_id", event.RunID), slog.String("vertex_id", event.VertexID))
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.Info(string(event.Kind), attrs...)
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

func (l *LogEmitter) Flush(context.Context) error { return nil }
