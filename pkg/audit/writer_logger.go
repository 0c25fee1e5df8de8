package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// WriterLogger writes events as newline-delimited JSON to an io.Writer.
// Useful for stdout sinks alongside the database logger.
type WriterLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterLogger creates a new writer-backed audit logger
func NewWriterLogger(w io.Writer) *WriterLogger {
	return &WriterLogger{w: w}
}

// Log writes the event as a single JSON line
func (l *WriterLogger) Log(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the writer's lifetime belongs to the caller.
func (l *WriterLogger) Close() error { return nil }
