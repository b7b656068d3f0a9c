package polywrite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileSink is a file-based Sink that appends audit events as JSON lines.
// It gives a single-node deployment a durable local audit trail without
// requiring a broker.
type FileSink struct {
	mu   sync.Mutex // Protects file operations
	file *os.File
}

// fileEvent is the on-disk form of an AuditEvent.
type fileEvent struct {
	Timestamp     string         `json:"timestamp"`
	TransactionID uuid.UUID      `json:"transaction_id"`
	StepName      string         `json:"step_name,omitempty"`
	EventType     EventType      `json:"event_type"`
	Status        Status         `json:"status"`
	DurationMS    int64          `json:"duration_ms,omitempty"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// NewFileSink creates a Sink that appends events to the given file,
// creating parent directories as needed.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &FileSink{file: file}, nil
}

// Emit implements the Sink interface for FileSink.
func (f *FileSink) Emit(_ context.Context, event AuditEvent) error {
	line := fileEvent{
		Timestamp:     event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		TransactionID: event.TransactionID,
		StepName:      event.StepName.String(),
		EventType:     event.EventType,
		Status:        event.Status,
		DurationMS:    event.Duration.Milliseconds(),
		Extra:         event.Extra,
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
