package types

import "time"

// LogEntry is a single persisted log line.
type LogEntry struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogStore is the append-only log sink.
type LogStore interface {
	// Append stores a new entry and returns its identifier.
	Append(level, message string) (string, error)

	// Recent returns up to limit entries, newest first.
	Recent(limit int) ([]LogEntry, error)
}
