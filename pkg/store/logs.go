package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/henningd/pi-manager/pkg/types"
)

const logPrefix = "log/"

// DefaultLogLimit is the number of entries Recent returns for a non-positive limit.
const DefaultLogLimit = 100

// Append stores a new log entry and returns its identifier.
//
// Identifiers are UUIDv7 values, so lexical key order matches insertion order.
func (s *Store) Append(level, message string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate log id: %w", err)
	}

	entry := types.LogEntry{
		ID:        id.String(),
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to encode log entry: %w", err)
	}

	record := badger.NewEntry([]byte(logPrefix+entry.ID), raw)
	if s.logTTL > 0 {
		record = record.WithTTL(s.logTTL)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(record)
	})
	if err != nil {
		return "", fmt.Errorf("failed to append log entry: %w", err)
	}

	return entry.ID, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]types.LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	entries := make([]types.LogEntry, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(logPrefix)
		opts.PrefetchSize = min(limit, opts.PrefetchSize)

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key not greater than the seek key.
		seek := append([]byte(logPrefix), 0xFF)

		for it.Seek(seek); it.ValidForPrefix(opts.Prefix) && len(entries) < limit; it.Next() {
			var entry types.LogEntry

			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}

			entries = append(entries, entry)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read log entries: %w", err)
	}

	return entries, nil
}
