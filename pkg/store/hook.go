package store

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/types"
)

// PersistField is the logrus field that keeps an entry out of the log store when set to "no".
const PersistField = "persist"

// LogHook is a logrus hook appending entries to a log store.
type LogHook struct {
	logs   types.LogStore
	levels []logrus.Level
}

// NewLogHook creates a hook persisting entries at minLevel and more severe levels.
//
// Parameters:
//   - logs: Destination log store.
//   - minLevel: Least severe level that is persisted, usually logrus.InfoLevel.
//
// Returns:
//   - *LogHook: Hook to register with logrus.AddHook.
func NewLogHook(logs types.LogStore, minLevel logrus.Level) *LogHook {
	levels := make([]logrus.Level, 0, len(logrus.AllLevels))

	for _, level := range logrus.AllLevels {
		if level <= minLevel {
			levels = append(levels, level)
		}
	}

	return &LogHook{logs: logs, levels: levels}
}

// Levels returns the levels the hook fires for.
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}

// Fire persists the entry unless it is marked persist=no.
//
// Failures are reported on stderr; logging them through logrus would re-enter the hook.
func (h *LogHook) Fire(entry *logrus.Entry) error {
	if value, ok := entry.Data[PersistField]; ok && value == "no" {
		return nil
	}

	message := entry.Message
	if err, ok := entry.Data[logrus.ErrorKey].(error); ok && err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}

	if _, err := h.logs.Append(entry.Level.String(), message); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist log entry: %v\n", err)
	}

	return nil
}
