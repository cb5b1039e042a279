package types

import "time"

// BackupRecord describes a snapshot of the deployment tree.
//
// Records are created immediately before a pull and never mutated.
type BackupRecord struct {
	Path           string    `json:"path"`
	CreatedAt      time.Time `json:"created_at"`
	SourceRevision string    `json:"source_revision,omitempty"`
}
