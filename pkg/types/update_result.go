package types

import (
	"encoding/json"
	"time"
)

// UpdateStatus names the variant of an UpdateResult.
type UpdateStatus string

// Update result variants.
const (
	StatusNoRepoConfigured      UpdateStatus = "no_repo_configured"
	StatusRepositoryInitialized UpdateStatus = "repository_initialized"
	StatusUpToDate              UpdateStatus = "up_to_date"
	StatusUpdatesAvailable      UpdateStatus = "updates_available"
	StatusUpdateSucceeded       UpdateStatus = "update_succeeded"
	StatusUpdateFailed          UpdateStatus = "update_failed"
	StatusUpdateInProgress      UpdateStatus = "update_in_progress"
)

// UpdateResult is the tagged outcome of one check or apply cycle.
//
// Only the fields belonging to the Status variant are meaningful; MarshalJSON
// emits exactly those.
type UpdateResult struct {
	Status UpdateStatus

	Revision string // UpToDate

	Current     string        // UpdatesAvailable
	Latest      string        // UpdatesAvailable
	AutoApplied bool          // UpdatesAvailable
	Update      *UpdateResult // UpdatesAvailable, outcome of the chained apply

	BackupPath              string // UpdateSucceeded
	DependenciesReinstalled bool   // UpdateSucceeded

	Reason     string // UpdateFailed
	RolledBack bool   // UpdateFailed
}

// NoRepoConfigured reports that no repository URL is set.
func NoRepoConfigured() UpdateResult {
	return UpdateResult{Status: StatusNoRepoConfigured}
}

// RepositoryInitialized reports that the tree was turned into a working copy during this cycle.
func RepositoryInitialized() UpdateResult {
	return UpdateResult{Status: StatusRepositoryInitialized}
}

// UpToDate reports that the local revision matches the remote one.
func UpToDate(revision string) UpdateResult {
	return UpdateResult{Status: StatusUpToDate, Revision: revision}
}

// UpdatesAvailable reports that the remote branch moved ahead of the working copy.
func UpdatesAvailable(current, latest string, autoApplied bool) UpdateResult {
	return UpdateResult{
		Status:      StatusUpdatesAvailable,
		Current:     current,
		Latest:      latest,
		AutoApplied: autoApplied,
	}
}

// UpdateSucceeded reports a committed update.
func UpdateSucceeded(backupPath string, dependenciesReinstalled bool) UpdateResult {
	return UpdateResult{
		Status:                  StatusUpdateSucceeded,
		BackupPath:              backupPath,
		DependenciesReinstalled: dependenciesReinstalled,
	}
}

// UpdateFailed reports a failed cycle and whether the working copy was rolled back.
func UpdateFailed(reason string, rolledBack bool) UpdateResult {
	return UpdateResult{Status: StatusUpdateFailed, Reason: reason, RolledBack: rolledBack}
}

// UpdateInProgress is returned instead of starting a second apply.
func UpdateInProgress() UpdateResult {
	return UpdateResult{Status: StatusUpdateInProgress}
}

// Failed reports whether the result, or the apply chained into it, failed.
func (r UpdateResult) Failed() bool {
	if r.Update != nil {
		return r.Update.Failed()
	}

	return r.Status == StatusUpdateFailed
}

// Succeeded reports whether the result, or the apply chained into it, committed an update.
func (r UpdateResult) Succeeded() bool {
	if r.Update != nil {
		return r.Update.Succeeded()
	}

	return r.Status == StatusUpdateSucceeded
}

// MarshalJSON encodes the variant with its own fields only.
func (r UpdateResult) MarshalJSON() ([]byte, error) {
	out := map[string]any{"status": r.Status}

	switch r.Status {
	case StatusUpToDate:
		out["current"] = r.Revision
	case StatusUpdatesAvailable:
		out["current"] = r.Current
		out["latest"] = r.Latest
		out["auto_update_enabled"] = r.AutoApplied

		if r.Update != nil {
			out["update_result"] = r.Update
		}
	case StatusUpdateSucceeded:
		out["backup"] = r.BackupPath
		out["package_updated"] = r.DependenciesReinstalled
	case StatusUpdateFailed:
		out["error"] = r.Reason
		out["rolled_back"] = r.RolledBack
	case StatusNoRepoConfigured, StatusRepositoryInitialized, StatusUpdateInProgress:
	}

	return json.Marshal(out)
}

// ImageStatus names the variant of an ImageResult.
type ImageStatus string

// Image-version tracker variants.
const (
	ImageStatusAvailable        ImageStatus = "image_update_available"
	ImageStatusUpToDate         ImageStatus = "image_up_to_date"
	ImageStatusNoRepoConfigured ImageStatus = "no_repo_configured"
	ImageStatusError            ImageStatus = "error"
	ImageStatusInProgress       ImageStatus = "update_in_progress"
)

// ImageUpdateInfo is the advisory record of a newer published version.
type ImageUpdateInfo struct {
	CurrentVersion string    `json:"current_version"`
	LatestVersion  string    `json:"latest_version"`
	CheckedAt      time.Time `json:"check_time"`
	Status         string    `json:"status"`
}

// ImageResult is the outcome of one image-version check.
type ImageResult struct {
	Status         ImageStatus      `json:"status"`
	CurrentVersion string           `json:"current_version,omitempty"`
	LatestVersion  string           `json:"latest_version,omitempty"`
	UpdateInfo     *ImageUpdateInfo `json:"update_info,omitempty"`
	LastCheck      *time.Time       `json:"last_check,omitempty"`
	Error          string           `json:"error,omitempty"`
}
