package actions

import (
	"context"

	"github.com/henningd/pi-manager/pkg/metrics"
	"github.com/henningd/pi-manager/pkg/types"
)

// VersionSource is the working copy driven by the Updater.
type VersionSource interface {
	IsRepository() bool
	Initialize(ctx context.Context, repoURL, branch string) (types.RepositoryState, error)
	Fetch(ctx context.Context, includeTags bool) error
	CurrentRevision() (string, error)
	RemoteRevision(branch string) (string, error)
	Pull(ctx context.Context, branch string) error
	HardResetTo(revision string) error
}

// TagSource is the read-only view of the working copy used by the ImageTracker.
type TagSource interface {
	IsRepository() bool
	Fetch(ctx context.Context, includeTags bool) error
	CurrentRevision() (string, error)
	LatestTag() (string, error)
	DescribeCurrentRevision() (string, error)
}

// WorkingCopyGuard serializes the operations that write to the working copy's metadata.
// The Updater implements it; TryLock never blocks.
type WorkingCopyGuard interface {
	TryLock() bool
	Unlock()
}

// BackupManager snapshots the tree before an update.
type BackupManager interface {
	CreateBackup(sourceRevision string) (types.BackupRecord, error)
	Restore(record types.BackupRecord) bool
	Prune(keep int) (int, error)
}

// DependencyInstaller re-installs dependencies after a manifest change.
type DependencyInstaller interface {
	ManifestChanged(from, to string) (bool, error)
	Install(ctx context.Context) (string, error)
}

// CheckRecorder records the outcome of update checks.
type CheckRecorder interface {
	RegisterCheck(metric *metrics.Metric)
}

// ImageRecorder records the outcome of image-version checks.
type ImageRecorder interface {
	RegisterImageCheck(available bool)
}
