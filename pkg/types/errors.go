package types

import "errors"

// Error taxonomy of the self-update orchestrator.
var (
	// ErrConfiguration indicates missing or unreadable configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrInitialization indicates the deployment tree could not be turned into a working copy.
	ErrInitialization = errors.New("repository initialization failed")
	// ErrNetwork indicates a fetch, pull or initialize could not reach the remote.
	ErrNetwork = errors.New("network error")
	// ErrMergeConflict indicates the pulled revision could not be applied to the working copy.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrBackup indicates the pre-update snapshot could not be created.
	ErrBackup = errors.New("backup failed")
	// ErrInstall indicates the dependency installation step failed.
	ErrInstall = errors.New("dependency installation failed")
	// ErrRollback indicates the best-effort rollback did not succeed.
	ErrRollback = errors.New("rollback failed")
)
