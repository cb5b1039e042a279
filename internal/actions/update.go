package actions

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/internal/util"
	"github.com/henningd/pi-manager/pkg/metrics"
	"github.com/henningd/pi-manager/pkg/types"
)

// DefaultRestartGrace is the delay between a committed update and the restart request.
const DefaultRestartGrace = 2 * time.Second

// Notification messages sent on update transitions.
const (
	msgUpdateApplied         = "Application updated and restarting"
	msgRepositoryInitialized = "Repository initialized for updates"
)

// UpdaterConfig holds the collaborators of an Updater.
type UpdaterConfig struct {
	Store     types.ConfigReader  // Source of the update settings, read on every cycle.
	Source    VersionSource       // Working copy of the deployment tree.
	Backups   BackupManager       // Snapshot manager.
	Installer DependencyInstaller // Dependency installer.
	Notifier  types.Notifier      // Optional notifier for update transitions.
	Metrics   CheckRecorder       // Optional metrics recorder.
	Restarter Restarter           // Restart capability invoked after a committed update.
	Crash     CrashReporter       // Optional panic reporter for the delayed restart.

	RestartGrace    time.Duration // Delay before RequestRestart, DefaultRestartGrace when zero.
	BackupRetention int           // Snapshots kept after a successful update, zero keeps all.
}

// Updater is the self-update orchestrator.
//
// One guard covers every operation that writes to the working copy: checks
// (initialize, fetch, compare), applies and the image tracker's tag fetch.
// Callers arriving while it is held are turned away with an update_in_progress
// result instead of waiting.
type Updater struct {
	store     types.ConfigReader
	source    VersionSource
	backups   BackupManager
	installer DependencyInstaller
	notifier  types.Notifier
	metrics   CheckRecorder
	restarter Restarter
	crash     CrashReporter

	restartGrace time.Duration
	retention    int

	running atomic.Bool
	after   func(time.Duration, func()) *time.Timer
}

// NewUpdater creates an Updater from its collaborators.
//
// Parameters:
//   - config: Collaborators and tuning values.
//
// Returns:
//   - *Updater: Idle updater.
func NewUpdater(config UpdaterConfig) *Updater {
	grace := config.RestartGrace
	if grace <= 0 {
		grace = DefaultRestartGrace
	}

	restarter := config.Restarter
	if restarter == nil {
		restarter = ExitRestarter{}
	}

	return &Updater{
		store:        config.Store,
		source:       config.Source,
		backups:      config.Backups,
		installer:    config.Installer,
		notifier:     config.Notifier,
		metrics:      config.Metrics,
		restarter:    restarter,
		crash:        config.Crash,
		restartGrace: grace,
		retention:    config.BackupRetention,
		after:        time.AfterFunc,
	}
}

// InProgress reports whether a check or an apply currently holds the working copy.
func (u *Updater) InProgress() bool {
	return u.running.Load()
}

// TryLock takes the working copy guard without waiting.
func (u *Updater) TryLock() bool {
	return u.running.CompareAndSwap(false, true)
}

// Unlock releases the working copy guard.
func (u *Updater) Unlock() {
	u.running.Store(false)
}

// CheckForUpdates compares the working copy with its remote branch.
//
// An unconfigured repository is reported as a status. An un-versioned tree is
// initialized and the cycle ends there. When the remote moved and auto-update
// is enabled, the apply runs immediately and its result is nested under Update.
//
// Parameters:
//   - ctx: Context for network operations.
//
// Returns:
//   - types.UpdateResult: Outcome of the cycle.
func (u *Updater) CheckForUpdates(ctx context.Context) types.UpdateResult {
	result := u.check(ctx)
	u.record(result)

	return result
}

func (u *Updater) check(ctx context.Context) types.UpdateResult {
	if !u.TryLock() {
		logrus.Debug("Update in progress, skipping check")

		return types.UpdateInProgress()
	}
	defer u.Unlock()

	config, err := types.LoadUpdateConfig(u.store)
	if err != nil {
		logrus.WithError(err).Error("Failed to read update configuration")

		return types.UpdateFailed(err.Error(), false)
	}

	if !config.Configured() {
		logrus.Debug("No repository configured, skipping update check")

		return types.NoRepoConfigured()
	}

	fields := logrus.Fields{"repo": config.RepoURL, "branch": config.Branch}

	if !u.source.IsRepository() {
		logrus.WithFields(fields).Info("Initializing git repository for updates")

		state, err := u.source.Initialize(ctx, config.RepoURL, config.Branch)
		if err != nil {
			logrus.WithFields(fields).WithError(err).Error("Repository initialization failed")

			return types.UpdateFailed(err.Error(), false)
		}

		logrus.WithFields(fields).
			WithField("revision", util.ShortRevision(state.CurrentRevision)).
			Info("Git repository initialized")
		u.notify(msgRepositoryInitialized, types.NotifyInfo)

		return types.RepositoryInitialized()
	}

	if err := u.source.Fetch(ctx, false); err != nil {
		logrus.WithFields(fields).WithError(err).Error("Update check failed")

		return types.UpdateFailed(err.Error(), false)
	}

	current, latest, err := u.revisions(config.Branch)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("Update check failed")

		return types.UpdateFailed(err.Error(), false)
	}

	if current == latest {
		logrus.WithFields(fields).
			WithField("revision", util.ShortRevision(current)).
			Debug("Working copy is up to date")

		return types.UpToDate(current)
	}

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"current":     util.ShortRevision(current),
		"latest":      util.ShortRevision(latest),
		"auto_update": config.AutoUpdate,
	}).Info("Updates available")

	result := types.UpdatesAvailable(current, latest, config.AutoUpdate)

	if config.AutoUpdate {
		logrus.WithFields(fields).Info("Auto-update enabled, applying updates")

		applied := u.applyLocked(ctx)
		result.Update = &applied
	}

	return result
}

// revisions returns the checked out and the last fetched remote revision.
func (u *Updater) revisions(branch string) (string, string, error) {
	current, err := u.source.CurrentRevision()
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", errRevisionLookup, err)
	}

	latest, err := u.source.RemoteRevision(branch)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", errRevisionLookup, err)
	}

	return current, latest, nil
}

// ApplyUpdates pulls the remote branch into the working copy.
//
// The tree is snapshotted first; a failed snapshot aborts before anything is
// touched. A failed pull or install resets the working copy to the previous
// revision. On success a restart is requested after the grace delay.
//
// Parameters:
//   - ctx: Context for network operations. Cancellation does not interrupt a running apply.
//
// Returns:
//   - types.UpdateResult: update_succeeded, update_failed or update_in_progress.
func (u *Updater) ApplyUpdates(ctx context.Context) types.UpdateResult {
	result := u.apply(ctx)
	u.record(result)

	return result
}

func (u *Updater) apply(ctx context.Context) types.UpdateResult {
	if !u.TryLock() {
		logrus.Debug("Update already in progress")

		return types.UpdateInProgress()
	}
	defer u.Unlock()

	return u.applyLocked(ctx)
}

// applyLocked runs the apply steps. The caller holds the guard.
func (u *Updater) applyLocked(ctx context.Context) types.UpdateResult {
	// A started apply runs to completion or rollback, even across shutdown.
	ctx = context.WithoutCancel(ctx)

	config, err := types.LoadUpdateConfig(u.store)
	if err != nil {
		return u.fail(err, false)
	}

	if !config.Configured() {
		return types.NoRepoConfigured()
	}

	if !u.source.IsRepository() {
		return u.fail(errNotWorkingCopy, false)
	}

	previous, err := u.source.CurrentRevision()
	if err != nil {
		return u.fail(fmt.Errorf("%w: %w", errRevisionLookup, err), false)
	}

	fields := logrus.Fields{
		"branch":   config.Branch,
		"previous": util.ShortRevision(previous),
	}

	backup, err := u.backups.CreateBackup(previous)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("Backup failed, update aborted")

		return u.fail(err, false)
	}

	logrus.WithFields(fields).Debug("Pulling latest changes")

	if err := u.source.Pull(ctx, config.Branch); err != nil {
		logrus.WithFields(fields).WithError(err).Error("Pull failed")

		return u.fail(err, u.rollback(previous, backup))
	}

	current, err := u.source.CurrentRevision()
	if err != nil {
		return u.fail(fmt.Errorf("%w: %w", errRevisionLookup, err), u.rollback(previous, backup))
	}

	fields["current"] = util.ShortRevision(current)

	reinstall, err := u.installer.ManifestChanged(previous, current)
	if err != nil {
		return u.fail(fmt.Errorf("%w: %w", errManifestCheck, err), u.rollback(previous, backup))
	}

	if reinstall {
		logrus.WithFields(fields).Info("Dependency manifest changed, updating dependencies")

		if _, err := u.installer.Install(ctx); err != nil {
			logrus.WithFields(fields).WithError(err).Error("Dependency installation failed")

			return u.fail(err, u.rollback(previous, backup))
		}
	}

	u.prune()

	logrus.WithFields(fields).
		WithField("backup", backup.Path).
		Info("Update completed, restarting application")
	u.notify(msgUpdateApplied, types.NotifyUpdate)

	u.after(u.restartGrace, u.requestRestart)

	return types.UpdateSucceeded(backup.Path, reinstall)
}

// requestRestart runs on the restart timer's goroutine, so panics are reported here.
func (u *Updater) requestRestart() {
	defer func() {
		if recovered := recover(); recovered != nil {
			if u.crash == nil {
				panic(recovered)
			}

			u.crash("restart", recovered)
		}
	}()

	u.restarter.RequestRestart()
}

// rollback resets the working copy to previous and restores the snapshot on top.
// It reports whether the reset succeeded; the restore is best-effort.
func (u *Updater) rollback(previous string, backup types.BackupRecord) bool {
	fields := logrus.Fields{"revision": util.ShortRevision(previous), "backup": backup.Path}

	resetErr := u.source.HardResetTo(previous)
	if resetErr != nil {
		logrus.WithFields(fields).
			WithError(fmt.Errorf("%w: %w", types.ErrRollback, resetErr)).
			Error("Rollback failed")
	}

	if !u.backups.Restore(backup) {
		logrus.WithFields(fields).Warn("Backup restore after failed update did not complete")
	}

	if resetErr == nil {
		logrus.WithFields(fields).Info("Rollback completed")
	}

	return resetErr == nil
}

// prune enforces the backup retention without failing the update.
func (u *Updater) prune() {
	if u.retention <= 0 {
		return
	}

	removed, err := u.backups.Prune(u.retention)
	if err != nil {
		logrus.WithError(err).Warn("Failed to prune old backups")

		return
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"removed": removed,
			"kept":    u.retention,
		}).Debug("Pruned old backups")
	}
}

func (u *Updater) fail(err error, rolledBack bool) types.UpdateResult {
	logrus.WithError(err).
		WithField("rolled_back", rolledBack).
		Error("Update failed")
	u.notify("Update failed: "+err.Error(), types.NotifyWarning)

	return types.UpdateFailed(err.Error(), rolledBack)
}

func (u *Updater) notify(message, kind string) {
	if u.notifier == nil {
		return
	}

	u.notifier.Send(message, kind)
}

func (u *Updater) record(result types.UpdateResult) {
	if u.metrics == nil {
		return
	}

	u.metrics.RegisterCheck(metrics.NewMetric(result))
}
