// Package actions provides the core logic of Pi Manager's self-update.
// It coordinates the working copy, backups and dependency installation into one
// update operation that is rolled back on failure.
//
// Key components:
//   - Updater: Checks for and applies updates with single-flight execution.
//   - ImageTracker: Compares published tags with the running version, read only.
//   - CompareVersions: Dotted-numeric version ordering.
//
// Usage example:
//
//	updater := actions.NewUpdater(actions.UpdaterConfig{
//	    Store:     store,
//	    Source:    repo,
//	    Backups:   backups,
//	    Installer: installer,
//	    Restarter: actions.ExitRestarter{},
//	})
//	result := updater.CheckForUpdates(ctx)
//	logrus.WithField("status", result.Status).Info("Update check finished")
//
// The package integrates with the git, backup, installer, metrics and notifications
// packages, using logrus for logging operations and errors.
package actions
