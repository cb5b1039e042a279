// Package types defines core interfaces and structs for Pi Manager.
// It provides the shared vocabulary of the self-update orchestrator, the stores and the notifier.
//
// Key components:
//   - UpdateConfig: Operator-controlled update settings read from the config store.
//   - UpdateResult: Tagged outcome of one check or apply cycle.
//   - ImageResult / ImageUpdateInfo: Advisory results of the image-version tracker.
//   - BackupRecord: Snapshot of the deployment tree taken before an update.
//   - ConfigStore / LogStore: Persistence abstractions for settings and logs.
//   - Notifier: Interface for outbound device notifications.
//   - Error: Structured git operation error.
//
// Usage example:
//
//	cfg, err := types.LoadUpdateConfig(store)
//	if err != nil {
//	    logrus.WithError(err).Error("Failed to read update config")
//	}
//	result := updater.CheckForUpdates(ctx)
//	logrus.WithField("status", result.Status).Info("Update check finished")
package types
