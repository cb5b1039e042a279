// Package backup snapshots the deployment tree before an update and restores it on failure.
//
// Snapshots are plain directory copies named backup-<UTC timestamp> under a backup root.
// Version-control metadata, dependency caches, persistent data and the backup root itself
// are never copied. Each snapshot carries a small metadata file recording the revision it
// was taken from, so List can report BackupRecords without an external index.
//
// Restore is best-effort: it copies a snapshot back over the tree, logs failures and
// never retries. The primary rollback mechanism is a hard reset of the working copy.
package backup
