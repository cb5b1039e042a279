// Package store provides Pi Manager's persistent state on top of BadgerDB.
//
// A single embedded database holds two keyspaces:
//
//   - config/<key>: runtime-editable settings (repository, branch, poll interval,
//     auto-update switch, notification URL, device name), seeded with defaults
//     on first open and never overwritten by later seeding.
//   - log/<uuid>: append-only log entries keyed by UUIDv7, so key order is
//     insertion order and the newest entries are read with a reverse scan.
//
// LogHook connects logrus to the log keyspace so that informational and more
// severe entries survive restarts and can be served by the HTTP API.
//
// Usage:
//
//	db, err := store.Open(store.Config{Path: "/var/lib/pi-manager"})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	added, err := db.SeedDefaults(types.DefaultConfig)
package store
