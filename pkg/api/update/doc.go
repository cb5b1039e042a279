// Package update provides HTTP API handlers for Pi Manager's update checks.
// It runs update and image-version checks on request and lists backups.
//
// Key components:
//   - Handler: Serves /api/update-check, /api/image-update-check,
//     /api/image-update-status and /api/backups.
//   - New: Creates a handler from the orchestrator, tracker and backup manager.
//
// Usage example:
//
//	handler := update.New(updater, tracker, backups)
//	server.RegisterRoutes(handler.Routes()...)
//
// An update check is refused with 429 and Retry-After while an update is
// being applied.
package update
