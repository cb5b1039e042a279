// Package meta holds build information stamped in at link time.
package meta

var (
	// Version is the release version, set with
	// -ldflags "-X github.com/henningd/pi-manager/internal/meta.Version=v1.2.3".
	Version = "v0.0.0-unknown"
)
