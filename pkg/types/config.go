package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Configuration keys persisted in the config store.
const (
	KeyRepository      = "github_repo"
	KeyBranch          = "github_branch"
	KeyUpdateInterval  = "update_interval"
	KeyAutoUpdate      = "auto_update_enabled"
	KeyNotificationURL = "notification_url"
	KeyDeviceName      = "device_name"
)

// Fallback values used when a key is missing or unparsable.
const (
	DefaultBranch       = "main"
	DefaultPollInterval = 120 // seconds
	DefaultDeviceName   = "Raspberry Pi"
)

// DefaultConfig lists the values seeded into an empty config store.
//
// Keys that already exist are never overwritten.
var DefaultConfig = map[string]string{
	KeyNotificationURL: "",
	KeyRepository:      "",
	KeyBranch:          DefaultBranch,
	KeyUpdateInterval:  strconv.Itoa(DefaultPollInterval),
	KeyDeviceName:      DefaultDeviceName,
	KeyAutoUpdate:      "true",
}

// ConfigReader reads single settings from the config store.
type ConfigReader interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
}

// ConfigStore is the persistent key/value configuration store.
type ConfigStore interface {
	ConfigReader

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// All returns a copy of every stored setting.
	All() (map[string]string, error)
}

// UpdateConfig holds the operator-controlled update settings.
//
// It is read fresh on every cycle so edits apply on the next tick.
type UpdateConfig struct {
	RepoURL      string        // Repository URL, empty when unconfigured.
	Branch       string        // Tracked branch.
	AutoUpdate   bool          // Apply updates as soon as they are detected.
	PollInterval time.Duration // Delay between scheduled checks.
}

// Configured reports whether a repository URL is set.
func (c UpdateConfig) Configured() bool {
	return strings.TrimSpace(c.RepoURL) != ""
}

// LoadUpdateConfig reads the update settings from the store.
//
// Parameters:
//   - store: Config reader to read the settings from.
//
// Returns:
//   - UpdateConfig: Settings with defaults applied for missing or invalid values.
//   - error: Non-nil if the store could not be read.
func LoadUpdateConfig(store ConfigReader) (UpdateConfig, error) {
	cfg := UpdateConfig{
		Branch:       DefaultBranch,
		PollInterval: DefaultPollInterval * time.Second,
	}

	repo, _, err := store.Get(KeyRepository)
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrConfiguration, KeyRepository, err)
	}

	cfg.RepoURL = strings.TrimSpace(repo)

	if branch, ok, err := store.Get(KeyBranch); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrConfiguration, KeyBranch, err)
	} else if ok && strings.TrimSpace(branch) != "" {
		cfg.Branch = strings.TrimSpace(branch)
	}

	autoUpdate, _, err := store.Get(KeyAutoUpdate)
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrConfiguration, KeyAutoUpdate, err)
	}

	cfg.AutoUpdate = autoUpdate == "true"

	interval, _, err := store.Get(KeyUpdateInterval)
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrConfiguration, KeyUpdateInterval, err)
	}

	cfg.PollInterval = ParsePollInterval(interval)

	return cfg, nil
}

// ParsePollInterval converts a stored interval in seconds into a duration.
// Values that are not positive integers fall back to DefaultPollInterval.
func ParsePollInterval(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds < 1 {
		return DefaultPollInterval * time.Second
	}

	return time.Duration(seconds) * time.Second
}
