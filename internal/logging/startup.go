// Package logging writes Pi Manager's startup summary.
// It reports the version, the deployment tree, notification setup, the update schedule and the HTTP API status.
package logging

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/internal/util"
	"github.com/henningd/pi-manager/pkg/notifications"
)

// StartupInfo is the state summarized at startup.
type StartupInfo struct {
	Version      string        // Release version.
	AppDir       string        // Deployment tree kept up to date.
	Repository   string        // Configured repository URL, empty when unconfigured.
	Branch       string        // Tracked branch.
	AutoUpdate   bool          // Updates are applied when detected.
	RelayNames   []string      // Schemes of the Shoutrrr relay services.
	Webhook      bool          // A webhook URL is configured.
	PollInterval time.Duration // Delay between scheduled checks.
	FirstRun     time.Time     // Time of the first check, zero when not scheduled.
	RunOnce      bool          // A single check runs and the process exits.
	APIAddr      string        // Listen address of the HTTP API, empty when disabled.
	Monitor      bool          // Heartbeat and status reports are enabled.
}

// WriteStartupMessage logs the startup summary.
//
// Parameters:
//   - noStartupMessage: Suppresses everything except a debug line.
//   - info: State to summarize.
func WriteStartupMessage(noStartupMessage bool, info StartupInfo) {
	startupLog := SetupStartupLogger(noStartupMessage)

	if noStartupMessage {
		startupLog.WithField("version", info.Version).Debug("Startup message suppressed")

		return
	}

	startupLog.Info("Pi Manager ", info.Version, " managing ", info.AppDir)

	LogRepositoryInfo(startupLog, info.Repository, info.Branch, info.AutoUpdate)
	LogNotifierInfo(startupLog, info.Webhook, info.RelayNames)
	LogScheduleInfo(startupLog, info.RunOnce, info.FirstRun, info.PollInterval)

	if info.APIAddr != "" {
		startupLog.Info("The HTTP API is enabled at " + info.APIAddr + ".")
	} else if !info.RunOnce {
		startupLog.Warn("The HTTP API is disabled, set --http-api-token to enable it")
	}

	if !info.Monitor && !info.RunOnce {
		startupLog.Info("Device monitoring is disabled")
	}

	// Warn about trace-level logging if enabled, as it may expose sensitive data.
	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		startupLog.Warn(
			"Trace level enabled: log will include sensitive information as credentials and tokens",
		)
	}
}

// SetupStartupLogger returns the entry startup messages are written to.
//
// A suppressed summary goes to the local log so it is kept out of notifications.
func SetupStartupLogger(noStartupMessage bool) *logrus.Entry {
	if noStartupMessage {
		return notifications.LocalLog
	}

	return logrus.WithField("component", "startup")
}

// LogRepositoryInfo logs the tracked repository.
func LogRepositoryInfo(log *logrus.Entry, repository, branch string, autoUpdate bool) {
	if strings.TrimSpace(repository) == "" {
		log.Info("No repository configured, set github_repo to enable updates")

		return
	}

	mode := "notify only"
	if autoUpdate {
		mode = "automatic"
	}

	log.WithFields(logrus.Fields{
		"repository": repository,
		"branch":     branch,
	}).Info("Tracking repository, updates are " + mode)
}

// LogNotifierInfo logs details about the notification setup.
//
// Parameters:
//   - log: Entry used to write the notification information.
//   - webhook: A webhook URL is configured.
//   - relayNames: Schemes of the configured Shoutrrr relay services.
func LogNotifierInfo(log *logrus.Entry, webhook bool, relayNames []string) {
	var names []string
	if webhook {
		names = append(names, "webhook")
	}

	names = append(names, relayNames...)

	if len(names) > 0 {
		log.Info("Using notifications: " + strings.Join(names, ", "))
	} else {
		log.Info("Using no notifications")
	}
}

// LogScheduleInfo logs the run mode and the time of the first check.
//
// Parameters:
//   - log: Entry used to write the schedule information.
//   - runOnce: A single check runs and the process exits.
//   - firstRun: Time of the first check, zero when not scheduled.
//   - interval: Delay between scheduled checks.
func LogScheduleInfo(log *logrus.Entry, runOnce bool, firstRun time.Time, interval time.Duration) {
	switch {
	case runOnce:
		log.Info("Running a one time update check.")
	case !firstRun.IsZero():
		log.Info("First check scheduled at " + firstRun.Format("2006-01-02 15:04:05 -0700 MST"))
		log.Info("Checking for updates every " + util.FormatDuration(interval))
	default:
		log.Info("Periodic update checks are not scheduled.")
	}
}
