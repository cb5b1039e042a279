package actions

import (
	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/notifications"
)

// Restarter hands control back to the process supervisor after an update.
type Restarter interface {
	RequestRestart()
}

// CrashReporter handles a panic recovered on a goroutine that has no caller to return to.
type CrashReporter func(component string, recovered any)

// ExitRestarter exits the process with status 0 so systemd or PM2 relaunch it.
type ExitRestarter struct{}

// RequestRestart runs the logrus exit handlers and terminates the process.
func (ExitRestarter) RequestRestart() {
	notifications.LocalLog.Info("Exiting for restart by the process supervisor")
	logrus.Exit(0)
}
