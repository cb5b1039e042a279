// Command pi-manager keeps a git-managed deployment on a Raspberry Pi current
// and reports the device state over HTTP.
package main

import (
	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/cmd"
)

func main() {
	// Flags may raise or lower this once they are parsed.
	logrus.SetLevel(logrus.InfoLevel)

	cmd.Execute()
}
