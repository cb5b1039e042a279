package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/henningd/pi-manager/internal/flags"
)

// settings holds the resolved flags, read during preRun.
var settings flags.Settings

// rootCmd represents the root command of the Pi Manager CLI.
var rootCmd = NewRootCommand()

// NewRootCommand creates and configures the root command for the Pi Manager CLI.
//
// Returns:
//   - *cobra.Command: Root command, ready for flag registration and execution.
func NewRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "pi-manager",
		Short:  "Keeps a Raspberry Pi deployment up to date and reports on the device",
		Long:   "\nPi Manager pulls a git-managed deployment tree, re-installs its dependencies, rolls back failed updates\nand exposes device telemetry and power commands over an authenticated HTTP API.",
		Run:    run,
		PreRun: preRun,
		Args:   cobra.NoArgs,
	}
}

// init registers command-line flags for the root command during package initialization.
func init() {
	flags.SetDefaults()
	flags.RegisterAllFlags(rootCmd)
}

// Execute runs the root command and exits on errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("Failed to execute root command")
	}
}

// preRun configures logging and resolves the settings before the main command runs.
func preRun(cmd *cobra.Command, _ []string) {
	flagsSet := cmd.PersistentFlags()

	if err := flags.ProcessFlagAliases(flagsSet); err != nil {
		logrus.WithError(err).Fatal("Failed to process flag aliases")
	}

	// Setup logging based on flags such as --debug, --trace, and --log-format.
	if err := flags.SetupLogging(flagsSet); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logging")
	}

	if err := flags.GetSecretsFromFiles(cmd); err != nil {
		logrus.WithError(err).Fatal("Failed to read secrets")
	}

	var err error

	settings, err = flags.ReadSettings(cmd)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logrus.WithFields(logrus.Fields{
		"app_dir":    settings.AppDir,
		"data_dir":   settings.DataDir,
		"backup_dir": settings.BackupDir,
	}).Debug("Resolved settings")
}

// run executes Pi Manager and exits with a non-zero status on failure.
func run(_ *cobra.Command, _ []string) {
	if exitCode := runMain(settings); exitCode != 0 {
		logrus.WithField("exit_code", exitCode).Debug("Exiting with non-zero status")
		os.Exit(exitCode)
	}
}

// runMain builds the services and runs them until SIGINT or SIGTERM.
//
// Parameters:
//   - cfg: Resolved settings.
//
// Returns:
//   - int: Exit code, 0 for a clean shutdown.
func runMain(cfg flags.Settings) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		logrus.WithError(err).Error("Failed to initialize pi-manager")

		return 1
	}

	defer app.Close()

	// ExitRestarter leaves through logrus.Exit, which skips deferred calls.
	logrus.RegisterExitHandler(app.Close)

	if cfg.RunOnce {
		return app.runOnce(ctx)
	}

	return app.run(ctx)
}
