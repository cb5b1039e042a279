// Package flags manages command-line flags and environment variables for Pi Manager.
// Every flag has a PIMANAGER_* environment counterpart bound through Viper.
//
// Key components:
//   - RegisterSystemFlags: Deployment tree, update cycle and logging flags.
//   - RegisterAPIFlags: HTTP API listener and token.
//   - RegisterGitFlags: Credentials for the remote repository.
//   - RegisterNotificationFlags: Shoutrrr relay settings.
//   - ReadSettings: Collects the parsed flags into Settings.
//   - SetupLogging: Configures logrus based on flags.
//
// Usage example:
//
//	cmd := &cobra.Command{}
//	flags.SetDefaults()
//	flags.RegisterAllFlags(cmd)
//	err := flags.SetupLogging(cmd.PersistentFlags())
//	if err != nil {
//	    logrus.WithError(err).Fatal("Logging setup failed")
//	}
package flags
