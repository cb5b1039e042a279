package flags

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Pi Manager.
const EnvPrefix = "PIMANAGER_"

// Defaults for flags whose value is not a zero value.
const (
	defaultAppDir          = "."
	defaultDataDir         = "data"
	defaultBackupDir       = "backups"
	defaultManifest        = "package.json"
	defaultInstallCommand  = "npm install --production"
	defaultVersionFile     = "VERSION"
	defaultStartupDelay    = 30 * time.Second
	defaultRestartGrace    = 2 * time.Second
	defaultImageCheckEvery = 4
	defaultAPIPort         = "3000"
	defaultAPIRateLimit    = 100
	defaultLogRetention    = 30 * 24 * time.Hour
	defaultBranch          = "main"
)

// errInvalidLogFormat indicates an invalid log format was specified.
var errInvalidLogFormat = errors.New("invalid log format specified")

// errInvalidLogLevel indicates an invalid log level was specified.
var errInvalidLogLevel = errors.New("invalid log level specified")

// errOpenFileFailed indicates a failure to open a file for reading secrets.
var errOpenFileFailed = errors.New("failed to open secret file")

// errCloseFileFailed indicates a failure to close a file after reading secrets.
var errCloseFileFailed = errors.New("failed to close secret file")

// errReplaceSliceFailed indicates a failure to replace a slice value in a flag.
var errReplaceSliceFailed = errors.New("failed to replace slice value in flag")

// errReadFileFailed indicates a failure to read a file’s contents.
var errReadFileFailed = errors.New("failed to read secret file")

// errSetFlagFailed indicates a failure to set or read a flag’s value.
var errSetFlagFailed = errors.New("failed to set flag value")

// errInvalidFlagName indicates an unknown flag name was provided.
var errInvalidFlagName = errors.New("invalid flag name provided")

// errInvalidSetting indicates a flag value outside its allowed range.
var errInvalidSetting = errors.New("invalid setting")

// secretFlags may hold a path to a file containing the actual value.
var secretFlags = []string{
	"http-api-token",
	"git-auth-token",
	"git-auth-password",
	"notification-relay-url",
}

// Settings are the resolved process-level options.
//
// Runtime-editable settings such as the repository URL or poll interval live
// in the config store; Repo and Branch only seed it on first start.
type Settings struct {
	AppDir          string
	DataDir         string
	BackupDir       string
	BackupRetention int
	Manifest        string
	InstallCommand  string
	VersionFile     string
	StartupDelay    time.Duration
	RestartGrace    time.Duration
	ImageCheckEvery int

	APIHost      string
	APIPort      string
	APIToken     string
	APIRateLimit int

	GitToken    string
	GitUsername string
	GitPassword string
	GitSSHKey   string

	Repo   string
	Branch string

	RunOnce          bool
	NoStartupMessage bool
	NoMonitor        bool
	LogRetention     time.Duration

	NotificationRelayURLs []string
	NotificationTemplate  string
	NotificationLogStdout bool
}

// RegisterSystemFlags adds the flags controlling the deployment tree and the update cycle.
func RegisterSystemFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"app-dir",
		"",
		envString("PIMANAGER_APP_DIR"),
		"Deployment tree kept up to date, must be a git working copy or empty")

	flags.StringP(
		"data-dir",
		"",
		envString("PIMANAGER_DATA_DIR"),
		"Directory of the state database, relative paths resolve against --app-dir")

	flags.StringP(
		"backup-dir",
		"",
		envString("PIMANAGER_BACKUP_DIR"),
		"Directory receiving snapshots, relative paths resolve against --app-dir")

	flags.IntP(
		"backup-retention",
		"",
		envInt("PIMANAGER_BACKUP_RETENTION"),
		"Number of snapshots kept after a successful update, 0 keeps all")

	flags.StringP(
		"manifest",
		"",
		envString("PIMANAGER_MANIFEST"),
		"Dependency manifest inside the tree, a change triggers a re-install")

	flags.StringP(
		"install-command",
		"",
		envString("PIMANAGER_INSTALL_COMMAND"),
		"Command re-installing dependencies after a manifest change")

	flags.StringP(
		"version-file",
		"",
		envString("PIMANAGER_VERSION_FILE"),
		"File holding the running version when the manifest has none")

	flags.DurationP(
		"startup-delay",
		"",
		envDuration("PIMANAGER_STARTUP_DELAY"),
		"Delay before the first update and image check")

	flags.DurationP(
		"restart-grace",
		"",
		envDuration("PIMANAGER_RESTART_GRACE"),
		"Delay between a committed update and the restart")

	flags.IntP(
		"image-check-every",
		"",
		envInt("PIMANAGER_IMAGE_CHECK_EVERY"),
		"Check for published versions on every n-th scheduled tick")

	flags.StringP(
		"repo",
		"",
		envString("PIMANAGER_REPO"),
		"Repository URL seeded into the config store when none is set")

	flags.StringP(
		"branch",
		"b",
		envString("PIMANAGER_BRANCH"),
		"Branch seeded into the config store when none is set")

	flags.BoolP(
		"run-once",
		"R",
		envBool("PIMANAGER_RUN_ONCE"),
		"Run one update check now and exit")

	flags.BoolP(
		"no-startup-message",
		"",
		envBool("PIMANAGER_NO_STARTUP_MESSAGE"),
		"Prevents pi-manager from logging its startup summary")

	flags.BoolP(
		"no-monitor",
		"",
		envBool("PIMANAGER_NO_MONITOR"),
		"Disable heartbeat, status and health notifications")

	flags.DurationP(
		"log-retention",
		"",
		envDuration("PIMANAGER_LOG_RETENTION"),
		"Lifetime of persisted log entries, 0 keeps them forever")

	flags.StringP(
		"log-format",
		"l",
		envString("PIMANAGER_LOG_FORMAT"),
		"Sets what logging format to use for console output. Possible values: Auto, LogFmt, Pretty, JSON")

	flags.StringP(
		"log-level",
		"",
		envString("PIMANAGER_LOG_LEVEL"),
		"The maximum log level that will be written to STDERR. Possible values: panic, fatal, error, warn, info, debug or trace")

	flags.BoolP(
		"debug",
		"d",
		envBool("PIMANAGER_DEBUG"),
		"Enable debug mode with verbose logging")

	flags.BoolP(
		"trace",
		"",
		envBool("PIMANAGER_TRACE"),
		"Enable trace mode with very verbose logging - caution, exposes credentials")

	flags.BoolP(
		"no-color",
		"",
		viper.IsSet("NO_COLOR"),
		"Disable ANSI color escape codes in log output")
}

// RegisterAPIFlags adds the flags configuring the HTTP API.
func RegisterAPIFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"http-api-host",
		"",
		envString("PIMANAGER_HTTP_API_HOST"),
		"Host to bind the HTTP API to, empty binds all interfaces")

	flags.StringP(
		"http-api-port",
		"",
		envString("PIMANAGER_HTTP_API_PORT"),
		"Port of the HTTP API")

	flags.StringP(
		"http-api-token",
		"",
		envString("PIMANAGER_HTTP_API_TOKEN"),
		"Bearer token protecting the HTTP API, the API is disabled when empty")

	flags.IntP(
		"http-api-rate-limit",
		"",
		envInt("PIMANAGER_HTTP_API_RATE_LIMIT"),
		"Requests per client IP and 15 minutes, 0 disables the limit")
}

// RegisterGitFlags adds the credentials used against the remote repository.
func RegisterGitFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringP(
		"git-auth-token",
		"",
		envString("PIMANAGER_GIT_AUTH_TOKEN"),
		"Personal access token for HTTPS remotes")

	flags.StringP(
		"git-auth-username",
		"",
		envString("PIMANAGER_GIT_AUTH_USERNAME"),
		"Username for HTTPS basic authentication")

	flags.StringP(
		"git-auth-password",
		"",
		envString("PIMANAGER_GIT_AUTH_PASSWORD"),
		"Password for HTTPS basic authentication")

	flags.StringP(
		"git-ssh-key",
		"",
		envString("PIMANAGER_GIT_SSH_KEY"),
		"Private key file for SSH remotes")
}

// RegisterNotificationFlags adds the flags relaying notifications to Shoutrrr services.
//
// The webhook URL itself is a runtime setting in the config store.
func RegisterNotificationFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()

	flags.StringSliceP(
		"notification-relay-url",
		"",
		// Due to issue spf13/viper#380, can't use viper.GetStringSlice:
		splitList(envString("PIMANAGER_NOTIFICATION_RELAY_URL")),
		"Shoutrrr service URLs that also receive every notification")

	flags.StringP(
		"notification-template",
		"",
		envString("PIMANAGER_NOTIFICATION_TEMPLATE"),
		"Template or built-in template name used for relayed messages")

	flags.BoolP(
		"notification-log-stdout",
		"",
		envBool("PIMANAGER_NOTIFICATION_LOG_STDOUT"),
		"Write relay diagnostics to stdout instead of logging (to stderr)")
}

// RegisterAllFlags registers every flag group on the root command.
func RegisterAllFlags(rootCmd *cobra.Command) {
	RegisterSystemFlags(rootCmd)
	RegisterAPIFlags(rootCmd)
	RegisterGitFlags(rootCmd)
	RegisterNotificationFlags(rootCmd)
}

// splitList splits a comma or space separated environment value.
func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{}
	}

	return regexp.MustCompile("[, ]+").Split(strings.TrimSpace(value), -1)
}

// envString retrieves a string value from an environment variable via Viper.
// It binds the key to the environment and returns its value.
func envString(key string) string {
	viper.MustBindEnv(key)

	return viper.GetString(key)
}

// envInt retrieves an integer value from an environment variable via Viper.
func envInt(key string) int {
	viper.MustBindEnv(key)

	return viper.GetInt(key)
}

// envBool retrieves a boolean value from an environment variable via Viper.
func envBool(key string) bool {
	viper.MustBindEnv(key)

	return viper.GetBool(key)
}

// envDuration retrieves a duration value from an environment variable via Viper.
func envDuration(key string) time.Duration {
	viper.MustBindEnv(key)

	return viper.GetDuration(key)
}

// SetDefaults configures default values for environment variables.
// It must run before the flags are registered so the defaults become flag defaults.
func SetDefaults() {
	viper.AutomaticEnv()
	viper.SetDefault("PIMANAGER_APP_DIR", defaultAppDir)
	viper.SetDefault("PIMANAGER_DATA_DIR", defaultDataDir)
	viper.SetDefault("PIMANAGER_BACKUP_DIR", defaultBackupDir)
	viper.SetDefault("PIMANAGER_MANIFEST", defaultManifest)
	viper.SetDefault("PIMANAGER_INSTALL_COMMAND", defaultInstallCommand)
	viper.SetDefault("PIMANAGER_VERSION_FILE", defaultVersionFile)
	viper.SetDefault("PIMANAGER_STARTUP_DELAY", defaultStartupDelay)
	viper.SetDefault("PIMANAGER_RESTART_GRACE", defaultRestartGrace)
	viper.SetDefault("PIMANAGER_IMAGE_CHECK_EVERY", defaultImageCheckEvery)
	viper.SetDefault("PIMANAGER_BRANCH", defaultBranch)
	viper.SetDefault("PIMANAGER_HTTP_API_PORT", defaultAPIPort)
	viper.SetDefault("PIMANAGER_HTTP_API_RATE_LIMIT", defaultAPIRateLimit)
	viper.SetDefault("PIMANAGER_LOG_RETENTION", defaultLogRetention)
	viper.SetDefault("PIMANAGER_LOG_LEVEL", "info")
	viper.SetDefault("PIMANAGER_LOG_FORMAT", "auto")
}

// ReadSettings collects the parsed flags into Settings.
//
// Relative data and backup directories are resolved against the app directory.
//
// Parameters:
//   - cmd: Root command with every flag group registered.
//
// Returns:
//   - Settings: Resolved settings.
//   - error: Non-nil if a flag is missing or holds a value outside its range.
func ReadSettings(cmd *cobra.Command) (Settings, error) {
	flags := cmd.PersistentFlags()
	reader := flagReader{flags: flags}

	settings := Settings{
		AppDir:          reader.str("app-dir"),
		DataDir:         reader.str("data-dir"),
		BackupDir:       reader.str("backup-dir"),
		BackupRetention: reader.integer("backup-retention"),
		Manifest:        reader.str("manifest"),
		InstallCommand:  reader.str("install-command"),
		VersionFile:     reader.str("version-file"),
		StartupDelay:    reader.duration("startup-delay"),
		RestartGrace:    reader.duration("restart-grace"),
		ImageCheckEvery: reader.integer("image-check-every"),

		APIHost:      reader.str("http-api-host"),
		APIPort:      reader.str("http-api-port"),
		APIToken:     reader.str("http-api-token"),
		APIRateLimit: reader.integer("http-api-rate-limit"),

		GitToken:    reader.str("git-auth-token"),
		GitUsername: reader.str("git-auth-username"),
		GitPassword: reader.str("git-auth-password"),
		GitSSHKey:   reader.str("git-ssh-key"),

		Repo:   strings.TrimSpace(reader.str("repo")),
		Branch: strings.TrimSpace(reader.str("branch")),

		RunOnce:          reader.boolean("run-once"),
		NoStartupMessage: reader.boolean("no-startup-message"),
		NoMonitor:        reader.boolean("no-monitor"),
		LogRetention:     reader.duration("log-retention"),

		NotificationRelayURLs: reader.slice("notification-relay-url"),
		NotificationTemplate:  reader.str("notification-template"),
		NotificationLogStdout: reader.boolean("notification-log-stdout"),
	}

	if reader.err != nil {
		return Settings{}, reader.err
	}

	if err := settings.validate(); err != nil {
		return Settings{}, err
	}

	settings.AppDir = filepath.Clean(settings.AppDir)
	settings.DataDir = resolveDir(settings.AppDir, settings.DataDir)
	settings.BackupDir = resolveDir(settings.AppDir, settings.BackupDir)

	return settings, nil
}

func (s Settings) validate() error {
	switch {
	case strings.TrimSpace(s.AppDir) == "":
		return fmt.Errorf("%w: app-dir must not be empty", errInvalidSetting)
	case strings.TrimSpace(s.DataDir) == "":
		return fmt.Errorf("%w: data-dir must not be empty", errInvalidSetting)
	case strings.TrimSpace(s.BackupDir) == "":
		return fmt.Errorf("%w: backup-dir must not be empty", errInvalidSetting)
	case s.BackupRetention < 0:
		return fmt.Errorf("%w: backup-retention must not be negative", errInvalidSetting)
	case s.ImageCheckEvery < 1:
		return fmt.Errorf("%w: image-check-every must be at least 1", errInvalidSetting)
	case s.APIRateLimit < 0:
		return fmt.Errorf("%w: http-api-rate-limit must not be negative", errInvalidSetting)
	case s.StartupDelay < 0 || s.RestartGrace < 0 || s.LogRetention < 0:
		return fmt.Errorf("%w: durations must not be negative", errInvalidSetting)
	}

	return nil
}

// resolveDir resolves dir against base unless it is absolute.
func resolveDir(base, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}

	return filepath.Join(base, dir)
}

// flagReader reads flags and keeps the first lookup error.
type flagReader struct {
	flags *pflag.FlagSet
	err   error
}

func (r *flagReader) keep(name string, err error) {
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: %s: %w", errSetFlagFailed, name, err)
	}
}

func (r *flagReader) str(name string) string {
	value, err := r.flags.GetString(name)
	r.keep(name, err)

	return value
}

func (r *flagReader) integer(name string) int {
	value, err := r.flags.GetInt(name)
	r.keep(name, err)

	return value
}

func (r *flagReader) boolean(name string) bool {
	value, err := r.flags.GetBool(name)
	r.keep(name, err)

	return value
}

func (r *flagReader) duration(name string) time.Duration {
	value, err := r.flags.GetDuration(name)
	r.keep(name, err)

	return value
}

func (r *flagReader) slice(name string) []string {
	value, err := r.flags.GetStringSlice(name)
	r.keep(name, err)

	return value
}

// GetSecretsFromFiles replaces flag values with file contents if they reference files.
//
// Returns:
//   - error: Non-nil if a referenced file could not be read.
func GetSecretsFromFiles(rootCmd *cobra.Command) error {
	flags := rootCmd.PersistentFlags()

	for _, secret := range secretFlags {
		if err := getSecretFromFile(flags, secret); err != nil {
			return fmt.Errorf("failed to get secret from flag %s: %w", secret, err)
		}
	}

	return nil
}

// getSecretFromFile updates a flag’s value with file contents if it references a file.
// Slice flags read one value per non-empty line.
func getSecretFromFile(flags *pflag.FlagSet, secret string) error {
	flag := flags.Lookup(secret)
	if flag == nil {
		return fmt.Errorf("%w: %q", errInvalidFlagName, secret)
	}

	if sliceValue, ok := flag.Value.(pflag.SliceValue); ok {
		oldValues := sliceValue.GetSlice()
		values := make([]string, 0, len(oldValues))

		for _, value := range oldValues {
			if value == "" || !isFilePath(value) {
				values = append(values, value)

				continue
			}

			lines, err := readLines(value)
			if err != nil {
				return err
			}

			values = append(values, lines...)
		}

		if err := sliceValue.Replace(values); err != nil {
			return fmt.Errorf("%w: %w", errReplaceSliceFailed, err)
		}

		return nil
	}

	value := flag.Value.String()
	if value != "" && isFilePath(value) {
		content, err := os.ReadFile(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errReadFileFailed, err)
		}

		if err := flags.Set(secret, strings.TrimSpace(string(content))); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	return nil
}

// readLines returns the non-empty lines of a file.
func readLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errOpenFileFailed, err)
	}

	var lines []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	scanErr := scanner.Err()

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", errCloseFileFailed, err)
	}

	if scanErr != nil {
		return nil, fmt.Errorf("%w: %w", errReadFileFailed, scanErr)
	}

	return lines, nil
}

// isFilePath determines if a string likely represents a file path.
// It checks for file existence, avoiding false positives from URLs or invalid Windows paths.
func isFilePath(path string) bool {
	firstColon := strings.IndexRune(path, ':')
	if firstColon != 1 && firstColon != -1 {
		// If ':' exists but isn’t the second character, it’s likely not a file path (e.g., URLs).
		return false
	}

	_, err := os.Stat(path)

	return !errors.Is(err, os.ErrNotExist)
}

// ProcessFlagAliases maps the --debug and --trace shortcuts onto --log-level.
func ProcessFlagAliases(flags *pflag.FlagSet) error {
	for _, level := range []string{"debug", "trace"} {
		enabled, err := flags.GetBool(level)
		if err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}

		if !enabled {
			continue
		}

		if err := flags.Set("log-level", level); err != nil {
			return fmt.Errorf("%w: %w", errSetFlagFailed, err)
		}
	}

	return nil
}

// SetupLogging configures the global logger based on log-related flags.
// It sets the log format and level, returning an error for invalid configurations.
func SetupLogging(flags *pflag.FlagSet) error {
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	if err := configureLogFormat(logFormat, noColor); err != nil {
		return err
	}

	rawLogLevel, err := flags.GetString("log-level")
	if err != nil {
		return fmt.Errorf("%w: %w", errSetFlagFailed, err)
	}

	logLevel, err := logrus.ParseLevel(rawLogLevel)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	logrus.SetLevel(logLevel)

	return nil
}

// configureLogFormat sets the logrus formatter based on the specified format and color preference.
func configureLogFormat(logFormat string, noColor bool) error {
	switch strings.ToLower(logFormat) {
	case "auto":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors:             noColor,
			EnvironmentOverrideColors: true,
		})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "logfmt":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	case "pretty":
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !noColor,
			FullTimestamp: false,
		})
	default:
		return fmt.Errorf("%w: %s", errInvalidLogFormat, logFormat)
	}

	return nil
}
