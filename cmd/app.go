package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/henningd/pi-manager/internal/actions"
	internalAPI "github.com/henningd/pi-manager/internal/api"
	"github.com/henningd/pi-manager/internal/flags"
	"github.com/henningd/pi-manager/internal/logging"
	"github.com/henningd/pi-manager/internal/meta"
	"github.com/henningd/pi-manager/internal/monitor"
	"github.com/henningd/pi-manager/internal/scheduling"
	apiSettings "github.com/henningd/pi-manager/pkg/api/settings"
	"github.com/henningd/pi-manager/pkg/backup"
	"github.com/henningd/pi-manager/pkg/git"
	"github.com/henningd/pi-manager/pkg/git/auth"
	"github.com/henningd/pi-manager/pkg/installer"
	"github.com/henningd/pi-manager/pkg/metrics"
	"github.com/henningd/pi-manager/pkg/notifications"
	"github.com/henningd/pi-manager/pkg/store"
	"github.com/henningd/pi-manager/pkg/system"
	"github.com/henningd/pi-manager/pkg/types"
)

// errCrashed is returned by a service that panicked.
var errCrashed = errors.New("service crashed")

// app holds the assembled services of one pi-manager process.
type app struct {
	cfg     flags.Settings
	started time.Time

	db        *store.Store
	hook      *store.LogHook
	notifier  *notifications.Notifier
	updater   *actions.Updater
	images    *actions.ImageTracker
	backups   *backup.Manager
	collector *system.Collector
	power     *system.Power
	scheduler *scheduling.Scheduler
	monitor   *monitor.Monitor
	remote    apiSettings.RemoteCheck

	// crashes carries panics recovered on timer goroutines into run.
	crashes   chan error
	closeOnce sync.Once
}

// newApp opens the state database and wires every service.
//
// Parameters:
//   - cfg: Resolved settings.
//
// Returns:
//   - *app: Assembled services, released with Close.
//   - error: Non-nil if the database, notifier or git credentials could not be set up.
func newApp(cfg flags.Settings) (*app, error) {
	db, err := store.Open(store.Config{
		Path:       cfg.DataDir,
		GCInterval: store.DefaultGCInterval,
		LogTTL:     cfg.LogRetention,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, started: time.Now(), db: db, crashes: make(chan error, 1)}

	if err := a.wire(); err != nil {
		a.Close()

		return nil, err
	}

	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	if err := seedConfig(a.db, cfg.Repo, cfg.Branch); err != nil {
		return err
	}

	a.hook = store.NewLogHook(a.db, logrus.InfoLevel)
	logrus.AddHook(a.hook)

	notifier, err := notifications.New(notifications.Config{
		Store:    a.db,
		URLs:     cfg.NotificationRelayURLs,
		Template: cfg.NotificationTemplate,
		Stdout:   cfg.NotificationLogStdout,
	})
	if err != nil {
		return fmt.Errorf("failed to create notifier: %w", err)
	}

	a.notifier = notifier

	authConfig, err := auth.FromCredentials(auth.Credentials{
		Token:      cfg.GitToken,
		Username:   cfg.GitUsername,
		Password:   cfg.GitPassword,
		SSHKeyPath: cfg.GitSSHKey,
	})
	if err != nil {
		return fmt.Errorf("invalid git credentials: %w", err)
	}

	repo, err := git.NewRepository(cfg.AppDir, authConfig)
	if err != nil {
		return err
	}

	a.remote = func(ctx context.Context, repoURL, branch string) error {
		_, err := git.ValidateRemote(ctx, repoURL, branch, authConfig)

		return err
	}

	a.backups = backup.NewManager(cfg.AppDir, cfg.BackupDir, treeExcludes(cfg.AppDir, cfg.DataDir, cfg.BackupDir)...)

	a.updater = actions.NewUpdater(actions.UpdaterConfig{
		Store:           a.db,
		Source:          repo,
		Backups:         a.backups,
		Installer:       installer.New(cfg.AppDir, cfg.Manifest, cfg.InstallCommand, repo),
		Notifier:        notifier,
		Metrics:         metrics.Default(),
		Restarter:       actions.ExitRestarter{},
		Crash:           a.crashed,
		RestartGrace:    cfg.RestartGrace,
		BackupRetention: cfg.BackupRetention,
	})

	a.images = actions.NewImageTracker(actions.ImageTrackerConfig{
		Store:       a.db,
		Source:      repo,
		Dir:         cfg.AppDir,
		Manifest:    cfg.Manifest,
		VersionFile: cfg.VersionFile,
		Metrics:     metrics.Default(),
		Guard:       a.updater,
	})

	a.scheduler = scheduling.New(scheduling.Config{
		Store:        a.db,
		Updater:      a.updater,
		Images:       a.images,
		StartupDelay: cfg.StartupDelay,
		ImageEvery:   cfg.ImageCheckEvery,
		Crash:        a.crashed,
	})

	a.collector = system.NewCollector()
	a.power = system.NewPower(system.DefaultPowerDelay)

	if !cfg.NoMonitor {
		a.monitor = monitor.New(monitor.Config{
			Notifier:  notifier,
			Collector: a.collector,
		})
	}

	return nil
}

// Close flushes relayed notifications, detaches the log hook and closes the database.
// It is safe to call more than once.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.notifier != nil {
			a.notifier.Close()
		}

		if a.hook != nil {
			removeHook(a.hook)
		}

		if err := a.db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close state database")
		}
	})
}

// runOnce runs a single update check.
//
// Returns:
//   - int: 1 if the check failed, 0 otherwise.
func (a *app) runOnce(ctx context.Context) (exitCode int) {
	defer a.recoverMain(&exitCode)

	a.writeStartupMessage(time.Time{})

	result := a.updater.CheckForUpdates(ctx)

	final := result
	if result.Update != nil {
		final = *result.Update
	}

	notifications.LocalLog.WithField("status", final.Status).Info("Update check completed")

	if final.Status == types.StatusUpdateFailed {
		return 1
	}

	return 0
}

// run serves the API and runs the scheduler and monitor until ctx is cancelled.
//
// Returns:
//   - int: 0 for a clean shutdown, 1 if a service failed or panicked.
func (a *app) run(ctx context.Context) (exitCode int) {
	defer a.recoverMain(&exitCode)

	a.writeStartupMessage(time.Now().Add(a.cfg.StartupDelay))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(a.guard("api", func() error {
		return internalAPI.SetupAndStartAPI(groupCtx, a.apiOptions(), a.apiServices())
	}))

	group.Go(a.guard("scheduler", func() error {
		return a.scheduler.Run(groupCtx)
	}))

	if a.monitor != nil {
		group.Go(a.guard("monitor", func() error {
			return a.monitor.Run(groupCtx)
		}))
	}

	group.Go(func() error {
		select {
		case err := <-a.crashes:
			return err
		case <-groupCtx.Done():
			return nil
		}
	})

	if err := group.Wait(); err != nil {
		logrus.WithError(err).Error("Pi Manager stopped with an error")

		return 1
	}

	logrus.Info("Pi Manager stopped")

	return 0
}

func (a *app) apiOptions() internalAPI.Options {
	return internalAPI.Options{
		Host:      a.cfg.APIHost,
		Port:      a.cfg.APIPort,
		Token:     a.cfg.APIToken,
		RateLimit: a.cfg.APIRateLimit,
	}
}

func (a *app) apiServices() internalAPI.Services {
	return internalAPI.Services{
		Updater:   a.updater,
		Images:    a.images,
		Backups:   a.backups,
		Collector: a.collector,
		Power:     a.power,
		Notifier:  a.notifier,
		Store:     a.db,
		Logs:      a.db,
		Started:   a.started,
		Remote:    a.remote,
	}
}

// guard turns a panic in fn into errCrashed after reporting it.
func (a *app) guard(name string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				a.reportCrash(name, recovered)
				err = fmt.Errorf("%w: %s: %v", errCrashed, name, recovered)
			}
		}()

		return fn()
	}
}

// recoverMain reports a panic of the calling goroutine and sets the exit code to 1.
func (a *app) recoverMain(exitCode *int) {
	if recovered := recover(); recovered != nil {
		a.reportCrash("main", recovered)
		*exitCode = 1
	}
}

// crashed reports a panic recovered outside the errgroup and makes run stop with errCrashed.
func (a *app) crashed(component string, recovered any) {
	a.reportCrash(component, recovered)

	select {
	case a.crashes <- fmt.Errorf("%w: %s: %v", errCrashed, component, recovered):
	default:
	}
}

// reportCrash logs a panic and announces the device offline.
//
// The monitor is stopped with the crash reason so its regular shutdown
// does not announce a clean stop afterwards.
func (a *app) reportCrash(component string, recovered any) {
	logrus.WithFields(logrus.Fields{
		"component": component,
		"panic":     fmt.Sprint(recovered),
		"stack":     string(debug.Stack()),
	}).Error("Unrecovered panic")

	if a.monitor != nil {
		a.monitor.Stop(monitor.CrashedMessage)

		return
	}

	a.notifier.SendOffline(monitor.CrashedMessage)
}

func (a *app) writeStartupMessage(firstRun time.Time) {
	info := logging.StartupInfo{
		Version:  meta.Version,
		AppDir:   a.cfg.AppDir,
		RunOnce:  a.cfg.RunOnce,
		FirstRun: firstRun,
		Monitor:  a.monitor != nil,

		RelayNames: notifications.GetNames(a.cfg.NotificationRelayURLs),
	}

	if config, err := types.LoadUpdateConfig(a.db); err == nil {
		info.Repository = config.RepoURL
		info.Branch = config.Branch
		info.AutoUpdate = config.AutoUpdate
		info.PollInterval = config.PollInterval
	}

	if url, _, err := a.db.Get(types.KeyNotificationURL); err == nil {
		info.Webhook = strings.TrimSpace(url) != ""
	}

	if a.cfg.APIToken != "" && !a.cfg.RunOnce {
		info.APIAddr = internalAPI.GetAPIAddr(a.cfg.APIHost, a.cfg.APIPort)
	}

	logging.WriteStartupMessage(a.cfg.NoStartupMessage, info)
}

// seedConfig inserts missing defaults and applies the repository flags to an unconfigured store.
//
// Parameters:
//   - db: Config store.
//   - repo: Repository URL from the flags, empty to keep the stored one.
//   - branch: Branch stored together with repo.
//
// Returns:
//   - error: Non-nil if the store could not be read or written.
func seedConfig(db *store.Store, repo, branch string) error {
	if _, err := db.SeedDefaults(types.DefaultConfig); err != nil {
		return err
	}

	if repo == "" {
		return nil
	}

	current, _, err := db.Get(types.KeyRepository)
	if err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	if strings.TrimSpace(current) != "" {
		return nil
	}

	values := map[string]string{types.KeyRepository: repo}
	if branch != "" {
		values[types.KeyBranch] = branch
	}

	if err := db.SetMany(values); err != nil {
		return fmt.Errorf("failed to store repository: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"repository": repo,
		"branch":     branch,
	}).Info("Configured repository from flags")

	return nil
}

// treeExcludes returns the top-level entries of appDir that hold any of dirs.
func treeExcludes(appDir string, dirs ...string) []string {
	excludes := make([]string, 0, len(dirs))

	for _, dir := range dirs {
		rel, err := filepath.Rel(appDir, dir)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}

		excludes = append(excludes, strings.Split(filepath.ToSlash(rel), "/")[0])
	}

	return excludes
}

// removeHook detaches hook from the standard logger.
func removeHook(hook logrus.Hook) {
	logger := logrus.StandardLogger()
	remaining := make(logrus.LevelHooks)

	for level, hooks := range logger.ReplaceHooks(make(logrus.LevelHooks)) {
		for _, h := range hooks {
			if h != hook {
				remaining[level] = append(remaining[level], h)
			}
		}
	}

	logger.ReplaceHooks(remaining)
}
