package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henningd/pi-manager/internal/actions/mocks"
	"github.com/henningd/pi-manager/internal/flags"
	"github.com/henningd/pi-manager/internal/monitor"
	"github.com/henningd/pi-manager/pkg/store"
	"github.com/henningd/pi-manager/pkg/system"
	"github.com/henningd/pi-manager/pkg/types"
)

// testSettings returns settings for an empty deployment tree below a temporary directory.
func testSettings(t *testing.T) flags.Settings {
	t.Helper()

	dir := t.TempDir()

	return flags.Settings{
		AppDir:           dir,
		DataDir:          filepath.Join(dir, "data"),
		BackupDir:        filepath.Join(dir, "backups"),
		BackupRetention:  3,
		StartupDelay:     time.Hour,
		ImageCheckEvery:  4,
		APIPort:          "0",
		Branch:           "main",
		NoStartupMessage: true,
		NoMonitor:        true,
	}
}

func openMemoryStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := store.Open(store.Config{InMemory: true})
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "pi-manager", cmd.Use)
	assert.NotNil(t, cmd.PreRun)
	assert.NotNil(t, cmd.Run)

	for _, name := range []string{"app-dir", "http-api-token", "git-ssh-key", "run-once", "no-monitor"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestSeedConfig(t *testing.T) {
	t.Run("seeds defaults", func(t *testing.T) {
		db := openMemoryStore(t)

		require.NoError(t, seedConfig(db, "", "main"))

		values, err := db.All()
		require.NoError(t, err)
		assert.Equal(t, types.DefaultConfig, values)
	})

	t.Run("applies repository flags to an unconfigured store", func(t *testing.T) {
		db := openMemoryStore(t)

		require.NoError(t, seedConfig(db, "https://example.com/app.git", "stable"))

		repo, _, err := db.Get(types.KeyRepository)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/app.git", repo)

		branch, _, err := db.Get(types.KeyBranch)
		require.NoError(t, err)
		assert.Equal(t, "stable", branch)
	})

	t.Run("keeps a configured repository", func(t *testing.T) {
		db := openMemoryStore(t)
		require.NoError(t, db.Set(types.KeyRepository, "https://example.com/current.git"))

		require.NoError(t, seedConfig(db, "https://example.com/other.git", "stable"))

		repo, _, err := db.Get(types.KeyRepository)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/current.git", repo)

		branch, _, err := db.Get(types.KeyBranch)
		require.NoError(t, err)
		assert.Equal(t, types.DefaultBranch, branch)
	})
}

func TestTreeExcludes(t *testing.T) {
	tests := []struct {
		name     string
		dirs     []string
		expected []string
	}{
		{"nested directories", []string{"/opt/app/state/db", "/opt/app/snapshots"}, []string{"state", "snapshots"}},
		{"outside the tree", []string{"/var/lib/pi-manager", "/opt/other"}, []string{}},
		{"tree itself", []string{"/opt/app"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, treeExcludes("/opt/app", tt.dirs...))
		})
	}
}

func TestApp_RunOnceWithoutRepository(t *testing.T) {
	app, err := newApp(testSettings(t))
	require.NoError(t, err)

	defer app.Close()

	assert.Equal(t, 0, app.runOnce(context.Background()))

	logs, err := app.db.Recent(10)
	require.NoError(t, err)
	assert.NotEmpty(t, logs)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := newApp(testSettings(t))
	require.NoError(t, err)

	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan int, 1)

	go func() { done <- app.run(ctx) }()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestApp_InvalidGitCredentials(t *testing.T) {
	cfg := testSettings(t)
	cfg.GitSSHKey = filepath.Join(cfg.AppDir, "missing-key")

	_, err := newApp(cfg)
	require.Error(t, err)
}

func TestApp_GuardReportsCrash(t *testing.T) {
	app, err := newApp(testSettings(t))
	require.NoError(t, err)

	defer app.Close()

	notifier := &mocks.MockNotifier{}
	app.monitor = monitor.New(monitor.Config{Notifier: notifier, Collector: system.NewCollector()})
	app.monitor.Start()

	err = app.guard("scheduler", func() error { panic("boom") })()
	require.ErrorIs(t, err, errCrashed)
	assert.Contains(t, err.Error(), "boom")

	sent := notifier.Notifications()
	require.NotEmpty(t, sent)

	last := sent[len(sent)-1]
	assert.Equal(t, types.NotifyOffline, last.Kind)
	assert.Equal(t, monitor.CrashedMessage, last.Message)

	// A later regular stop must not announce a second shutdown.
	app.monitor.Stop(monitor.StoppingMessage)
	assert.Len(t, notifier.Notifications(), len(sent))
}

func TestApp_RecoverMainSetsExitCode(t *testing.T) {
	app, err := newApp(testSettings(t))
	require.NoError(t, err)

	defer app.Close()

	notifier := &mocks.MockNotifier{}
	app.monitor = monitor.New(monitor.Config{Notifier: notifier, Collector: system.NewCollector()})
	app.monitor.Start()

	exitCode := func() (code int) {
		defer app.recoverMain(&code)

		panic("main failed")
	}()

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, notifier.Messages(), monitor.CrashedMessage)
}

func TestApp_DetachedCrashStopsRun(t *testing.T) {
	app, err := newApp(testSettings(t))
	require.NoError(t, err)

	defer app.Close()

	done := make(chan int, 1)

	go func() { done <- app.run(context.Background()) }()

	app.crashed("restart", "timer exploded")

	select {
	case code := <-done:
		assert.Equal(t, 1, code)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after a crash on a timer goroutine")
	}
}
