package actions_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/henningd/pi-manager/internal/actions"
	"github.com/henningd/pi-manager/internal/actions/mocks"
	"github.com/henningd/pi-manager/pkg/types"
)

// fixture bundles an Updater with its mocked collaborators.
type fixture struct {
	store     *mocks.MockStore
	data      *mocks.SourceData
	source    *mocks.MockSource
	backups   *mocks.MockBackups
	installer *mocks.MockInstaller
	notifier  *mocks.MockNotifier
	recorder  *mocks.MockRecorder
	restarter *mocks.MockRestarter
	updater   *actions.Updater
}

func newFixture(config map[string]string, data *mocks.SourceData) *fixture {
	f := &fixture{
		store:     mocks.NewMockStore(config),
		data:      data,
		source:    mocks.NewMockSource(data),
		backups:   &mocks.MockBackups{RestoreResult: true},
		installer: &mocks.MockInstaller{},
		notifier:  &mocks.MockNotifier{},
		recorder:  &mocks.MockRecorder{},
		restarter: mocks.NewMockRestarter(),
	}

	f.updater = actions.NewUpdater(actions.UpdaterConfig{
		Store:        f.store,
		Source:       f.source,
		Backups:      f.backups,
		Installer:    f.installer,
		Notifier:     f.notifier,
		Metrics:      f.recorder,
		Restarter:    f.restarter,
		RestartGrace: time.Millisecond,
	})

	return f
}

// panickingRestarter fails every restart request.
type panickingRestarter struct{}

func (panickingRestarter) RequestRestart() {
	panic("restart exploded")
}

func configured(autoUpdate bool) map[string]string {
	auto := "false"
	if autoUpdate {
		auto = "true"
	}

	return map[string]string{
		types.KeyRepository: "https://github.com/example/app.git",
		types.KeyBranch:     "main",
		types.KeyAutoUpdate: auto,
	}
}

var _ = ginkgo.Describe("the updater", func() {
	ginkgo.When("no repository is configured", func() {
		ginkgo.It("should report no_repo_configured without touching the tree", func() {
			f := newFixture(map[string]string{types.KeyRepository: ""}, &mocks.SourceData{})

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusNoRepoConfigured))
			gomega.Expect(f.data.InitializeCount).To(gomega.BeZero())
			gomega.Expect(f.data.FetchCount).To(gomega.BeZero())
		})

		ginkgo.It("should initialize the repository once one is configured", func() {
			f := newFixture(map[string]string{}, &mocks.SourceData{Upstream: "def456"})

			first := f.updater.CheckForUpdates(context.Background())
			gomega.Expect(first.Status).To(gomega.Equal(types.StatusNoRepoConfigured))

			gomega.Expect(f.store.Set(types.KeyRepository, "https://github.com/example/app.git")).To(gomega.Succeed())
			gomega.Expect(f.store.Set(types.KeyBranch, "main")).To(gomega.Succeed())

			second := f.updater.CheckForUpdates(context.Background())
			gomega.Expect(second.Status).To(gomega.Equal(types.StatusRepositoryInitialized))
			gomega.Expect(f.source.IsRepository()).To(gomega.BeTrue())
			gomega.Expect(f.data.PullCount).To(gomega.BeZero(), "initialization ends the cycle")
			gomega.Expect(f.notifier.Kinds()).To(gomega.ConsistOf(types.NotifyInfo))
		})
	})

	ginkgo.When("initialization fails", func() {
		ginkgo.It("should report update_failed without rollback", func() {
			f := newFixture(configured(true), &mocks.SourceData{InitializeErr: types.ErrInitialization})

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(result.RolledBack).To(gomega.BeFalse())
			gomega.Expect(f.source.IsRepository()).To(gomega.BeFalse())
		})
	})

	ginkgo.When("the working copy matches the remote", func() {
		ginkgo.It("should report up_to_date with the same revision on every call", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Remote:     "abc123",
			})

			first := f.updater.CheckForUpdates(context.Background())
			second := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(first).To(gomega.Equal(types.UpToDate("abc123")))
			gomega.Expect(second).To(gomega.Equal(first))
			gomega.Expect(f.data.FetchCount).To(gomega.Equal(2))
			gomega.Expect(f.backups.CreateCalled).To(gomega.BeZero())
			gomega.Expect(f.recorder.Checks).To(gomega.HaveLen(2))
		})
	})

	ginkgo.When("the fetch fails", func() {
		ginkgo.It("should report update_failed and leave the tree alone", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Remote:     "abc123",
				FetchErr:   types.ErrNetwork,
			})

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(result.Reason).To(gomega.ContainSubstring("network"))
			gomega.Expect(result.RolledBack).To(gomega.BeFalse())
			gomega.Expect(f.data.PullCount).To(gomega.BeZero())
		})
	})

	ginkgo.When("updates are available without auto-update", func() {
		ginkgo.It("should report them and keep the current revision", func() {
			f := newFixture(configured(false), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Upstream:   "def456",
			})

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result).To(gomega.Equal(types.UpdatesAvailable("abc123", "def456", false)))
			gomega.Expect(f.data.Current).To(gomega.Equal("abc123"))
			gomega.Expect(f.data.PullCount).To(gomega.BeZero())
			gomega.Expect(f.backups.CreateCalled).To(gomega.BeZero())
		})
	})

	ginkgo.When("updates are available with auto-update", func() {
		ginkgo.It("should apply them without reinstalling an unchanged manifest", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Upstream:   "def456",
			})

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdatesAvailable))
			gomega.Expect(result.AutoApplied).To(gomega.BeTrue())
			gomega.Expect(result.Update).NotTo(gomega.BeNil())
			gomega.Expect(result.Update.Status).To(gomega.Equal(types.StatusUpdateSucceeded))
			gomega.Expect(result.Update.DependenciesReinstalled).To(gomega.BeFalse())
			gomega.Expect(result.Update.BackupPath).To(gomega.Equal("/backups/backup-abc123"))
			gomega.Expect(result.Succeeded()).To(gomega.BeTrue())

			gomega.Expect(f.installer.InstallCount).To(gomega.BeZero())
			gomega.Expect(f.data.Current).To(gomega.Equal("def456"))
			gomega.Expect(f.notifier.Messages()).To(gomega.ContainElement("Application updated and restarting"))
			gomega.Eventually(f.restarter.Requested).Should(gomega.Receive())
			gomega.Expect(f.updater.InProgress()).To(gomega.BeFalse())
			gomega.Expect(f.recorder.Checks).To(gomega.HaveLen(1), "a chained apply is recorded once")
		})

		ginkgo.It("should reinstall dependencies when the manifest changed", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Upstream:   "def456",
			})
			f.installer.Changed = true

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result.Update.Status).To(gomega.Equal(types.StatusUpdateSucceeded))
			gomega.Expect(result.Update.DependenciesReinstalled).To(gomega.BeTrue())
			gomega.Expect(f.installer.InstallCount).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("applying updates", func() {
		ginkgo.It("should abort before pulling when the backup fails", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Remote:     "def456",
			})
			f.backups.CreateErr = types.ErrBackup

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(result.RolledBack).To(gomega.BeFalse())
			gomega.Expect(f.data.PullCount).To(gomega.BeZero())
			gomega.Expect(f.data.ResetCount).To(gomega.BeZero())
			gomega.Expect(f.data.Current).To(gomega.Equal("abc123"))
			gomega.Expect(f.restarter.Requested).NotTo(gomega.Receive())
		})

		ginkgo.It("should roll back to the previous revision when the pull fails", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository:    true,
				Current:       "abc123",
				Remote:        "def456",
				PullErr:       types.ErrMergeConflict,
				PullMovesHead: true,
			})

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(result.RolledBack).To(gomega.BeTrue())
			gomega.Expect(f.data.Current).To(gomega.Equal("abc123"))
			gomega.Expect(f.data.ResetTargets).To(gomega.Equal([]string{"abc123"}))
			gomega.Expect(f.backups.Restored).To(gomega.HaveLen(1))
			gomega.Expect(f.notifier.Kinds()).To(gomega.ContainElement(types.NotifyWarning))
			gomega.Expect(f.updater.InProgress()).To(gomega.BeFalse())
		})

		ginkgo.It("should report rolled_back=false when the reset fails", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Remote:     "def456",
				PullErr:    types.ErrNetwork,
				ResetErr:   mocks.ErrMock,
			})

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(result.RolledBack).To(gomega.BeFalse())
			gomega.Expect(f.data.ResetCount).To(gomega.Equal(1), "rollback is never retried")
		})

		ginkgo.It("should roll back when the dependency install fails", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Remote:     "def456",
			})
			f.installer.Changed = true
			f.installer.InstallErr = types.ErrInstall

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(result.RolledBack).To(gomega.BeTrue())
			gomega.Expect(f.data.Current).To(gomega.Equal("abc123"))
			gomega.Expect(f.restarter.Requested).NotTo(gomega.Receive())
		})

		ginkgo.It("should refuse to apply to an uninitialized tree", func() {
			f := newFixture(configured(true), &mocks.SourceData{})

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(f.backups.CreateCalled).To(gomega.BeZero())
		})

		ginkgo.It("should prune backups when a retention is configured", func() {
			data := &mocks.SourceData{Repository: true, Current: "abc123", Remote: "def456"}
			f := newFixture(configured(true), data)
			f.updater = actions.NewUpdater(actions.UpdaterConfig{
				Store:           f.store,
				Source:          f.source,
				Backups:         f.backups,
				Installer:       f.installer,
				Restarter:       f.restarter,
				RestartGrace:    time.Millisecond,
				BackupRetention: 3,
			})

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateSucceeded))
			gomega.Expect(f.backups.PrunedWith).To(gomega.Equal([]int{3}))
		})

		ginkgo.It("should keep every backup when the pull fails", func() {
			data := &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Remote:     "def456",
				PullErr:    mocks.ErrMock,
			}
			f := newFixture(configured(true), data)
			f.updater = actions.NewUpdater(actions.UpdaterConfig{
				Store:           f.store,
				Source:          f.source,
				Backups:         f.backups,
				Installer:       f.installer,
				Restarter:       f.restarter,
				RestartGrace:    time.Millisecond,
				BackupRetention: 3,
			})

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(f.backups.CreateCalled).To(gomega.Equal(1))
			gomega.Expect(f.backups.PrunedWith).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("single-flight execution", func() {
		ginkgo.It("should turn away concurrent callers while an apply runs", func() {
			data := &mocks.SourceData{
				Repository:  true,
				Current:     "abc123",
				Remote:      "def456",
				PullStarted: make(chan struct{}, 1),
				PullRelease: make(chan struct{}),
			}
			f := newFixture(configured(true), data)

			var (
				wg     sync.WaitGroup
				result types.UpdateResult
			)

			wg.Add(1)

			go func() {
				defer wg.Done()

				result = f.updater.ApplyUpdates(context.Background())
			}()

			gomega.Eventually(data.PullStarted).Should(gomega.Receive())
			gomega.Expect(f.updater.InProgress()).To(gomega.BeTrue())

			concurrent := make([]types.UpdateResult, 5)

			for i := range concurrent {
				concurrent[i] = f.updater.ApplyUpdates(context.Background())
			}

			check := f.updater.CheckForUpdates(context.Background())

			close(data.PullRelease)
			wg.Wait()

			for _, r := range concurrent {
				gomega.Expect(r.Status).To(gomega.Equal(types.StatusUpdateInProgress))
			}

			gomega.Expect(check.Status).To(gomega.Equal(types.StatusUpdateInProgress))
			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateSucceeded))
			gomega.Expect(data.PullCount).To(gomega.Equal(1))
			gomega.Expect(f.backups.CreateCalled).To(gomega.Equal(1))
			gomega.Expect(f.updater.InProgress()).To(gomega.BeFalse())
		})

		ginkgo.It("should release the guard after a failure", func() {
			f := newFixture(configured(true), &mocks.SourceData{
				Repository: true,
				Current:    "abc123",
				Remote:     "def456",
			})
			f.backups.CreateErr = types.ErrBackup

			gomega.Expect(f.updater.ApplyUpdates(context.Background()).Status).
				To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(f.updater.InProgress()).To(gomega.BeFalse())

			f.backups.CreateErr = nil

			gomega.Expect(f.updater.ApplyUpdates(context.Background()).Status).
				To(gomega.Equal(types.StatusUpdateSucceeded))
		})
	})

	ginkgo.Describe("overlapping checks", func() {
		var data *mocks.SourceData

		ginkgo.BeforeEach(func() {
			data = &mocks.SourceData{
				Repository:   true,
				Current:      "abc123",
				Upstream:     "def456",
				FetchStarted: make(chan struct{}, 1),
				FetchRelease: make(chan struct{}),
			}
		})

		ginkgo.It("should turn away applies, checks and image checks while a check fetches", func() {
			f := newFixture(configured(false), data)
			tracker := actions.NewImageTracker(actions.ImageTrackerConfig{
				Store:  f.store,
				Source: f.source,
				Dir:    ginkgo.GinkgoT().TempDir(),
				Guard:  f.updater,
			})

			done := make(chan types.UpdateResult, 1)

			go func() { done <- f.updater.CheckForUpdates(context.Background()) }()

			gomega.Eventually(data.FetchStarted).Should(gomega.Receive())
			gomega.Expect(f.updater.InProgress()).To(gomega.BeTrue())

			gomega.Expect(f.updater.ApplyUpdates(context.Background()).Status).
				To(gomega.Equal(types.StatusUpdateInProgress))
			gomega.Expect(f.updater.CheckForUpdates(context.Background()).Status).
				To(gomega.Equal(types.StatusUpdateInProgress))
			gomega.Expect(tracker.CheckForImageUpdates(context.Background()).Status).
				To(gomega.Equal(types.ImageStatusInProgress))

			close(data.FetchRelease)

			var result types.UpdateResult
			gomega.Eventually(done).Should(gomega.Receive(&result))

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdatesAvailable))
			gomega.Expect(data.FetchCount).To(gomega.Equal(1))
			gomega.Expect(data.PullCount).To(gomega.BeZero())
			gomega.Expect(f.updater.InProgress()).To(gomega.BeFalse())
		})

		ginkgo.It("should skip update checks while the image tracker fetches tags", func() {
			f := newFixture(configured(true), data)
			tracker := actions.NewImageTracker(actions.ImageTrackerConfig{
				Store:  f.store,
				Source: f.source,
				Dir:    ginkgo.GinkgoT().TempDir(),
				Guard:  f.updater,
			})

			done := make(chan types.ImageResult, 1)

			go func() { done <- tracker.CheckForImageUpdates(context.Background()) }()

			gomega.Eventually(data.FetchStarted).Should(gomega.Receive())

			gomega.Expect(f.updater.CheckForUpdates(context.Background()).Status).
				To(gomega.Equal(types.StatusUpdateInProgress))
			gomega.Expect(f.updater.ApplyUpdates(context.Background()).Status).
				To(gomega.Equal(types.StatusUpdateInProgress))

			close(data.FetchRelease)
			gomega.Eventually(done).Should(gomega.Receive())

			gomega.Expect(data.PullCount).To(gomega.BeZero())
			gomega.Expect(f.backups.CreateCalled).To(gomega.BeZero())
			gomega.Expect(f.updater.InProgress()).To(gomega.BeFalse())
		})

		ginkgo.It("should run the auto-apply under the guard taken by the check", func() {
			data.FetchStarted = nil
			data.FetchRelease = nil
			f := newFixture(configured(true), data)

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdatesAvailable))
			gomega.Expect(result.Update).NotTo(gomega.BeNil())
			gomega.Expect(result.Update.Status).To(gomega.Equal(types.StatusUpdateSucceeded))
			gomega.Expect(f.updater.InProgress()).To(gomega.BeFalse())
		})
	})

	ginkgo.When("the restart panics", func() {
		ginkgo.It("should hand the panic to the crash reporter", func() {
			data := &mocks.SourceData{Repository: true, Current: "abc123", Remote: "def456"}
			f := newFixture(configured(true), data)

			crashes := make(chan string, 1)

			f.updater = actions.NewUpdater(actions.UpdaterConfig{
				Store:        f.store,
				Source:       f.source,
				Backups:      f.backups,
				Installer:    f.installer,
				Restarter:    panickingRestarter{},
				RestartGrace: time.Millisecond,
				Crash: func(component string, recovered any) {
					crashes <- fmt.Sprintf("%s: %v", component, recovered)
				},
			})

			result := f.updater.ApplyUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateSucceeded))
			gomega.Eventually(crashes).Should(gomega.Receive(gomega.Equal("restart: restart exploded")))
		})
	})

	ginkgo.When("the config store fails", func() {
		ginkgo.It("should report update_failed", func() {
			f := newFixture(configured(true), &mocks.SourceData{Repository: true})
			f.store.Err = mocks.ErrMock

			result := f.updater.CheckForUpdates(context.Background())

			gomega.Expect(result.Status).To(gomega.Equal(types.StatusUpdateFailed))
			gomega.Expect(result.Reason).To(gomega.ContainSubstring("configuration"))
		})
	})
})
