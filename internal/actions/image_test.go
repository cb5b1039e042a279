package actions_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/henningd/pi-manager/internal/actions"
	"github.com/henningd/pi-manager/internal/actions/mocks"
	"github.com/henningd/pi-manager/pkg/types"
)

var _ = ginkgo.Describe("the image tracker", func() {
	var (
		dir      string
		data     *mocks.SourceData
		recorder *mocks.MockRecorder
		tracker  *actions.ImageTracker
	)

	newTracker := func(config map[string]string) *actions.ImageTracker {
		return actions.NewImageTracker(actions.ImageTrackerConfig{
			Store:   mocks.NewMockStore(config),
			Source:  mocks.NewMockSource(data),
			Dir:     dir,
			Metrics: recorder,
		})
	}

	writeManifest := func(content string) {
		gomega.Expect(os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644)).
			To(gomega.Succeed())
	}

	ginkgo.BeforeEach(func() {
		dir = ginkgo.GinkgoT().TempDir()
		data = &mocks.SourceData{Repository: true, Current: "0123456789abcdef"}
		recorder = &mocks.MockRecorder{}
		tracker = newTracker(configured(false))
	})

	ginkgo.It("should report no_repo_configured without a repository URL", func() {
		tracker = newTracker(map[string]string{})

		result := tracker.CheckForImageUpdates(context.Background())

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusNoRepoConfigured))
		gomega.Expect(data.FetchCount).To(gomega.BeZero())
	})

	ginkgo.It("should report no_repo_configured for an uninitialized tree", func() {
		data.Repository = false

		result := tracker.CheckForImageUpdates(context.Background())

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusNoRepoConfigured))
	})

	ginkgo.It("should report a newer tag and remember it", func() {
		writeManifest(`{"name": "app", "version": "1.0.0"}`)
		data.LatestTag = "v1.1.0"

		result := tracker.CheckForImageUpdates(context.Background())

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusAvailable))
		gomega.Expect(result.CurrentVersion).To(gomega.Equal("1.0.0"))
		gomega.Expect(result.LatestVersion).To(gomega.Equal("v1.1.0"))
		gomega.Expect(result.UpdateInfo).NotTo(gomega.BeNil())
		gomega.Expect(result.UpdateInfo.Status).To(gomega.Equal("available"))

		info := tracker.AvailableImageUpdate()
		gomega.Expect(info).NotTo(gomega.BeNil())
		gomega.Expect(info.LatestVersion).To(gomega.Equal("v1.1.0"))
		gomega.Expect(recorder.Images).To(gomega.Equal([]bool{true}))
		gomega.Expect(data.Current).To(gomega.Equal("0123456789abcdef"), "the tracker never mutates the tree")
	})

	ginkgo.It("should clear the advisory record once versions match", func() {
		writeManifest(`{"version": "1.0.0"}`)
		data.LatestTag = "v1.1.0"
		tracker.CheckForImageUpdates(context.Background())

		writeManifest(`{"version": "1.1.0"}`)

		result := tracker.CheckForImageUpdates(context.Background())

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusUpToDate))
		gomega.Expect(result.LastCheck).NotTo(gomega.BeNil())
		gomega.Expect(tracker.AvailableImageUpdate()).To(gomega.BeNil())
		gomega.Expect(tracker.LastCheck()).NotTo(gomega.BeNil())
	})

	ginkgo.It("should treat a missing tag as up to date", func() {
		result := tracker.CheckForImageUpdates(context.Background())

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusUpToDate))
		gomega.Expect(result.CurrentVersion).To(gomega.Equal("0123456"))
	})

	ginkgo.It("should report fetch failures as errors", func() {
		data.FetchErr = types.ErrNetwork

		result := tracker.CheckForImageUpdates(context.Background())

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusError))
		gomega.Expect(result.Error).To(gomega.ContainSubstring("network"))
	})

	ginkgo.It("should coalesce concurrent checks", func() {
		writeManifest(`{"version": "1.0.0"}`)
		data.LatestTag = "v2.0.0"

		var wg sync.WaitGroup

		results := make([]types.ImageResult, 8)
		for i := range results {
			wg.Add(1)

			go func() {
				defer wg.Done()

				results[i] = tracker.CheckForImageUpdates(context.Background())
			}()
		}

		wg.Wait()

		for _, result := range results {
			gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusAvailable))
		}

		gomega.Expect(data.FetchCount).To(gomega.BeNumerically("<=", len(results)))
	})

	ginkgo.It("should finish a shared check after its first caller gives up", func() {
		writeManifest(`{"version": "1.0.0"}`)
		data.LatestTag = "v2.0.0"
		data.FetchStarted = make(chan struct{}, 1)
		data.FetchRelease = make(chan struct{})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan types.ImageResult, 1)

		go func() { done <- tracker.CheckForImageUpdates(ctx) }()

		gomega.Eventually(data.FetchStarted).Should(gomega.Receive())
		cancel()
		close(data.FetchRelease)

		var result types.ImageResult
		gomega.Eventually(done).Should(gomega.Receive(&result))

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusAvailable))
		gomega.Expect(tracker.AvailableImageUpdate()).NotTo(gomega.BeNil())
	})

	ginkgo.It("should skip the check while the working copy is busy", func() {
		tracker = actions.NewImageTracker(actions.ImageTrackerConfig{
			Store:  mocks.NewMockStore(configured(false)),
			Source: mocks.NewMockSource(data),
			Dir:    dir,
			Guard:  heldGuard{},
		})

		result := tracker.CheckForImageUpdates(context.Background())

		gomega.Expect(result.Status).To(gomega.Equal(types.ImageStatusInProgress))
		gomega.Expect(data.FetchCount).To(gomega.BeZero())
		gomega.Expect(tracker.LastCheck()).To(gomega.BeNil())
	})
})

// heldGuard is a guard that some other operation always holds.
type heldGuard struct{}

func (heldGuard) TryLock() bool { return false }

func (heldGuard) Unlock() {}

var _ = ginkgo.Describe("the current version", func() {
	var (
		dir    string
		source *mocks.MockSource
	)

	ginkgo.BeforeEach(func() {
		dir = ginkgo.GinkgoT().TempDir()
		source = mocks.NewMockSource(&mocks.SourceData{Current: "fedcba9876543210", ExactTag: "v3.0.0"})
	})

	write := func(name, content string) {
		gomega.Expect(os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644)).To(gomega.Succeed())
	}

	ginkgo.It("should prefer the manifest version", func() {
		write("package.json", `{"version": "1.2.3"}`)
		write("VERSION", "9.9.9\n")

		gomega.Expect(actions.CurrentVersion(dir, "package.json", "VERSION", source)).To(gomega.Equal("1.2.3"))
	})

	ginkgo.It("should read YAML manifests verbatim", func() {
		write("app.yaml", "name: app\nversion: 1.10\n")

		gomega.Expect(actions.CurrentVersion(dir, "app.yaml", "VERSION", source)).To(gomega.Equal("1.10"))
	})

	ginkgo.It("should fall back to the version file", func() {
		write("package.json", `{"name": "app"}`)
		write("VERSION", "  2.0.1\n")

		gomega.Expect(actions.CurrentVersion(dir, "package.json", "VERSION", source)).To(gomega.Equal("2.0.1"))
	})

	ginkgo.It("should fall back to an exact tag", func() {
		gomega.Expect(actions.CurrentVersion(dir, "package.json", "VERSION", source)).To(gomega.Equal("v3.0.0"))
	})

	ginkgo.It("should fall back to the short revision", func() {
		source.Data.ExactTag = ""

		gomega.Expect(actions.CurrentVersion(dir, "package.json", "VERSION", source)).To(gomega.Equal("fedcba9"))
	})

	ginkgo.It("should report unknown when nothing is available", func() {
		gomega.Expect(actions.CurrentVersion(dir, "package.json", "VERSION", nil)).To(gomega.Equal("unknown"))
	})
})
