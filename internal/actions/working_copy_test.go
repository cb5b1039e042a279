package actions_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/henningd/pi-manager/internal/actions"
	"github.com/henningd/pi-manager/internal/actions/mocks"
	"github.com/henningd/pi-manager/pkg/git"
	"github.com/henningd/pi-manager/pkg/types"
)

const concurrentChecks = 8

// newRemote creates a repository with one commit on master and returns its
// metadata path and head revision.
func newRemote() (string, string) {
	dir := ginkgo.GinkgoT().TempDir()

	repo, err := gogit.PlainInit(dir, false)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	gomega.Expect(os.WriteFile(filepath.Join(dir, "app.js"), []byte("v1"), 0o644)).To(gomega.Succeed())

	worktree, err := repo.Worktree()
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	_, err = worktree.Add("app.js")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	hash, err := worktree.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@example.com",
			When:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
	})
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	return filepath.Join(dir, gogit.GitDirName), hash.String()
}

// checkConcurrently fires concurrentChecks checks at once and returns their statuses.
func checkConcurrently(updater *actions.Updater) []types.UpdateStatus {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses []types.UpdateStatus
	)

	start := make(chan struct{})

	for range concurrentChecks {
		wg.Add(1)

		go func() {
			defer wg.Done()

			<-start

			result := updater.CheckForUpdates(context.Background())

			mu.Lock()
			statuses = append(statuses, result.Status)
			mu.Unlock()
		}()
	}

	close(start)
	wg.Wait()

	return statuses
}

var _ = ginkgo.Describe("concurrent checks on a git working copy", func() {
	ginkgo.It("should initialize the tree exactly once and keep its metadata", func() {
		remote, head := newRemote()

		for range 5 {
			tree := ginkgo.GinkgoT().TempDir()

			repo, err := git.NewRepository(tree, types.AuthConfig{})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			updater := actions.NewUpdater(actions.UpdaterConfig{
				Store: mocks.NewMockStore(map[string]string{
					types.KeyRepository: remote,
					types.KeyBranch:     "master",
					types.KeyAutoUpdate: "false",
				}),
				Source:    repo,
				Backups:   &mocks.MockBackups{},
				Installer: &mocks.MockInstaller{},
				Restarter: mocks.NewMockRestarter(),
			})

			statuses := checkConcurrently(updater)

			gomega.Expect(statuses).To(gomega.HaveLen(concurrentChecks))
			gomega.Expect(statuses).To(gomega.ContainElement(types.StatusRepositoryInitialized))
			gomega.Expect(statuses).To(gomega.HaveEach(gomega.BeElementOf(
				types.StatusRepositoryInitialized,
				types.StatusUpdateInProgress,
				types.StatusUpToDate,
			)))

			initialized := 0

			for _, status := range statuses {
				if status == types.StatusRepositoryInitialized {
					initialized++
				}
			}

			gomega.Expect(initialized).To(gomega.Equal(1))

			gomega.Expect(repo.IsRepository()).To(gomega.BeTrue())

			current, err := repo.CurrentRevision()
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(current).To(gomega.Equal(head))

			// Once initialized, overlapping checks only fetch and compare.
			statuses = checkConcurrently(updater)
			gomega.Expect(statuses).To(gomega.HaveEach(gomega.BeElementOf(
				types.StatusUpToDate,
				types.StatusUpdateInProgress,
			)))
			gomega.Expect(statuses).To(gomega.ContainElement(types.StatusUpToDate))
			gomega.Expect(repo.IsRepository()).To(gomega.BeTrue())
		}
	})
})
