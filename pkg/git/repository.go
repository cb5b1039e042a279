package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/sirupsen/logrus"

	gitAuth "github.com/henningd/pi-manager/pkg/git/auth"
	"github.com/henningd/pi-manager/pkg/types"
)

// RemoteName is the name of the remote every working copy tracks.
const RemoteName = "origin"

// Predefined error variables for consistent error handling.
var (
	ErrNotRepository  = errors.New("deployment tree is not a git working copy")
	ErrInvalidURL     = errors.New("invalid repository URL")
	ErrBranchNotFound = errors.New("branch not found on remote")

	ErrAlreadyInitialized = errors.New("git metadata already exists")
)

// Repository is the version source adapter for one deployment tree.
type Repository struct {
	path string
	auth transport.AuthMethod
}

// NewRepository creates an adapter for the working copy at path.
//
// Parameters:
//   - path: Root of the deployment tree.
//   - auth: Credentials used for fetch and pull.
//
// Returns:
//   - *Repository: Adapter instance.
//   - error: Non-nil if the credentials are unusable.
func NewRepository(path string, auth types.AuthConfig) (*Repository, error) {
	method, err := gitAuth.Method(auth)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrConfiguration, err)
	}

	return &Repository{path: path, auth: method}, nil
}

// Path returns the root of the deployment tree.
func (r *Repository) Path() string {
	return r.path
}

// open opens the working copy without searching parent directories.
func (r *Repository) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(r.path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}

		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	return repo, nil
}

// IsRepository reports whether the deployment tree is already a working copy.
func (r *Repository) IsRepository() bool {
	_, err := r.open()

	return err == nil
}

// Initialize turns an un-versioned tree into a working copy tracking origin/branch.
//
// Tracked files already present in the tree are overwritten with the remote content.
// On failure the metadata created by this call is removed so the next attempt
// starts clean. Metadata that already existed is never touched: the call then
// fails with ErrAlreadyInitialized. Callers must check IsRepository first.
//
// Parameters:
//   - ctx: Context for the fetch.
//   - repoURL: Remote URL.
//   - branch: Branch to track.
//
// Returns:
//   - types.RepositoryState: State of the new working copy.
//   - error: Wraps types.ErrInitialization on failure.
func (r *Repository) Initialize(
	ctx context.Context,
	repoURL, branch string,
) (types.RepositoryState, error) {
	fields := logrus.Fields{"repo": repoURL, "branch": branch, "path": r.path}

	logrus.WithFields(fields).Debug("Initializing working copy")

	if repoURL == "" {
		return types.RepositoryState{}, fmt.Errorf("%w: %w", types.ErrInitialization, ErrInvalidURL)
	}

	repo, err := git.PlainInit(r.path, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		logrus.WithFields(fields).Warn("Git metadata appeared before initialization, leaving it in place")

		return types.RepositoryState{}, fmt.Errorf("%w: %w", types.ErrInitialization, ErrAlreadyInitialized)
	}

	if err != nil {
		return types.RepositoryState{}, fmt.Errorf("%w: failed to init repository: %w", types.ErrInitialization, err)
	}

	state, err := r.initialize(ctx, repo, repoURL, branch)
	if err != nil {
		logrus.WithFields(fields).WithError(err).Debug("Initialization failed, removing metadata")

		if rmErr := os.RemoveAll(filepath.Join(r.path, git.GitDirName)); rmErr != nil {
			logrus.WithFields(fields).WithError(rmErr).Warn("Failed to remove partial git metadata")
		}

		return types.RepositoryState{}, fmt.Errorf("%w: %w", types.ErrInitialization, err)
	}

	logrus.WithFields(fields).
		WithField("revision", state.CurrentRevision).
		Debug("Working copy initialized")

	return state, nil
}

// initialize points a freshly created repository at origin/branch and checks it out.
func (r *Repository) initialize(
	ctx context.Context,
	repo *git.Repository,
	repoURL, branch string,
) (types.RepositoryState, error) {
	_, err := repo.CreateRemote(&config.RemoteConfig{
		Name: RemoteName,
		URLs: []string{repoURL},
	})
	if err != nil {
		return types.RepositoryState{}, classify("remote", repoURL, err)
	}

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: RemoteName,
		Auth:       r.auth,
		Tags:       git.AllTags,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return types.RepositoryState{}, classify("fetch", repoURL, err)
	}

	remoteRef, err := repo.Reference(plumbing.NewRemoteReferenceName(RemoteName, branch), true)
	if err != nil {
		return types.RepositoryState{}, fmt.Errorf("%w: %s: %w", ErrBranchNotFound, branch, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return types.RepositoryState{}, fmt.Errorf("failed to open worktree: %w", err)
	}

	err = worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Hash:   remoteRef.Hash(),
		Create: true,
		Force:  true,
	})
	if err != nil {
		return types.RepositoryState{}, fmt.Errorf("failed to check out %s: %w", branch, err)
	}

	err = repo.CreateBranch(&config.Branch{
		Name:   branch,
		Remote: RemoteName,
		Merge:  plumbing.NewBranchReferenceName(branch),
	})
	if err != nil {
		return types.RepositoryState{}, fmt.Errorf("failed to configure branch tracking: %w", err)
	}

	return types.RepositoryState{
		Initialized:     true,
		CurrentRevision: remoteRef.Hash().String(),
		RemoteRevision:  remoteRef.Hash().String(),
	}, nil
}

// Fetch updates the remote-tracking references.
//
// Parameters:
//   - ctx: Context for the transport.
//   - includeTags: Fetch every tag, not only those reachable from fetched branches.
//
// Returns:
//   - error: Wraps types.ErrNetwork on transport failure.
func (r *Repository) Fetch(ctx context.Context, includeTags bool) error {
	repo, err := r.open()
	if err != nil {
		return err
	}

	opts := &git.FetchOptions{
		RemoteName: RemoteName,
		Auth:       r.auth,
	}
	if includeTags {
		opts.Tags = git.AllTags
		opts.Force = true
	}

	err = repo.FetchContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classify("fetch", r.remoteURL(repo), err)
	}

	logrus.WithFields(logrus.Fields{
		"path": r.path,
		"tags": includeTags,
	}).Debug("Fetched remote references")

	return nil
}

// CurrentRevision returns the commit checked out in the working copy.
func (r *Repository) CurrentRevision() (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}

	return head.Hash().String(), nil
}

// RemoteRevision returns the last fetched commit of origin/branch.
// It does not fetch; the value is as fresh as the last Fetch.
func (r *Repository) RemoteRevision(branch string) (string, error) {
	repo, err := r.open()
	if err != nil {
		return "", err
	}

	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(RemoteName, branch), true)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrBranchNotFound, branch, err)
	}

	return ref.Hash().String(), nil
}

// Pull fast-forwards the checked out branch to origin/branch and updates the tree.
//
// Returns:
//   - error: Wraps types.ErrMergeConflict when the update cannot be applied
//     and types.ErrNetwork on transport failure.
func (r *Repository) Pull(ctx context.Context, branch string) error {
	repo, err := r.open()
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	err = worktree.PullContext(ctx, &git.PullOptions{
		RemoteName:    RemoteName,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          r.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classify("pull", r.remoteURL(repo), err)
	}

	logrus.WithFields(logrus.Fields{
		"path":   r.path,
		"branch": branch,
	}).Debug("Pulled remote changes")

	return nil
}

// HardResetTo moves the checked out branch to revision and discards tree changes.
// It is destructive and only used for rollback.
func (r *Repository) HardResetTo(revision string) error {
	repo, err := r.open()
	if err != nil {
		return err
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return fmt.Errorf("failed to resolve revision %s: %w", revision, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	err = worktree.Reset(&git.ResetOptions{Commit: *hash, Mode: git.HardReset})
	if err != nil {
		return fmt.Errorf("failed to reset to %s: %w", revision, err)
	}

	logrus.WithFields(logrus.Fields{
		"path":     r.path,
		"revision": hash.String(),
	}).Debug("Hard reset working copy")

	return nil
}

// ChangedPathsBetween returns every path added, modified or removed between two revisions.
func (r *Repository) ChangedPathsBetween(from, to string) (map[string]struct{}, error) {
	paths := make(map[string]struct{})
	if from == to {
		return paths, nil
	}

	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	fromTree, err := treeAt(repo, from)
	if err != nil {
		return nil, err
	}

	toTree, err := treeAt(repo, to)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", from, to, err)
	}

	for _, change := range changes {
		if change.From.Name != "" {
			paths[change.From.Name] = struct{}{}
		}

		if change.To.Name != "" {
			paths[change.To.Name] = struct{}{}
		}
	}

	return paths, nil
}

// treeAt resolves a revision to its root tree.
func treeAt(repo *git.Repository, revision string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve revision %s: %w", revision, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", revision, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of %s: %w", revision, err)
	}

	return tree, nil
}

// remoteURL returns the first configured URL of origin for error reporting.
func (r *Repository) remoteURL(repo *git.Repository) string {
	remote, err := repo.Remote(RemoteName)
	if err != nil || len(remote.Config().URLs) == 0 {
		return r.path
	}

	return remote.Config().URLs[0]
}
