// Package git provides the version source adapter of Pi Manager.
//
// It wraps the local working copy of the deployment tree with go-git and exposes the
// operations the update orchestrator needs:
//
//   - IsRepository / Initialize: detect and create the working copy tracking origin/<branch>
//   - Fetch / Pull / HardResetTo: the mutating operations, serialized by the orchestrator
//   - CurrentRevision / RemoteRevision: read-only revision lookups (no implicit fetch)
//   - ChangedPathsBetween: tree diff used to detect dependency manifest changes
//   - Tags / DescribeCurrentRevision: published versions for the image-version tracker
//   - ValidateRemote: ls-remote style reachability check for a repository URL
//
// Usage:
//
//	repo, err := git.NewRepository("/opt/app", authConfig)
//	if err != nil {
//		return err
//	}
//	if !repo.IsRepository() {
//		_, err = repo.Initialize(ctx, "https://github.com/user/app.git", "main")
//	}
//
// Authentication for private remotes is handled by the auth subpackage.
//
// Error Handling:
//
// Failures are reported as types.Error values wrapped with one of the sentinel
// errors of the types package (types.ErrNetwork, types.ErrMergeConflict,
// types.ErrInitialization), so callers can use errors.Is for classification and
// types.IsNetworkError / types.IsAuthError for finer detail.
package git
