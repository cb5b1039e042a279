package git

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/sirupsen/logrus"

	gitAuth "github.com/henningd/pi-manager/pkg/git/auth"
	"github.com/henningd/pi-manager/pkg/types"
)

// ValidateRemote checks that repoURL is reachable and exposes branch without cloning it.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control.
//   - repoURL: URL of the Git repository to validate.
//   - branch: Branch that must exist on the remote.
//   - auth: Authentication configuration for repository access.
//
// Returns:
//   - string: Head revision of the branch.
//   - error: Non-nil if the repository is inaccessible or lacks the branch.
func ValidateRemote(
	ctx context.Context,
	repoURL, branch string,
	auth types.AuthConfig,
) (string, error) {
	fields := logrus.Fields{"repo": repoURL, "branch": branch, "auth": auth.Method}

	logrus.WithFields(fields).Debug("Validating repository accessibility")

	if repoURL == "" {
		return "", ErrInvalidURL
	}

	method, err := gitAuth.Method(auth)
	if err != nil {
		return "", types.Error{
			Op:     "auth",
			URL:    repoURL,
			Reason: "authentication setup failed",
			Cause:  err,
		}
	}

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: RemoteName,
		URLs: []string{repoURL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{Auth: method})
	if err != nil {
		logrus.WithFields(fields).WithError(err).Debug("Failed to list remote references")

		return "", classify("list", repoURL, err)
	}

	want := plumbing.NewBranchReferenceName(branch)
	for _, ref := range refs {
		if ref.Name() == want {
			logrus.WithFields(fields).
				WithField("revision", ref.Hash().String()).
				Debug("Repository validation successful")

			return ref.Hash().String(), nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
}
