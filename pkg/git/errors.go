package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/henningd/pi-manager/pkg/types"
)

// classify maps a go-git failure onto a structured types.Error wrapped with
// the sentinel the orchestrator reports on.
func classify(op, url string, err error) error {
	gitErr := types.Error{Op: op, URL: url, Cause: err}

	switch {
	case errors.Is(err, git.ErrNonFastForwardUpdate),
		errors.Is(err, git.ErrUnstagedChanges),
		errors.Is(err, git.ErrWorktreeNotClean):
		gitErr.Reason = types.ReasonConflict

		return fmt.Errorf("%w: %w", types.ErrMergeConflict, gitErr)
	case errors.Is(err, transport.ErrAuthenticationRequired):
		gitErr.Reason = types.ReasonAuth
	case errors.Is(err, transport.ErrAuthorizationFailed):
		gitErr.Reason = types.ReasonAccessDenied
	case errors.Is(err, transport.ErrRepositoryNotFound):
		gitErr.Reason = types.ReasonNotFound
	case errors.Is(err, context.DeadlineExceeded):
		gitErr.Reason = types.ReasonTimeout
	default:
		gitErr.Reason = types.ReasonNetwork
	}

	return fmt.Errorf("%w: %w", types.ErrNetwork, gitErr)
}
