package git

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/stretchr/testify/assert"

	"github.com/henningd/pi-manager/pkg/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		reason   string
	}{
		{"non fast forward", git.ErrNonFastForwardUpdate, types.ErrMergeConflict, types.ReasonConflict},
		{"unstaged changes", git.ErrUnstagedChanges, types.ErrMergeConflict, types.ReasonConflict},
		{"auth required", transport.ErrAuthenticationRequired, types.ErrNetwork, types.ReasonAuth},
		{"auth failed", transport.ErrAuthorizationFailed, types.ErrNetwork, types.ReasonAccessDenied},
		{"not found", transport.ErrRepositoryNotFound, types.ErrNetwork, types.ReasonNotFound},
		{"timeout", context.DeadlineExceeded, types.ErrNetwork, types.ReasonTimeout},
		{"other", errors.New("connection refused"), types.ErrNetwork, types.ReasonNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("fetch", "https://example.com/repo.git", tt.err)

			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, tt.err)

			var gitErr types.Error
			assert.ErrorAs(t, err, &gitErr)
			assert.Equal(t, tt.reason, gitErr.Reason)
			assert.Equal(t, "fetch", gitErr.Op)
		})
	}
}
