package types

import (
	"errors"
	"fmt"
)

// AuthMethod selects how the deployment repository is accessed.
type AuthMethod string

// Supported authentication methods, chosen by pkg/git/auth.FromCredentials.
const (
	AuthMethodNone  AuthMethod = "none"  // Public repository.
	AuthMethodToken AuthMethod = "token" // Personal access token over HTTPS.
	AuthMethodBasic AuthMethod = "basic" // Username and password over HTTPS.
	AuthMethodSSH   AuthMethod = "ssh"   // Private key for SSH remotes.
)

// AuthConfig carries the resolved credentials of the deployment repository.
// For AuthMethodSSH, Password holds the optional key passphrase.
type AuthConfig struct {
	Method   AuthMethod
	Token    string
	Username string
	Password string
	SSHKey   []byte
}

// RepositoryState is derived from the working copy on demand and never cached.
type RepositoryState struct {
	Initialized     bool
	CurrentRevision string
	RemoteRevision  string
	LatestTag       string
}

// Reasons attached to Error.
const (
	ReasonAuth         = "authentication failed"
	ReasonAccessDenied = "access denied"
	ReasonNotFound     = "repository not found"
	ReasonNetwork      = "network error"
	ReasonTimeout      = "timeout"
	ReasonConflict     = "merge conflict"
)

// Error describes a failed repository operation.
type Error struct {
	Op     string // fetch, pull, init, list, ...
	URL    string
	Reason string
	Cause  error
}

func (e Error) Error() string {
	msg := fmt.Sprintf("git %s %s: %s", e.Op, e.URL, e.Reason)
	if e.Cause == nil {
		return msg
	}

	return msg + ": " + e.Cause.Error()
}

func (e Error) Unwrap() error {
	return e.Cause
}

// IsAuthError reports whether err means the credentials were rejected.
// A missing repository counts, since hosts answer private repositories without access that way.
func IsAuthError(err error) bool {
	var gitErr Error
	if !errors.As(err, &gitErr) {
		return false
	}

	switch gitErr.Reason {
	case ReasonAuth, ReasonAccessDenied, ReasonNotFound:
		return true
	default:
		return false
	}
}

// IsNetworkError reports whether err is worth retrying on the next tick.
func IsNetworkError(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}

	var gitErr Error
	if !errors.As(err, &gitErr) {
		return false
	}

	return gitErr.Reason == ReasonNetwork || gitErr.Reason == ReasonTimeout
}
