// Package auth turns Pi Manager's git credential settings into go-git authentication methods.
package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/types"
)

// tokenUsername is the username GitHub and GitLab expect alongside a personal access token.
const tokenUsername = "token"

// Predefined error variables for consistent error handling.
var (
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")
	ErrSSHKeyPathEmpty       = errors.New("SSH key file path is empty")
	ErrTokenRequired         = errors.New("token authentication requires a token")
	ErrBasicAuthIncomplete   = errors.New(
		"basic authentication requires both username and password",
	)
	ErrSSHKeyRequired = errors.New("SSH authentication requires a private key")
)

// Credentials are the raw credential settings collected from flags or the environment.
type Credentials struct {
	Token         string // Personal access token, takes precedence over everything else.
	Username      string // Username for basic authentication.
	Password      string // Password for basic authentication.
	SSHKeyPath    string // Path to a private key for SSH remotes.
	SSHPassphrase string // Optional passphrase for the private key.
}

// Method creates a go-git authentication method from an AuthConfig.
//
// Parameters:
//   - config: Authentication configuration.
//
// Returns:
//   - transport.AuthMethod: Authentication method, nil for anonymous access.
//   - error: Non-nil if the configuration is incomplete or the SSH key is unusable.
func Method(config types.AuthConfig) (transport.AuthMethod, error) {
	if err := Validate(config); err != nil {
		return nil, err
	}

	switch config.Method {
	case types.AuthMethodToken:
		return &http.BasicAuth{Username: tokenUsername, Password: config.Token}, nil
	case types.AuthMethodBasic:
		return &http.BasicAuth{Username: config.Username, Password: config.Password}, nil
	case types.AuthMethodSSH:
		keys, err := ssh.NewPublicKeys("git", config.SSHKey, config.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSH public keys: %w", err)
		}

		return keys, nil
	default:
		return nil, nil //nolint:nilnil // anonymous access is valid
	}
}

// FromCredentials selects an authentication method from the supplied credentials.
//
// A token wins over username/password, which wins over an SSH key. With nothing
// set, anonymous access is used.
//
// Parameters:
//   - creds: Raw credential settings.
//
// Returns:
//   - types.AuthConfig: Resolved configuration.
//   - error: Non-nil if the SSH key could not be read.
func FromCredentials(creds Credentials) (types.AuthConfig, error) {
	config := types.AuthConfig{Method: types.AuthMethodNone}

	switch {
	case creds.Token != "":
		config.Method = types.AuthMethodToken
		config.Token = creds.Token
	case creds.Username != "" && creds.Password != "":
		config.Method = types.AuthMethodBasic
		config.Username = creds.Username
		config.Password = creds.Password
	case creds.SSHKeyPath != "":
		key, err := LoadSSHKey(creds.SSHKeyPath)
		if err != nil {
			return config, err
		}

		config.Method = types.AuthMethodSSH
		config.SSHKey = key
		config.Password = creds.SSHPassphrase
	}

	if err := Validate(config); err != nil {
		return config, err
	}

	logrus.WithField("method", config.Method).Debug("Resolved git authentication method")

	return config, nil
}

// LoadSSHKey reads a private key from disk.
func LoadSSHKey(path string) ([]byte, error) {
	if path == "" {
		return nil, ErrSSHKeyPathEmpty
	}

	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SSH key file %s: %w", path, err)
	}

	return key, nil
}

// Validate checks that an AuthConfig carries what its method needs.
func Validate(config types.AuthConfig) error {
	switch config.Method {
	case types.AuthMethodToken:
		if config.Token == "" {
			return ErrTokenRequired
		}
	case types.AuthMethodBasic:
		if config.Username == "" || config.Password == "" {
			return ErrBasicAuthIncomplete
		}
	case types.AuthMethodSSH:
		if len(config.SSHKey) == 0 {
			return ErrSSHKeyRequired
		}
	case types.AuthMethodNone, "":
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedAuthMethod, config.Method)
	}

	return nil
}
