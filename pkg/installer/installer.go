// Package installer re-installs the runtime dependencies of the deployment tree
// when its dependency manifest changed between two revisions.
package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/types"
)

// Defaults matching a Node.js deployment tree.
const (
	DefaultManifest = "package.json"
	DefaultCommand  = "npm install --production"
)

// ErrEmptyCommand is returned when no install command is configured.
var ErrEmptyCommand = errors.New("install command is empty")

// ChangeSource lists paths that differ between two revisions.
type ChangeSource interface {
	ChangedPathsBetween(from, to string) (map[string]struct{}, error)
}

// Installer runs the dependency install step in the deployment tree.
type Installer struct {
	dir      string
	manifest string
	command  []string
	changes  ChangeSource
}

// New creates an Installer.
//
// Parameters:
//   - dir: Deployment tree the command runs in.
//   - manifest: Tree-relative manifest path, DefaultManifest when empty.
//   - command: Install command line, DefaultCommand when empty.
//   - changes: Source of changed paths between revisions.
//
// Returns:
//   - *Installer: Initialized installer.
func New(dir, manifest, command string, changes ChangeSource) *Installer {
	if manifest == "" {
		manifest = DefaultManifest
	}

	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}

	return &Installer{
		dir:      dir,
		manifest: filepath.ToSlash(filepath.Clean(manifest)),
		command:  strings.Fields(command),
		changes:  changes,
	}
}

// Manifest returns the tree-relative manifest path.
func (i *Installer) Manifest() string {
	return i.manifest
}

// ManifestChanged reports whether the manifest differs between two revisions.
func (i *Installer) ManifestChanged(from, to string) (bool, error) {
	changed, err := i.changes.ChangedPathsBetween(from, to)
	if err != nil {
		return false, fmt.Errorf("failed to list changed paths: %w", err)
	}

	_, ok := changed[i.manifest]

	logrus.WithFields(logrus.Fields{
		"from":     from,
		"to":       to,
		"manifest": i.manifest,
		"changed":  ok,
	}).Debug("Checked dependency manifest")

	return ok, nil
}

// Install runs the install command in the tree and returns its combined output.
//
// Returns:
//   - string: Combined stdout and stderr.
//   - error: Wraps types.ErrInstall if the command could not run or exited non-zero.
func (i *Installer) Install(ctx context.Context) (string, error) {
	if len(i.command) == 0 {
		return "", fmt.Errorf("%w: %w", types.ErrInstall, ErrEmptyCommand)
	}

	fields := logrus.Fields{"dir": i.dir, "command": strings.Join(i.command, " ")}
	logrus.WithFields(fields).Info("Installing dependencies")

	cmd := exec.CommandContext(ctx, i.command[0], i.command[1:]...) //nolint:gosec // operator-configured
	cmd.Dir = i.dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		logrus.WithFields(fields).
			WithError(err).
			WithField("output", strings.TrimSpace(output.String())).
			Error("Dependency installation failed")

		return output.String(), fmt.Errorf("%w: %w", types.ErrInstall, err)
	}

	logrus.WithFields(fields).Debug("Dependencies installed")

	return output.String(), nil
}
