package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/henningd/pi-manager/internal/util"
)

// unknownVersion is reported when no version source yields a value.
const unknownVersion = "unknown"

// errNoVersionField indicates a manifest without a usable version entry.
var errNoVersionField = errors.New("manifest has no version field")

// CurrentVersion returns the running version of the tree at dir.
//
// Sources in priority order: the version field of the manifest (JSON or YAML),
// the version file, a tag pointing exactly at the checked out revision, the
// short revision hash. When all of them fail, "unknown" is returned.
func CurrentVersion(dir, manifest, versionFile string, source TagSource) string {
	if version, err := manifestVersion(filepath.Join(dir, manifest)); err == nil {
		return version
	} else if !errors.Is(err, os.ErrNotExist) {
		logrus.WithField("manifest", manifest).WithError(err).Debug("No version in manifest")
	}

	if data, err := os.ReadFile(filepath.Join(dir, versionFile)); err == nil {
		if version := strings.TrimSpace(string(data)); version != "" {
			return version
		}
	}

	if source == nil {
		return unknownVersion
	}

	if tag, err := source.DescribeCurrentRevision(); err == nil && tag != "" {
		return tag
	}

	revision, err := source.CurrentRevision()
	if err != nil || revision == "" {
		logrus.WithError(err).Debug("Failed to resolve current revision for version")

		return unknownVersion
	}

	return util.ShortRevision(revision)
}

// manifestVersion reads the version field of a JSON or YAML manifest.
// Numeric versions are returned verbatim, so 1.10 does not turn into 1.1.
func manifestVersion(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var version string

	if json.Valid(data) {
		version, err = jsonVersion(data)
	} else {
		version, err = yamlVersion(data)
	}

	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	if version = strings.TrimSpace(version); version == "" {
		return "", errNoVersionField
	}

	return version, nil
}

func jsonVersion(data []byte) (string, error) {
	var record struct {
		Version json.RawMessage `json:"version"`
	}

	if err := json.Unmarshal(data, &record); err != nil {
		return "", err
	}

	raw := strings.TrimSpace(string(record.Version))
	if raw == "" || raw == "null" {
		return "", errNoVersionField
	}

	var version string
	if err := json.Unmarshal(record.Version, &version); err == nil {
		return version, nil
	}

	return raw, nil
}

func yamlVersion(data []byte) (string, error) {
	var record struct {
		Version yaml.Node `yaml:"version"`
	}

	if err := yaml.Unmarshal(data, &record); err != nil {
		return "", err
	}

	if record.Version.Kind != yaml.ScalarNode || record.Version.Tag == "!!null" {
		return "", errNoVersionField
	}

	return record.Version.Value, nil
}
