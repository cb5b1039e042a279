package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/types"
)

// Prefix is the directory name prefix of every snapshot.
const Prefix = "backup-"

// metadataFile is written into each snapshot and skipped on restore.
const metadataFile = ".pi-manager-backup.json"

// snapshotPermissions is the mode of the backup root and snapshot directories.
const snapshotPermissions = 0o755

// DefaultExcludes are top-level entries of the tree that are never copied.
var DefaultExcludes = []string{"node_modules", "backups", ".git", "data"}

// Predefined error variables for consistent error handling.
var (
	ErrSnapshotExists = errors.New("snapshot directory already exists")
	ErrNotSnapshot    = errors.New("path is not a snapshot of this manager")
)

// Manager creates, lists, restores and prunes snapshots of one tree.
type Manager struct {
	source   string
	root     string
	excludes map[string]struct{}
	now      func() time.Time
}

// NewManager creates a Manager copying source into snapshots below root.
//
// Parameters:
//   - source: Deployment tree to snapshot.
//   - root: Directory receiving the snapshots.
//   - excludes: Extra top-level entries to skip, on top of DefaultExcludes.
//
// Returns:
//   - *Manager: Initialized manager.
func NewManager(source, root string, excludes ...string) *Manager {
	set := make(map[string]struct{}, len(DefaultExcludes)+len(excludes))
	for _, name := range append(append([]string{}, DefaultExcludes...), excludes...) {
		if name = strings.Trim(filepath.Clean(name), string(filepath.Separator)); name != "" &&
			name != "." {
			set[name] = struct{}{}
		}
	}

	return &Manager{
		source:   filepath.Clean(source),
		root:     filepath.Clean(root),
		excludes: set,
		now:      time.Now,
	}
}

// SnapshotName returns the directory name of a snapshot taken at t.
// Colons and dots of the millisecond UTC timestamp are replaced by dashes.
func SnapshotName(t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")

	return Prefix + strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
}

// CreateBackup copies the tree into a fresh snapshot directory.
//
// A partially written snapshot is removed before the error is returned.
//
// Parameters:
//   - sourceRevision: Revision the tree is checked out at.
//
// Returns:
//   - types.BackupRecord: The new snapshot.
//   - error: Wraps types.ErrBackup on failure.
func (m *Manager) CreateBackup(sourceRevision string) (types.BackupRecord, error) {
	createdAt := m.now().UTC()
	record := types.BackupRecord{
		Path:           filepath.Join(m.root, SnapshotName(createdAt)),
		CreatedAt:      createdAt,
		SourceRevision: sourceRevision,
	}

	fields := logrus.Fields{"path": record.Path, "revision": sourceRevision}
	logrus.WithFields(fields).Debug("Creating backup")

	if err := os.MkdirAll(m.root, snapshotPermissions); err != nil {
		return types.BackupRecord{}, fmt.Errorf("%w: failed to create backup root: %w", types.ErrBackup, err)
	}

	if err := os.Mkdir(record.Path, snapshotPermissions); err != nil {
		if errors.Is(err, os.ErrExist) {
			err = ErrSnapshotExists
		}

		return types.BackupRecord{}, fmt.Errorf("%w: %w", types.ErrBackup, err)
	}

	err := copyTree(m.source, record.Path, m.skip)
	if err == nil {
		err = writeMetadata(record)
	}

	if err != nil {
		if rmErr := os.RemoveAll(record.Path); rmErr != nil {
			logrus.WithFields(fields).WithError(rmErr).Warn("Failed to remove incomplete backup")
		}

		return types.BackupRecord{}, fmt.Errorf("%w: %w", types.ErrBackup, err)
	}

	logrus.WithFields(fields).Info("Backup created")

	return record, nil
}

// Restore copies a snapshot back over the tree.
//
// Files present in the tree but absent from the snapshot are left in place.
// Failures are logged and reported as false; there is no retry.
func (m *Manager) Restore(record types.BackupRecord) bool {
	fields := logrus.Fields{"path": record.Path, "revision": record.SourceRevision}

	if !m.owns(record.Path) {
		logrus.WithFields(fields).WithError(ErrNotSnapshot).Warn("Refusing to restore backup")

		return false
	}

	err := copyTree(record.Path, m.source, func(rel string, _ os.FileInfo) bool {
		return rel == metadataFile || m.skip(rel, nil)
	})
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("Failed to restore backup")

		return false
	}

	logrus.WithFields(fields).Info("Backup restored")

	return true
}

// List returns every snapshot below the backup root, newest first.
func (m *Manager) List() ([]types.BackupRecord, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read backup root: %w", err)
	}

	records := make([]types.BackupRecord, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), Prefix) {
			continue
		}

		path := filepath.Join(m.root, entry.Name())

		record, err := readMetadata(path)
		if err != nil {
			logrus.WithField("path", path).WithError(err).Debug("Backup without readable metadata")

			info, infoErr := entry.Info()
			if infoErr != nil {
				continue
			}

			record = types.BackupRecord{Path: path, CreatedAt: info.ModTime().UTC()}
		}

		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

// Prune removes the oldest snapshots so that at most keep remain.
// A keep of zero or less retains every snapshot.
//
// Returns:
//   - int: Number of snapshots removed.
//   - error: Non-nil if listing or removal failed.
func (m *Manager) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	records, err := m.List()
	if err != nil || len(records) <= keep {
		return 0, err
	}

	removed := 0

	for _, record := range records[keep:] {
		if err := os.RemoveAll(record.Path); err != nil {
			return removed, fmt.Errorf("failed to remove backup %s: %w", record.Path, err)
		}

		logrus.WithField("path", record.Path).Debug("Pruned backup")

		removed++
	}

	return removed, nil
}

// skip reports whether a tree-relative path is excluded from snapshots.
func (m *Manager) skip(rel string, _ os.FileInfo) bool {
	top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if _, ok := m.excludes[top]; ok {
		return true
	}

	return filepath.Join(m.source, rel) == m.root
}

// owns reports whether path is a snapshot directory directly below the backup root.
func (m *Manager) owns(path string) bool {
	path = filepath.Clean(path)

	return filepath.Dir(path) == m.root && strings.HasPrefix(filepath.Base(path), Prefix)
}

func writeMetadata(record types.BackupRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode backup metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(record.Path, metadataFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}

	return nil
}

func readMetadata(path string) (types.BackupRecord, error) {
	data, err := os.ReadFile(filepath.Join(path, metadataFile))
	if err != nil {
		return types.BackupRecord{}, err
	}

	var record types.BackupRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return types.BackupRecord{}, fmt.Errorf("failed to decode backup metadata: %w", err)
	}

	record.Path = path

	return record, nil
}
