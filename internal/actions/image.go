package actions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/henningd/pi-manager/internal/util"
	"github.com/henningd/pi-manager/pkg/types"
)

// Defaults for locating the running version inside the tree.
const (
	DefaultManifest    = "package.json"
	DefaultVersionFile = "VERSION"
)

// imageAvailableStatus is the status string of a pending ImageUpdateInfo.
const imageAvailableStatus = "available"

// ImageTrackerConfig holds the collaborators of an ImageTracker.
type ImageTrackerConfig struct {
	Store       types.ConfigReader // Source of the repository setting.
	Source      TagSource          // Working copy of the deployment tree.
	Dir         string             // Root of the deployment tree.
	Manifest    string             // Tree-relative manifest path, DefaultManifest when empty.
	VersionFile string             // Tree-relative version file, DefaultVersionFile when empty.
	Metrics     ImageRecorder      // Optional metrics recorder.
	Guard       WorkingCopyGuard   // Guard shared with the Updater, checks are skipped while it is held.
}

// ImageTracker compares published tags with the running version.
//
// It never changes the checked out files; it only keeps the advisory ImageUpdateInfo.
// Its tag fetch writes to the repository metadata, so it runs under the Updater's guard.
type ImageTracker struct {
	store       types.ConfigReader
	source      TagSource
	dir         string
	manifest    string
	versionFile string
	metrics     ImageRecorder
	guard       WorkingCopyGuard

	group singleflight.Group
	now   func() time.Time

	mu        sync.RWMutex
	available *types.ImageUpdateInfo
	lastCheck *time.Time
}

// NewImageTracker creates an ImageTracker.
func NewImageTracker(config ImageTrackerConfig) *ImageTracker {
	manifest := config.Manifest
	if manifest == "" {
		manifest = DefaultManifest
	}

	versionFile := config.VersionFile
	if versionFile == "" {
		versionFile = DefaultVersionFile
	}

	return &ImageTracker{
		store:       config.Store,
		source:      config.Source,
		dir:         config.Dir,
		manifest:    manifest,
		versionFile: versionFile,
		metrics:     config.Metrics,
		guard:       config.Guard,
		now:         time.Now,
	}
}

// CheckForImageUpdates compares the newest tag with the running version.
// Concurrent callers share the result of a single check, which is therefore
// not cancelled when the caller that started it goes away.
func (t *ImageTracker) CheckForImageUpdates(ctx context.Context) types.ImageResult {
	shared := context.WithoutCancel(ctx)

	value, _, joined := t.group.Do("image", func() (any, error) {
		return t.check(shared), nil
	})

	if joined {
		logrus.Debug("Joined a running image-version check")
	}

	result, _ := value.(types.ImageResult)

	return result
}

func (t *ImageTracker) check(ctx context.Context) types.ImageResult {
	config, err := types.LoadUpdateConfig(t.store)
	if err != nil {
		return t.fail(err)
	}

	if !config.Configured() {
		return types.ImageResult{Status: types.ImageStatusNoRepoConfigured}
	}

	if t.guard != nil {
		if !t.guard.TryLock() {
			logrus.Debug("Update in progress, skipping image-version check")

			return types.ImageResult{Status: types.ImageStatusInProgress}
		}
		defer t.guard.Unlock()
	}

	if !t.source.IsRepository() {
		return types.ImageResult{Status: types.ImageStatusNoRepoConfigured}
	}

	if err := t.source.Fetch(ctx, true); err != nil {
		return t.fail(err)
	}

	latest, err := t.source.LatestTag()
	if err != nil {
		return t.fail(fmt.Errorf("%w: %w", errTagLookup, err))
	}

	current := CurrentVersion(t.dir, t.manifest, t.versionFile, t.source)
	now := t.now().UTC()

	if latest != "" && util.CompareVersions(latest, current) > 0 {
		info := &types.ImageUpdateInfo{
			CurrentVersion: current,
			LatestVersion:  latest,
			CheckedAt:      now,
			Status:         imageAvailableStatus,
		}

		t.mu.Lock()
		t.available = info
		t.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"current": current,
			"latest":  latest,
		}).Info("New image version available")
		t.recordImage(true)

		copied := *info

		return types.ImageResult{
			Status:         types.ImageStatusAvailable,
			CurrentVersion: current,
			LatestVersion:  latest,
			UpdateInfo:     &copied,
		}
	}

	t.mu.Lock()
	t.available = nil
	t.lastCheck = &now
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"current": current,
		"latest":  latest,
	}).Debug("Image version is up to date")
	t.recordImage(false)

	checked := now

	return types.ImageResult{
		Status:         types.ImageStatusUpToDate,
		CurrentVersion: current,
		LatestVersion:  latest,
		LastCheck:      &checked,
	}
}

// AvailableImageUpdate returns a copy of the pending update info, or nil.
func (t *ImageTracker) AvailableImageUpdate() *types.ImageUpdateInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.available == nil {
		return nil
	}

	info := *t.available

	return &info
}

// LastCheck returns when the tracker last found the running version current.
func (t *ImageTracker) LastCheck() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.lastCheck == nil {
		return nil
	}

	checked := *t.lastCheck

	return &checked
}

func (t *ImageTracker) fail(err error) types.ImageResult {
	logrus.WithError(err).Error("Image update check failed")

	return types.ImageResult{Status: types.ImageStatusError, Error: err.Error()}
}

func (t *ImageTracker) recordImage(available bool) {
	if t.metrics != nil {
		t.metrics.RegisterImageCheck(available)
	}
}
