package update

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/api"
	"github.com/henningd/pi-manager/pkg/types"
)

// retryAfterSeconds is suggested to clients turned away while an update runs.
const retryAfterSeconds = "30"

// Updater checks for and applies updates.
type Updater interface {
	CheckForUpdates(ctx context.Context) types.UpdateResult
	InProgress() bool
}

// ImageTracker compares published versions with the running one.
type ImageTracker interface {
	CheckForImageUpdates(ctx context.Context) types.ImageResult
	AvailableImageUpdate() *types.ImageUpdateInfo
}

// Backups lists the update snapshots.
type Backups interface {
	List() ([]types.BackupRecord, error)
}

// Handler triggers update and image-version checks via HTTP.
type Handler struct {
	Path    string // Base path for update endpoints.
	updater Updater
	images  ImageTracker
	backups Backups
}

// New creates a new Handler instance.
//
// Parameters:
//   - updater: Update orchestrator.
//   - images: Image-version tracker.
//   - backups: Backup manager listing snapshots.
//
// Returns:
//   - *Handler: Initialized handler.
func New(updater Updater, images ImageTracker, backups Backups) *Handler {
	return &Handler{
		Path:    "/api",
		updater: updater,
		images:  images,
		backups: backups,
	}
}

// Routes returns the update endpoints.
func (h *Handler) Routes() []api.Route {
	return []api.Route{
		{Pattern: "POST " + h.Path + "/update-check", Handler: h.HandleUpdateCheck},
		{Pattern: "POST " + h.Path + "/image-update-check", Handler: h.handleImageCheck},
		{Pattern: "GET " + h.Path + "/image-update-status", Handler: h.handleImageStatus},
		{Pattern: "GET " + h.Path + "/backups", Handler: h.handleBackups},
	}
}

// HandleUpdateCheck runs an update check and returns its result.
//
// A request arriving while a check or an apply holds the working copy is
// answered with HTTP 429 and a Retry-After header instead of a result, since
// the check could only report update_in_progress.
func (h *Handler) HandleUpdateCheck(w http.ResponseWriter, r *http.Request) {
	logrus.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Info("Received HTTP API update request")

	if h.updater.InProgress() {
		writeBusy(w)

		return
	}

	startTime := time.Now()
	result := h.updater.CheckForUpdates(r.Context())

	logrus.WithFields(logrus.Fields{
		"status":   result.Status,
		"duration": time.Since(startTime).String(),
	}).Debug("Handler: update check completed")

	// The guard may have been taken after InProgress was read.
	if result.Status == types.StatusUpdateInProgress {
		writeBusy(w)

		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

func writeBusy(w http.ResponseWriter) {
	logrus.Debug("Skipped update check, another update already in progress")

	w.Header().Set("Retry-After", retryAfterSeconds)
	api.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":     "another update is already running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleImageCheck runs an image-version check and returns its result.
func (h *Handler) handleImageCheck(w http.ResponseWriter, r *http.Request) {
	result := h.images.CheckForImageUpdates(r.Context())

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

// handleImageStatus returns the newer published version found by the last check, if any.
func (h *Handler) handleImageStatus(w http.ResponseWriter, _ *http.Request) {
	info := h.images.AvailableImageUpdate()

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"has_update":  info != nil,
		"update_info": info,
	})
}

// handleBackups lists the update snapshots, newest first.
func (h *Handler) handleBackups(w http.ResponseWriter, _ *http.Request) {
	records, err := h.backups.List()
	if err != nil {
		logrus.WithError(err).Error("Failed to list backups")
		api.WriteError(w, http.StatusInternalServerError, "Failed to list backups")

		return
	}

	if records == nil {
		records = []types.BackupRecord{}
	}

	api.WriteJSON(w, http.StatusOK, records)
}
