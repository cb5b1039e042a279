// Package settings provides HTTP API handlers for the runtime configuration,
// the persisted log and test notifications.
package settings

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/api"
	"github.com/henningd/pi-manager/pkg/types"
)

// Log listing limits.
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// DefaultTestMessage is sent when a test notification request carries no message.
const DefaultTestMessage = "Test notification from Pi Manager"

// RemoteTimeout bounds the reachability check of a changed repository.
const RemoteTimeout = 15 * time.Second

// RemoteCheck verifies that branch can be fetched from repoURL.
type RemoteCheck func(ctx context.Context, repoURL, branch string) error

// ConfigStore reads and writes runtime settings.
type ConfigStore interface {
	All() (map[string]string, error)
	SetMany(values map[string]string) error
}

// Update is a partial configuration change. Absent fields are left untouched.
type Update struct {
	Repository      *string `json:"github_repo"         validate:"omitempty,max=512"`
	Branch          *string `json:"github_branch"       validate:"omitempty,max=255,printascii,excludesall=~^:?*[\\"`
	UpdateInterval  *int    `json:"update_interval"     validate:"omitnil,min=1,max=604800"`
	AutoUpdate      *bool   `json:"auto_update_enabled"`
	NotificationURL *string `json:"notification_url"    validate:"omitempty,http_url,max=2048"`
	DeviceName      *string `json:"device_name"         validate:"omitempty,max=64"`
}

// values returns the store entries and the echoed values of the set fields.
func (u Update) values() (map[string]string, map[string]any) {
	stored := make(map[string]string)
	echoed := make(map[string]any)

	setString := func(key string, value *string) {
		if value != nil {
			stored[key] = strings.TrimSpace(*value)
			echoed[key] = stored[key]
		}
	}

	setString(types.KeyRepository, u.Repository)
	setString(types.KeyBranch, u.Branch)
	setString(types.KeyNotificationURL, u.NotificationURL)
	setString(types.KeyDeviceName, u.DeviceName)

	if u.UpdateInterval != nil {
		stored[types.KeyUpdateInterval] = strconv.Itoa(*u.UpdateInterval)
		echoed[types.KeyUpdateInterval] = *u.UpdateInterval
	}

	if u.AutoUpdate != nil {
		stored[types.KeyAutoUpdate] = strconv.FormatBool(*u.AutoUpdate)
		echoed[types.KeyAutoUpdate] = *u.AutoUpdate
	}

	return stored, echoed
}

// Handler serves configuration, log and notification endpoints.
type Handler struct {
	Path     string
	store    ConfigStore
	logs     types.LogStore
	notifier types.Notifier
	validate *validator.Validate
	remote   RemoteCheck
}

// New creates a settings handler.
//
// Parameters:
//   - store: Runtime settings.
//   - logs: Persisted log entries.
//   - notifier: Notifier used for test notifications.
//
// Returns:
//   - *Handler: Initialized handler.
func New(store ConfigStore, logs types.LogStore, notifier types.Notifier) *Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		return name
	})

	return &Handler{
		Path:     "/api",
		store:    store,
		logs:     logs,
		notifier: notifier,
		validate: validate,
	}
}

// WithRemoteCheck makes configuration updates that set a repository verify it first.
func (h *Handler) WithRemoteCheck(check RemoteCheck) *Handler {
	h.remote = check

	return h
}

// Routes returns the settings endpoints.
func (h *Handler) Routes() []api.Route {
	return []api.Route{
		{Pattern: "GET " + h.Path + "/config", Handler: h.handleGetConfig},
		{Pattern: "POST " + h.Path + "/config", Handler: h.handleSetConfig},
		{Pattern: "GET " + h.Path + "/logs", Handler: h.handleLogs},
		{Pattern: "POST " + h.Path + "/test-notification", Handler: h.handleTestNotification},
	}
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	config, err := h.store.All()
	if err != nil {
		logrus.WithError(err).Error("Failed to get configuration")
		api.WriteError(w, http.StatusInternalServerError, "Failed to get configuration")

		return
	}

	api.WriteJSON(w, http.StatusOK, config)
}

func (h *Handler) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := api.DecodeJSON(r, &update); err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())

		return
	}

	if err := h.validate.Struct(update); err != nil {
		var invalid validator.ValidationErrors
		if !errors.As(err, &invalid) {
			api.WriteError(w, http.StatusBadRequest, err.Error())

			return
		}

		fields := make(map[string]string, len(invalid))
		for _, fieldErr := range invalid {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}

		api.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "Invalid configuration",
			"fields": fields,
		})

		return
	}

	stored, echoed := update.values()

	if reason, ok := h.checkRemote(r.Context(), stored); !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "Repository is not reachable",
			"reason": reason,
		})

		return
	}

	if err := h.store.SetMany(stored); err != nil {
		logrus.WithError(err).Error("Config update error")
		api.WriteError(w, http.StatusInternalServerError, "Failed to update configuration")

		return
	}

	keys := make([]string, 0, len(stored))
	for key := range stored {
		keys = append(keys, key)
	}

	logrus.WithField("keys", keys).Info("Configuration updated")

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": echoed,
	})
}

// checkRemote runs the remote check when stored changes the repository to a non-empty URL.
func (h *Handler) checkRemote(ctx context.Context, stored map[string]string) (string, bool) {
	repoURL, changed := stored[types.KeyRepository]
	if h.remote == nil || !changed || repoURL == "" {
		return "", true
	}

	branch := stored[types.KeyBranch]
	if branch == "" {
		current, err := h.store.All()
		if err == nil {
			branch = strings.TrimSpace(current[types.KeyBranch])
		}
	}

	if branch == "" {
		branch = types.DefaultBranch
	}

	ctx, cancel := context.WithTimeout(ctx, RemoteTimeout)
	defer cancel()

	if err := h.remote(ctx, repoURL, branch); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"repository": repoURL,
			"branch":     branch,
		}).Warn("Rejected unreachable repository")

		return err.Error(), false
	}

	return "", true
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = DefaultLogLimit
	}

	limit = min(limit, MaxLogLimit)

	entries, err := h.logs.Recent(limit)
	if err != nil {
		logrus.WithError(err).Error("Failed to get logs")
		api.WriteError(w, http.StatusInternalServerError, "Failed to get logs")

		return
	}

	if entries == nil {
		entries = []types.LogEntry{}
	}

	api.WriteJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}

	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())

		return
	}

	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = DefaultTestMessage
	}

	if !h.notifier.Send(message, types.NotifyInfo) {
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "Test notification was not delivered",
		})

		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Test notification sent",
	})
}
