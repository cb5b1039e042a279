// Package host provides HTTP API handlers for device telemetry and power commands.
package host

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/api"
	"github.com/henningd/pi-manager/pkg/system"
	"github.com/henningd/pi-manager/pkg/types"
)

// Collector provides device telemetry.
type Collector interface {
	Status() (system.Status, error)
	Health(limits system.Thresholds) (system.Health, error)
	Disk(path string) (system.DiskUsage, error)
	Temperature() (system.Temperature, error)
	Network() (map[string][]system.Address, error)
}

// Power schedules power commands.
type Power interface {
	Schedule(action system.Action) error
}

// Handler provides HTTP endpoints for host telemetry and power commands.
type Handler struct {
	Path       string // Base path for host endpoints
	collector  Collector
	power      Power
	notifier   types.Notifier
	thresholds system.Thresholds
}

// New creates a new host handler.
//
// Parameters:
//   - collector: Source of telemetry.
//   - power: Power controller for reboot and shutdown.
//   - notifier: Notifier announcing the device offline before a power command.
//
// Returns:
//   - *Handler: Initialized handler for host endpoints
func New(collector Collector, power Power, notifier types.Notifier) *Handler {
	return &Handler{
		Path:       "/api",
		collector:  collector,
		power:      power,
		notifier:   notifier,
		thresholds: system.DefaultThresholds,
	}
}

// Routes returns the host endpoints.
func (h *Handler) Routes() []api.Route {
	return []api.Route{
		{Pattern: "GET " + h.Path + "/status", Handler: h.handleStatus},
		{Pattern: "GET " + h.Path + "/health", Handler: h.handleHealth},
		{Pattern: "GET " + h.Path + "/disk-usage", Handler: h.handleDiskUsage},
		{Pattern: "GET " + h.Path + "/temperature", Handler: h.handleTemperature},
		{Pattern: "GET " + h.Path + "/network", Handler: h.handleNetwork},
		{Pattern: "POST " + h.Path + "/reboot", Handler: h.powerHandler(system.ActionReboot)},
		{Pattern: "POST " + h.Path + "/shutdown", Handler: h.powerHandler(system.ActionShutdown)},
	}
}

// handleStatus returns a telemetry snapshot.
func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := h.collector.Status()
	if err != nil {
		logrus.WithError(err).Error("Failed to get system status")
		api.WriteError(w, http.StatusInternalServerError, "Failed to get system status")

		return
	}

	api.WriteJSON(w, http.StatusOK, status)
}

// handleHealth returns the health evaluation.
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health, err := h.collector.Health(h.thresholds)
	if err != nil {
		logrus.WithError(err).Error("Failed to get system health")
		api.WriteError(w, http.StatusInternalServerError, "Failed to get system health")

		return
	}

	api.WriteJSON(w, http.StatusOK, health)
}

// handleDiskUsage returns usage figures of the root filesystem.
func (h *Handler) handleDiskUsage(w http.ResponseWriter, _ *http.Request) {
	usage, err := h.collector.Disk(system.DefaultDiskPath)
	if err != nil {
		logrus.WithError(err).Error("Failed to get disk usage")
		api.WriteError(w, http.StatusInternalServerError, "Failed to get disk usage")

		return
	}

	api.WriteJSON(w, http.StatusOK, usage)
}

// handleTemperature returns the SoC temperature.
func (h *Handler) handleTemperature(w http.ResponseWriter, _ *http.Request) {
	temp, err := h.collector.Temperature()
	if err != nil {
		logrus.WithError(err).Debug("Failed to read temperature")
		api.WriteError(w, http.StatusInternalServerError, "Failed to read temperature")

		return
	}

	api.WriteJSON(w, http.StatusOK, temp)
}

// handleNetwork returns the non-loopback interface addresses.
func (h *Handler) handleNetwork(w http.ResponseWriter, _ *http.Request) {
	network, err := h.collector.Network()
	if err != nil {
		logrus.WithError(err).Error("Failed to get network interfaces")
		api.WriteError(w, http.StatusInternalServerError, "Failed to get network interfaces")

		return
	}

	api.WriteJSON(w, http.StatusOK, network)
}

// powerHandler announces the device offline, responds and schedules the power action.
func (h *Handler) powerHandler(action system.Action) http.HandlerFunc {
	verb := string(action)

	return func(w http.ResponseWriter, r *http.Request) {
		logrus.WithField("remote", r.RemoteAddr).Info("System " + verb + " requested")

		h.notifier.SendOffline("System " + verb + " initiated")

		if err := h.power.Schedule(action); err != nil {
			logrus.WithError(err).Error("Failed to schedule system " + verb)
			api.WriteError(w, http.StatusInternalServerError, "Failed to "+verb+" system")

			return
		}

		api.WriteJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "System " + verb + " initiated",
		})
	}
}
