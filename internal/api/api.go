// Package api wires Pi Manager's services into the HTTP API and runs it.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/api"
	"github.com/henningd/pi-manager/pkg/api/host"
	metricsAPI "github.com/henningd/pi-manager/pkg/api/metrics"
	"github.com/henningd/pi-manager/pkg/api/settings"
	"github.com/henningd/pi-manager/pkg/api/update"
	"github.com/henningd/pi-manager/pkg/api/ws"
	"github.com/henningd/pi-manager/pkg/types"
)

// Options configure the HTTP listener.
type Options struct {
	Host       string
	Port       string
	Token      string
	RateLimit  int           // Requests per window and client IP, 0 disables the limit.
	RateWindow time.Duration // api.DefaultRateWindow when zero.
}

// Services are the collaborators behind the endpoints.
type Services struct {
	Updater   update.Updater
	Images    update.ImageTracker
	Backups   update.Backups
	Collector host.Collector
	Power     host.Power
	Notifier  types.Notifier
	Store     settings.ConfigStore
	Logs      types.LogStore
	Started   time.Time            // Process start, reported as uptime over the WebSocket.
	Remote    settings.RemoteCheck // Optional check of repositories set through the config endpoint.
}

// GetAPIAddr formats the API address string based on host and port.
func GetAPIAddr(host, port string) string {
	address := host + ":" + port
	if host != "" && strings.Contains(host, ":") && net.ParseIP(host) != nil {
		address = "[" + host + "]:" + port
	}

	return address
}

// NewServer creates the HTTP API with every endpoint registered.
//
// Parameters:
//   - options: Listener settings.
//   - services: Collaborators behind the endpoints.
//   - server: Optional injected server for testing.
//
// Returns:
//   - *api.API: Server ready to start.
func NewServer(options Options, services Services, server ...api.HTTPServer) *api.API {
	httpAPI := api.New(options.Token, GetAPIAddr(options.Host, options.Port), server...)

	window := options.RateWindow
	if window <= 0 {
		window = api.DefaultRateWindow
	}

	httpAPI.SetRateLimit(options.RateLimit, window)

	httpAPI.RegisterRoutes(host.New(services.Collector, services.Power, services.Notifier).Routes()...)
	httpAPI.RegisterRoutes(update.New(services.Updater, services.Images, services.Backups).Routes()...)
	httpAPI.RegisterRoutes(settings.New(services.Store, services.Logs, services.Notifier).
		WithRemoteCheck(services.Remote).Routes()...)
	httpAPI.RegisterRoutes(ws.New(services.Started).Routes()...)

	metricsHandler := metricsAPI.New()
	httpAPI.RegisterHandler(metricsHandler.Path, metricsHandler.Handle)

	return httpAPI
}

// SetupAndStartAPI builds the HTTP API and serves it until ctx is cancelled.
//
// Without a token the API stays disabled, since every endpoint requires one.
//
// Returns:
//   - error: An error if the API fails to start (excluding clean shutdown), nil otherwise.
func SetupAndStartAPI(ctx context.Context, options Options, services Services, server ...api.HTTPServer) error {
	if options.Token == "" {
		logrus.Warn("No HTTP API token configured, the HTTP API is disabled")

		return nil
	}

	httpAPI := NewServer(options, services, server...)

	if err := httpAPI.Start(ctx, true); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Error("Failed to start API")

		return fmt.Errorf("failed to start HTTP API: %w", err)
	}

	return nil
}
