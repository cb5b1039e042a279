// Package api provides the HTTP API server for Pi Manager.
package api

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server timeouts.
const (
	serverReadTimeout     = 30 * time.Second
	serverWriteTimeout    = 2 * time.Minute
	serverIdleTimeout     = 60 * time.Second
	serverMaxHeaderShift  = 20
	shutdownTimeout       = 5 * time.Second
	bearerPrefix          = "Bearer "
	rateLimitedPathPrefix = "/api/"
)

// ErrEmptyToken is returned when the server is started without an API token.
var ErrEmptyToken = errors.New("API token is empty or unset")

// Route binds a ServeMux pattern to a handler.
type Route struct {
	Pattern string // ServeMux pattern, for example "GET /api/status".
	Handler http.HandlerFunc
}

// API represents the HTTP API server for Pi Manager.
type API struct {
	Token      string
	Addr       string
	registered bool
	mux        *http.ServeMux
	limiter    *RateLimiter
	server     HTTPServer // Optional injected server for testing
}

// New is a factory function creating a new API instance.
// The server parameter is optional and allows dependency injection for testing.
func New(token, addr string, server ...HTTPServer) *API {
	var injectedServer HTTPServer
	if len(server) > 0 {
		injectedServer = server[0]
	}

	api := &API{
		Token:  token,
		Addr:   addr,
		mux:    http.NewServeMux(),
		server: injectedServer,
	}

	api.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "Not found")
	})

	logrus.WithField("addr", api.Addr).Debug("Initialized new API instance")

	return api
}

// SetRateLimit limits every client IP to requests per window on /api/ paths.
// A non-positive requests value disables the limit.
func (a *API) SetRateLimit(requests int, window time.Duration) {
	if requests <= 0 || window <= 0 {
		a.limiter = nil

		return
	}

	a.limiter = NewRateLimiter(requests, window)
}

// RegisterFunc registers an HTTP handler function for the given pattern.
func (a *API) RegisterFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	a.mux.HandleFunc(pattern, handler)
	a.registered = true
}

// RegisterHandler registers an HTTP handler for the given pattern.
func (a *API) RegisterHandler(pattern string, handler http.Handler) {
	a.mux.Handle(pattern, handler)
	a.registered = true
}

// RegisterRoutes registers every route.
func (a *API) RegisterRoutes(routes ...Route) {
	for _, route := range routes {
		a.RegisterFunc(route.Pattern, route.Handler)
	}
}

// Handler returns the registered routes behind the rate limit and token check.
func (a *API) Handler() http.Handler {
	var handler http.Handler = a.authMiddleware(a.mux)

	if a.limiter != nil {
		handler = a.limiter.Middleware(rateLimitedPathPrefix, handler)
	}

	return handler
}

// Start starts the HTTP API server.
// If blocking is true, it runs in the foreground and blocks until shutdown.
// If blocking is false, it runs in the background.
func (a *API) Start(ctx context.Context, blocking bool) error {
	if !a.registered {
		logrus.Info("No handlers registered, skipping API start")

		return nil
	}

	if a.Token == "" {
		return ErrEmptyToken
	}

	server := a.server
	if server == nil {
		server = &http.Server{
			Addr:              a.Addr,
			Handler:           a.Handler(),
			ReadTimeout:       serverReadTimeout,
			WriteTimeout:      serverWriteTimeout,
			IdleTimeout:       serverIdleTimeout,
			ReadHeaderTimeout: serverReadTimeout,
			MaxHeaderBytes:    1 << serverMaxHeaderShift,
			TLSNextProto:      make(map[string]func(*http.Server, *tls.Conn, http.Handler)),
			BaseContext:       func(_ net.Listener) context.Context { return ctx },
		}
	}

	logrus.WithField("addr", a.Addr).Info("Starting HTTP API server")

	if blocking {
		return RunHTTPServer(ctx, server)
	}

	go func() {
		if err := RunHTTPServer(ctx, server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("HTTP server failed")
		}
	}()

	return nil
}

// RequireToken wraps a handler function with authentication.
func (a *API) RequireToken(handler func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.authorize(w, r) {
			handler(w, r)
		}
	}
}

// authMiddleware wraps the handler with authentication for all paths.
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authorize(w, r) {
			next.ServeHTTP(w, r)
		}
	})
}

// authorize checks the bearer token, answering 401 when it is missing and 403 when it is wrong.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) bool {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)

	if !found {
		token = ""

		// Browsers cannot set headers on WebSocket handshakes.
		if websocket.IsWebSocketUpgrade(r) {
			token = r.URL.Query().Get("token")
		}
	}

	if token == "" {
		WriteError(w, http.StatusUnauthorized, "Access token required")

		return false
	}

	if a.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.Token)) != 1 {
		logrus.WithFields(logrus.Fields{
			"path":   r.URL.Path,
			"remote": clientIP(r),
		}).Warn("Rejected API request with invalid token")
		WriteError(w, http.StatusForbidden, "Invalid or expired token")

		return false
	}

	return true
}

// HTTPServer interface for RunHTTPServer.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// RunHTTPServer starts the HTTP server and handles graceful shutdown.
func RunHTTPServer(ctx context.Context, server HTTPServer) error {
	errChan := make(chan error, 1)

	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		return nil
	}
}
