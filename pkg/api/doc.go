// Package api provides an HTTP server for Pi Manager's API endpoints.
// Every request needs the configured bearer token; /api/ paths are
// additionally rate limited per client IP.
//
// Key components:
//   - API: Manages server setup and route registration.
//   - RateLimiter: Token buckets per client IP built on x/time/rate.
//   - WriteJSON, WriteError: JSON response helpers shared by the handler packages.
//
// Usage example:
//
//	server := api.New("secure-token", ":3000")
//	server.SetRateLimit(api.DefaultRateLimit, api.DefaultRateWindow)
//	server.RegisterRoutes(hostHandler.Routes()...)
//	if err := server.Start(ctx, true); err != nil {
//	    logrus.WithError(err).Error("API start failed")
//	}
//
// Missing tokens are answered with 401, wrong tokens with 403, unknown paths
// with a JSON 404.
package api
