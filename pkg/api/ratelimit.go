package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Defaults for the per-client rate limit.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 15 * time.Minute
)

// RateLimiter keeps a token bucket per client IP.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	clients   map[string]*rateClient
	lastSweep time.Time
}

type rateClient struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter allows each client a burst of requests that refills over window.
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		window:  window,
		now:     time.Now,
		clients: make(map[string]*rateClient),
	}
}

// Allow takes a token for key.
//
// Returns:
//   - bool: True if the request may proceed.
//   - time.Duration: How long the client has to wait otherwise.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	client, ok := l.clients[key]
	if !ok {
		client = &rateClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = client
	}

	client.seen = now

	reservation := client.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)

		return false, delay
	}

	return true, 0
}

// sweep forgets clients idle for a whole window, at most once per window.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}

	l.lastSweep = now

	for key, client := range l.clients {
		if now.Sub(client.seen) >= l.window {
			delete(l.clients, key)
		}
	}
}

// Middleware limits requests whose path starts with prefix.
func (l *RateLimiter) Middleware(prefix string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			next.ServeHTTP(w, r)

			return
		}

		ip := clientIP(r)

		if ok, wait := l.Allow(ip); !ok {
			seconds := int(math.Ceil(wait.Seconds()))

			logrus.WithFields(logrus.Fields{
				"remote":      ip,
				"retry_after": seconds,
			}).Debug("Rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			WriteError(w, http.StatusTooManyRequests, "Too many requests, please try again later")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
