// Package metrics tracks and exposes the outcome of Pi Manager update cycles.
// It integrates with Prometheus to monitor checks, applied updates, failures and rollbacks.
//
// Key components:
//   - Metrics: Handles metric queuing and updates.
//   - NewMetric: Creates metrics from update results.
//
// Usage example:
//
//	m := metrics.Default()
//	m.RegisterCheck(metrics.NewMetric(result))
//	m.RegisterImageCheck(true)
//
// A nil metric records a check that was skipped because an update was already running.
package metrics
