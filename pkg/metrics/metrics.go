package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/henningd/pi-manager/pkg/types"
)

var metrics *Metrics

// Metric holds the data points of one update cycle.
type Metric struct {
	Available  bool      // Remote revision differs from the working copy.
	Applied    bool      // An update was pulled and installed.
	Failed     bool      // The cycle ended in a failure.
	RolledBack bool      // The working copy was reset after a failure.
	Reinstall  bool      // Dependencies were re-installed.
	CheckedAt  time.Time // When the cycle finished.
}

// Metrics handles processing and exposing update metrics.
type Metrics struct {
	channel        chan *Metric       // Channel for queuing metrics.
	available      prometheus.Gauge   // Gauge set while an update is pending.
	imageAvailable prometheus.Gauge   // Gauge set while a newer tag is published.
	lastCheck      prometheus.Gauge   // Unix time of the last completed check.
	total          prometheus.Counter // Counter for total checks.
	skipped        prometheus.Counter // Counter for checks skipped due to a running update.
	applied        prometheus.Counter // Counter for applied updates.
	failed         prometheus.Counter // Counter for failed cycles.
	rolledBack     prometheus.Counter // Counter for rollbacks.
	reinstalls     prometheus.Counter // Counter for dependency re-installs.
	imageChecks    prometheus.Counter // Counter for image-version checks.
	dropped        prometheus.Counter // Counter for dropped metrics.
	stopCh         chan struct{}      // Channel for shutdown signaling.
	shutdownOnce   sync.Once          // Ensures shutdown is called only once.
	//nolint:containedctx
	ctx    context.Context    // Context for cancellation.
	cancel context.CancelFunc // Cancel function for the context.
}

// NewWithRegistry creates a new Metrics handler with a custom Prometheus registry.
//
// Parameters:
//   - registry: Prometheus registerer to use for metric registration.
//
// Returns:
//   - (*Metrics, error): Metrics handler with Prometheus metrics and goroutine, or an error if registration fails.
func NewWithRegistry(registry prometheus.Registerer) (*Metrics, error) {
	// channelBufferSize sets the metrics channel capacity.
	const channelBufferSize = 10

	ctx, cancel := context.WithCancel(context.Background())

	metrics := &Metrics{
		available: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pimanager_update_available",
			Help: "Whether the last check found a remote revision that was not applied",
		}),
		imageAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pimanager_image_update_available",
			Help: "Whether a newer published version than the running one is available",
		}),
		lastCheck: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pimanager_update_last_check_timestamp_seconds",
			Help: "Unix time of the last completed update check",
		}),
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_update_checks_total",
			Help: "Number of update checks since pi-manager started",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_update_checks_skipped_total",
			Help: "Number of checks turned away because an update was in progress",
		}),
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_updates_applied_total",
			Help: "Number of updates applied successfully",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_updates_failed_total",
			Help: "Number of update cycles that failed",
		}),
		rolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_rollbacks_total",
			Help: "Number of failed updates rolled back to the previous revision",
		}),
		reinstalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_dependency_installs_total",
			Help: "Number of dependency re-installs after a manifest change",
		}),
		imageChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_image_checks_total",
			Help: "Number of image-version checks since pi-manager started",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pimanager_metrics_dropped_total",
			Help: "Number of metrics dropped due to full channel",
		}),
		channel: make(chan *Metric, channelBufferSize),
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	metricsList := []prometheus.Collector{
		metrics.available,
		metrics.imageAvailable,
		metrics.lastCheck,
		metrics.total,
		metrics.skipped,
		metrics.applied,
		metrics.failed,
		metrics.rolledBack,
		metrics.reinstalls,
		metrics.imageChecks,
		metrics.dropped,
	}
	for _, m := range metricsList {
		err := registry.Register(m)
		if err != nil {
			alreadyRegisteredError := &prometheus.AlreadyRegisteredError{}
			if errors.As(err, &alreadyRegisteredError) {
				cancel()

				return nil, fmt.Errorf("failed to register metric: %w", err)
			}
		}
	}

	go metrics.HandleUpdate()

	return metrics, nil
}

// NewMetric creates a Metric from an update result.
//
// A result for a check that chained into an apply reports the apply's outcome.
// An in-progress result yields nil, which is counted as a skipped check.
//
// Parameters:
//   - result: Outcome of CheckForUpdates or ApplyUpdates.
//
// Returns:
//   - *Metric: New metric instance, nil for update_in_progress.
func NewMetric(result types.UpdateResult) *Metric {
	if result.Status == types.StatusUpdateInProgress {
		return nil
	}

	metric := &Metric{CheckedAt: time.Now()}

	final := result
	if result.Update != nil {
		final = *result.Update
	}

	switch final.Status {
	case types.StatusUpdatesAvailable:
		metric.Available = true
	case types.StatusUpdateSucceeded:
		metric.Applied = true
		metric.Reinstall = final.DependenciesReinstalled
	case types.StatusUpdateFailed:
		metric.Failed = true
		metric.RolledBack = final.RolledBack
		metric.Available = result.Status == types.StatusUpdatesAvailable
	case types.StatusUpdateInProgress:
		metric.Available = true
	}

	return metric
}

// QueueIsEmpty checks whether any metrics are waiting to be processed.
func (m *Metrics) QueueIsEmpty() bool {
	return len(m.channel) == 0
}

// Register attempts to enqueue a metric for processing.
// If the channel is full, the metric is dropped and the dropped counter is incremented.
//
// Parameters:
//   - metric: Metric to register.
func (m *Metrics) Register(metric *Metric) {
	select {
	case m.channel <- metric:
	default:
		m.dropped.Inc()
	}
}

// Default initializes or returns the singleton Metrics handler. It panics on registration failure, such as duplicate registration against the default registry.
//
// Returns:
//   - *Metrics: Metrics handler with Prometheus metrics and goroutine.
func Default() *Metrics {
	if metrics != nil {
		return metrics
	}

	var err error

	metrics, err = NewWithRegistry(prometheus.DefaultRegisterer)
	if err != nil {
		panic(err)
	}

	return metrics
}

// RegisterCheck enqueues the metric of an update check.
//
// Parameters:
//   - metric: Metric to register.
func (m *Metrics) RegisterCheck(metric *Metric) {
	m.Register(metric)
}

// RegisterImageCheck records the outcome of an image-version check.
func (m *Metrics) RegisterImageCheck(available bool) {
	m.imageChecks.Inc()

	if available {
		m.imageAvailable.Set(1)
	} else {
		m.imageAvailable.Set(0)
	}
}

// Shutdown gracefully stops the metrics processing goroutine.
// It closes the stopCh channel and cancels the context to signal the goroutine to exit.
// This method is idempotent and can be called multiple times safely.
func (m *Metrics) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.stopCh)
		m.cancel()
	})
}

// HandleUpdate processes metrics from the channel.
func (m *Metrics) HandleUpdate() {
	for {
		select {
		case change, ok := <-m.channel:
			if !ok {
				return
			}

			if change == nil {
				m.skipped.Inc()
			} else {
				m.apply(change)
			}

			m.total.Inc()
		case <-m.stopCh:
			return
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Metrics) apply(change *Metric) {
	m.lastCheck.Set(float64(change.CheckedAt.Unix()))

	if change.Available && !change.Applied {
		m.available.Set(1)
	} else {
		m.available.Set(0)
	}

	if change.Applied {
		m.applied.Inc()
	}

	if change.Failed {
		m.failed.Inc()
	}

	if change.RolledBack {
		m.rolledBack.Inc()
	}

	if change.Reinstall {
		m.reinstalls.Inc()
	}
}
