// Package monitor keeps the notification receiver informed about the device.
// It announces the device online at start and offline at stop, sends periodic
// heartbeats and status reports, and raises critical notifications when the
// health evaluation turns critical.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/system"
	"github.com/henningd/pi-manager/pkg/types"
)

// Default report intervals.
const (
	DefaultHeartbeatInterval = 5 * time.Minute
	DefaultStatusInterval    = 15 * time.Minute
)

// Messages of the lifecycle notifications.
const (
	StartedMessage  = "System started"
	StoppingMessage = "System stopping"
	CrashedMessage  = "System crashed"
)

// Collector provides telemetry snapshots and health verdicts.
type Collector interface {
	Status() (system.Status, error)
	Health(limits system.Thresholds) (system.Health, error)
}

// Config holds the collaborators and timings of a Monitor.
type Config struct {
	Notifier  types.Notifier
	Collector Collector

	HeartbeatInterval time.Duration // DefaultHeartbeatInterval when zero.
	StatusInterval    time.Duration // DefaultStatusInterval when zero.
	Thresholds        *system.Thresholds
}

// Monitor is the long-lived device reporting service.
type Monitor struct {
	notifier   types.Notifier
	collector  Collector
	heartbeat  time.Duration
	status     time.Duration
	thresholds system.Thresholds
	started    time.Time
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// New creates a Monitor.
func New(config Config) *Monitor {
	heartbeat := config.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	status := config.StatusInterval
	if status <= 0 {
		status = DefaultStatusInterval
	}

	thresholds := system.DefaultThresholds
	if config.Thresholds != nil {
		thresholds = *config.Thresholds
	}

	return &Monitor{
		notifier:   config.Notifier,
		collector:  config.Collector,
		heartbeat:  heartbeat,
		status:     status,
		thresholds: thresholds,
		now:        time.Now,
	}
}

// Start announces the device and starts the periodic reports.
// Calling Start on a running monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.started = m.now()

	if m.notifier.SendOnline(StartedMessage) {
		logrus.Info("Monitor service started")
	} else {
		logrus.Warn("Monitor service started but initial notification failed")
	}

	m.cron = cron.New()
	m.cron.Schedule(cron.Every(m.heartbeat), cron.FuncJob(m.SendHeartbeat))
	m.cron.Schedule(cron.Every(m.status), cron.FuncJob(m.report))
	m.cron.Start()

	logrus.WithFields(logrus.Fields{
		"heartbeat": m.heartbeat.String(),
		"status":    m.status.String(),
	}).Debug("Scheduled device reports")
}

// Run starts the monitor and blocks until ctx is cancelled, then stops it.
func (m *Monitor) Run(ctx context.Context) error {
	m.Start()

	<-ctx.Done()

	m.Stop(StoppingMessage)

	return nil
}

// Stop halts the periodic reports and announces the device offline with reason.
// It is safe to call more than once.
func (m *Monitor) Stop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.running = false
	m.cron.Stop()

	m.notifier.SendOffline(reason)
	logrus.Info("Monitor service stopped")
}

// SendHeartbeat reports that the agent is alive and how long it has been running.
func (m *Monitor) SendHeartbeat() {
	uptime := m.now().Sub(m.started).Seconds()

	if !m.notifier.SendPayload(types.NotifyHeartbeat, map[string]any{"uptime": uptime}) {
		logrus.Debug("Heartbeat not delivered")
	}
}

// SendStatus reports a telemetry snapshot.
func (m *Monitor) SendStatus() {
	status, err := m.collector.Status()
	if err != nil {
		logrus.WithError(err).Error("Failed to collect system status")

		return
	}

	var temperature any
	if status.Temperature != nil {
		temperature = status.Temperature.Celsius
	}

	m.notifier.SendPayload(types.NotifyStatus, map[string]any{
		"system": map[string]any{
			"uptime":  status.Uptime,
			"loadavg": status.LoadAverage,
			"memory": map[string]uint64{
				"total": status.Memory.Total,
				"free":  status.Memory.Free,
				"used":  status.Memory.Used,
			},
			"temperature": temperature,
			"hostname":    status.Hostname,
		},
	})
}

// CheckHealth evaluates the device and notifies when it is critical.
//
// Returns:
//   - system.Health: The evaluation.
//   - bool: False if telemetry could not be collected.
func (m *Monitor) CheckHealth() (system.Health, bool) {
	health, err := m.collector.Health(m.thresholds)
	if err != nil {
		logrus.WithError(err).Error("Health check failed")

		return system.Health{}, false
	}

	logrus.WithField("warnings", len(health.Warnings)).
		Info("System health: " + string(health.Level))

	if health.Level == system.Critical && len(health.Warnings) > 0 {
		m.notifier.Send("System health critical: "+strings.Join(health.Warnings, ", "), types.NotifyCritical)
	}

	return health, true
}

// report is the status job: a snapshot followed by a health check.
func (m *Monitor) report() {
	m.SendStatus()
	m.CheckHealth()
}
