package system

import (
	"github.com/sirupsen/logrus"
)

// HealthLevel is the overall verdict of a health evaluation.
type HealthLevel string

// Health levels, from best to worst.
const (
	Healthy  HealthLevel = "healthy"
	Warning  HealthLevel = "warning"
	Critical HealthLevel = "critical"
)

// Thresholds are the limits above which a reading raises a warning or makes the device critical.
type Thresholds struct {
	MemoryWarning  float64 // Percent of memory used.
	MemoryCritical float64
	LoadWarning    float64 // One-minute load average.
	LoadCritical   float64
	TempWarning    float64 // Degrees Celsius.
	TempCritical   float64
}

// DefaultThresholds are the limits used by the device monitor.
var DefaultThresholds = Thresholds{
	MemoryWarning:  80,
	MemoryCritical: 90,
	LoadWarning:    2,
	LoadCritical:   4,
	TempWarning:    70,
	TempCritical:   80,
}

// Health is a telemetry snapshot with its verdict.
type Health struct {
	Status

	Level    HealthLevel `json:"status"`
	Warnings []string    `json:"warnings"`
	Disk     *DiskUsage  `json:"disk,omitempty"`
}

// Evaluate applies thresholds to a telemetry snapshot.
//
// Every exceeded limit adds a warning; the level is the worst one reached.
// A missing temperature sensor counts as 0 °C.
func Evaluate(status Status, limits Thresholds) Health {
	health := Health{Status: status, Level: Healthy, Warnings: []string{}}

	raise := func(level HealthLevel, warning string) {
		if level == Critical || health.Level == Healthy {
			health.Level = level
		}

		health.Warnings = append(health.Warnings, warning)
	}

	switch memory := status.Memory.UsagePercent; {
	case memory > limits.MemoryCritical:
		raise(Critical, "High memory usage")
	case memory > limits.MemoryWarning:
		raise(Warning, "Elevated memory usage")
	}

	switch load := status.CPU.Load1Min; {
	case load > limits.LoadCritical:
		raise(Critical, "High CPU load")
	case load > limits.LoadWarning:
		raise(Warning, "Elevated CPU load")
	}

	celsius := 0.0
	if status.Temperature != nil {
		celsius = status.Temperature.Celsius
	}

	switch {
	case celsius > limits.TempCritical:
		raise(Critical, "High temperature")
	case celsius > limits.TempWarning:
		raise(Warning, "Elevated temperature")
	}

	return health
}

// Health collects a snapshot, evaluates it and attaches the root filesystem usage.
func (c *Collector) Health(limits Thresholds) (Health, error) {
	status, err := c.Status()
	if err != nil {
		return Health{}, err
	}

	health := Evaluate(status, limits)

	if disk, err := c.Disk(DefaultDiskPath); err == nil {
		health.Disk = &disk
	} else {
		logrus.WithError(err).Debug("Disk usage not available")
	}

	return health, nil
}
