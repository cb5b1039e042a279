// Package system reads telemetry from the host and issues power commands.
//
// Telemetry comes from sysinfo(2), statfs(2) and uname(2) through x/sys/unix,
// plus a few files below /proc and /sys (memory availability, CPU model, the
// SoC thermal zone). The roots of those trees are configurable so tests can
// point the Collector at synthetic files.
//
// Evaluate turns a telemetry snapshot into a health verdict using the memory,
// load and temperature thresholds of the device monitor.
//
// Power commands are scheduled after a short delay so an HTTP response can
// reach the client before the device goes down.
package system
