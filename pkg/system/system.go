package system

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Default filesystem roots and paths.
const (
	DefaultProcRoot = "/proc"
	DefaultSysRoot  = "/sys"
	DefaultDiskPath = "/"

	thermalZone = "class/thermal/thermal_zone0/temp"
)

// Predefined error variables for consistent error handling.
var (
	ErrUnsupported            = errors.New("telemetry is not supported on this platform")
	ErrTemperatureUnavailable = errors.New("temperature sensor not available")
)

// Memory holds memory figures in bytes.
type Memory struct {
	Total        uint64  `json:"total"`
	Free         uint64  `json:"free"`
	Used         uint64  `json:"used"`
	UsagePercent float64 `json:"usage_percent"`
}

// CPU describes the processors.
type CPU struct {
	Count     int     `json:"count"`
	Model     string  `json:"model"`
	Load1Min  float64 `json:"load_1min"`
	Load5Min  float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
}

// Temperature is a SoC temperature reading.
type Temperature struct {
	Celsius    float64 `json:"celsius"`
	Fahrenheit float64 `json:"fahrenheit"`
}

// Address is one non-loopback interface address.
type Address struct {
	Address string `json:"address"`
	Netmask string `json:"netmask"`
	Family  string `json:"family"`
	MAC     string `json:"mac"`
	CIDR    string `json:"cidr"`
}

// DiskUsage holds filesystem figures in bytes.
type DiskUsage struct {
	MountedOn    string  `json:"mounted_on"`
	Size         uint64  `json:"size"`
	Used         uint64  `json:"used"`
	Available    uint64  `json:"available"`
	UsagePercent float64 `json:"use_percentage"`
}

// Status is a telemetry snapshot.
type Status struct {
	Timestamp   time.Time            `json:"timestamp"`
	Uptime      float64              `json:"uptime"`
	LoadAverage [3]float64           `json:"loadavg"`
	Memory      Memory               `json:"memory"`
	CPU         CPU                  `json:"cpu"`
	Platform    string               `json:"platform"`
	Release     string               `json:"release"`
	Arch        string               `json:"arch"`
	Hostname    string               `json:"hostname"`
	Network     map[string][]Address `json:"network"`
	Temperature *Temperature         `json:"temperature,omitempty"`
	Online      bool                 `json:"online"`
}

// kernelInfo is what the platform-specific probes return.
type kernelInfo struct {
	uptime   float64
	loads    [3]float64
	total    uint64
	free     uint64
	platform string
	release  string
}

// Collector gathers telemetry.
type Collector struct {
	procRoot   string
	sysRoot    string
	now        func() time.Time
	hostname   func() (string, error)
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewCollector creates a Collector reading the host's /proc and /sys.
func NewCollector() *Collector {
	return NewCollectorWithRoots(DefaultProcRoot, DefaultSysRoot)
}

// NewCollectorWithRoots creates a Collector reading below the given roots.
func NewCollectorWithRoots(procRoot, sysRoot string) *Collector {
	return &Collector{
		procRoot:   procRoot,
		sysRoot:    sysRoot,
		now:        time.Now,
		hostname:   os.Hostname,
		interfaces: net.Interfaces,
		addrs:      func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

// Status returns a telemetry snapshot.
//
// Returns:
//   - Status: Snapshot; the temperature is nil when no sensor is present.
//   - error: Non-nil if the kernel figures could not be read.
func (c *Collector) Status() (Status, error) {
	info, err := readKernelInfo()
	if err != nil {
		return Status{}, err
	}

	memory := c.memory(info)

	hostname, err := c.hostname()
	if err != nil {
		hostname = "unknown"
	}

	network, err := c.Network()
	if err != nil {
		network = map[string][]Address{}
	}

	status := Status{
		Timestamp:   c.now().UTC(),
		Uptime:      info.uptime,
		LoadAverage: info.loads,
		Memory:      memory,
		CPU: CPU{
			Count:     runtime.NumCPU(),
			Model:     c.cpuModel(),
			Load1Min:  info.loads[0],
			Load5Min:  info.loads[1],
			Load15Min: info.loads[2],
		},
		Platform: info.platform,
		Release:  info.release,
		Arch:     runtime.GOARCH,
		Hostname: hostname,
		Network:  network,
		Online:   true,
	}

	if temp, err := c.Temperature(); err == nil {
		status.Temperature = &temp
	}

	return status, nil
}

// memory prefers MemAvailable from meminfo over the kernel's free figure.
func (c *Collector) memory(info kernelInfo) Memory {
	total, free := info.total, info.free

	if available, ok := c.memAvailable(); ok && available <= total {
		free = available
	}

	memory := Memory{Total: total, Free: free, Used: total - free}
	if total > 0 {
		memory.UsagePercent = round2(float64(memory.Used) / float64(total) * 100)
	}

	return memory
}

// memAvailable reads MemAvailable in bytes from meminfo.
func (c *Collector) memAvailable() (uint64, bool) {
	file, err := os.Open(filepath.Join(c.procRoot, "meminfo"))
	if err != nil {
		return 0, false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}

		kilobytes, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}

		return kilobytes * 1024, true
	}

	return 0, false
}

// cpuModel returns the processor model from cpuinfo.
// Raspberry Pi kernels report the board as "Model" instead of "model name".
func (c *Collector) cpuModel() string {
	file, err := os.Open(filepath.Join(c.procRoot, "cpuinfo"))
	if err != nil {
		return "Unknown"
	}
	defer file.Close()

	board := ""

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}

		switch strings.TrimSpace(key) {
		case "model name":
			return strings.TrimSpace(value)
		case "Model":
			board = strings.TrimSpace(value)
		}
	}

	if board != "" {
		return board
	}

	return "Unknown"
}

// Temperature reads the first thermal zone.
func (c *Collector) Temperature() (Temperature, error) {
	raw, err := os.ReadFile(filepath.Join(c.sysRoot, thermalZone))
	if err != nil {
		return Temperature{}, fmt.Errorf("%w: %w", ErrTemperatureUnavailable, err)
	}

	millidegrees, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return Temperature{}, fmt.Errorf("%w: %w", ErrTemperatureUnavailable, err)
	}

	celsius := float64(millidegrees) / 1000

	return Temperature{Celsius: celsius, Fahrenheit: celsius*9/5 + 32}, nil
}

// Network returns the addresses of every interface except loopback, keyed by interface name.
func (c *Collector) Network() (map[string][]Address, error) {
	interfaces, err := c.interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	network := make(map[string][]Address)

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := c.addrs(iface)
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}

			family := "IPv6"
			if ipNet.IP.To4() != nil {
				family = "IPv4"
			}

			network[iface.Name] = append(network[iface.Name], Address{
				Address: ipNet.IP.String(),
				Netmask: net.IP(ipNet.Mask).String(),
				Family:  family,
				MAC:     iface.HardwareAddr.String(),
				CIDR:    ipNet.String(),
			})
		}
	}

	return network, nil
}

// Disk returns usage figures of the filesystem holding path.
func (c *Collector) Disk(path string) (DiskUsage, error) {
	usage, err := readDiskUsage(path)
	if err != nil {
		return DiskUsage{}, err
	}

	usage.MountedOn = path

	return usage, nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
