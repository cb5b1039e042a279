//go:build linux

package system

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// loadScale converts sysinfo load figures to load averages.
const loadScale = 1 << unix.SI_LOAD_SHIFT

func readKernelInfo() (kernelInfo, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return kernelInfo{}, fmt.Errorf("failed to read sysinfo: %w", err)
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return kernelInfo{}, fmt.Errorf("failed to read uname: %w", err)
	}

	unit := uint64(info.Unit)

	return kernelInfo{
		uptime: float64(info.Uptime),
		loads: [3]float64{
			round2(float64(info.Loads[0]) / loadScale),
			round2(float64(info.Loads[1]) / loadScale),
			round2(float64(info.Loads[2]) / loadScale),
		},
		total:    uint64(info.Totalram) * unit,
		free:     uint64(info.Freeram) * unit,
		platform: unix.ByteSliceToString(uts.Sysname[:]),
		release:  unix.ByteSliceToString(uts.Release[:]),
	}, nil
}

func readDiskUsage(path string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("failed to stat filesystem %s: %w", path, err)
	}

	blockSize := uint64(st.Bsize)
	size := st.Blocks * blockSize
	free := st.Bfree * blockSize
	available := st.Bavail * blockSize
	used := size - free

	usage := DiskUsage{Size: size, Used: used, Available: available}

	// Same rounding as df: used over the space visible to unprivileged users.
	if visible := used + available; visible > 0 {
		usage.UsagePercent = round2(float64(used) / float64(visible) * 100)
	}

	return usage, nil
}

func powerOff(action Action) error {
	unix.Sync()

	cmd := unix.LINUX_REBOOT_CMD_RESTART
	if action == ActionShutdown {
		cmd = unix.LINUX_REBOOT_CMD_POWER_OFF
	}

	if err := unix.Reboot(cmd); err != nil {
		return fmt.Errorf("reboot syscall failed: %w", err)
	}

	return nil
}
