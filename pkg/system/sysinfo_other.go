//go:build !linux

package system

func readKernelInfo() (kernelInfo, error) {
	return kernelInfo{}, ErrUnsupported
}

func readDiskUsage(string) (DiskUsage, error) {
	return DiskUsage{}, ErrUnsupported
}

func powerOff(Action) error {
	return ErrUnsupported
}
