package tensor

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

// DeviceKind tells where tensor data lives and where kernels run.
type DeviceKind int

const (
	CPU DeviceKind = iota
	Accelerator
)

func (k DeviceKind) String() string {
	switch k {
	case CPU:
		return "CPU"
	case Accelerator:
		return "Accelerator"
	default:
		return "Unknown"
	}
}

// ErrNoAccelerator is returned when an accelerator is requested explicitly
// but no accelerator backend is compiled in.
var ErrNoAccelerator = errors.New("no accelerator backend available")

// Device is chosen once at startup and passed to every model and tensor
// constructor. It is never read from process-wide state.
type Device struct {
	Kind    DeviceKind
	Name    string
	Threads int
	AVX2    bool
}

func (d Device) String() string {
	if d.Name == "" {
		return d.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", d.Kind, d.Name)
}

// CPUDevice describes the local processor.
func CPUDevice() Device {
	name := strings.TrimSpace(cpuid.CPU.BrandName)
	if name == "" {
		name = cpuid.CPU.VendorString
	}
	threads := cpuid.CPU.LogicalCores
	if threads <= 0 {
		threads = 1
	}
	return Device{
		Kind:    CPU,
		Name:    name,
		Threads: threads,
		AVX2:    cpuid.CPU.Supports(cpuid.AVX2),
	}
}

// SelectDevice resolves a user preference ("auto", "cpu", "cuda", ...).
// "auto" prefers an accelerator and falls back to the local processor.
func SelectDevice(preference string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(preference)) {
	case "", "auto", "cpu":
		return CPUDevice(), nil
	case "cuda", "cuda:0", "gpu", "metal", "accelerator":
		return Device{}, errors.Wrapf(ErrNoAccelerator, "device %q", preference)
	default:
		return Device{}, errors.Errorf("unknown device %q", preference)
	}
}
