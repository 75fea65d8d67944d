package inference

import (
	"errors"

	"github.com/Brownie44l1/imageclf/internal/model"
)

// ExecutionMode controls whether the engine runs graph nodes in parallel.
type ExecutionMode int

const (
	ExecutionParallel ExecutionMode = iota
	ExecutionSequential
)

func (m ExecutionMode) String() string {
	if m == ExecutionSequential {
		return "sequential"
	}
	return "parallel"
}

// SessionConfig is the engine-independent description of the session options.
type SessionConfig struct {
	// GraphOptimizationMax enables every graph optimization the engine has.
	GraphOptimizationMax bool
	ExecutionMode        ExecutionMode
	MemPattern           bool
	CPUMemArena          bool
	Profiling            bool
	IntraOpThreads       int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		GraphOptimizationMax: true,
		ExecutionMode:        ExecutionParallel,
		MemPattern:           true,
		CPUMemArena:          true,
		Profiling:            false,
	}
}

// CoreMLOnlyEnableDeviceWithANE restricts CoreML to devices with a Neural
// Engine.
const CoreMLOnlyEnableDeviceWithANE uint32 = 0x004

// ErrProviderUnsupported marks a provider the onnxruntime binding has no way
// to attach. NNAPI is only reachable through a dedicated C entry point that
// the binding does not expose.
var ErrProviderUnsupported = errors.New("execution provider not supported by the onnxruntime binding")

// ProviderTarget is the part of the session options providers attach to.
type ProviderTarget interface {
	AppendProvider(name string, options map[string]string) error
	AppendCoreML(flags uint32) error
	AppendDirectML(deviceID int) error
}

// ProviderAttempt is one execution provider to try, in priority order.
// Attempts with Unsupported set are reported as skipped and never attached.
type ProviderAttempt struct {
	Name        string
	Attach      func(ProviderTarget) error
	Unsupported error
}

// Plan returns the session options and the provider attempts for a device
// class. An empty attempt list means the bundled CPU provider is used.
func Plan(device model.DeviceClass) (SessionConfig, []ProviderAttempt) {
	cfg := DefaultSessionConfig()

	switch device {
	case model.DeviceAndroid:
		return cfg, []ProviderAttempt{
			{Name: "NNAPI", Unsupported: ErrProviderUnsupported},
			{
				Name: "QNN",
				Attach: func(t ProviderTarget) error {
					return t.AppendProvider("QNN", map[string]string{"backend_type": "htp"})
				},
			},
			{
				Name: "XNNPACK",
				Attach: func(t ProviderTarget) error {
					return t.AppendProvider("XNNPACK", nil)
				},
			},
		}
	case model.DeviceIOS, model.DeviceMacOS:
		return cfg, []ProviderAttempt{{
			Name: "CoreML",
			Attach: func(t ProviderTarget) error {
				return t.AppendCoreML(CoreMLOnlyEnableDeviceWithANE)
			},
		}}
	case model.DeviceWindows:
		cfg.MemPattern = false
		cfg.ExecutionMode = ExecutionSequential
		return cfg, []ProviderAttempt{{
			Name: "DirectML",
			Attach: func(t ProviderTarget) error {
				return t.AppendDirectML(0)
			},
		}}
	default:
		return cfg, nil
	}
}
