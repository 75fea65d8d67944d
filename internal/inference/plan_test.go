package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/imageclf/internal/model"
)

type fakeTarget struct {
	fail     map[string]error
	panics   map[string]bool
	attached []string
	options  map[string]map[string]string
	coreML   uint32
	dmlID    int
}

func (f *fakeTarget) try(name string) error {
	if f.panics[name] {
		panic(name + " binding missing")
	}
	if err := f.fail[name]; err != nil {
		return err
	}
	f.attached = append(f.attached, name)
	return nil
}

func (f *fakeTarget) AppendProvider(name string, options map[string]string) error {
	if f.options == nil {
		f.options = make(map[string]map[string]string)
	}
	f.options[name] = options
	return f.try(name)
}

func (f *fakeTarget) AppendCoreML(flags uint32) error {
	f.coreML = flags
	return f.try("CoreML")
}

func (f *fakeTarget) AppendDirectML(deviceID int) error {
	f.dmlID = deviceID
	return f.try("DirectML")
}

func TestPlanSessionOverrides(t *testing.T) {
	tests := []struct {
		device     model.DeviceClass
		mode       ExecutionMode
		memPattern bool
		providers  []string
	}{
		{model.DeviceDefault, ExecutionParallel, true, nil},
		{model.DeviceAndroid, ExecutionParallel, true, []string{"NNAPI", "QNN", "XNNPACK"}},
		{model.DeviceIOS, ExecutionParallel, true, []string{"CoreML"}},
		{model.DeviceMacOS, ExecutionParallel, true, []string{"CoreML"}},
		{model.DeviceWindows, ExecutionSequential, false, []string{"DirectML"}},
	}
	for _, tt := range tests {
		t.Run(tt.device.String(), func(t *testing.T) {
			cfg, attempts := Plan(tt.device)
			assert.True(t, cfg.GraphOptimizationMax)
			assert.True(t, cfg.CPUMemArena)
			assert.False(t, cfg.Profiling)
			assert.Equal(t, tt.mode, cfg.ExecutionMode)
			assert.Equal(t, tt.memPattern, cfg.MemPattern)

			var names []string
			for _, a := range attempts {
				names = append(names, a.Name)
			}
			assert.Equal(t, tt.providers, names)
		})
	}
}

func TestPlanProviderArguments(t *testing.T) {
	target := &fakeTarget{}

	_, attempts := Plan(model.DeviceAndroid)
	AttachProviders(target, attempts)
	assert.Equal(t, map[string]string{"backend_type": "htp"}, target.options["QNN"])

	_, attempts = Plan(model.DeviceIOS)
	AttachProviders(target, attempts)
	assert.Equal(t, CoreMLOnlyEnableDeviceWithANE, target.coreML)

	_, attempts = Plan(model.DeviceWindows)
	AttachProviders(target, attempts)
	assert.Equal(t, 0, target.dmlID)

	assert.Equal(t, []string{"QNN", "CoreML", "DirectML"}, target.attached)
}

func TestAttachProvidersFallsBackToCPU(t *testing.T) {
	failures := map[model.DeviceClass]int{model.DeviceAndroid: 2, model.DeviceIOS: 1, model.DeviceWindows: 1}
	for device, n := range failures {
		t.Run(device.String(), func(t *testing.T) {
			target := &fakeTarget{fail: map[string]error{
				"QNN":      errors.New("no HTP backend"),
				"XNNPACK":  errors.New("not built in"),
				"CoreML":   errors.New("no ANE"),
				"DirectML": errors.New("no D3D12 device"),
			}}
			cfg, attempts := Plan(device)
			report := AttachProviders(target, attempts)

			assert.Equal(t, CPUProvider, report.Adopted)
			require.Len(t, report.Failures, n)
			assert.True(t, report.Degraded())
			assert.Empty(t, target.attached)
			// The planned overrides still apply on the CPU path.
			if device == model.DeviceWindows {
				assert.Equal(t, ExecutionSequential, cfg.ExecutionMode)
				assert.False(t, cfg.MemPattern)
			}
		})
	}
}

func TestAndroidSkipsNNAPI(t *testing.T) {
	target := &fakeTarget{}
	_, attempts := Plan(model.DeviceAndroid)

	report := AttachProviders(target, attempts)

	assert.Equal(t, "QNN", report.Adopted)
	assert.Empty(t, report.Failures)
	assert.False(t, report.Degraded())
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "NNAPI", report.Skipped[0].Provider)
	assert.ErrorIs(t, report.Skipped[0].Err, ErrProviderUnsupported)
	assert.NotContains(t, target.options, "NNAPI")
	assert.Contains(t, report.String(), "skipped: NNAPI")

	target = &fakeTarget{fail: map[string]error{"QNN": errors.New("no HTP backend")}}
	report = AttachProviders(target, attempts)
	assert.Equal(t, "XNNPACK", report.Adopted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "QNN", report.Failures[0].Provider)
}

func TestAttachProvidersAdoptsFirstSuccess(t *testing.T) {
	target := &fakeTarget{fail: map[string]error{"first": errors.New("unavailable")}}
	attempts := []ProviderAttempt{
		{Name: "first", Attach: func(t ProviderTarget) error { return t.AppendProvider("first", nil) }},
		{Name: "second", Attach: func(t ProviderTarget) error { return t.AppendProvider("second", nil) }},
		{Name: "third", Attach: func(t ProviderTarget) error { return t.AppendProvider("third", nil) }},
	}

	report := AttachProviders(target, attempts)

	assert.Equal(t, "second", report.Adopted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "first", report.Failures[0].Provider)
	assert.Equal(t, []string{"second"}, target.attached)
	assert.False(t, report.Degraded())
	assert.Contains(t, report.String(), "first: unavailable")
}

func TestAttachProvidersRecoversPanics(t *testing.T) {
	target := &fakeTarget{panics: map[string]bool{"CoreML": true}}
	_, attempts := Plan(model.DeviceMacOS)

	report := AttachProviders(target, attempts)

	assert.Equal(t, CPUProvider, report.Adopted)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Err.Error(), "binding missing")
}

func TestAttachProvidersDefaultDevice(t *testing.T) {
	_, attempts := Plan(model.DeviceDefault)
	report := AttachProviders(&fakeTarget{}, attempts)
	assert.Equal(t, CPUProvider, report.Adopted)
	assert.Empty(t, report.Failures)
	assert.False(t, report.Degraded())
	assert.Equal(t, CPUProvider, report.String())
}

func TestSpatialDim(t *testing.T) {
	assert.Equal(t, 224, spatialDim(-1))
	assert.Equal(t, 224, spatialDim(0))
	assert.Equal(t, 160, spatialDim(160))
}
