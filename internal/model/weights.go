package model

import (
	"errors"
	"runtime"
	"strings"

	"github.com/mdobak/go-xerrors"
)

var (
	ErrUnknownWeight = errors.New("unknown model weight")
	ErrUnknownDevice = errors.New("unknown device class")
)

// ModelWeight selects one of the bundled model files.
type ModelWeight int

const (
	MobileNetV2 ModelWeight = iota
	MobileNetV3Small
	ResNet50
)

var weightNames = map[ModelWeight]string{
	MobileNetV2:      "mobilenetv2",
	MobileNetV3Small: "mobilenetv3-small",
	ResNet50:         "resnet50",
}

var weightFiles = map[ModelWeight]string{
	MobileNetV2:      "mobilenetv2_with_pre_post_processing.onnx",
	MobileNetV3Small: "mobilenetv3_small_with_pre_post_processing.onnx",
	ResNet50:         "resnet50_with_pre_post_processing.onnx",
}

// Weights lists every bundled model in declaration order.
func Weights() []ModelWeight {
	return []ModelWeight{MobileNetV2, MobileNetV3Small, ResNet50}
}

func (w ModelWeight) String() string {
	if name, ok := weightNames[w]; ok {
		return name
	}
	return "unknown"
}

// FileName is the name of the model binary inside the model directory.
func (w ModelWeight) FileName() string {
	return weightFiles[w]
}

func ParseModelWeight(s string) (ModelWeight, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for w, name := range weightNames {
		if name == key {
			return w, nil
		}
	}
	return 0, xerrors.Newf("%q: %w", s, ErrUnknownWeight)
}

// DeviceClass selects which hardware execution provider is attempted.
type DeviceClass int

const (
	DeviceDefault DeviceClass = iota
	DeviceAndroid
	DeviceIOS
	DeviceMacOS
	DeviceWindows
)

var deviceNames = map[DeviceClass]string{
	DeviceDefault: "default",
	DeviceAndroid: "android",
	DeviceIOS:     "ios",
	DeviceMacOS:   "macos",
	DeviceWindows: "windows",
}

func (d DeviceClass) String() string {
	if name, ok := deviceNames[d]; ok {
		return name
	}
	return "unknown"
}

// ParseDeviceClass accepts a device name or "auto", which maps the running
// GOOS to a device class.
func ParseDeviceClass(s string) (DeviceClass, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "auto" || key == "" {
		return DetectDevice(runtime.GOOS), nil
	}
	for d, name := range deviceNames {
		if name == key {
			return d, nil
		}
	}
	return 0, xerrors.Newf("%q: %w", s, ErrUnknownDevice)
}

func DetectDevice(goos string) DeviceClass {
	switch goos {
	case "android":
		return DeviceAndroid
	case "ios":
		return DeviceIOS
	case "darwin":
		return DeviceMacOS
	case "windows":
		return DeviceWindows
	default:
		return DeviceDefault
	}
}
