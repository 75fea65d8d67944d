package classifier

import (
	"context"
	"io/fs"
	"log/slog"

	"github.com/mdobak/go-xerrors"

	"github.com/Brownie44l1/imageclf/internal/inference"
	"github.com/Brownie44l1/imageclf/internal/model"
)

// Engine is a compiled model ready to run. *inference.Session implements it.
type Engine interface {
	InputSize() (height, width int)
	Run(input []float32) (scores []float32, indices []int64, err error)
	LookupMetadata(key string) (value string, ok bool, err error)
	Destroy() error
}

// EngineFactory loads the model selected by weight for device.
type EngineFactory func(ctx context.Context, weight model.ModelWeight, device model.DeviceClass) (Engine, inference.ProviderReport, error)

// ONNXFactory returns a factory that reads bundled model files from models
// and opens them with onnxruntime.
func ONNXFactory(models fs.FS, opts inference.Options, logger *slog.Logger) EngineFactory {
	return func(ctx context.Context, weight model.ModelWeight, device model.DeviceClass) (Engine, inference.ProviderReport, error) {
		name := weight.FileName()
		if name == "" {
			return nil, inference.ProviderReport{}, xerrors.Newf("%v: %w", weight, model.ErrUnknownWeight)
		}
		data, err := fs.ReadFile(models, name)
		if err != nil {
			return nil, inference.ProviderReport{}, xerrors.Newf("failed to read model %s: %w", name, err)
		}

		logger.InfoContext(ctx, "loading model",
			slog.String("model", weight.String()),
			slog.String("file", name),
			slog.Int("bytes", len(data)),
			slog.String("device", device.String()))

		session, report, err := inference.OpenForDevice(data, device, opts)
		if err != nil {
			return nil, report, err
		}
		return session, report, nil
	}
}
