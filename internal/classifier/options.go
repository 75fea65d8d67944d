package classifier

import (
	"io/fs"
	"log/slog"
	"os"

	"github.com/Brownie44l1/imageclf/internal/inference"
	"github.com/Brownie44l1/imageclf/internal/model"
)

type settings struct {
	weight    model.ModelWeight
	device    model.DeviceClass
	logger    *slog.Logger
	registry  *Registry
	models    fs.FS
	runtime   inference.Options
	factory   EngineFactory
	cacheSize int
}

type Option func(*settings)

// WithModel selects the bundled model. Defaults to MobileNetV2.
func WithModel(w model.ModelWeight) Option {
	return func(s *settings) { s.weight = w }
}

// WithDevice selects the device class. Defaults to DeviceDefault.
func WithDevice(d model.DeviceClass) Option {
	return func(s *settings) { s.device = d }
}

// WithLogger forwards lifecycle and timing events to logger. Without it
// they are dropped.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithRegistry shares sessions through r instead of the default registry.
func WithRegistry(r *Registry) Option {
	return func(s *settings) { s.registry = r }
}

// WithModelDir reads bundled model files from dir.
func WithModelDir(dir string) Option {
	return func(s *settings) { s.models = os.DirFS(dir) }
}

// WithModelFS reads bundled model files from fsys.
func WithModelFS(fsys fs.FS) Option {
	return func(s *settings) { s.models = fsys }
}

// WithLibraryPath points onnxruntime at its shared library.
func WithLibraryPath(path string) Option {
	return func(s *settings) { s.runtime.LibraryPath = path }
}

func WithIntraOpThreads(n int) Option {
	return func(s *settings) { s.runtime.IntraOpThreads = n }
}

// WithEngineFactory replaces the onnxruntime loader.
func WithEngineFactory(f EngineFactory) Option {
	return func(s *settings) { s.factory = f }
}

// WithResultCache keeps the results of the last n distinct inputs.
func WithResultCache(n int) Option {
	return func(s *settings) { s.cacheSize = n }
}

func newSettings(opts []Option) settings {
	s := settings{
		weight: model.MobileNetV2,
		device: model.DeviceDefault,
		models: os.DirFS("models"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}
	if s.factory == nil {
		s.factory = ONNXFactory(s.models, s.runtime, s.loggerOrDiscard())
	}
	return s
}
