package inference

import (
	"errors"
	"sync"

	"github.com/mdobak/go-xerrors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/imageclf/internal/model"
)

// DefaultInputSize is used when the model declares a dynamic spatial dim.
const DefaultInputSize = 224

var ErrUnexpectedOutput = errors.New("unexpected model output")

var (
	envOnce sync.Once
	envErr  error
)

// InitEnvironment loads the onnxruntime shared library once per process.
func InitEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			envErr = ort.InitializeEnvironment()
		}
	})
	if envErr != nil {
		return xerrors.Newf("failed to initialize ONNX environment: %w", envErr)
	}
	return nil
}

type Options struct {
	LibraryPath    string
	IntraOpThreads int
}

// Session is a loaded model graph together with the options and run
// options it was created with.
type Session struct {
	session    *ort.DynamicAdvancedSession
	options    *ort.SessionOptions
	runOptions *ort.RunOptions

	height int
	width  int

	// release lists the native handles in the order Destroy frees them.
	release   []destroyer
	mu        sync.Mutex
	destroyed bool
}

type destroyer interface {
	Destroy() error
}

// OpenForDevice opens a session with the options and providers planned for
// device.
func OpenForDevice(modelData []byte, device model.DeviceClass, opts Options) (*Session, ProviderReport, error) {
	cfg, attempts := Plan(device)
	return Open(modelData, cfg, attempts, opts)
}

// Open compiles modelData into a session. Provider attempts that fail leave
// the session on the CPU provider.
func Open(modelData []byte, cfg SessionConfig, attempts []ProviderAttempt, opts Options) (*Session, ProviderReport, error) {
	var report ProviderReport
	if err := InitEnvironment(opts.LibraryPath); err != nil {
		return nil, report, err
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(modelData)
	if err != nil {
		return nil, report, xerrors.Newf("failed to read model io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 2 {
		return nil, report, xerrors.Newf("expected 1 input and 2 outputs, got %d and %d: %w",
			len(inputs), len(outputs), ErrUnexpectedOutput)
	}
	in := inputs[0]
	if len(in.Dimensions) != 4 {
		return nil, report, xerrors.Newf("expected 4D input, got %dD: %w", len(in.Dimensions), ErrUnexpectedOutput)
	}

	if opts.IntraOpThreads > 0 {
		cfg.IntraOpThreads = opts.IntraOpThreads
	}
	options, err := newSessionOptions(cfg)
	if err != nil {
		return nil, report, err
	}
	report = AttachProviders(ortTarget{options}, attempts)

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(modelData,
		[]string{in.Name}, []string{outputs[0].Name, outputs[1].Name}, options)
	if err != nil {
		options.Destroy()
		return nil, report, xerrors.Newf("failed to create ONNX session: %w", err)
	}

	runOptions, err := ort.NewRunOptions()
	if err != nil {
		session.Destroy()
		options.Destroy()
		return nil, report, xerrors.Newf("failed to create run options: %w", err)
	}

	return &Session{
		session:    session,
		options:    options,
		runOptions: runOptions,
		height:     spatialDim(in.Dimensions[2]),
		width:      spatialDim(in.Dimensions[3]),
		release:    []destroyer{options, session, runOptions},
	}, report, nil
}

func spatialDim(d int64) int {
	if d <= 0 {
		return DefaultInputSize
	}
	return int(d)
}

func newSessionOptions(cfg SessionConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, xerrors.Newf("failed to create session options: %w", err)
	}

	var level ort.GraphOptimizationLevel = ort.GraphOptimizationLevelEnableBasic
	if cfg.GraphOptimizationMax {
		level = ort.GraphOptimizationLevelEnableAll
	}
	var mode ort.ExecutionMode = ort.ExecutionModeParallel
	if cfg.ExecutionMode == ExecutionSequential {
		mode = ort.ExecutionModeSequential
	}

	steps := []optionStep{
		{"graph optimization level", func() error { return options.SetGraphOptimizationLevel(level) }},
		{"execution mode", func() error { return options.SetExecutionMode(mode) }},
		{"memory pattern", func() error { return options.SetMemPattern(cfg.MemPattern) }},
		{"cpu memory arena", func() error { return options.SetCpuMemArena(cfg.CPUMemArena) }},
	}
	if cfg.IntraOpThreads > 0 {
		steps = append(steps, optionStep{"intra-op threads", func() error {
			return options.SetIntraOpNumThreads(cfg.IntraOpThreads)
		}})
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			options.Destroy()
			return nil, xerrors.Newf("failed to set %s: %w", step.name, err)
		}
	}
	return options, nil
}

type optionStep struct {
	name string
	fn   func() error
}

type ortTarget struct {
	options *ort.SessionOptions
}

func (t ortTarget) AppendProvider(name string, options map[string]string) error {
	return t.options.AppendExecutionProvider(name, options)
}

func (t ortTarget) AppendCoreML(flags uint32) error {
	return t.options.AppendExecutionProviderCoreML(flags)
}

func (t ortTarget) AppendDirectML(deviceID int) error {
	return t.options.AppendExecutionProviderDirectML(deviceID)
}

// InputSize returns the declared spatial input dimensions.
func (s *Session) InputSize() (height, width int) {
	return s.height, s.width
}

// Run feeds one [1, 3, H, W] buffer and returns the score and class index
// outputs in the order the model produced them.
func (s *Session) Run(input []float32) ([]float32, []int64, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(s.height), int64(s.width)), input)
	if err != nil {
		return nil, nil, xerrors.Newf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := s.session.RunWithOptions([]ort.Value{inputTensor}, outputs, s.runOptions); err != nil {
		return nil, nil, xerrors.Newf("inference failed: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scores, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, xerrors.Newf("scores output is %T: %w", outputs[0], ErrUnexpectedOutput)
	}
	indices, ok := outputs[1].(*ort.Tensor[int64])
	if !ok {
		return nil, nil, xerrors.Newf("indices output is %T: %w", outputs[1], ErrUnexpectedOutput)
	}

	// Tensor data is freed with the tensor.
	return append([]float32(nil), scores.GetData()...), append([]int64(nil), indices.GetData()...), nil
}

// LookupMetadata reads one key of the model's custom metadata map.
func (s *Session) LookupMetadata(key string) (string, bool, error) {
	md, err := s.session.GetModelMetadata()
	if err != nil {
		return "", false, xerrors.Newf("failed to read model metadata: %w", err)
	}
	defer md.Destroy()
	return md.LookupCustomMetadataMap(key)
}

// Destroy releases the session options, the session and the run options,
// in that order. Later calls are no-ops.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return nil
	}
	s.destroyed = true

	var err error
	for _, h := range s.release {
		err = xerrors.Append(err, h.Destroy())
	}
	if err != nil {
		return xerrors.Newf("destroy session: %w", err)
	}
	return nil
}
