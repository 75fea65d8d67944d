// Package classifier is an image-in, label-to-confidence-out façade over a
// bundled image classification model.
//
// A Service borrows its loaded model from a Registry so that any number of
// services for the same model and device share one session. Sessions are
// expensive to build and cheap to reuse; they are destroyed when the last
// service holding them is closed.
package classifier

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mdobak/go-xerrors"

	"github.com/Brownie44l1/imageclf/internal/inference"
	"github.com/Brownie44l1/imageclf/internal/logging"
	"github.com/Brownie44l1/imageclf/internal/model"
	"github.com/Brownie44l1/imageclf/internal/preprocess"
)

var (
	ErrClosed    = errors.New("classifier is closed")
	ErrNotCached = errors.New("no shared session for model and device")
	ErrNilImage  = preprocess.ErrNilImage
)

var newResultCache = lru.New

type Service struct {
	key      Key
	registry *Registry
	shared   *Shared
	logger   *slog.Logger
	cache    *lru.Cache

	mu     sync.RWMutex
	closed bool
}

// New builds a service, loading the model unless the registry already holds
// a session for the same model and device.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	s := newSettings(opts)
	key := Key{Model: s.weight, Device: s.device}
	logger := s.loggerOrDiscard()

	shared, err := s.registry.Acquire(ctx, key, func(ctx context.Context) (*Shared, error) {
		return build(ctx, s, logger)
	})
	if err != nil {
		return nil, err
	}
	return newService(key, s, shared, logger)
}

// Reuse builds a service on a session already held in registry. It fails
// with ErrNotCached instead of loading the model.
func Reuse(ctx context.Context, registry *Registry, opts ...Option) (*Service, error) {
	s := newSettings(append(opts, WithRegistry(registry)))
	key := Key{Model: s.weight, Device: s.device}
	logger := s.loggerOrDiscard()

	shared, ok := registry.Lookup(key)
	if !ok {
		logger.WarnContext(ctx, "no shared session to reuse", slog.String("key", key.String()))
		return nil, xerrors.Newf("%s: %w", key, ErrNotCached)
	}
	logger.DebugContext(ctx, "reusing shared session", slog.String("key", key.String()))
	return newService(key, s, shared, logger)
}

func newService(key Key, s settings, shared *Shared, logger *slog.Logger) (*Service, error) {
	svc := &Service{
		key:      key,
		registry: s.registry,
		shared:   shared,
		logger:   logger,
	}
	if s.cacheSize > 0 {
		cache, err := newResultCache(s.cacheSize)
		if err != nil {
			return nil, xerrors.Append(xerrors.New(err), s.registry.Release(context.Background(), key))
		}
		svc.cache = cache
	}
	return svc, nil
}

func build(ctx context.Context, s settings, logger *slog.Logger) (*Shared, error) {
	engine, report, err := s.factory(ctx, s.weight, s.device)
	for _, f := range report.Failures {
		logger.WarnContext(ctx, "execution provider unavailable, continuing without it",
			slog.String("provider", f.Provider),
			slog.String("device", s.device.String()),
			slog.Any("error", f.Err))
	}
	for _, f := range report.Skipped {
		logger.InfoContext(ctx, "execution provider skipped",
			slog.String("provider", f.Provider),
			slog.String("device", s.device.String()),
			slog.Any("reason", f.Err))
	}
	if err != nil {
		return nil, err
	}
	if report.Adopted == "" {
		report.Adopted = inference.CPUProvider
	}

	categories, err := model.CategoriesFromMetadata(engine.LookupMetadata)
	if err != nil {
		logger.WarnContext(ctx, "using placeholder categories",
			slog.String("model", s.weight.String()),
			slog.Int("count", categories.Len()),
			slog.Any("error", err))
	}

	h, w := engine.InputSize()
	logger.InfoContext(ctx, "session ready",
		slog.String("model", s.weight.String()),
		slog.String("device", s.device.String()),
		slog.String("provider", report.Adopted),
		slog.Int("height", h),
		slog.Int("width", w),
		slog.String("categories", categories.String()))

	return &Shared{Engine: engine, Categories: categories, Providers: report}, nil
}

func (s settings) loggerOrDiscard() *slog.Logger {
	if s.logger == nil {
		return logging.Discard()
	}
	return s.logger
}

func (s *Service) Model() model.ModelWeight {
	return s.key.Model
}

func (s *Service) Device() model.DeviceClass {
	return s.key.Device
}

// Categories returns the category table and whether it was loaded from the
// model or synthesized.
func (s *Service) Categories() model.CategoryTable {
	return s.shared.Categories
}

// Providers reports which execution provider the session runs on and which
// attempts failed.
func (s *Service) Providers() inference.ProviderReport {
	return s.shared.Providers
}

// InputSize is the height and width images are crop-resized to.
func (s *Service) InputSize() (height, width int) {
	return s.shared.Engine.InputSize()
}

func (s *Service) ClassifyBytes(ctx context.Context, data []byte) (model.ResultMap, error) {
	img, err := preprocess.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return s.classify(ctx, img)
}

func (s *Service) ClassifyReader(ctx context.Context, r io.Reader) (model.ResultMap, error) {
	img, err := preprocess.FromReader(r)
	if err != nil {
		return nil, err
	}
	return s.classify(ctx, img)
}

func (s *Service) ClassifyFile(ctx context.Context, path string) (model.ResultMap, error) {
	img, err := preprocess.FromFile(path)
	if err != nil {
		return nil, err
	}
	return s.classify(ctx, img)
}

func (s *Service) ClassifyImage(ctx context.Context, img image.Image) (model.ResultMap, error) {
	nrgba, err := preprocess.FromImage(img)
	if err != nil {
		return nil, err
	}
	return s.classify(ctx, nrgba)
}

func (s *Service) classify(ctx context.Context, img *image.NRGBA) (model.ResultMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, xerrors.New(ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	h, w := s.shared.Engine.InputSize()
	buf, err := preprocess.Prepare(img, h, w)
	if err != nil {
		return nil, err
	}

	var key uint64
	if s.cache != nil {
		key = fingerprint(buf.Data)
		if cached, ok := s.cache.Get(key); ok {
			s.logger.DebugContext(ctx, "classification served from cache",
				slog.Duration("elapsed", time.Since(start)))
			return maps.Clone(cached.(model.ResultMap)), nil
		}
	}

	scores, indices, err := s.shared.Engine.Run(buf.Data)
	if err != nil {
		return nil, err
	}
	result, err := decode(scores, indices, s.shared.Categories)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Add(key, maps.Clone(result))
	}
	s.logger.InfoContext(ctx, "classified image",
		slog.String("model", s.key.Model.String()),
		slog.Int("results", len(result)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// Close releases this service's hold on the shared session. The session is
// destroyed when the last holder closes. Close is safe to call repeatedly.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cache != nil {
		s.cache.Purge()
	}
	s.logger.Info("closing classifier", slog.String("key", s.key.String()))
	return s.registry.Release(context.Background(), s.key)
}
