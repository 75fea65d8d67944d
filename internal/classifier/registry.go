package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mdobak/go-xerrors"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/imageclf/internal/inference"
	"github.com/Brownie44l1/imageclf/internal/logging"
	"github.com/Brownie44l1/imageclf/internal/model"
)

// Key identifies one shared session.
type Key struct {
	Model  model.ModelWeight
	Device model.DeviceClass
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Model, k.Device)
}

// Shared holds the heavyweight objects of one loaded model. It is owned by
// the Registry and borrowed by every Service that acquired it.
type Shared struct {
	Engine     Engine
	Categories model.CategoryTable
	Providers  inference.ProviderReport

	refs int
}

// Registry is a process-wide store of loaded sessions. Sessions are built
// at most once per key, reference counted and destroyed on the last release.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*Shared
	group   singleflight.Group
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{entries: make(map[Key]*Shared), logger: logger}
}

var defaultRegistry = NewRegistry(nil)

// DefaultRegistry returns the registry used when no other is configured.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Acquire returns the session for key, building it with build if nobody
// holds it yet. Concurrent callers for the same key share one build.
func (r *Registry) Acquire(ctx context.Context, key Key, build func(context.Context) (*Shared, error)) (*Shared, error) {
	for {
		if s, ok := r.Lookup(key); ok {
			return s, nil
		}

		_, err, shared := r.group.Do(key.String(), func() (interface{}, error) {
			r.mu.Lock()
			if s, ok := r.entries[key]; ok {
				r.mu.Unlock()
				return s, nil
			}
			r.mu.Unlock()

			s, err := build(ctx)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.entries[key] = s
			r.mu.Unlock()
			r.logger.InfoContext(ctx, "shared session built", slog.String("key", key.String()))
			return s, nil
		})
		if err != nil {
			return nil, err
		}
		if shared {
			r.logger.DebugContext(ctx, "joined in-flight session build", slog.String("key", key.String()))
		}
		// The entry may have been released between the build and this point;
		// look it up again under the lock and retry if it is gone.
		if s, ok := r.Lookup(key); ok {
			return s, nil
		}
	}
}

// Lookup returns the live session for key and takes a reference on it.
func (r *Registry) Lookup(key Key) (*Shared, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	s.refs++
	return s, true
}

// Refs reports how many references are held on key.
func (r *Registry) Refs(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.entries[key]; ok {
		return s.refs
	}
	return 0
}

// Release drops one reference on key. The last release removes the entry
// and destroys its engine.
func (r *Registry) Release(ctx context.Context, key Key) error {
	r.mu.Lock()
	s, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, key)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "shared session destroyed", slog.String("key", key.String()))
	if err := s.Engine.Destroy(); err != nil {
		return xerrors.Newf("release %s: %w", key, err)
	}
	return nil
}
