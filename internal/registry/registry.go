// Package registry maps logical database kinds to open device databases. A
// Registry is caller-owned: the application constructs one at startup, passes
// it by handle, and shuts it down on exit. There is no package-level
// instance.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/devstore/internal/devicedb"
	"github.com/mesh-intelligence/devstore/pkg/types"
)

// Kind names one logical database under the registry's base directory.
type Kind string

// Known database kinds.
const (
	KindDevices Kind = "devices"
)

// ErrUnknownKind is returned by Get for a kind that was never opened.
var ErrUnknownKind = fmt.Errorf("registry: unknown database kind")

// Registry owns the open device databases and their directory layout. Each
// kind lives at {baseDir}/{kind}.db.
type Registry struct {
	baseDir string
	logger  *zap.Logger
	sink    types.EventSink

	mu     sync.Mutex
	stores map[Kind]*devicedb.DeviceDB
	order  []Kind // open order; shutdown walks it in reverse
}

// New builds an empty registry rooted at baseDir.
func New(baseDir string, logger *zap.Logger, sink types.EventSink) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		baseDir: baseDir,
		logger:  logger.With(zap.String("component", "registry")),
		sink:    sink,
		stores:  make(map[Kind]*devicedb.DeviceDB),
	}
}

// Path returns the database file path for a kind.
func (r *Registry) Path(kind Kind) string {
	return filepath.Join(r.baseDir, string(kind)+".db")
}

// Open initializes the database for a kind and registers it. Opening a kind
// that is already open returns the existing handle.
func (r *Registry) Open(ctx context.Context, kind Kind) (*devicedb.DeviceDB, error) {
	r.mu.Lock()
	if d, ok := r.stores[kind]; ok {
		r.mu.Unlock()
		return d, nil
	}
	r.mu.Unlock()

	cfg := types.NewConfig(string(kind), r.Path(kind))
	d, err := devicedb.Open(ctx, cfg, r.logger, r.sink)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another caller may have raced us; keep the first one.
	if existing, ok := r.stores[kind]; ok {
		go func() {
			if cerr := d.Close(); cerr != nil {
				r.logger.Warn("closing duplicate database failed", zap.Error(cerr))
			}
		}()
		return existing, nil
	}
	r.stores[kind] = d
	r.order = append(r.order, kind)
	r.logger.Info("database opened", zap.String("kind", string(kind)), zap.String("path", r.Path(kind)))
	return d, nil
}

// Get returns the open database for a kind.
func (r *Registry) Get(kind Kind) (*devicedb.DeviceDB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.stores[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return d, nil
}

// Kinds returns the open kinds in open order.
func (r *Registry) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.order))
	copy(out, r.order)
	return out
}

// Shutdown closes every open database in reverse open order. It keeps going
// through failures and returns the first error.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	order := r.order
	stores := r.stores
	r.order = nil
	r.stores = make(map[Kind]*devicedb.DeviceDB)
	r.mu.Unlock()

	var first error
	for i := len(order) - 1; i >= 0; i-- {
		kind := order[i]
		if err := stores[kind].Close(); err != nil {
			r.logger.Warn("closing database failed", zap.String("kind", string(kind)), zap.Error(err))
			if first == nil {
				first = err
			}
			continue
		}
		r.logger.Info("database closed", zap.String("kind", string(kind)))
	}
	return first
}
