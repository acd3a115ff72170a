package registry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/n9te9/go-graphql-fusion-gateway/gateway"
	"go.uber.org/zap"
)

// maxSchemaSize bounds the body of a schema registration.
const maxSchemaSize = 16 << 20

// Builder composes a gateway from a composite schema SDL.
type Builder func(sdl []byte) (*gateway.Gateway, error)

// DefaultDrainPeriod is how long a replaced gateway stays open for requests that
// already hold it.
const DefaultDrainPeriod = 30 * time.Second

// Registry holds the gateway currently serving plans and replaces it when a new composite
// schema is registered. Requests already running keep the gateway they started with; a
// replaced gateway is closed once the drain period has passed.
type Registry struct {
	current atomic.Pointer[gateway.Gateway]
	build   Builder
	logger  *zap.Logger
	drain   time.Duration

	// serializes builds so that the last registration wins
	mu      sync.Mutex
	retired map[*gateway.Gateway]*time.Timer
}

type Option func(*Registry)

// WithDrainPeriod sets how long a replaced gateway is kept open. Zero closes it right away.
func WithDrainPeriod(d time.Duration) Option {
	return func(r *Registry) {
		r.drain = max(d, 0)
	}
}

func NewRegistry(initial *gateway.Gateway, build Builder, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		build:   build,
		logger:  logger.With(zap.String("component", "registry")),
		drain:   DefaultDrainPeriod,
		retired: make(map[*gateway.Gateway]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(initial)
	return r
}

func (r *Registry) AppliedGateway() *gateway.Gateway {
	return r.current.Load()
}

// ServeHTTP delegates to the applied gateway.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.current.Load().ServeHTTP(w, req)
}

// Apply composes sdl and swaps it in. The applied gateway is left untouched on failure.
func (r *Registry) Apply(sdl []byte) (*gateway.Gateway, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.build(sdl)
	if err != nil {
		return nil, err
	}

	r.retire(r.current.Swap(next))
	r.logger.Info("composite schema applied", zap.Strings("subgraphs", next.Subgraphs()))
	return next, nil
}

// retire closes g after the drain period. The caller holds mu.
func (r *Registry) retire(g *gateway.Gateway) {
	if g == nil {
		return
	}
	r.retired[g] = time.AfterFunc(r.drain, func() {
		r.mu.Lock()
		delete(r.retired, g)
		r.mu.Unlock()

		g.Close()
		r.logger.Debug("replaced gateway closed", zap.Strings("subgraphs", g.Subgraphs()))
	})
}

// Close releases the applied gateway and every replaced one that is still draining.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for g, timer := range r.retired {
		timer.Stop()
		g.Close()
	}
	clear(r.retired)

	if g := r.current.Load(); g != nil {
		g.Close()
	}
}

type registrationResponse struct {
	Subgraphs []string `json:"subgraphs,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// RegisterGateway accepts a composite schema SDL as the request body and applies it.
func (r *Registry) RegisterGateway(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(io.LimitReader(req.Body, maxSchemaSize))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(registrationResponse{Error: "failed to read request body"})
		return
	}

	next, err := r.Apply(body)
	if err != nil {
		r.logger.Warn("schema registration rejected", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(registrationResponse{Error: err.Error()})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(registrationResponse{Subgraphs: next.Subgraphs()})
}

// WatchFile re-applies the schema file whenever it is written or replaced, until ctx is done.
// The parent directory is watched so that editors replacing the file by rename are noticed.
func (r *Registry) WatchFile(ctx context.Context, path string, read func(string) ([]byte, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	logger := r.logger.With(zap.String("path", path))
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				logger.Debug("notify event", zap.Stringer("op", event.Op))

				sdl, err := read(path)
				if err != nil {
					logger.Error("failed to read schema file", zap.Error(err))
					continue
				}
				if _, err := r.Apply(sdl); err != nil {
					logger.Error("failed to apply schema file", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("file watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
