// Package registry owns engine lifecycle: lazy loading, handle caching, and
// deterministic unloading.
//
// Engines are registered as constructors, not instances — no model memory is
// touched until the first request for that engine arrives. Concurrent first
// requests for the same engine coalesce into a single load; at most one
// handle per engine identifier is ever live. The registry is an explicit,
// injectable component so tests can substitute scripted engines.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/audiolith/transcriptd/internal/observe"
	"github.com/audiolith/transcriptd/pkg/engine"
	"github.com/audiolith/transcriptd/pkg/fault"
)

// Entry declares one engine: its identity, the normalization profile it
// consumes, and the constructor that loads it.
type Entry struct {
	// ID is the engine identifier clients select (e.g. "local-full").
	ID string

	// Description is a human-readable summary for the model listing.
	Description string

	// Format is the normalized-audio container this engine consumes. Known
	// without loading the engine, so validation and normalization never
	// trigger a model load.
	Format engine.Format

	// Load constructs the engine. Called at most once per live handle.
	Load func(ctx context.Context) (engine.Engine, error)
}

// Info describes a registered engine for the /models listing.
type Info struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Loaded      bool   `json:"loaded"`
}

// Registry is the process-wide engine table. Safe for concurrent use.
type Registry struct {
	entries map[string]Entry
	order   []string

	mu     sync.Mutex
	loaded map[string]engine.Engine
	group  singleflight.Group

	metrics *observe.Metrics
}

// New creates a Registry with the given entries. Entry IDs must be unique;
// a duplicate panics since it is a wiring bug, not a runtime condition.
func New(entries ...Entry) *Registry {
	r := &Registry{
		entries: make(map[string]Entry, len(entries)),
		loaded:  make(map[string]engine.Engine),
		metrics: observe.DefaultMetrics(),
	}
	for _, e := range entries {
		if _, dup := r.entries[e.ID]; dup {
			panic("registry: duplicate engine id " + e.ID)
		}
		r.entries[e.ID] = e
		r.order = append(r.order, e.ID)
	}
	return r
}

// Lookup returns the entry for id, or an invalid-input fault for unknown
// identifiers. Unknown engines are always a hard failure, never substituted.
func (r *Registry) Lookup(id string) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fault.Errorf(fault.InvalidInput, "unknown engine %q", id)
	}
	return e, nil
}

// GetOrLoad returns the live handle for id, loading it on first use.
// Concurrent callers for the same unloaded engine wait for one shared load
// and receive the same handle. A failed load leaves the engine unloaded so
// the next request retries from scratch.
func (r *Registry) GetOrLoad(ctx context.Context, id string) (engine.Engine, error) {
	entry, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if eng, ok := r.loaded[id]; ok {
		r.mu.Unlock()
		return eng, nil
	}
	r.mu.Unlock()

	// The load runs detached from the triggering request's deadline: a
	// caller timing out must not poison the load every waiter shares.
	loadCtx := context.WithoutCancel(ctx)

	v, err, _ := r.group.Do(id, func() (any, error) {
		r.mu.Lock()
		if eng, ok := r.loaded[id]; ok {
			r.mu.Unlock()
			return eng, nil
		}
		r.mu.Unlock()

		start := time.Now()
		eng, err := entry.Load(loadCtx)
		if err != nil {
			slog.Error("engine load failed", "engine", id, "error", err)
			return nil, err
		}
		loadDur := time.Since(start)
		slog.Info("engine loaded", "engine", id, "duration", loadDur)
		r.metrics.EngineLoadDuration.Record(loadCtx, loadDur.Seconds(),
			metric.WithAttributes(attribute.String("engine", id)))

		r.mu.Lock()
		r.loaded[id] = eng
		r.mu.Unlock()
		r.metrics.LoadedEngines.Add(loadCtx, 1)
		return eng, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(engine.Engine), nil
}

// Live returns a snapshot of the currently loaded handles keyed by engine
// id. The readiness probe uses it to ask each loaded engine whether it is
// still healthy; listing never triggers a load.
func (r *Registry) Live() map[string]engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]engine.Engine, len(r.loaded))
	for id, eng := range r.loaded {
		out[id] = eng
	}
	return out
}

// Loaded reports whether id currently has a live handle.
func (r *Registry) Loaded(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loaded[id]
	return ok
}

// MarkForReload drops the live handle for id so the next request loads a
// fresh one. Used after an inference failure that suggests corrupted model
// state. The stale handle is shut down in the background; in-flight calls
// holding it complete against the old handle.
func (r *Registry) MarkForReload(id string) {
	r.mu.Lock()
	eng, ok := r.loaded[id]
	delete(r.loaded, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	slog.Warn("engine marked for reload", "engine", id)
	r.metrics.LoadedEngines.Add(context.Background(), -1)
	go func() {
		if err := eng.Shutdown(); err != nil {
			slog.Warn("stale engine shutdown failed", "engine", id, "error", err)
		}
	}()
}

// Unload shuts down and forgets the handle for id. Safe to call when the
// engine was never loaded.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	eng, ok := r.loaded[id]
	delete(r.loaded, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	slog.Info("engine unloaded", "engine", id)
	r.metrics.LoadedEngines.Add(context.Background(), -1)
	return eng.Shutdown()
}

// UnloadAll releases every live engine, in parallel. Safe to call when
// nothing is loaded, and safe to call repeatedly; used by graceful shutdown.
func (r *Registry) UnloadAll(ctx context.Context) error {
	r.mu.Lock()
	live := make(map[string]engine.Engine, len(r.loaded))
	for id, eng := range r.loaded {
		live[id] = eng
	}
	r.loaded = make(map[string]engine.Engine)
	r.mu.Unlock()

	if len(live) > 0 {
		r.metrics.LoadedEngines.Add(ctx, -int64(len(live)))
	}

	g, _ := errgroup.WithContext(ctx)
	for id, eng := range live {
		g.Go(func() error {
			if err := eng.Shutdown(); err != nil {
				slog.Warn("engine shutdown failed", "engine", id, "error", err)
				return err
			}
			slog.Info("engine unloaded", "engine", id)
			return nil
		})
	}
	return g.Wait()
}

// Models lists all registered engines in registration order, for the
// /models endpoint. Listing never triggers a load.
func (r *Registry) Models() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		_, loaded := r.loaded[id]
		infos = append(infos, Info{ID: e.ID, Description: e.Description, Loaded: loaded})
	}
	return infos
}
