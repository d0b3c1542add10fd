// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/tejzpr/palmem/internal/store"
	"gorm.io/gorm"
)

// Factory builds the engine of one streamer
type Factory func(ctx context.Context, streamer string) (*Engine, error)

// NewFactory returns a Factory creating store-backed engines on db
func NewFactory(db *gorm.DB, settings *store.Settings, cfg Config, storeOpts []store.Option, opts ...Option) Factory {
	return func(ctx context.Context, streamer string) (*Engine, error) {
		st, err := store.New(db, streamer, storeOpts...)
		if err != nil {
			return nil, err
		}
		return New(ctx, st, settings, cfg, opts...)
	}
}

// Registry caches one engine per streamer
type Registry struct {
	factory    Factory
	engines    map[string]*Engine
	enginesMux sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		engines: make(map[string]*Engine),
	}
}

// Get opens or returns the engine of streamer
func (r *Registry) Get(ctx context.Context, streamer string) (*Engine, error) {
	streamer = strings.TrimSpace(streamer)
	if streamer == "" {
		return nil, goerr.Wrap(store.ErrInvalidRecord, "streamer is required")
	}

	// Check cache first
	r.enginesMux.RLock()
	if e, ok := r.engines[streamer]; ok {
		r.enginesMux.RUnlock()
		return e, nil
	}
	r.enginesMux.RUnlock()

	r.enginesMux.Lock()
	defer r.enginesMux.Unlock()

	// Double-check after acquiring write lock
	if e, ok := r.engines[streamer]; ok {
		return e, nil
	}

	e, err := r.factory(ctx, streamer)
	if err != nil {
		return nil, err
	}
	r.engines[streamer] = e
	return e, nil
}

// Streamers returns the streamers with an open engine, sorted
func (r *Registry) Streamers() []string {
	r.enginesMux.RLock()
	defer r.enginesMux.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MaintainAll runs Maintain on every open engine
func (r *Registry) MaintainAll(ctx context.Context) error {
	var errs []error
	for _, e := range r.snapshot() {
		if _, err := e.Maintain(ctx); err != nil {
			errs = append(errs, goerr.Wrap(err, "maintenance failed", goerr.V("streamer", e.Streamer())))
		}
	}
	return errors.Join(errs...)
}

// Evict closes and forgets the engine of streamer without flushing it, so
// the next Get rebuilds it from the store. It reports whether one was open.
func (r *Registry) Evict(streamer string) bool {
	streamer = strings.TrimSpace(streamer)

	r.enginesMux.Lock()
	e, ok := r.engines[streamer]
	delete(r.engines, streamer)
	r.enginesMux.Unlock()

	if ok {
		e.Close()
	}
	return ok
}

// Shutdown shuts every engine down and empties the registry
func (r *Registry) Shutdown(ctx context.Context) error {
	r.enginesMux.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.enginesMux.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, goerr.Wrap(err, "shutdown failed", goerr.V("streamer", e.Streamer())))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) snapshot() []*Engine {
	r.enginesMux.RLock()
	defer r.enginesMux.RUnlock()

	engines := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		engines = append(engines, e)
	}
	return engines
}
