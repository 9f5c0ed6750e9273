// Package catalog keeps the list of models offered by the chat backend.
package catalog

import (
	"context"
	"slices"
	"sync"

	"StreamChat/internal/session"
)

// Lister fetches the model list from the backend
type Lister interface {
	ListModels(ctx context.Context) ([]session.Model, error)
}

// Catalog holds the last fetched model list and the last load error
type Catalog struct {
	mu       sync.RWMutex
	models   []session.Model
	err      error
	loaded   bool
	fallback session.Model
}

// New creates an empty catalog. fallback is offered when no models are known.
func New(fallback session.Model) *Catalog {
	return &Catalog{fallback: fallback}
}

// Load fetches models and reports whether the catalog went from empty to
// non-empty with this call. On failure the previous models are kept.
func (c *Catalog) Load(ctx context.Context, l Lister) (bool, error) {
	models, err := l.ListModels(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = true
	if err != nil {
		c.err = err
		return false, err
	}
	wasEmpty := len(c.models) == 0
	c.models = slices.Clone(models)
	c.err = nil
	return wasEmpty && len(c.models) > 0, nil
}

// Models returns the fetched models, possibly empty
func (c *Catalog) Models() []session.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.models)
}

// Options returns the models to offer for selection: the fetched list, or the
// fallback entry when the list is empty.
func (c *Catalog) Options() []session.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.models) == 0 {
		return []session.Model{c.fallback}
	}
	return slices.Clone(c.models)
}

// DefaultModelID is the first catalog entry, or the fallback id
func (c *Catalog) DefaultModelID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.models) == 0 {
		return c.fallback.ID
	}
	return c.models[0].ID
}

// Contains reports whether id is a known model
func (c *Catalog) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.ContainsFunc(c.models, func(m session.Model) bool { return m.ID == id })
}

// DisplayName returns the model's name, or the id itself when unknown
func (c *Catalog) DisplayName(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if m.ID == id {
			return m.Name
		}
	}
	if id == "" {
		return "-"
	}
	return id
}

// Err returns the error of the last load, if it failed
func (c *Catalog) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Loaded reports whether a load has completed, successfully or not
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}
