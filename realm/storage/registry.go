package storage

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// OpenOptions identifies a realm file and how to open it.
type OpenOptions struct {
	Path     string
	InMemory bool
	Schema   *schema.Schema
	Badger   BadgerOptions
	Logger   *slog.Logger
}

// Registry maps canonical realm paths to their coordinators. Handles on the
// same path share a coordinator; it is closed when the last handle releases it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Coordinator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Coordinator)}
}

// DefaultRegistry is the process-wide registry used unless one is injected.
var DefaultRegistry = NewRegistry()

// CanonicalPath returns the registry key for a path.
func CanonicalPath(path string, inMemory bool) (string, error) {
	if inMemory {
		return "mem:" + path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", realm.Wrap(realm.KindIO, "open", err, "cannot resolve path %q", path)
	}
	return filepath.Clean(abs), nil
}

// Acquire returns the coordinator for the path, opening it on first use. A
// schema that differs from the one already open on the path fails with a
// schema error. Failed opens are not cached.
func (r *Registry) Acquire(opts OpenOptions) (*Coordinator, error) {
	if opts.Schema == nil {
		return nil, realm.Errorf(realm.KindSchema, "open", "a schema is required")
	}
	key, err := CanonicalPath(opts.Path, opts.InMemory)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.entries[key]; ok {
		if !c.schema.Equal(opts.Schema) {
			return nil, realm.Errorf(realm.KindSchema, "open", "path %s is already open with a different schema", key)
		}
		c.refs++
		return c, nil
	}

	var backend Backend
	if !opts.InMemory {
		store, err := NewBadgerStore(key, opts.Badger)
		if err != nil {
			return nil, err
		}
		backend = store
	}
	c, err := newCoordinator(key, opts.Schema, backend, logger)
	if err != nil {
		if backend != nil {
			backend.Close()
		}
		return nil, err
	}
	c.refs = 1
	r.entries[key] = c
	logger.Debug("realm file opened", "path", key, "version", c.Latest().Version())
	return c, nil
}

// Release drops one reference; the last one closes the coordinator.
func (r *Registry) Release(c *Coordinator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[c.path] != c {
		return nil
	}
	c.refs--
	if c.refs > 0 {
		return nil
	}
	delete(r.entries, c.path)
	if err := c.close(); err != nil {
		return realm.Wrap(realm.KindIO, "close", err, "failed to close %s", c.path)
	}
	return nil
}

// Refs returns the number of open handles on a canonical path.
func (r *Registry) Refs(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.entries[path]; ok {
		return c.refs
	}
	return 0
}

// Len returns the number of open paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
