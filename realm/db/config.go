package db

import (
	"log/slog"

	"github.com/wbrown/janus-realm/realm/annotations"
	"github.com/wbrown/janus-realm/realm/schema"
	"github.com/wbrown/janus-realm/realm/storage"
)

// Config controls how a realm is opened.
type Config struct {
	// Path is the badger directory, or the realm name when InMemory is set.
	Path string
	// InMemory keeps every version in memory; nothing is written to disk.
	InMemory bool
	// Schema is required and must match the schema stored at Path.
	Schema *schema.Schema
	// ReadOnly rejects write transactions.
	ReadOnly bool

	// Registry shares versions between handles on the same path.
	// Defaults to storage.DefaultRegistry.
	Registry *storage.Registry
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Annotations receives transaction, query and notification events.
	Annotations annotations.Handler
	// Badger tunes the on-disk store.
	Badger storage.BadgerOptions
}

// DefaultConfig returns a file-backed configuration with default badger
// options.
func DefaultConfig(path string, s *schema.Schema) Config {
	return Config{
		Path:   path,
		Schema: s,
		Badger: storage.DefaultBadgerOptions(),
	}
}

// InMemoryConfig returns a configuration for a named in-memory realm. Handles
// opened with the same name and registry share data.
func InMemoryConfig(name string, s *schema.Schema) Config {
	return Config{
		Path:     name,
		InMemory: true,
		Schema:   s,
	}
}

func (c Config) registry() *storage.Registry {
	if c.Registry != nil {
		return c.Registry
	}
	return storage.DefaultRegistry
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
