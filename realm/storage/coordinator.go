package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/confine"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Coordinator is the process-wide state of one realm file: the latest
// committed snapshot, the single writer slot and the change broadcast. All
// handles opened on the same path share one coordinator.
type Coordinator struct {
	path    string
	schema  *schema.Schema
	backend Backend
	logger  *slog.Logger
	inbound [][]linkRef

	mu      sync.RWMutex
	latest  *Snapshot
	changed chan struct{}

	writer      chan struct{}
	active      *WriteTx
	activeOwner int64 // goroutine holding the writer slot

	refs int // guarded by the owning registry
}

func newCoordinator(path string, s *schema.Schema, backend Backend, logger *slog.Logger) (*Coordinator, error) {
	c := &Coordinator{
		path:    path,
		schema:  s,
		backend: backend,
		logger:  logger,
		inbound: inboundLinks(s),
		changed: make(chan struct{}),
		writer:  make(chan struct{}, 1),
	}
	if backend == nil {
		c.latest = emptySnapshot(s)
		return c, nil
	}
	snap, err := backend.Load(s)
	if err != nil {
		return nil, err
	}
	c.latest = snap
	return c, nil
}

func inboundLinks(s *schema.Schema) [][]linkRef {
	in := make([][]linkRef, s.Len())
	for _, o := range s.Objects() {
		for ci, c := range o.Columns {
			if !c.Type.IsLink() {
				continue
			}
			target, err := s.Object(c.Target)
			if err != nil {
				continue
			}
			in[target.Index()] = append(in[target.Index()], linkRef{
				table: o.Index(),
				col:   ci,
				list:  c.Type == realm.TypeLinkList,
			})
		}
	}
	return in
}

// Path returns the canonical path the coordinator is registered under.
func (c *Coordinator) Path() string {
	return c.path
}

// Schema returns the schema shared by every handle on the path.
func (c *Coordinator) Schema() *schema.Schema {
	return c.schema
}

// Persistent reports whether commits are written to disk.
func (c *Coordinator) Persistent() bool {
	return c.backend != nil
}

// Latest returns the newest committed snapshot.
func (c *Coordinator) Latest() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Changed returns a channel that is closed by the next commit.
func (c *Coordinator) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// BeginWrite takes the writer slot, waiting for other writers to finish, and
// starts a transaction on the latest snapshot. A goroutine that already holds
// the slot through another handle fails at once instead of waiting on itself.
func (c *Coordinator) BeginWrite(ctx context.Context) (*WriteTx, error) {
	me := confine.GoroutineID()
	c.mu.RLock()
	self := c.active != nil && c.activeOwner == me
	c.mu.RUnlock()
	if self {
		return nil, realm.Errorf(realm.KindIllegalState, "begin write",
			"goroutine %d already holds the write transaction on %s", me, c.path)
	}

	select {
	case c.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, realm.Wrap(realm.KindIllegalState, "begin write", ctx.Err(), "gave up waiting for the writer slot")
	}

	tx := newWriteTx(c, c.Latest())
	c.mu.Lock()
	c.active = tx
	c.activeOwner = me
	c.mu.Unlock()
	return tx, nil
}

// commit persists and publishes a transaction. On a persistence failure
// nothing becomes visible and the writer slot is released.
func (c *Coordinator) commit(w *WriteTx) (*Snapshot, error) {
	defer c.release(w)

	version := w.base.version + 1
	if c.backend != nil {
		if err := c.backend.Persist(w.delta(version)); err != nil {
			c.logger.Error("commit failed", "path", c.path, "version", version, "error", err)
			return nil, err
		}
	}

	snap := &Snapshot{
		version: version,
		schema:  c.schema,
		tables:  w.tables,
	}

	c.mu.Lock()
	c.latest = snap
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	c.logger.Debug("committed", "path", c.path, "version", version, "mutations", w.mutations)
	return snap, nil
}

func (c *Coordinator) release(w *WriteTx) {
	c.mu.Lock()
	if c.active != w {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.activeOwner = 0
	c.mu.Unlock()
	<-c.writer
}

func (c *Coordinator) close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
