package query

import (
	"sync"
	"sync/atomic"

	"github.com/wbrown/janus-realm/realm/schema"
)

// PlanCache maps (type, predicate text) to compiled plans so that a text
// predicate run repeatedly is lexed, parsed and compiled once. Plans are
// immutable and may be shared between queries. When full, the least
// recently used plan is dropped.
type PlanCache struct {
	clock  uint64
	hits   int64
	misses int64

	mu      sync.RWMutex
	entries map[planKey]*planEntry
	limit   int
}

type planKey struct {
	typeName  string
	predicate string
}

type planEntry struct {
	lastUse uint64 // atomic
	plan    *Plan
}

// NewPlanCache creates a plan cache holding at most limit plans. A
// non-positive limit selects 256.
func NewPlanCache(limit int) *PlanCache {
	if limit <= 0 {
		limit = 256
	}
	return &PlanCache{entries: make(map[planKey]*planEntry), limit: limit}
}

// Get returns the cached plan for a predicate on typeName.
func (c *PlanCache) Get(typeName, predicate string) (*Plan, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[planKey{typeName, predicate}]
	c.mu.RUnlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	atomic.StoreUint64(&e.lastUse, atomic.AddUint64(&c.clock, 1))
	atomic.AddInt64(&c.hits, 1)
	return e.plan, true
}

// Set stores plan under (typeName, predicate).
func (c *PlanCache) Set(typeName, predicate string, plan *Plan) {
	if c == nil || plan == nil {
		return
	}
	k := planKey{typeName, predicate}
	e := &planEntry{plan: plan, lastUse: atomic.AddUint64(&c.clock, 1)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[k]; !ok && len(c.entries) >= c.limit {
		c.dropLeastRecent()
	}
	c.entries[k] = e
}

// Compile returns the cached plan for predicate, compiling and caching it
// on a miss. Failed compilations are not cached.
func (c *PlanCache) Compile(s *schema.Schema, typeName, predicate string) (*Plan, error) {
	if plan, ok := c.Get(typeName, predicate); ok {
		return plan, nil
	}
	b, err := ParsePredicate(s, typeName, predicate)
	if err != nil {
		return nil, err
	}
	plan, err := b.Compile()
	if err != nil {
		return nil, err
	}
	c.Set(typeName, predicate, plan)
	return plan, nil
}

// Clear drops every plan and zeroes the counters.
func (c *PlanCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[planKey]*planEntry)
	c.mu.Unlock()
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
}

// Stats reports lookups that hit, lookups that missed, and cached plans.
func (c *PlanCache) Stats() (hits, misses int64, size int) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.RLock()
	size = len(c.entries)
	c.mu.RUnlock()
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses), size
}

// dropLeastRecent must be called with mu held for writing.
func (c *PlanCache) dropLeastRecent() {
	var victim planKey
	var oldest uint64
	found := false
	for k, e := range c.entries {
		if use := atomic.LoadUint64(&e.lastUse); !found || use < oldest {
			victim, oldest, found = k, use, true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}
