// Package confine ties handles to the goroutine that created them.
//
// Go has no thread identity, so a Guard records the id of the creating
// goroutine and compares it on entry to every guarded method.
package confine

import (
	"github.com/petermattis/goid"

	"github.com/wbrown/janus-realm/realm"
)

// Guard is the owner token embedded in every confined handle.
type Guard struct {
	owner int64
}

// NewGuard returns a guard owned by the calling goroutine.
func NewGuard() Guard {
	return Guard{owner: GoroutineID()}
}

// Owner returns the id of the owning goroutine.
func (g Guard) Owner() int64 {
	return g.owner
}

// Owned reports whether the calling goroutine owns the guard.
func (g Guard) Owned() bool {
	return g.owner == GoroutineID()
}

// Check fails with a wrong-thread error when called from a goroutine other
// than the owner. op names the rejected operation.
func (g Guard) Check(op string) error {
	if id := GoroutineID(); id != g.owner {
		return realm.Errorf(realm.KindWrongThread, op,
			"handle created on goroutine %d cannot be used from goroutine %d", g.owner, id)
	}
	return nil
}

// GoroutineID returns the id of the calling goroutine.
func GoroutineID() int64 {
	return goid.Get()
}
