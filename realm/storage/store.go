package storage

import (
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Backend persists committed versions of a realm file
type Backend interface {
	// Load reads the last committed state, or an empty snapshot for a new file
	Load(s *schema.Schema) (*Snapshot, error)

	// Persist durably writes one commit before it becomes visible
	Persist(d *Delta) error

	// Lifecycle
	Close() error
}

// Delta is the set of rows changed by one commit.
type Delta struct {
	Version uint64
	Tables  []TableDelta
}

// TableDelta holds the changes to one table.
type TableDelta struct {
	Table   string
	Schema  *schema.ObjectSchema
	NextKey realm.ObjKey
	Upserts map[realm.ObjKey]Row
	Deletes []realm.ObjKey
}

// Empty reports whether the delta changes no rows.
func (d *Delta) Empty() bool {
	for _, t := range d.Tables {
		if len(t.Upserts) > 0 || len(t.Deletes) > 0 {
			return false
		}
	}
	return true
}
