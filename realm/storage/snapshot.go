package storage

import (
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Snapshot is an immutable, consistent view of every table at one committed
// version. Snapshots share unchanged tables with their predecessors.
type Snapshot struct {
	version uint64
	schema  *schema.Schema
	tables  []*Table
}

func emptySnapshot(s *schema.Schema) *Snapshot {
	snap := &Snapshot{schema: s, tables: make([]*Table, s.Len())}
	for i, o := range s.Objects() {
		snap.tables[i] = newTable(o)
	}
	return snap
}

// Version returns the commit version the snapshot reflects.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Schema returns the schema the snapshot was built for.
func (s *Snapshot) Schema() *schema.Schema {
	return s.schema
}

// Table returns the table at index i.
func (s *Snapshot) Table(i int) *Table {
	return s.tables[i]
}

// TableByName returns the table of the named type.
func (s *Snapshot) TableByName(name string) (*Table, error) {
	o, err := s.schema.Object(name)
	if err != nil {
		return nil, err
	}
	return s.tables[o.Index()], nil
}

// Empty reports whether no table holds any object.
func (s *Snapshot) Empty() bool {
	for _, t := range s.tables {
		if t.Len() > 0 {
			return false
		}
	}
	return true
}

// Value reads one column of an object in table t.
func (s *Snapshot) Value(t int, key realm.ObjKey, col int) (realm.Value, bool) {
	return s.tables[t].Value(key, col)
}

// checkPrimaryKeys fails when a loaded table holds duplicate primary keys.
func (s *Snapshot) checkPrimaryKeys() error {
	for _, t := range s.tables {
		pk := t.schema.PrimaryKey()
		if pk < 0 {
			continue
		}
		if len(t.pk) != len(t.keys) {
			return realm.Errorf(realm.KindSchema, "open",
				"type %q holds duplicate values for primary key %q", t.schema.Name, t.schema.Columns[pk].Name)
		}
	}
	return nil
}
