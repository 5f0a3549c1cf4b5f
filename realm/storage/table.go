package storage

import (
	"sort"
	"sync"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Row holds the column values of one object, indexed like the schema columns.
type Row []realm.Value

// pkKey is the normalized primary key used by the primary key index.
type pkKey struct {
	null bool
	i    int64
	s    string
}

func makePKKey(v realm.Value) pkKey {
	switch val := v.(type) {
	case nil:
		return pkKey{null: true}
	case int64:
		return pkKey{i: val}
	case string:
		return pkKey{s: val}
	}
	return pkKey{null: true}
}

// Table is the object data of one type at one version. Committed tables are
// immutable and shared between snapshots; a write transaction clones a table
// the first time it mutates it.
type Table struct {
	schema   *schema.ObjectSchema
	keys     []realm.ObjKey // ascending, which is insertion order
	rows     map[realm.ObjKey]Row
	nextKey  realm.ObjKey
	pk       map[pkKey]realm.ObjKey
	modified uint64 // version that last changed the table

	idxMu   sync.Mutex
	indexes map[int]*ValueIndex
}

func newTable(os *schema.ObjectSchema) *Table {
	t := &Table{
		schema: os,
		rows:   make(map[realm.ObjKey]Row),
	}
	if os.HasPrimaryKey() {
		t.pk = make(map[pkKey]realm.ObjKey)
	}
	return t
}

func (t *Table) clone() *Table {
	nt := &Table{
		schema:   t.schema,
		keys:     append([]realm.ObjKey(nil), t.keys...),
		rows:     make(map[realm.ObjKey]Row, len(t.rows)),
		nextKey:  t.nextKey,
		modified: t.modified,
	}
	for k, r := range t.rows {
		nt.rows[k] = r
	}
	if t.pk != nil {
		nt.pk = make(map[pkKey]realm.ObjKey, len(t.pk))
		for k, v := range t.pk {
			nt.pk[k] = v
		}
	}
	return nt
}

// Schema returns the object schema of the table.
func (t *Table) Schema() *schema.ObjectSchema {
	return t.schema
}

// Len returns the number of objects.
func (t *Table) Len() int {
	return len(t.keys)
}

// Keys returns the object keys in scan order. The slice must not be modified.
func (t *Table) Keys() []realm.ObjKey {
	return t.keys
}

// Modified is the version that last changed the table.
func (t *Table) Modified() uint64 {
	return t.modified
}

// NextKey is the key the next created object will receive.
func (t *Table) NextKey() realm.ObjKey {
	return t.nextKey
}

// Has reports whether the object exists.
func (t *Table) Has(key realm.ObjKey) bool {
	_, ok := t.rows[key]
	return ok
}

// Row returns the values of an object. The row must not be modified.
func (t *Table) Row(key realm.ObjKey) (Row, bool) {
	r, ok := t.rows[key]
	return r, ok
}

// Value returns one column of an object; ok is false when the object is gone.
func (t *Table) Value(key realm.ObjKey, col int) (realm.Value, bool) {
	r, ok := t.rows[key]
	if !ok {
		return nil, false
	}
	return r[col], true
}

// FindByPrimaryKey looks up an object by primary key value.
func (t *Table) FindByPrimaryKey(v realm.Value) (realm.ObjKey, bool) {
	if t.pk == nil {
		return realm.NullKey, false
	}
	k, ok := t.pk[makePKKey(v)]
	return k, ok
}

// Index returns the value index of a column, building it on first use.
func (t *Table) Index(col int) *ValueIndex {
	t.idxMu.Lock()
	defer t.idxMu.Unlock()

	if idx, ok := t.indexes[col]; ok {
		return idx
	}
	idx := buildValueIndex(t, col)
	if t.indexes == nil {
		t.indexes = make(map[int]*ValueIndex)
	}
	t.indexes[col] = idx
	return idx
}

func (t *Table) invalidateIndexes() {
	t.idxMu.Lock()
	t.indexes = nil
	t.idxMu.Unlock()
}

func (t *Table) insert(key realm.ObjKey, row Row) {
	t.keys = append(t.keys, key)
	t.rows[key] = row
	if key >= t.nextKey {
		t.nextKey = key + 1
	}
	if pk := t.schema.PrimaryKey(); pk >= 0 {
		t.pk[makePKKey(row[pk])] = key
	}
}

func (t *Table) remove(key realm.ObjKey) {
	row, ok := t.rows[key]
	if !ok {
		return
	}
	if pk := t.schema.PrimaryKey(); pk >= 0 {
		delete(t.pk, makePKKey(row[pk]))
	}
	delete(t.rows, key)
	i := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= key })
	if i < len(t.keys) && t.keys[i] == key {
		t.keys = append(t.keys[:i], t.keys[i+1:]...)
	}
}
