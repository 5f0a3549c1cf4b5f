package storage

import (
	"sync"

	"github.com/wbrown/janus-realm/realm"
)

// linkRef names a link column that can point into some table.
type linkRef struct {
	table int
	col   int
	list  bool
}

// WriteTx is an exclusive write transaction against one coordinator. All
// mutations are applied to copy-on-write clones of the base snapshot's tables
// and become visible to other handles only after Commit.
type WriteTx struct {
	coord     *Coordinator
	base      *Snapshot
	tables    []*Table
	owned     []bool
	dirty     []map[realm.ObjKey]struct{}
	mutations uint64

	mu     sync.Mutex
	closed bool
}

func newWriteTx(c *Coordinator, base *Snapshot) *WriteTx {
	n := len(base.tables)
	w := &WriteTx{
		coord:  c,
		base:   base,
		tables: append([]*Table(nil), base.tables...),
		owned:  make([]bool, n),
		dirty:  make([]map[realm.ObjKey]struct{}, n),
	}
	return w
}

// Base returns the snapshot the transaction started from.
func (w *WriteTx) Base() *Snapshot {
	return w.base
}

// View returns a snapshot of the transaction's uncommitted state. The view
// is only valid until the next mutation.
func (w *WriteTx) View() *Snapshot {
	return &Snapshot{
		version: w.base.version,
		schema:  w.base.schema,
		tables:  append([]*Table(nil), w.tables...),
	}
}

// Mutations counts the changes applied so far.
func (w *WriteTx) Mutations() uint64 {
	return w.mutations
}

func (w *WriteTx) checkOpen(op string) error {
	if w.closed {
		return realm.Errorf(realm.KindIllegalState, op, "transaction is closed")
	}
	return nil
}

// table returns a mutable clone of table i.
func (w *WriteTx) table(i int) *Table {
	if !w.owned[i] {
		w.tables[i] = w.tables[i].clone()
		w.tables[i].modified = w.base.version + 1
		w.owned[i] = true
	} else {
		w.tables[i].invalidateIndexes()
	}
	return w.tables[i]
}

func (w *WriteTx) touch(t int, key realm.ObjKey) {
	if w.dirty[t] == nil {
		w.dirty[t] = make(map[realm.ObjKey]struct{})
	}
	w.dirty[t][key] = struct{}{}
	w.mutations++
}

// Create adds a new object with default values to table t.
func (w *WriteTx) Create(t int) (realm.ObjKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("create"); err != nil {
		return realm.NullKey, err
	}
	os := w.tables[t].schema
	if os.HasPrimaryKey() {
		return realm.NullKey, realm.Errorf(realm.KindIllegalState, "create",
			"type %q has a primary key; create objects with a primary key value", os.Name)
	}
	return w.create(t, nil), nil
}

// CreateWithPrimaryKey adds a new object whose primary key is pk. A value
// already held by another object fails with a primary key error; null counts
// as a value.
func (w *WriteTx) CreateWithPrimaryKey(t int, pk realm.Value) (realm.ObjKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("create"); err != nil {
		return realm.NullKey, err
	}
	os := w.tables[t].schema
	pkCol := os.PrimaryKey()
	if pkCol < 0 {
		return realm.NullKey, realm.Errorf(realm.KindIllegalState, "create",
			"type %q has no primary key", os.Name)
	}
	col := &os.Columns[pkCol]
	v, err := realm.Coerce(col.Type, pk)
	if err != nil {
		return realm.NullKey, err
	}
	if v == nil && !col.Nullable {
		return realm.NullKey, realm.Errorf(realm.KindInvalidArgument, "create",
			"primary key %q of type %q cannot be null", col.Name, os.Name)
	}
	if _, exists := w.tables[t].FindByPrimaryKey(v); exists {
		return realm.NullKey, realm.Errorf(realm.KindPrimaryKey, "create",
			"value %v already exists for primary key %q of type %q", v, col.Name, os.Name)
	}
	return w.create(t, v), nil
}

func (w *WriteTx) create(t int, pk realm.Value) realm.ObjKey {
	tbl := w.table(t)
	os := tbl.schema
	row := make(Row, len(os.Columns))
	for i := range os.Columns {
		c := &os.Columns[i]
		if c.Nullable {
			continue
		}
		row[i] = realm.ZeroValue(c.Type)
	}
	if pkCol := os.PrimaryKey(); pkCol >= 0 {
		row[pkCol] = pk
	}
	key := tbl.nextKey
	tbl.insert(key, row)
	w.touch(t, key)
	return key
}

// InsertRow stores a fully built row under an explicit key. It is used when
// loading persisted data and when copying objects between realms.
func (w *WriteTx) InsertRow(t int, row Row) (realm.ObjKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("insert"); err != nil {
		return realm.NullKey, err
	}
	os := w.tables[t].schema
	if len(row) != len(os.Columns) {
		return realm.NullKey, realm.Errorf(realm.KindInvalidArgument, "insert",
			"row has %d values, type %q has %d columns", len(row), os.Name, len(os.Columns))
	}
	if pkCol := os.PrimaryKey(); pkCol >= 0 {
		if _, exists := w.tables[t].FindByPrimaryKey(row[pkCol]); exists {
			return realm.NullKey, realm.Errorf(realm.KindPrimaryKey, "insert",
				"value %v already exists for primary key %q of type %q", row[pkCol], os.Columns[pkCol].Name, os.Name)
		}
	}
	tbl := w.table(t)
	key := tbl.nextKey
	tbl.insert(key, append(Row(nil), row...))
	w.touch(t, key)
	return key, nil
}

// rowForWrite returns a private copy of an object's row, installed in a
// mutable table.
func (w *WriteTx) rowForWrite(op string, t int, key realm.ObjKey) (*Table, Row, error) {
	if !w.tables[t].Has(key) {
		return nil, nil, realm.Errorf(realm.KindIllegalState, op,
			"object %s of type %q was deleted or never existed", key, w.tables[t].schema.Name)
	}
	tbl := w.table(t)
	row := append(Row(nil), tbl.rows[key]...)
	tbl.rows[key] = row
	return tbl, row, nil
}

// Set assigns an already coerced value to one column of an object.
func (w *WriteTx) Set(t int, key realm.ObjKey, col int, v realm.Value) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("set"); err != nil {
		return err
	}
	os := w.tables[t].schema
	if !w.tables[t].Has(key) {
		return realm.Errorf(realm.KindIllegalState, "set",
			"object %s of type %q was deleted or never existed", key, os.Name)
	}
	c := &os.Columns[col]
	if v == nil && !c.Nullable {
		if c.Type == realm.TypeLinkList {
			return realm.ErrLinkListNull
		}
		return realm.Errorf(realm.KindInvalidArgument, "set",
			"field %q of type %q is not nullable", c.Name, os.Name)
	}
	switch c.Type {
	case realm.TypeLink:
		if k, ok := v.(realm.ObjKey); ok {
			if err := w.checkTarget("set", c.Target, k); err != nil {
				return err
			}
		}
	case realm.TypeLinkList:
		keys, _ := v.([]realm.ObjKey)
		for _, k := range keys {
			if err := w.checkTarget("set", c.Target, k); err != nil {
				return err
			}
		}
		v = append([]realm.ObjKey{}, keys...)
	}
	if col == os.PrimaryKey() {
		current, _ := w.tables[t].Value(key, col)
		if realm.ValuesEqual(current, v) {
			return nil
		}
		return realm.Errorf(realm.KindInvalidArgument, "set",
			"primary key %q of type %q cannot be changed after the object was created", c.Name, os.Name)
	}

	_, row, err := w.rowForWrite("set", t, key)
	if err != nil {
		return err
	}
	row[col] = v
	w.touch(t, key)
	return nil
}

func (w *WriteTx) checkTarget(op, typeName string, k realm.ObjKey) error {
	target, err := w.base.schema.Object(typeName)
	if err != nil {
		return err
	}
	if !w.tables[target.Index()].Has(k) {
		return realm.Errorf(realm.KindInvalidArgument, op,
			"link target %s of type %q does not exist", k, typeName)
	}
	return nil
}

func (w *WriteTx) listForWrite(op string, t int, key realm.ObjKey, col int) (Row, []realm.ObjKey, error) {
	os := w.tables[t].schema
	if os.Columns[col].Type != realm.TypeLinkList {
		return nil, nil, realm.Errorf(realm.KindInvalidArgument, op,
			"field %q of type %q is not a list", os.Columns[col].Name, os.Name)
	}
	_, row, err := w.rowForWrite(op, t, key)
	if err != nil {
		return nil, nil, err
	}
	list, _ := row[col].([]realm.ObjKey)
	return row, append([]realm.ObjKey{}, list...), nil
}

func checkListIndex(op string, index, size int) error {
	if index < 0 || index >= size {
		return realm.Errorf(realm.KindInvalidArgument, op, "index %d out of range for list of size %d", index, size)
	}
	return nil
}

// ListInsert inserts target at index; index == len appends.
func (w *WriteTx) ListInsert(t int, key realm.ObjKey, col, index int, target realm.ObjKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("list insert"); err != nil {
		return err
	}
	if err := w.checkTarget("list insert", w.tables[t].schema.Columns[col].Target, target); err != nil {
		return err
	}
	row, list, err := w.listForWrite("list insert", t, key, col)
	if err != nil {
		return err
	}
	if index < 0 || index > len(list) {
		return realm.Errorf(realm.KindInvalidArgument, "list insert", "index %d out of range for list of size %d", index, len(list))
	}
	list = append(list, realm.NullKey)
	copy(list[index+1:], list[index:])
	list[index] = target
	row[col] = list
	w.touch(t, key)
	return nil
}

// ListSet replaces the element at index.
func (w *WriteTx) ListSet(t int, key realm.ObjKey, col, index int, target realm.ObjKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("list set"); err != nil {
		return err
	}
	if err := w.checkTarget("list set", w.tables[t].schema.Columns[col].Target, target); err != nil {
		return err
	}
	row, list, err := w.listForWrite("list set", t, key, col)
	if err != nil {
		return err
	}
	if err := checkListIndex("list set", index, len(list)); err != nil {
		return err
	}
	list[index] = target
	row[col] = list
	w.touch(t, key)
	return nil
}

// ListRemove removes the element at index.
func (w *WriteTx) ListRemove(t int, key realm.ObjKey, col, index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("list remove"); err != nil {
		return err
	}
	row, list, err := w.listForWrite("list remove", t, key, col)
	if err != nil {
		return err
	}
	if err := checkListIndex("list remove", index, len(list)); err != nil {
		return err
	}
	row[col] = append(list[:index], list[index+1:]...)
	w.touch(t, key)
	return nil
}

// ListMove moves the element at from so that it ends up at to.
func (w *WriteTx) ListMove(t int, key realm.ObjKey, col, from, to int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("list move"); err != nil {
		return err
	}
	row, list, err := w.listForWrite("list move", t, key, col)
	if err != nil {
		return err
	}
	if err := checkListIndex("list move", from, len(list)); err != nil {
		return err
	}
	if err := checkListIndex("list move", to, len(list)); err != nil {
		return err
	}
	moved := list[from]
	list = append(list[:from], list[from+1:]...)
	list = append(list, realm.NullKey)
	copy(list[to+1:], list[to:])
	list[to] = moved
	row[col] = list
	w.touch(t, key)
	return nil
}

// ListClear empties a list. The linked objects are not deleted.
func (w *WriteTx) ListClear(t int, key realm.ObjKey, col int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("list clear"); err != nil {
		return err
	}
	row, _, err := w.listForWrite("list clear", t, key, col)
	if err != nil {
		return err
	}
	row[col] = []realm.ObjKey{}
	w.touch(t, key)
	return nil
}

// Delete removes an object. Links to it become null and list entries
// referencing it are removed.
func (w *WriteTx) Delete(t int, key realm.ObjKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("delete"); err != nil {
		return err
	}
	if !w.tables[t].Has(key) {
		return realm.Errorf(realm.KindIllegalState, "delete",
			"object %s of type %q was already deleted", key, w.tables[t].schema.Name)
	}
	w.deleteKeys(t, map[realm.ObjKey]struct{}{key: {}})
	return nil
}

// DeleteAll removes every object of table t.
func (w *WriteTx) DeleteAll(t int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("delete all"); err != nil {
		return err
	}
	if w.tables[t].Len() == 0 {
		return nil
	}
	keys := make(map[realm.ObjKey]struct{}, w.tables[t].Len())
	for _, k := range w.tables[t].keys {
		keys[k] = struct{}{}
	}
	w.deleteKeys(t, keys)
	return nil
}

func (w *WriteTx) deleteKeys(t int, keys map[realm.ObjKey]struct{}) {
	tbl := w.table(t)
	for k := range keys {
		tbl.remove(k)
		w.touch(t, k)
	}
	w.unlink(t, keys)
}

// unlink clears every reference into table target that points at a deleted key.
func (w *WriteTx) unlink(target int, deleted map[realm.ObjKey]struct{}) {
	for _, ref := range w.coord.inbound[target] {
		src := w.tables[ref.table]
		for _, k := range src.keys {
			switch v := src.rows[k][ref.col].(type) {
			case realm.ObjKey:
				if _, gone := deleted[v]; !gone {
					continue
				}
				tbl := w.table(ref.table)
				src = tbl
				row := append(Row(nil), tbl.rows[k]...)
				row[ref.col] = nil
				tbl.rows[k] = row
				w.touch(ref.table, k)
			case []realm.ObjKey:
				kept := make([]realm.ObjKey, 0, len(v))
				for _, item := range v {
					if _, gone := deleted[item]; !gone {
						kept = append(kept, item)
					}
				}
				if len(kept) == len(v) {
					continue
				}
				tbl := w.table(ref.table)
				src = tbl
				row := append(Row(nil), tbl.rows[k]...)
				row[ref.col] = kept
				tbl.rows[k] = row
				w.touch(ref.table, k)
			}
		}
	}
}

// Commit publishes the transaction as a new version.
func (w *WriteTx) Commit() (*Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen("commit"); err != nil {
		return nil, err
	}
	w.closed = true
	return w.coord.commit(w)
}

// Rollback discards every change and releases the writer slot.
func (w *WriteTx) Rollback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.coord.release(w)
}

// delta collects the rows changed by the transaction for persistence.
func (w *WriteTx) delta(version uint64) *Delta {
	d := &Delta{Version: version}
	for i, keys := range w.dirty {
		if len(keys) == 0 {
			continue
		}
		tbl := w.tables[i]
		td := TableDelta{
			Table:   tbl.schema.Name,
			Schema:  tbl.schema,
			NextKey: tbl.nextKey,
			Upserts: make(map[realm.ObjKey]Row),
		}
		for k := range keys {
			if row, ok := tbl.rows[k]; ok {
				td.Upserts[k] = row
			} else {
				td.Deletes = append(td.Deletes, k)
			}
		}
		d.Tables = append(d.Tables, td)
	}
	return d
}
