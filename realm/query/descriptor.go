package query

import (
	"sort"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
	"github.com/wbrown/janus-realm/realm/storage"
)

// Descriptor is a view modifier layered on a predicate result.
type Descriptor interface {
	Apply(snap *storage.Snapshot, keys []realm.ObjKey) []realm.ObjKey
	String() string
}

// ApplyDescriptors applies ds to keys in order.
func ApplyDescriptors(snap *storage.Snapshot, keys []realm.ObjKey, ds []Descriptor) []realm.ObjKey {
	for _, d := range ds {
		keys = d.Apply(snap, keys)
	}
	return keys
}

func hasDistinct(ds []Descriptor) bool {
	for _, d := range ds {
		if _, ok := d.(*DistinctDescriptor); ok {
			return true
		}
	}
	return false
}

// SortDescriptor orders keys by one or more direct columns.
type SortDescriptor struct {
	table   int
	columns []int
	names   []string
	orders  []Order
}

// NewSortDescriptor validates a multi-key sort over o.
func NewSortDescriptor(s *schema.Schema, o *schema.ObjectSchema, fields []string, orders []Order) (*SortDescriptor, error) {
	const op = "sort"
	if len(fields) == 0 {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "at least one field name required")
	}
	if len(orders) == 0 {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "at least one sort order required")
	}
	if len(fields) != len(orders) {
		return nil, realm.Errorf(realm.KindInvalidArgument, op,
			"number of fields (%d) and sort orders (%d) do not match", len(fields), len(orders))
	}
	d := &SortDescriptor{table: o.Index(), orders: append([]Order(nil), orders...)}
	for _, f := range fields {
		p, err := s.ResolvePath(o.Name, f)
		if err != nil {
			return nil, relabel(err, op)
		}
		if !p.IsDirect() {
			return nil, realm.Errorf(realm.KindInvalidArgument, op, "sorting across links is not supported (field %q)", f)
		}
		if !p.Col.Sortable() {
			return nil, realm.Errorf(realm.KindInvalidArgument, op, "field %q of type %s cannot be sorted", f, p.Col.Type)
		}
		d.columns = append(d.columns, p.Column)
		d.names = append(d.names, f)
	}
	return d, nil
}

// Apply returns a stably sorted copy of keys. Nulls order below every value.
func (d *SortDescriptor) Apply(snap *storage.Snapshot, keys []realm.ObjKey) []realm.ObjKey {
	t := snap.Table(d.table)
	out := append([]realm.ObjKey(nil), keys...)
	rows := make([]storage.Row, len(out))
	for i, k := range out {
		rows[i], _ = t.Row(k)
	}
	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := rows[idx[a]], rows[idx[b]]
		for i, col := range d.columns {
			var va, vb realm.Value
			if ra != nil {
				va = ra[col]
			}
			if rb != nil {
				vb = rb[col]
			}
			c := realm.CompareValues(va, vb)
			if c == 0 {
				continue
			}
			if d.orders[i] == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	sorted := make([]realm.ObjKey, len(out))
	for i, j := range idx {
		sorted[i] = out[j]
	}
	return sorted
}

func (d *SortDescriptor) String() string {
	parts := make([]string, len(d.names))
	for i, n := range d.names {
		parts[i] = n + " " + d.orders[i].String()
	}
	return "SORT(" + strings.Join(parts, ", ") + ")"
}

// DistinctDescriptor keeps the first key per distinct tuple of columns.
type DistinctDescriptor struct {
	table   int
	columns []int
	names   []string
}

// NewDistinctDescriptor validates a distinct over indexed Bool, Int, Date or
// String columns of o.
func NewDistinctDescriptor(s *schema.Schema, o *schema.ObjectSchema, fields []string) (*DistinctDescriptor, error) {
	const op = "distinct"
	if len(fields) == 0 {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "at least one field name required")
	}
	d := &DistinctDescriptor{table: o.Index()}
	for _, f := range fields {
		p, err := s.ResolvePath(o.Name, f)
		if err != nil {
			return nil, relabel(err, op)
		}
		if !p.IsDirect() {
			return nil, realm.Errorf(realm.KindInvalidArgument, op, "distinct across links is not supported (field %q)", f)
		}
		if !p.Col.Distinctable() {
			return nil, realm.Errorf(realm.KindInvalidArgument, op, "distinct is not supported for field %q of type %s", f, p.Col.Type)
		}
		if !p.Col.Indexed {
			return nil, realm.Errorf(realm.KindInvalidArgument, op, "field %q must be indexed", f)
		}
		d.columns = append(d.columns, p.Column)
		d.names = append(d.names, f)
	}
	return d, nil
}

// Apply drops every key whose tuple was already seen, keeping key order.
func (d *DistinctDescriptor) Apply(snap *storage.Snapshot, keys []realm.ObjKey) []realm.ObjKey {
	t := snap.Table(d.table)
	seen := make(map[uint64][]storage.Row)
	out := make([]realm.ObjKey, 0, len(keys))
	buf := make([]byte, 0, 64)
	for _, k := range keys {
		row, ok := t.Row(k)
		if !ok {
			continue
		}
		buf = buf[:0]
		for _, col := range d.columns {
			buf, _ = realm.AppendValue(buf, row[col])
		}
		h := murmur3.Sum64(buf)
		dup := false
		for _, prev := range seen[h] {
			if d.sameTuple(prev, row) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[h] = append(seen[h], row)
		out = append(out, k)
	}
	return out
}

func (d *DistinctDescriptor) sameTuple(a, b storage.Row) bool {
	for _, col := range d.columns {
		if !realm.ValuesEqual(a[col], b[col]) {
			return false
		}
	}
	return true
}

func (d *DistinctDescriptor) String() string {
	return "DISTINCT(" + strings.Join(d.names, ", ") + ")"
}
