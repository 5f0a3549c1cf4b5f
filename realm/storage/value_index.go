package storage

import (
	"github.com/spaolacci/murmur3"

	"github.com/wbrown/janus-realm/realm"
)

// ValueIndex maps column values to the objects holding them. Buckets are keyed
// by the murmur3 hash of the encoded value; lookups confirm equality.
type ValueIndex struct {
	col     int
	buckets map[uint64][]realm.ObjKey
	values  map[realm.ObjKey]realm.Value
}

// HashValue returns the murmur3 hash of the encoded form of v.
func HashValue(v realm.Value) uint64 {
	buf, err := realm.AppendValue(make([]byte, 0, 16), v)
	if err != nil {
		return 0
	}
	return murmur3.Sum64(buf)
}

func buildValueIndex(t *Table, col int) *ValueIndex {
	idx := &ValueIndex{
		col:     col,
		buckets: make(map[uint64][]realm.ObjKey),
		values:  make(map[realm.ObjKey]realm.Value, len(t.keys)),
	}
	for _, k := range t.keys {
		v := normalizeIndexed(t.rows[k][col])
		h := HashValue(v)
		idx.buckets[h] = append(idx.buckets[h], k)
		idx.values[k] = v
	}
	return idx
}

// normalizeIndexed makes numerically equal values hash alike.
func normalizeIndexed(v realm.Value) realm.Value {
	switch n := v.(type) {
	case float32:
		return float64(n)
	}
	return v
}

// Lookup returns the keys, in scan order, of objects whose value equals v.
func (idx *ValueIndex) Lookup(v realm.Value) []realm.ObjKey {
	v = normalizeIndexed(v)
	candidates := idx.buckets[HashValue(v)]
	out := make([]realm.ObjKey, 0, len(candidates))
	for _, k := range candidates {
		if realm.ValuesEqual(idx.values[k], v) {
			out = append(out, k)
		}
	}
	return out
}
