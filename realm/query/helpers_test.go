package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/query"
	"github.com/wbrown/janus-realm/realm/schema"
	"github.com/wbrown/janus-realm/realm/storage"
)

// loader writes fixture rows by column name inside one write transaction.
type loader struct {
	t *testing.T
	s *schema.Schema
	w *storage.WriteTx
}

func (l *loader) create(typ string, values map[string]interface{}) realm.ObjKey {
	l.t.Helper()
	o, err := l.s.Object(typ)
	require.NoError(l.t, err)

	var key realm.ObjKey
	if pk := o.PrimaryKey(); pk >= 0 {
		key, err = l.w.CreateWithPrimaryKey(o.Index(), values[o.Columns[pk].Name])
	} else {
		key, err = l.w.Create(o.Index())
	}
	require.NoError(l.t, err)
	for name, raw := range values {
		if pk := o.PrimaryKey(); pk >= 0 && o.Columns[pk].Name == name {
			continue
		}
		l.set(typ, key, name, raw)
	}
	return key
}

func (l *loader) set(typ string, key realm.ObjKey, name string, raw interface{}) {
	l.t.Helper()
	o, err := l.s.Object(typ)
	require.NoError(l.t, err)
	col, ok := o.ColumnIndex(name)
	require.True(l.t, ok, "column %s.%s", typ, name)
	v, err := realm.Coerce(o.Columns[col].Type, raw)
	require.NoError(l.t, err)
	require.NoError(l.t, l.w.Set(o.Index(), key, col, v))
}

// populate opens an in-memory store, runs fill inside one write transaction
// and returns the committed snapshot.
func populate(t *testing.T, s *schema.Schema, fill func(l *loader)) *storage.Snapshot {
	t.Helper()
	reg := storage.NewRegistry()
	c, err := reg.Acquire(storage.OpenOptions{Path: t.Name(), InMemory: true, Schema: s})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Release(c) })

	w, err := c.BeginWrite(context.Background())
	require.NoError(t, err)
	fill(&loader{t: t, s: s, w: w})
	snap, err := w.Commit()
	require.NoError(t, err)
	return snap
}

// animals stores Tim with dogs Pluto (5) and Fido (10) and cat Blackie (12),
// plus an owner without pets.
func animals(t *testing.T) *storage.Snapshot {
	return populate(t, fixtures.Animals(), func(l *loader) {
		tim := l.create(fixtures.Owner, map[string]interface{}{"name": "Tim"})
		l.create(fixtures.Owner, map[string]interface{}{"name": "Ann"})
		pluto := l.create(fixtures.Dog, map[string]interface{}{"name": "Pluto", "age": 5, "height": 1.2, "weight": 7.5, "hasTail": true})
		fido := l.create(fixtures.Dog, map[string]interface{}{"name": "Fido", "age": 10, "height": 0.8, "weight": 12.0, "hasTail": true})
		blackie := l.create(fixtures.Cat, map[string]interface{}{"name": "Blackie", "age": 12, "owner": tim})
		l.set(fixtures.Owner, tim, "dogs", []realm.ObjKey{pluto, fido})
		l.set(fixtures.Owner, tim, "cat", blackie)
		l.set(fixtures.Dog, pluto, "owner", tim)
		l.set(fixtures.Dog, fido, "owner", tim)
	})
}

// nullTypes stores three rows: every nullable field set on the first and
// third, all null on the second. The first links to itself and the third to
// the second.
func nullTypes(t *testing.T) *storage.Snapshot {
	s := schema.MustNew(fixtures.NullTypesObject())
	return populate(t, s, func(l *loader) {
		notNull := func(i int64) map[string]interface{} {
			return map[string]interface{}{
				"id":                  i,
				"fieldStringNotNull":  "x",
				"fieldBooleanNotNull": true,
				"fieldBytesNotNull":   []byte{1},
				"fieldIntegerNotNull": i,
				"fieldFloatNotNull":   float64(i),
				"fieldDoubleNotNull":  float64(i),
				"fieldDateNotNull":    time.Unix(i, 0).UTC(),
			}
		}
		first := notNull(1)
		first["fieldStringNull"] = "Fish"
		first["fieldBooleanNull"] = true
		first["fieldBytesNull"] = []byte{0}
		first["fieldIntegerNull"] = 1
		first["fieldFloatNull"] = 1.0
		first["fieldDoubleNull"] = 1.0
		first["fieldDateNull"] = time.Unix(0, 0).UTC()
		k1 := l.create(fixtures.NullTypes, first)

		k2 := l.create(fixtures.NullTypes, notNull(2))

		third := notNull(3)
		third["fieldStringNull"] = "Horse"
		third["fieldBooleanNull"] = false
		third["fieldBytesNull"] = []byte{1, 2}
		third["fieldIntegerNull"] = 3
		third["fieldFloatNull"] = 3.0
		third["fieldDoubleNull"] = 3.0
		third["fieldDateNull"] = time.Unix(10000, 0).UTC()
		k3 := l.create(fixtures.NullTypes, third)

		l.set(fixtures.NullTypes, k1, "fieldObjectNull", k1)
		l.set(fixtures.NullTypes, k3, "fieldObjectNull", k2)
		l.set(fixtures.NullTypes, k1, "fieldListNull", []realm.ObjKey{k2, k3})
	})
}

func count(t *testing.T, snap *storage.Snapshot, b *query.Builder) int64 {
	t.Helper()
	plan, err := b.Compile()
	require.NoError(t, err)
	return plan.Count(snap, nil)
}

func compileErr(b *query.Builder) error {
	_, err := b.Compile()
	return err
}
