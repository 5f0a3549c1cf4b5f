package query_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/query"
	"github.com/wbrown/janus-realm/realm/schema"
)

func TestLinkPaths(t *testing.T) {
	snap := animals(t)
	s := snap.Schema()
	owner := func() *query.Builder { return query.NewBuilder(s, fixtures.Owner) }

	tests := []struct {
		name string
		b    *query.Builder
		want int64
	}{
		{"list hop", owner().EqualTo("dogs.age", 10), 1},
		{"list hop no match", owner().EqualTo("dogs.age", 7), 0},
		{"single link hop", owner().EqualTo("cat.age", 12), 1},
		{"back link chain", owner().EqualTo("cat.owner.name", "Tim"), 1},
		{"list any element", owner().GreaterThan("dogs.age", 6), 1},
		{"null link", owner().IsNull("cat"), 1},
		{"null through link", owner().IsNull("cat.name"), 1},
		{"empty list", owner().IsEmpty("dogs"), 1},
		{"non-empty list", owner().IsNotEmpty("dogs"), 1},
		{"no pets no match", owner().NotEqualTo("cat.name", "Tom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, count(t, snap, tt.b))
		})
	}
}

func TestNullSemantics(t *testing.T) {
	snap := nullTypes(t)
	s := snap.Schema()
	q := func() *query.Builder { return query.NewBuilder(s, fixtures.NullTypes) }

	tests := []struct {
		name string
		b    *query.Builder
		want int64
	}{
		{"equal", q().EqualTo("fieldStringNull", "Fish"), 1},
		{"not equal keeps nulls", q().NotEqualTo("fieldStringNull", "Horse"), 2},
		{"equal null", q().EqualTo("fieldStringNull", nil), 1},
		{"not equal null", q().NotEqualTo("fieldStringNull", nil), 2},
		{"greater skips nulls", q().GreaterThan("fieldIntegerNull", 0), 2},
		{"not greater includes nulls", q().Not().GreaterThan("fieldIntegerNull", 2), 2},
		{"begins with skips nulls", q().BeginsWith("fieldStringNull", ""), 2},
		{"bool", q().EqualTo("fieldBooleanNull", false), 1},
		{"bytes", q().EqualTo("fieldBytesNull", []byte{1, 2}), 1},
		{"float", q().EqualTo("fieldFloatNull", 3.0), 1},
		{"date", q().LessThan("fieldDateNull", time.Unix(5, 0)), 1},
		{"in with null", q().In("fieldIntegerNull", []interface{}{nil, 3}), 2},
		{"is null through link", q().IsNull("fieldObjectNull.fieldStringNull"), 2},
		{"equal through link", q().EqualTo("fieldObjectNull.fieldStringNull", "Fish"), 1},
		{"list semi-join", q().EqualTo("fieldListNull.fieldStringNull", "Horse"), 1},
		{"list semi-join null", q().IsNull("fieldListNull.fieldStringNull"), 1},
		{"empty bytes", q().IsEmpty("fieldBytesNull"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, count(t, snap, tt.b))
		})
	}
}

func TestBuilderErrors(t *testing.T) {
	snap := nullTypes(t)
	s := snap.Schema()
	q := func() *query.Builder { return query.NewBuilder(s, fixtures.NullTypes) }

	tests := []struct {
		name string
		b    *query.Builder
		want error
	}{
		{"unknown type", query.NewBuilder(s, "Unicorn"), realm.ErrUnknownType},
		{"unknown field", q().EqualTo("nope", 1), realm.ErrInvalidArgument},
		{"empty path", q().EqualTo("", 1), realm.ErrInvalidArgument},
		{"leading dot", q().EqualTo(".fieldStringNull", "a"), realm.ErrInvalidArgument},
		{"trailing dot", q().EqualTo("fieldObjectNull.", "a"), realm.ErrInvalidArgument},
		{"double dot", q().EqualTo("fieldObjectNull..id", 1), realm.ErrInvalidArgument},
		{"hop through scalar", q().EqualTo("fieldStringNull.id", 1), realm.ErrInvalidArgument},
		{"type mismatch", q().EqualTo("fieldStringNull", 5), realm.ErrInvalidArgument},
		{"int column with float", q().EqualTo("fieldIntegerNull", 1.5), realm.ErrInvalidArgument},
		{"null against non-nullable", q().EqualTo("fieldIntegerNotNull", nil), realm.ErrInvalidArgument},
		{"is null on non-nullable", q().IsNull("fieldStringNotNull"), realm.ErrInvalidArgument},
		{"is null on list", q().IsNull("fieldListNull"), realm.ErrLinkListNull},
		{"is not null on list", q().IsNotNull("fieldListNull"), realm.ErrLinkListNull},
		{"is null on nested link", q().IsNull("fieldObjectNull.fieldObjectNull"), realm.ErrInvalidArgument},
		{"between across link", q().Between("fieldObjectNull.fieldIntegerNull", 1, 2), realm.ErrInvalidArgument},
		{"between on string", q().Between("fieldStringNull", "a", "b"), realm.ErrInvalidArgument},
		{"value against link", q().EqualTo("fieldObjectNull", realm.ObjKey(0)), realm.ErrInvalidArgument},
		{"value against list", q().Contains("fieldListNull", "a"), realm.ErrInvalidArgument},
		{"contains on int", q().Contains("fieldIntegerNull", "1"), realm.ErrInvalidArgument},
		{"is empty on int", q().IsEmpty("fieldIntegerNull"), realm.ErrInvalidArgument},
		{"empty in", q().In("fieldIntegerNull", nil), realm.ErrInvalidArgument},
		{"case flag on int", q().EqualTo("fieldIntegerNull", 1, query.Insensitive), realm.ErrInvalidArgument},
		{"greater than null", q().GreaterThan("fieldIntegerNull", nil), realm.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := compileErr(tt.b)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, err, tt.b.Err(), "builder errors are reported at the terminal call")
		})
	}
}

func TestBetweenAcrossLinksAlwaysFails(t *testing.T) {
	s := fixtures.Animals()
	for _, field := range []string{"cat.age", "cat.height", "cat.weight", "cat.birthday", "dogs.age", "cat.name"} {
		err := compileErr(query.NewBuilder(s, fixtures.Owner).Between(field, 1, 2))
		assert.ErrorIs(t, err, realm.ErrInvalidArgument, field)
	}
}

func TestFirstErrorWins(t *testing.T) {
	s := fixtures.Animals()
	b := query.NewBuilder(s, fixtures.Dog).EqualTo("missing", 1).Sort(nil, nil).Or()
	err := b.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestConnectives(t *testing.T) {
	snap := animals(t)
	s := snap.Schema()
	dog := func() *query.Builder { return query.NewBuilder(s, fixtures.Dog) }

	tests := []struct {
		name string
		b    *query.Builder
		want int64
	}{
		{"empty matches all", dog(), 2},
		{"implicit and", dog().EqualTo("name", "Fido").EqualTo("age", 10), 1},
		{"or", dog().EqualTo("age", 5).Or().EqualTo("age", 10), 2},
		{"and binds tighter", dog().EqualTo("age", 5).Or().EqualTo("age", 10).EqualTo("name", "Pluto"), 1},
		{"group", dog().BeginGroup().EqualTo("age", 5).Or().EqualTo("age", 10).EndGroup().EqualTo("name", "Pluto"), 1},
		{"not leaf", dog().Not().EqualTo("name", "Fido"), 1},
		{"not group", dog().Not().BeginGroup().EqualTo("age", 5).Or().EqualTo("age", 10).EndGroup(), 0},
		{"double not", dog().Not().Not().EqualTo("age", 5), 1},
		{"nested groups", dog().BeginGroup().BeginGroup().EqualTo("age", 5).EndGroup().EndGroup(), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, count(t, snap, tt.b))
		})
	}
}

func TestMalformedConnectives(t *testing.T) {
	s := fixtures.Animals()
	dog := func() *query.Builder { return query.NewBuilder(s, fixtures.Dog) }

	tests := []struct {
		name string
		b    *query.Builder
	}{
		{"leading or", dog().Or().EqualTo("age", 5)},
		{"trailing or", dog().EqualTo("age", 5).Or()},
		{"lone or", dog().Or()},
		{"double or", dog().EqualTo("age", 5).Or().Or().EqualTo("age", 6)},
		{"or after group open", dog().BeginGroup().Or().EqualTo("age", 5).EndGroup()},
		{"or before group close", dog().BeginGroup().EqualTo("age", 5).Or().EndGroup()},
		{"trailing not", dog().EqualTo("age", 5).Not()},
		{"not before or", dog().Not().Or().EqualTo("age", 5)},
		{"unclosed group", dog().BeginGroup().EqualTo("age", 5)},
		{"unopened group", dog().EqualTo("age", 5).EndGroup()},
		{"empty group", dog().BeginGroup().EndGroup()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, compileErr(tt.b), realm.ErrUnsupportedOperation)
		})
	}
}

func TestStringOperators(t *testing.T) {
	snap := populate(t, fixtures.Animals(), func(l *loader) {
		for _, n := range []string{"Pluto", "pluto", "PLUTO", "Fido", "Æble", "æble", "Goofy"} {
			l.create(fixtures.Dog, map[string]interface{}{"name": n})
		}
	})
	s := snap.Schema()
	dog := func() *query.Builder { return query.NewBuilder(s, fixtures.Dog) }

	tests := []struct {
		name string
		b    *query.Builder
		want int64
	}{
		{"equal sensitive", dog().EqualTo("name", "pluto"), 1},
		{"equal insensitive", dog().EqualTo("name", "pluto", query.Insensitive), 3},
		{"non-ascii not folded", dog().EqualTo("name", "æble", query.Insensitive), 1},
		{"begins", dog().BeginsWith("name", "Pl"), 1},
		{"begins insensitive", dog().BeginsWith("name", "pl", query.Insensitive), 3},
		{"ends", dog().EndsWith("name", "ofy"), 1},
		{"contains", dog().Contains("name", "lut"), 2},
		{"contains insensitive", dog().Contains("name", "LUT", query.Insensitive), 3},
		{"like star", dog().Like("name", "*o"), 3},
		{"like question", dog().Like("name", "?ido"), 1},
		{"like both", dog().Like("name", "P*t?"), 1},
		{"like multibyte", dog().Like("name", "?ble"), 2},
		{"like insensitive", dog().Like("name", "p*O", query.Insensitive), 3},
		{"like brackets are literal", dog().Like("name", "[PF]*"), 0},
		{"like braces are literal", dog().Like("name", "{Pluto,Fido}"), 0},
		{"like backslash is literal", dog().Like("name", "\\*"), 0},
		{"in", dog().In("name", []interface{}{"Fido", "Goofy", "Nobody"}), 2},
		{"in insensitive", dog().In("name", []interface{}{"FIDO"}, query.Insensitive), 1},
		{"not equal insensitive", dog().NotEqualTo("name", "PLUTO", query.Insensitive), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, count(t, snap, tt.b))
		})
	}
}

func TestIndexedEqualityUsesBaseOrder(t *testing.T) {
	s := schema.MustNew(append(fixtures.AnimalObjects(), fixtures.AllTypesObject())...)
	var keys []realm.ObjKey
	snap := populate(t, s, func(l *loader) {
		for _, v := range []string{"b", "a", "b", "c", "b"} {
			keys = append(keys, l.create(fixtures.AllTypes, map[string]interface{}{"columnString": v}))
		}
	})
	plan, err := query.NewBuilder(s, fixtures.AllTypes).EqualTo("columnString", "b").Compile()
	require.NoError(t, err)

	assert.Equal(t, []realm.ObjKey{keys[0], keys[2], keys[4]}, plan.Find(snap, nil))
	base := []realm.ObjKey{keys[4], keys[3], keys[0]}
	assert.Equal(t, []realm.ObjKey{keys[4], keys[0]}, plan.Find(snap, base))
}

func TestPlanTables(t *testing.T) {
	s := fixtures.Animals()
	plan, err := query.NewBuilder(s, fixtures.Owner).EqualTo("dogs.age", 1).Or().EqualTo("cat.owner.name", "x").Compile()
	require.NoError(t, err)

	owner, _ := s.Object(fixtures.Owner)
	dog, _ := s.Object(fixtures.Dog)
	cat, _ := s.Object(fixtures.Cat)
	assert.ElementsMatch(t, []int{owner.Index(), dog.Index(), cat.Index()}, plan.Tables())
}

func TestDescribe(t *testing.T) {
	s := fixtures.Animals()
	b := query.NewBuilder(s, fixtures.Dog).
		GreaterThan("age", 3).
		BeginGroup().BeginsWith("name", "p", query.Insensitive).Or().Not().IsNull("owner").EndGroup().
		Sort([]string{"age"}, []query.Order{query.Descending})
	assert.Equal(t, `age > 3 AND (name BEGINSWITH[c] "p" OR NOT owner == NULL) SORT(age DESC)`, b.Describe())
}
