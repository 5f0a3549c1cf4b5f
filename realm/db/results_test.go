package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/db"
	"github.com/wbrown/janus-realm/realm/query"
)

func names(t *testing.T, res *db.Results) []interface{} {
	t.Helper()
	objs, err := res.Objects()
	require.NoError(t, err)
	out := make([]interface{}, len(objs))
	for i, o := range objs {
		v, err := o.Get("name")
		require.NoError(t, err)
		out[i] = v
	}
	return out
}

func size(t *testing.T, res *db.Results) int {
	t.Helper()
	n, err := res.Size()
	require.NoError(t, err)
	return n
}

func TestResultsAreLive(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	all, err := r.Where(fixtures.Dog).FindAll()
	require.NoError(t, err)
	old, err := all.Where().GreaterThan("age", 6).FindAll()
	require.NoError(t, err)
	byAge, err := all.Sort([]string{"age"}, []query.Order{query.Descending})
	require.NoError(t, err)
	frozen, err := all.CreateSnapshot()
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"Pluto", "Fido"}, names(t, all))
	assert.Equal(t, []interface{}{"Fido"}, names(t, old))
	assert.Equal(t, []interface{}{"Fido", "Pluto"}, names(t, byAge))

	require.NoError(t, r.ExecuteTransaction(func(r *db.Realm) error {
		create(t, r, fixtures.Dog, map[string]interface{}{"name": "Rex", "age": 20})
		return nil
	}))
	assert.Equal(t, 3, size(t, all))
	assert.Equal(t, []interface{}{"Fido", "Rex"}, names(t, old))
	assert.Equal(t, []interface{}{"Rex", "Fido", "Pluto"}, names(t, byAge))
	assert.Equal(t, 2, size(t, frozen), "snapshots never re-evaluate")

	require.NoError(t, r.ExecuteTransaction(func(*db.Realm) error {
		return z.fido.DeleteFromRealm()
	}))
	gone, err := frozen.Get(1)
	require.NoError(t, err)
	assert.False(t, gone.IsValid())
	assert.Equal(t, []interface{}{"Rex", "Pluto"}, names(t, byAge))

	_, err = frozen.AddChangeListener(func(*db.Results) {})
	assert.ErrorIs(t, err, realm.ErrIllegalState)
}

func TestResultsAccessors(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	res, err := r.Where(fixtures.Dog).Sort([]string{"age"}, []query.Order{query.Ascending}).FindAll()
	require.NoError(t, err)
	assert.Equal(t, fixtures.Dog, res.Type())
	assert.Contains(t, res.String(), "SORT(age ASC)")

	first, err := res.First()
	require.NoError(t, err)
	assert.Equal(t, z.pluto.Key(), first.Key())
	last, err := res.Last()
	require.NoError(t, err)
	assert.Equal(t, z.fido.Key(), last.Key())
	keys, err := res.Keys()
	require.NoError(t, err)
	assert.Equal(t, []realm.ObjKey{z.pluto.Key(), z.fido.Key()}, keys)

	_, err = res.Get(2)
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	_, err = res.Get(-1)
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)

	none, err := r.Where(fixtures.Dog).GreaterThan("age", 100).FindAll()
	require.NoError(t, err)
	first, err = none.First()
	require.NoError(t, err)
	assert.Nil(t, first)
	last, err = none.Last()
	require.NoError(t, err)
	assert.Nil(t, last)

	obj, err := r.Where(fixtures.Dog).GreaterThan("age", 100).FindFirst()
	require.NoError(t, err)
	assert.Nil(t, obj)
	obj, err = r.Where(fixtures.Dog).EqualTo("name", "fido", query.Insensitive).FindFirst()
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, z.fido.Key(), obj.Key())
}

func TestQueryBuilderErrors(t *testing.T) {
	r, _ := openMem(t)
	populate(t, r)

	q := r.Where(fixtures.Dog).
		Sort([]string{"age"}, []query.Order{query.Ascending}).
		Sort([]string{"name"}, []query.Order{query.Ascending})
	assert.ErrorIs(t, q.Err(), realm.ErrIllegalState)
	_, err := q.FindAll()
	assert.ErrorIs(t, err, realm.ErrIllegalState)

	q = r.Where(fixtures.Dog).EqualTo("nope", 1).GreaterThan("age", 1)
	_, err = q.Count()
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)

	_, err = r.WherePredicate(fixtures.Dog, "age >").FindAll()
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)

	all, err := r.Where(fixtures.Dog).FindAll()
	require.NoError(t, err)
	_, err = all.Distinct("name")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument, "distinct needs an indexed field")
}

func TestResultsDistinct(t *testing.T) {
	r, _ := openMem(t)
	require.NoError(t, r.ExecuteTransaction(func(r *db.Realm) error {
		for _, s := range []string{"b", "a", "b", "c", "a"} {
			create(t, r, fixtures.AllTypes, map[string]interface{}{"columnString": s})
		}
		return nil
	}))

	all, err := r.Where(fixtures.AllTypes).FindAll()
	require.NoError(t, err)
	distinct, err := all.Distinct("columnString")
	require.NoError(t, err)
	keys, err := distinct.Keys()
	require.NoError(t, err)
	assert.Equal(t, []realm.ObjKey{0, 1, 3}, keys)

	n, err := r.Where(fixtures.AllTypes).Distinct("columnString").Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAggregates(t *testing.T) {
	r, _ := openMem(t)
	populate(t, r)

	dogs := func() *db.Query { return r.Where(fixtures.Dog) }
	sum, err := dogs().Sum("age")
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum)
	avg, err := dogs().Average("age")
	require.NoError(t, err)
	assert.InDelta(t, 7.5, avg, 1e-9)
	min, err := dogs().Min("age")
	require.NoError(t, err)
	assert.Equal(t, int64(5), min)
	max, err := dogs().Max("age")
	require.NoError(t, err)
	assert.Equal(t, int64(10), max)

	none := func() *db.Query { return r.Where(fixtures.Dog).GreaterThan("age", 100) }
	min, err = none().Min("age")
	require.NoError(t, err)
	assert.Nil(t, min)
	sum, err = none().Sum("age")
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
	avg, err = none().Average("age")
	require.NoError(t, err)
	assert.Equal(t, float64(0), avg)

	_, err = dogs().Sum("name")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	_, err = dogs().Sum("owner.age")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)

	res, err := dogs().GreaterThan("age", 6).FindAll()
	require.NoError(t, err)
	sum, err = res.Sum("age")
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum)
	avg, err = res.Average("age")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, avg, 1e-9)
}

func TestResultsDeletion(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	res, err := r.Where(fixtures.Dog).Sort([]string{"age"}, []query.Order{query.Descending}).FindAll()
	require.NoError(t, err)
	_, err = res.DeleteFirstFromRealm()
	assert.ErrorIs(t, err, realm.ErrIllegalState, "deletes need a write transaction")

	require.NoError(t, r.BeginWrite())
	ok, err := res.DeleteFirstFromRealm()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, z.fido.IsValid())
	ok, err = res.DeleteLastFromRealm()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = res.DeleteLastFromRealm()
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, r.CommitWrite())

	dogs, err := z.tim.List("dogs")
	require.NoError(t, err)
	n, err := dogs.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cats, err := r.Where(fixtures.Cat).FindAll()
	require.NoError(t, err)
	require.NoError(t, r.ExecuteTransaction(func(*db.Realm) error {
		return cats.DeleteAllFromRealm()
	}))
	assert.Equal(t, 0, size(t, cats))
	isNull, err := z.tim.IsNull("cat")
	require.NoError(t, err)
	assert.True(t, isNull, "deleting the target nulls the link")
}

func TestAsyncResults(t *testing.T) {
	r, _ := openMem(t)
	populate(t, r)

	async, err := r.Where(fixtures.Dog).FindAllAsync()
	require.NoError(t, err)
	assert.False(t, async.IsLoaded())
	assert.Equal(t, 0, size(t, async))
	ok, err := async.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, async.IsLoaded())
	assert.Equal(t, 2, size(t, async))

	pending, err := r.Where(fixtures.Dog).FindAllAsync()
	require.NoError(t, err)
	watched, err := r.Where(fixtures.Dog).FindAllAsync()
	require.NoError(t, err)
	calls := 0
	_, err = watched.AddChangeListener(func(res *db.Results) {
		calls++
		assert.True(t, res.IsLoaded())
	})
	require.NoError(t, err)

	require.NoError(t, r.ExecuteTransaction(func(r *db.Realm) error {
		_, err := r.CreateObject(fixtures.Cat)
		return err
	}))
	assert.Equal(t, 1, calls, "the first load fires")
	assert.True(t, pending.IsLoaded(), "a notification pass loads pending views")
	assert.Equal(t, 2, size(t, pending))
	assert.Equal(t, 2, size(t, watched))
}

func TestListResultsInvalidatedWithOwner(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	list, err := z.tim.List("dogs")
	require.NoError(t, err)
	res, err := list.Where().GreaterThan("age", 6).FindAll()
	require.NoError(t, err)
	sub, err := res.Where().FindAll()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Fido"}, names(t, res))

	require.NoError(t, r.ExecuteTransaction(func(*db.Realm) error {
		return z.tim.DeleteFromRealm()
	}))
	assert.False(t, list.IsValid())
	assert.False(t, res.IsValid())
	assert.False(t, sub.IsValid())
	_, err = res.Size()
	assert.ErrorIs(t, err, realm.ErrIllegalState)
	assert.True(t, z.fido.IsValid(), "deleting the owner keeps the dogs")
}

func TestFormatResults(t *testing.T) {
	r, _ := openMem(t)
	populate(t, r)

	res, err := r.Where(fixtures.Dog).Sort([]string{"age"}, []query.Order{query.Ascending}).FindAll()
	require.NoError(t, err)
	out, err := db.NewTableFormatter().FormatResults(res, "name", "age", "owner")
	require.NoError(t, err)
	for _, want := range []string{"key", "name", "Pluto", "Fido", "Owner[o0]", "_2 objects_"} {
		assert.Contains(t, out, want)
	}

	tf := db.NewTableFormatter()
	tf.MaxWidth = 4
	out, err = tf.FormatResults(res, "name")
	require.NoError(t, err)
	assert.Contains(t, out, "P...")
	assert.NotContains(t, out, "Pluto")

	owners, err := r.Where(fixtures.Owner).FindAll()
	require.NoError(t, err)
	out = db.ResultsString(owners)
	assert.Contains(t, out, "2 Dog")
	assert.Contains(t, out, "null")

	empty, err := r.Where(fixtures.Dog).GreaterThan("age", 100).FindAll()
	require.NoError(t, err)
	assert.Contains(t, db.ResultsString(empty), "_No objects_")

	_, err = db.NewTableFormatter().FormatResults(res, "nope")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
}

func TestTextPredicatesUsePlanCache(t *testing.T) {
	r, _ := openMem(t)
	populate(t, r)

	for i := 0; i < 3; i++ {
		assert.Equal(t, int64(1), count(t, r.WherePredicate(fixtures.Dog, "age > 6")))
	}
	hits, misses, size := r.PlanCacheStats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)

	extended := r.WherePredicate(fixtures.Dog, "age > 6").Or().EqualTo("name", "Pluto")
	assert.Equal(t, int64(2), count(t, extended))
	assert.Equal(t, "age > 6 OR name == \"Pluto\"", extended.Describe())
	_, _, size = r.PlanCacheStats()
	assert.Equal(t, 1, size, "extended predicates bypass the cache")

	bad := r.WherePredicate(fixtures.Dog, "age >")
	assert.ErrorIs(t, bad.Err(), realm.ErrInvalidArgument)
	_, err := bad.FindAll()
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
}
