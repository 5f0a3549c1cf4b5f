package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/db"
	"github.com/wbrown/janus-realm/realm/storage"
)

func TestObjectFields(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	assert.Equal(t, fixtures.Dog, z.pluto.Type())
	assert.Same(t, r, z.pluto.Realm())
	assert.Equal(t, "Dog[o0]", z.pluto.String())

	name, err := z.pluto.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "Pluto", name)
	_, err = z.pluto.Get("nope")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	assert.ErrorIs(t, z.pluto.Set("age", 6), realm.ErrIllegalState, "set outside a transaction")

	require.NoError(t, r.BeginWrite())
	defer func() { _ = r.CancelWrite() }()

	assert.ErrorIs(t, z.pluto.Set("age", "six"), realm.ErrInvalidArgument)
	assert.ErrorIs(t, z.pluto.Set("age", nil), realm.ErrInvalidArgument, "age is not nullable")
	assert.ErrorIs(t, z.pluto.Set("owner", z.blackie), realm.ErrInvalidArgument, "wrong link target")
	assert.ErrorIs(t, z.pluto.Set("name", z.tim), realm.ErrInvalidArgument)

	require.NoError(t, z.pluto.SetNull("name"))
	isNull, err := z.pluto.IsNull("name")
	require.NoError(t, err)
	assert.True(t, isNull)

	_, err = z.tim.IsNull("dogs")
	assert.ErrorIs(t, err, realm.ErrLinkListNull)
	assert.ErrorIs(t, z.tim.SetNull("dogs"), realm.ErrLinkListNull)

	owner, err := z.pluto.GetObject("owner")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, z.tim.Key(), owner.Key())
	require.NoError(t, z.pluto.SetObject("owner", nil))
	owner, err = z.pluto.GetObject("owner")
	require.NoError(t, err)
	assert.Nil(t, owner)

	_, err = z.pluto.GetObject("name")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	_, err = z.pluto.List("name")
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)

	dogs, err := z.tim.Get("dogs")
	require.NoError(t, err)
	assert.Equal(t, []realm.ObjKey{z.pluto.Key(), z.fido.Key()}, dogs)
}

func TestObjectsFromAnotherHandleAreRejected(t *testing.T) {
	reg := storage.NewRegistry()
	cfg := memConfig(t, reg)
	r1 := openRealm(t, cfg)
	r2 := openRealm(t, cfg)
	z := populate(t, r1)
	require.NoError(t, r2.Refresh())

	require.NoError(t, r2.BeginWrite())
	defer func() { _ = r2.CancelWrite() }()
	dog, err := r2.CreateObject(fixtures.Dog)
	require.NoError(t, err)
	assert.ErrorIs(t, dog.Set("owner", z.tim), realm.ErrInvalidArgument)
}

func TestDeleteObject(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	assert.ErrorIs(t, z.pluto.DeleteFromRealm(), realm.ErrIllegalState)

	require.NoError(t, r.BeginWrite())
	require.NoError(t, z.pluto.DeleteFromRealm())
	assert.False(t, z.pluto.IsValid())
	_, err := z.pluto.Get("name")
	assert.ErrorIs(t, err, realm.ErrIllegalState)
	assert.ErrorIs(t, z.pluto.DeleteFromRealm(), realm.ErrIllegalState)

	dogs, err := z.tim.Get("dogs")
	require.NoError(t, err)
	assert.Equal(t, []realm.ObjKey{z.fido.Key()}, dogs, "list entries are removed")
	require.NoError(t, r.CancelWrite())

	assert.True(t, z.pluto.IsValid(), "cancel restores the object")

	require.NoError(t, r.ExecuteTransaction(func(*db.Realm) error {
		return z.tim.DeleteFromRealm()
	}))
	owner, err := z.pluto.GetObject("owner")
	require.NoError(t, err)
	assert.Nil(t, owner, "links to a deleted object become null")
	assert.Equal(t, int64(2), count(t, r.Where(fixtures.Dog).IsNull("owner")))
}

func TestListOperations(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	list, err := z.ann.List("dogs")
	require.NoError(t, err)
	assert.Equal(t, "Owner[o1].dogs", list.String())
	assert.ErrorIs(t, list.Add(z.pluto), realm.ErrIllegalState)

	require.NoError(t, r.BeginWrite())
	rex := create(t, r, fixtures.Dog, map[string]interface{}{"name": "Rex", "age": 2})

	listNames := func() []interface{} {
		t.Helper()
		n, err := list.Size()
		require.NoError(t, err)
		out := make([]interface{}, n)
		for i := range out {
			obj, err := list.Get(i)
			require.NoError(t, err)
			out[i], err = obj.Get("name")
			require.NoError(t, err)
		}
		return out
	}

	require.NoError(t, list.Add(z.pluto))
	require.NoError(t, list.Add(z.fido))
	require.NoError(t, list.Insert(0, rex))
	assert.Equal(t, []interface{}{"Rex", "Pluto", "Fido"}, listNames())

	require.NoError(t, list.Set(1, z.fido))
	assert.Equal(t, []interface{}{"Rex", "Fido", "Fido"}, listNames())
	require.NoError(t, list.Move(0, 2))
	assert.Equal(t, []interface{}{"Fido", "Fido", "Rex"}, listNames())
	require.NoError(t, list.Remove(0))
	assert.Equal(t, []interface{}{"Fido", "Rex"}, listNames())

	_, err = list.Get(5)
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	assert.ErrorIs(t, list.Add(nil), realm.ErrInvalidArgument)
	assert.ErrorIs(t, list.Add(z.blackie), realm.ErrInvalidArgument)
	assert.ErrorIs(t, list.Remove(9), realm.ErrInvalidArgument)

	assert.Equal(t, int64(1), count(t, list.Where().EqualTo("name", "Rex")))
	require.NoError(t, r.CommitWrite())

	res, err := list.Where().FindAll()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Fido", "Rex"}, names(t, res), "list queries keep list order")

	require.NoError(t, r.ExecuteTransaction(func(*db.Realm) error {
		return list.Clear()
	}))
	assert.Equal(t, int64(0), count(t, list.Where()), "an empty list matches nothing")
	assert.Equal(t, 0, size(t, res))
	assert.True(t, rex.IsValid(), "clearing a list keeps the objects")
}

func TestCopyToRealm(t *testing.T) {
	r, _ := openMem(t)

	tim := db.NewStandalone(fixtures.Owner, map[string]interface{}{"name": "Tim"})
	rex := db.NewStandalone(fixtures.Dog, map[string]interface{}{"name": "Rex", "age": 3, "owner": tim})
	tim.Fields["dogs"] = []*db.Standalone{rex, rex}

	_, err := r.CopyToRealm(rex)
	assert.ErrorIs(t, err, realm.ErrIllegalState, "copy needs a write transaction")

	var obj *db.Object
	require.NoError(t, r.ExecuteTransaction(func(r *db.Realm) error {
		var err error
		obj, err = r.CopyToRealm(rex)
		return err
	}))
	assert.Equal(t, int64(1), count(t, r.Where(fixtures.Dog)), "a cycle is copied once")
	assert.Equal(t, int64(1), count(t, r.Where(fixtures.Owner)))

	owner, err := obj.GetObject("owner")
	require.NoError(t, err)
	dogs, err := owner.Get("dogs")
	require.NoError(t, err)
	assert.Equal(t, []realm.ObjKey{obj.Key(), obj.Key()}, dogs)

	require.NoError(t, r.BeginWrite())
	defer func() { _ = r.CancelWrite() }()
	_, err = r.CopyToRealm(db.NewStandalone(fixtures.Dog, map[string]interface{}{"nope": 1}))
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	_, err = r.CopyToRealm(db.NewStandalone(fixtures.Dog, map[string]interface{}{"owner": "Tim"}))
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	_, err = r.CopyToRealm(nil)
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
}

func TestCopyToRealmOrUpdate(t *testing.T) {
	r, _ := openMem(t)

	require.NoError(t, r.ExecuteTransaction(func(r *db.Realm) error {
		_, err := r.CopyToRealm(db.NewStandalone(fixtures.StringPK, map[string]interface{}{"name": "a", "id": 1}))
		return err
	}))

	err := r.ExecuteTransaction(func(r *db.Realm) error {
		_, err := r.CopyToRealm(db.NewStandalone(fixtures.StringPK, map[string]interface{}{"name": "a", "id": 2}))
		return err
	})
	assert.ErrorIs(t, err, realm.ErrPrimaryKeyConstraint)

	require.NoError(t, r.ExecuteTransaction(func(r *db.Realm) error {
		if _, err := r.CopyToRealmOrUpdate(db.NewStandalone(fixtures.StringPK, map[string]interface{}{"name": "a", "id": 2})); err != nil {
			return err
		}
		_, err := r.CopyToRealmOrUpdate(db.NewStandalone(fixtures.StringPK, map[string]interface{}{"name": "b"}))
		return err
	}))

	assert.Equal(t, int64(2), count(t, r.Where(fixtures.StringPK)))
	a, err := r.ObjectForPrimaryKey(fixtures.StringPK, "a")
	require.NoError(t, err)
	id, err := a.Get("id")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestCopyFromRealm(t *testing.T) {
	r, _ := openMem(t)
	z := populate(t, r)

	flat, err := r.CopyFromRealm(z.pluto, 0)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Dog, flat.Type)
	assert.Equal(t, "Pluto", flat.Fields["name"])
	assert.Equal(t, int64(5), flat.Fields["age"])
	assert.Nil(t, flat.Fields["owner"])

	one, err := r.CopyFromRealm(z.pluto, 1)
	require.NoError(t, err)
	owner, ok := one.Fields["owner"].(*db.Standalone)
	require.True(t, ok)
	assert.Equal(t, "Tim", owner.Fields["name"])
	assert.Nil(t, owner.Fields["dogs"], "links past the depth are cut")

	deep, err := r.CopyFromRealm(z.pluto, 2)
	require.NoError(t, err)
	owner = deep.Fields["owner"].(*db.Standalone)
	dogs, ok := owner.Fields["dogs"].([]*db.Standalone)
	require.True(t, ok)
	require.Len(t, dogs, 2)
	assert.Same(t, deep, dogs[0], "cycles map back to the same node")
	assert.Equal(t, "Fido", dogs[1].Fields["name"])

	_, err = r.CopyFromRealm(z.pluto, -1)
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
	_, err = r.CopyFromRealm(nil, 1)
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)

	require.NoError(t, r.ExecuteTransaction(func(*db.Realm) error {
		return z.fido.DeleteFromRealm()
	}))
	_, err = r.CopyFromRealm(z.fido, 1)
	assert.ErrorIs(t, err, realm.ErrIllegalState)
}
