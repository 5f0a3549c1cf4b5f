package db

import (
	"fmt"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
	"github.com/wbrown/janus-realm/realm/storage"
)

// Object is a managed object: a reference to one row of a realm, confined to
// the realm's goroutine. It becomes invalid when the object is deleted or
// the realm closes.
type Object struct {
	realm  *Realm
	object *schema.ObjectSchema
	key    realm.ObjKey
}

func newObject(r *Realm, o *schema.ObjectSchema, key realm.ObjKey) *Object {
	return &Object{realm: r, object: o, key: key}
}

// Key returns the object's key within its table.
func (obj *Object) Key() realm.ObjKey {
	return obj.key
}

// Type returns the object's type name.
func (obj *Object) Type() string {
	return obj.object.Name
}

// Realm returns the realm the object belongs to.
func (obj *Object) Realm() *Realm {
	return obj.realm
}

func (obj *Object) String() string {
	return fmt.Sprintf("%s[%s]", obj.object.Name, obj.key)
}

func (obj *Object) row(op string) (storage.Row, error) {
	if err := obj.realm.check(op); err != nil {
		return nil, err
	}
	row, ok := obj.realm.view().Table(obj.object.Index()).Row(obj.key)
	if !ok {
		return nil, invalidatedError(op, fmt.Sprintf("object %s (deleted)", obj))
	}
	return row, nil
}

func (obj *Object) column(op, field string) (int, *schema.Column, error) {
	i, ok := obj.object.ColumnIndex(field)
	if !ok {
		return 0, nil, realm.Errorf(realm.KindInvalidArgument, op, "field %q does not exist in type %q", field, obj.object.Name)
	}
	return i, &obj.object.Columns[i], nil
}

// IsValid reports whether the object still exists in the realm's view. It
// is false on goroutines other than the owner.
func (obj *Object) IsValid() bool {
	if !obj.realm.guard.Owned() || obj.realm.closed.Load() {
		return false
	}
	return obj.realm.view().Table(obj.object.Index()).Has(obj.key)
}

// Get returns the value of field. Link fields return a realm.ObjKey or nil
// and list fields a copy of the target keys; see GetObject and List.
func (obj *Object) Get(field string) (realm.Value, error) {
	const op = "get"
	row, err := obj.row(op)
	if err != nil {
		return nil, err
	}
	col, _, err := obj.column(op, field)
	if err != nil {
		return nil, err
	}
	return realm.CloneValue(row[col]), nil
}

// Set assigns field. Link fields accept an *Object or nil, list fields a
// []*Object; every other field accepts any Go value convertible to the
// column type.
func (obj *Object) Set(field string, value interface{}) error {
	const op = "set"
	if err := obj.realm.checkWrite(op); err != nil {
		return err
	}
	col, c, err := obj.column(op, field)
	if err != nil {
		return err
	}
	v, err := obj.realm.convert(op, c, value)
	if err != nil {
		return err
	}
	return obj.realm.tx.Set(obj.object.Index(), obj.key, col, v)
}

// convert turns a caller value into a stored value for column c.
func (r *Realm) convert(op string, c *schema.Column, value interface{}) (realm.Value, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Object:
		if c.Type != realm.TypeLink {
			return nil, realm.Errorf(realm.KindInvalidArgument, op, "field %q of type %s cannot hold an object", c.Name, c.Type)
		}
		if v == nil {
			return nil, nil
		}
		if err := r.checkTarget(op, c, v); err != nil {
			return nil, err
		}
		return v.key, nil
	case []*Object:
		if c.Type != realm.TypeLinkList {
			return nil, realm.Errorf(realm.KindInvalidArgument, op, "field %q of type %s cannot hold a list", c.Name, c.Type)
		}
		keys := make([]realm.ObjKey, len(v))
		for i, o := range v {
			if o == nil {
				return nil, realm.Errorf(realm.KindInvalidArgument, op, "list field %q cannot hold null", c.Name)
			}
			if err := r.checkTarget(op, c, o); err != nil {
				return nil, err
			}
			keys[i] = o.key
		}
		return keys, nil
	}
	stored, err := realm.Coerce(c.Type, value)
	if err != nil {
		return nil, realm.Wrap(realm.KindInvalidArgument, op, err, "bad value for field %q", c.Name)
	}
	return stored, nil
}

func (r *Realm) checkTarget(op string, c *schema.Column, o *Object) error {
	if o.realm != r {
		return realm.Errorf(realm.KindInvalidArgument, op, "object %s belongs to another realm handle", o)
	}
	if o.object.Name != c.Target {
		return realm.Errorf(realm.KindInvalidArgument, op, "field %q holds %s objects, not %s", c.Name, c.Target, o.object.Name)
	}
	return nil
}

// SetNull clears field. List fields are never null.
func (obj *Object) SetNull(field string) error {
	return obj.Set(field, nil)
}

// IsNull reports whether field holds null. List fields fail with
// realm.ErrLinkListNull.
func (obj *Object) IsNull(field string) (bool, error) {
	const op = "isNull"
	row, err := obj.row(op)
	if err != nil {
		return false, err
	}
	col, c, err := obj.column(op, field)
	if err != nil {
		return false, err
	}
	if c.Type == realm.TypeLinkList {
		return false, realm.Errorf(realm.KindInvalidArgument, op, "list field %q is never null", field).WithCode(realm.CodeLinkListNull)
	}
	return row[col] == nil, nil
}

// GetObject follows a link field. It returns nil when the link is null.
func (obj *Object) GetObject(field string) (*Object, error) {
	const op = "getObject"
	row, err := obj.row(op)
	if err != nil {
		return nil, err
	}
	col, c, err := obj.column(op, field)
	if err != nil {
		return nil, err
	}
	if c.Type != realm.TypeLink {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "field %q is not a link", field)
	}
	key, ok := row[col].(realm.ObjKey)
	if !ok {
		return nil, nil
	}
	target, err := obj.realm.schema.Object(c.Target)
	if err != nil {
		return nil, err
	}
	return newObject(obj.realm, target, key), nil
}

// SetObject points a link field at target, or clears it when target is nil.
func (obj *Object) SetObject(field string, target *Object) error {
	if target == nil {
		return obj.Set(field, nil)
	}
	return obj.Set(field, target)
}

// List returns the list behind a list field.
func (obj *Object) List(field string) (*List, error) {
	const op = "list"
	if _, err := obj.row(op); err != nil {
		return nil, err
	}
	col, c, err := obj.column(op, field)
	if err != nil {
		return nil, err
	}
	if c.Type != realm.TypeLinkList {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "field %q is not a list", field)
	}
	target, err := obj.realm.schema.Object(c.Target)
	if err != nil {
		return nil, err
	}
	return &List{realm: obj.realm, owner: obj.object, key: obj.key, col: col, target: target}, nil
}

// DeleteFromRealm deletes the object. Links to it become null and list
// entries pointing at it are removed.
func (obj *Object) DeleteFromRealm() error {
	const op = "delete from realm"
	if err := obj.realm.checkWrite(op); err != nil {
		return err
	}
	return obj.realm.tx.Delete(obj.object.Index(), obj.key)
}
