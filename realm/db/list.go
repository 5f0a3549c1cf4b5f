package db

import (
	"fmt"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// List is the ordered object list behind a list field of one object. It is
// invalid once the owning object is deleted.
type List struct {
	realm  *Realm
	owner  *schema.ObjectSchema
	key    realm.ObjKey
	col    int
	target *schema.ObjectSchema
}

func (l *List) String() string {
	return fmt.Sprintf("%s[%s].%s", l.owner.Name, l.key, l.owner.Columns[l.col].Name)
}

// keys returns the current target keys. Never nil.
func (l *List) keys(op string) ([]realm.ObjKey, error) {
	if err := l.realm.check(op); err != nil {
		return nil, err
	}
	row, ok := l.realm.view().Table(l.owner.Index()).Row(l.key)
	if !ok {
		return nil, invalidatedError(op, fmt.Sprintf("list %s (owner deleted)", l))
	}
	ks, _ := row[l.col].([]realm.ObjKey)
	return append([]realm.ObjKey{}, ks...), nil
}

func (l *List) targetKey(op string, obj *Object) (realm.ObjKey, error) {
	if obj == nil {
		return 0, realm.Errorf(realm.KindInvalidArgument, op, "list %s cannot hold null", l)
	}
	if err := l.realm.checkTarget(op, &l.owner.Columns[l.col], obj); err != nil {
		return 0, err
	}
	return obj.key, nil
}

// IsValid reports whether the owning object still exists. It is false on
// goroutines other than the owner.
func (l *List) IsValid() bool {
	if !l.realm.guard.Owned() || l.realm.closed.Load() {
		return false
	}
	return l.realm.view().Table(l.owner.Index()).Has(l.key)
}

// Size returns the number of entries.
func (l *List) Size() (int, error) {
	ks, err := l.keys("size")
	return len(ks), err
}

// Keys returns a copy of the target keys in list order.
func (l *List) Keys() ([]realm.ObjKey, error) {
	return l.keys("keys")
}

// Get returns the object at index i.
func (l *List) Get(i int) (*Object, error) {
	const op = "get"
	ks, err := l.keys(op)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(ks) {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "index %d out of range [0, %d)", i, len(ks))
	}
	return newObject(l.realm, l.target, ks[i]), nil
}

// Add appends obj.
func (l *List) Add(obj *Object) error {
	const op = "add"
	if err := l.realm.checkWrite(op); err != nil {
		return err
	}
	ks, err := l.keys(op)
	if err != nil {
		return err
	}
	return l.insert(op, len(ks), obj)
}

// Insert places obj at index i, shifting later entries.
func (l *List) Insert(i int, obj *Object) error {
	const op = "insert"
	if err := l.realm.checkWrite(op); err != nil {
		return err
	}
	return l.insert(op, i, obj)
}

func (l *List) insert(op string, i int, obj *Object) error {
	k, err := l.targetKey(op, obj)
	if err != nil {
		return err
	}
	return l.realm.tx.ListInsert(l.owner.Index(), l.key, l.col, i, k)
}

// Set replaces the entry at index i.
func (l *List) Set(i int, obj *Object) error {
	const op = "set"
	if err := l.realm.checkWrite(op); err != nil {
		return err
	}
	k, err := l.targetKey(op, obj)
	if err != nil {
		return err
	}
	return l.realm.tx.ListSet(l.owner.Index(), l.key, l.col, i, k)
}

// Remove drops the entry at index i. The target object is not deleted.
func (l *List) Remove(i int) error {
	const op = "remove"
	if err := l.realm.checkWrite(op); err != nil {
		return err
	}
	return l.realm.tx.ListRemove(l.owner.Index(), l.key, l.col, i)
}

// Move moves the entry at index from to index to.
func (l *List) Move(from, to int) error {
	const op = "move"
	if err := l.realm.checkWrite(op); err != nil {
		return err
	}
	return l.realm.tx.ListMove(l.owner.Index(), l.key, l.col, from, to)
}

// Clear removes every entry. The target objects are not deleted.
func (l *List) Clear() error {
	const op = "clear"
	if err := l.realm.checkWrite(op); err != nil {
		return err
	}
	return l.realm.tx.ListClear(l.owner.Index(), l.key, l.col)
}

// Where starts a query over the list's objects, in list order.
func (l *List) Where() *Query {
	q := newQuery(l.realm, "where", l.target.Name, nil)
	if q.err == nil {
		q.list = l
	}
	return q
}
