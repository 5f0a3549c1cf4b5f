package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/query"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Results is a live view of a query's matches. It re-evaluates lazily when
// the realm's view has moved since the last evaluation, and is invalidated
// for good when the realm closes or the list it was derived from is deleted.
type Results struct {
	realm  *Realm
	object *schema.ObjectSchema
	plan   *query.Plan
	desc   string

	// At most one of parent and list is set; neither means the whole table.
	parent *Results
	list   *List

	loaded  bool
	frozen  bool
	invalid bool
	stamp   stamp
	keys    []realm.ObjKey

	listeners    []resultsListener
	notifiedKeys []realm.ObjKey
	notifiedAt   uint64
}

type resultsListener struct {
	token string
	fn    func(*Results)
}

func invalidatedError(op, what string) error {
	return realm.Errorf(realm.KindIllegalState, op, "%s is no longer valid", what).WithCode(realm.CodeInvalidated)
}

func (res *Results) check(op string) error {
	if err := res.realm.check(op); err != nil {
		return err
	}
	if res.invalid {
		return invalidatedError(op, "results")
	}
	return nil
}

// evaluate returns the current keys, re-running the query when the realm's
// view changed since the cached evaluation.
func (res *Results) evaluate(op string) ([]realm.ObjKey, error) {
	if err := res.check(op); err != nil {
		return nil, err
	}
	if res.frozen {
		return res.keys, nil
	}
	st := res.realm.stamp()
	if res.loaded && res.stamp == st {
		return res.keys, nil
	}

	base, err := res.base(op)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	keys := res.plan.FindAll(res.realm.view(), base)
	res.realm.annotateQuery(start, res.plan, res.desc, base, len(keys))

	res.keys = keys
	res.stamp = st
	res.loaded = true
	return keys, nil
}

func (res *Results) base(op string) ([]realm.ObjKey, error) {
	switch {
	case res.parent != nil:
		return res.parent.baseKeys(op)
	case res.list != nil:
		keys, err := res.list.keys(op)
		if err != nil {
			if realm.KindOf(err) == realm.KindIllegalState && !res.realm.closed.Load() {
				res.invalid = true
			}
			return nil, err
		}
		return keys, nil
	}
	return nil, nil
}

// baseKeys is the key sequence a derived view filters: the current keys,
// loading the view if needed. Never nil.
func (res *Results) baseKeys(op string) ([]realm.ObjKey, error) {
	keys, err := res.evaluate(op)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []realm.ObjKey{}
	}
	return keys, nil
}

// current returns the visible keys: empty while an async view is unloaded.
func (res *Results) current(op string) ([]realm.ObjKey, error) {
	if err := res.check(op); err != nil {
		return nil, err
	}
	if !res.loaded && !res.frozen {
		return nil, nil
	}
	return res.evaluate(op)
}

// tables lists every table the view depends on.
func (res *Results) tables() []int {
	out := res.plan.Tables()
	switch {
	case res.parent != nil:
		out = append(out, res.parent.tables()...)
	case res.list != nil:
		out = append(out, res.list.owner.Index())
	}
	return out
}

// refreshForNotification re-evaluates the view against the new snapshot and
// reports whether its listeners should fire: on the first load of an async
// view, when the keys changed, or when a table it reads was modified.
func (res *Results) refreshForNotification() bool {
	if res.frozen {
		return false
	}
	wasLoaded := res.loaded
	keys, err := res.evaluate("notify")
	if err != nil {
		return false
	}
	version := res.realm.snap.Version()
	changed := !wasLoaded || !sameKeys(keys, res.notifiedKeys)
	if !changed {
		for _, t := range res.tables() {
			if res.realm.snap.Table(t).Modified() > res.notifiedAt {
				changed = true
				break
			}
		}
	}
	res.notifiedKeys = keys
	res.notifiedAt = version
	return changed && len(res.listeners) > 0
}

func (res *Results) fire() int {
	listeners := append([]resultsListener(nil), res.listeners...)
	for _, l := range listeners {
		l.fn(res)
	}
	return len(listeners)
}

func sameKeys(a, b []realm.ObjKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Size returns the number of objects in the view.
func (res *Results) Size() (int, error) {
	keys, err := res.current("size")
	return len(keys), err
}

// Get returns the object at index i.
func (res *Results) Get(i int) (*Object, error) {
	const op = "get"
	keys, err := res.current(op)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(keys) {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "index %d out of range [0, %d)", i, len(keys))
	}
	return newObject(res.realm, res.object, keys[i]), nil
}

// First returns the first object, or nil when the view is empty.
func (res *Results) First() (*Object, error) {
	keys, err := res.current("first")
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	return newObject(res.realm, res.object, keys[0]), nil
}

// Last returns the last object, or nil when the view is empty.
func (res *Results) Last() (*Object, error) {
	keys, err := res.current("last")
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	return newObject(res.realm, res.object, keys[len(keys)-1]), nil
}

// Keys returns a copy of the object keys in view order.
func (res *Results) Keys() ([]realm.ObjKey, error) {
	keys, err := res.current("keys")
	if err != nil {
		return nil, err
	}
	return append([]realm.ObjKey(nil), keys...), nil
}

// Objects returns the objects in view order.
func (res *Results) Objects() ([]*Object, error) {
	keys, err := res.current("objects")
	if err != nil {
		return nil, err
	}
	out := make([]*Object, len(keys))
	for i, k := range keys {
		out[i] = newObject(res.realm, res.object, k)
	}
	return out, nil
}

// Type returns the name of the viewed type.
func (res *Results) Type() string {
	return res.object.Name
}

// String describes the query behind the view.
func (res *Results) String() string {
	return res.object.Name + " WHERE " + res.desc
}

// Where starts a sub-query that filters this view's current objects.
func (res *Results) Where() *Query {
	return newQuery(res.realm, "where", res.object.Name, res)
}

func (res *Results) derive(op string, b *query.Builder) (*Results, error) {
	if err := res.check(op); err != nil {
		return nil, err
	}
	plan, err := b.Compile()
	if err != nil {
		return nil, err
	}
	d := &Results{
		realm:  res.realm,
		object: res.object,
		plan:   plan,
		desc:   b.Describe(),
		parent: res,
	}
	if _, err := d.evaluate(op); err != nil {
		return nil, err
	}
	return d, nil
}

// Sort returns a view of these objects ordered by fields.
func (res *Results) Sort(fields []string, orders []query.Order) (*Results, error) {
	return res.derive("sort", query.NewBuilder(res.realm.schema, res.object.Name).Sort(fields, orders))
}

// Distinct returns a view keeping the first object per distinct tuple of
// indexed fields.
func (res *Results) Distinct(fields ...string) (*Results, error) {
	return res.derive("distinct", query.NewBuilder(res.realm.schema, res.object.Name).Distinct(fields...))
}

func (res *Results) aggregate(op, field string, fn query.AggregateFunction) (realm.Value, error) {
	keys, err := res.current(op)
	if err != nil {
		return nil, err
	}
	return res.realm.reduce(res.plan, keys, field, fn)
}

// Min returns the smallest non-null value of field, or nil.
func (res *Results) Min(field string) (realm.Value, error) {
	return res.aggregate("min", field, query.Min)
}

// Max returns the largest non-null value of field, or nil.
func (res *Results) Max(field string) (realm.Value, error) {
	return res.aggregate("max", field, query.Max)
}

// Sum adds the non-null values of field.
func (res *Results) Sum(field string) (realm.Value, error) {
	return res.aggregate("sum", field, query.Sum)
}

// Average is the mean of the non-null values of field, or 0.
func (res *Results) Average(field string) (float64, error) {
	v, err := res.aggregate("average", field, query.Average)
	if err != nil {
		return 0, err
	}
	f, _ := v.(float64)
	return f, nil
}

func (res *Results) deleteKeys(op string, keys []realm.ObjKey) error {
	if err := res.realm.checkWrite(op); err != nil {
		return err
	}
	t := res.object.Index()
	for _, k := range keys {
		if !res.realm.view().Table(t).Has(k) {
			continue
		}
		if err := res.realm.tx.Delete(t, k); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAllFromRealm deletes every object in the view.
func (res *Results) DeleteAllFromRealm() error {
	const op = "delete all from realm"
	keys, err := res.current(op)
	if err != nil {
		return err
	}
	return res.deleteKeys(op, append([]realm.ObjKey(nil), keys...))
}

// DeleteFirstFromRealm deletes the first object. It reports false when the
// view is empty.
func (res *Results) DeleteFirstFromRealm() (bool, error) {
	const op = "delete first from realm"
	keys, err := res.current(op)
	if err != nil || len(keys) == 0 {
		return false, err
	}
	return true, res.deleteKeys(op, keys[:1])
}

// DeleteLastFromRealm deletes the last object. It reports false when the
// view is empty.
func (res *Results) DeleteLastFromRealm() (bool, error) {
	const op = "delete last from realm"
	keys, err := res.current(op)
	if err != nil || len(keys) == 0 {
		return false, err
	}
	return true, res.deleteKeys(op, keys[len(keys)-1:])
}

// AddChangeListener registers fn to run on the owning goroutine whenever a
// notification pass finds the view's objects changed. It returns a token
// for RemoveChangeListener.
func (res *Results) AddChangeListener(fn func(*Results)) (string, error) {
	const op = "add change listener"
	if err := res.check(op); err != nil {
		return "", err
	}
	if fn == nil {
		return "", realm.Errorf(realm.KindInvalidArgument, op, "listener is required")
	}
	if res.frozen {
		return "", realm.Errorf(realm.KindIllegalState, op, "snapshot results never change")
	}
	if len(res.listeners) == 0 && res.loaded {
		keys, err := res.evaluate(op)
		if err != nil {
			return "", err
		}
		res.notifiedKeys = keys
		res.notifiedAt = res.realm.stamp().version
	}
	token := uuid.NewString()
	res.listeners = append(res.listeners, resultsListener{token: token, fn: fn})
	res.realm.live[res] = struct{}{}
	return token, nil
}

// RemoveChangeListener unregisters the listener with the given token.
func (res *Results) RemoveChangeListener(token string) error {
	if err := res.realm.check("remove change listener"); err != nil {
		return err
	}
	for i, l := range res.listeners {
		if l.token == token {
			res.listeners = append(res.listeners[:i], res.listeners[i+1:]...)
			break
		}
	}
	res.untrack()
	return nil
}

// RemoveAllChangeListeners unregisters every listener of the view.
func (res *Results) RemoveAllChangeListeners() error {
	if err := res.realm.check("remove all change listeners"); err != nil {
		return err
	}
	res.listeners = nil
	res.untrack()
	return nil
}

func (res *Results) untrack() {
	if len(res.listeners) == 0 && res.loaded {
		delete(res.realm.live, res)
	}
}

// IsValid reports whether the view can still be used. It is false after the
// realm closes, after the list it was derived from is deleted, and on any
// goroutine other than the owner.
func (res *Results) IsValid() bool {
	if !res.realm.guard.Owned() || res.realm.closed.Load() || res.invalid {
		return false
	}
	if res.list != nil && !res.list.IsValid() {
		res.invalid = true
		return false
	}
	if res.parent != nil && !res.parent.IsValid() {
		res.invalid = true
		return false
	}
	return true
}

// IsLoaded reports whether the view has been evaluated. Views from
// FindAllAsync start unloaded.
func (res *Results) IsLoaded() bool {
	return res.realm.guard.Owned() && (res.loaded || res.frozen)
}

// Load evaluates an unloaded view now.
func (res *Results) Load() (bool, error) {
	if _, err := res.evaluate("load"); err != nil {
		return false, err
	}
	res.untrack()
	return true, nil
}

// CreateSnapshot returns a frozen copy of the current objects. It never
// re-evaluates; objects deleted later stay in it as invalid objects.
func (res *Results) CreateSnapshot() (*Results, error) {
	keys, err := res.current("create snapshot")
	if err != nil {
		return nil, err
	}
	return &Results{
		realm:  res.realm,
		object: res.object,
		plan:   res.plan,
		desc:   res.desc,
		frozen: true,
		loaded: true,
		keys:   append([]realm.ObjKey(nil), keys...),
	}, nil
}
