// Package db is the public API of the object store: realm handles,
// transactions, objects, lists, queries and live results.
//
// Every handle is confined to the goroutine that opened the realm. Calls from
// any other goroutine fail with realm.ErrWrongThread before touching data.
package db

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/annotations"
	"github.com/wbrown/janus-realm/realm/confine"
	"github.com/wbrown/janus-realm/realm/query"
	"github.com/wbrown/janus-realm/realm/schema"
	"github.com/wbrown/janus-realm/realm/storage"
)

// Realm is a goroutine-confined handle on a realm file. It reads from a
// pinned snapshot that only advances on Refresh, WaitForChange or the
// handle's own write transactions.
type Realm struct {
	guard    confine.Guard
	config   Config
	registry *storage.Registry
	coord    *storage.Coordinator
	schema   *schema.Schema
	logger   *slog.Logger
	ann      *annotations.Collector
	session  uuid.UUID
	plans    *query.PlanCache

	closed atomic.Bool
	snap   *storage.Snapshot
	tx     *storage.WriteTx

	// notified is the version the last notification pass observed.
	notified  uint64
	live      map[*Results]struct{}
	listeners []realmListener

	waitMu sync.Mutex
	stop   chan struct{}
}

type realmListener struct {
	token string
	fn    func(*Realm)
}

// stamp identifies the data a handle currently reads.
type stamp struct {
	version   uint64
	tx        *storage.WriteTx
	mutations uint64
}

// Open opens (or creates) the realm described by cfg on the calling
// goroutine. A stored schema that differs from cfg.Schema fails with
// realm.ErrSchema and an unreadable store with realm.ErrIO.
func Open(cfg Config) (*Realm, error) {
	start := time.Now()
	reg := cfg.registry()
	coord, err := reg.Acquire(storage.OpenOptions{
		Path:     cfg.Path,
		InMemory: cfg.InMemory,
		Schema:   cfg.Schema,
		Badger:   cfg.Badger,
		Logger:   cfg.logger(),
	})
	if err != nil {
		return nil, err
	}

	session := uuid.New()
	r := &Realm{
		guard:    confine.NewGuard(),
		config:   cfg,
		registry: reg,
		coord:    coord,
		schema:   coord.Schema(),
		logger:   cfg.logger().With("path", coord.Path(), "session", session.String()),
		ann:      annotations.NewCollector(cfg.Annotations),
		session:  session,
		plans:    query.NewPlanCache(0),
		live:     make(map[*Results]struct{}),
		stop:     make(chan struct{}),
	}
	r.snap = coord.Latest()
	r.notified = r.snap.Version()

	r.logger.Debug("realm opened", "version", r.snap.Version(), "persistent", coord.Persistent())
	if r.ann.Enabled() {
		r.ann.AddTiming(annotations.RealmOpened, start, map[string]interface{}{
			"path":    coord.Path(),
			"version": r.snap.Version(),
			"session": session.String(),
		})
	}
	return r, nil
}

// Close releases the handle. An open write transaction is cancelled. Results
// and objects obtained from the handle become invalid.
func (r *Realm) Close() error {
	if err := r.guard.Check("close"); err != nil {
		return err
	}
	if r.closed.Load() {
		return nil
	}
	start := time.Now()
	if r.tx != nil {
		r.tx.Rollback()
		r.tx = nil
	}
	r.closed.Store(true)
	r.live = nil
	r.listeners = nil
	r.StopWaitForChange()

	err := r.registry.Release(r.coord)
	r.logger.Debug("realm closed", "version", r.snap.Version())
	if r.ann.Enabled() {
		r.ann.AddTiming(annotations.RealmClosed, start, map[string]interface{}{
			"path":    r.coord.Path(),
			"session": r.session.String(),
		})
	}
	return err
}

// IsClosed reports whether Close was called. It may be called from any
// goroutine.
func (r *Realm) IsClosed() bool {
	return r.closed.Load()
}

// Path returns the canonical path of the realm file.
func (r *Realm) Path() string {
	return r.coord.Path()
}

// Schema returns the realm's schema.
func (r *Realm) Schema() *schema.Schema {
	return r.schema
}

// PlanCacheStats reports hits, misses and size of the handle's cache of
// compiled text predicates.
func (r *Realm) PlanCacheStats() (hits, misses int64, size int) {
	return r.plans.Stats()
}

// Session returns the id used to tag this handle's log lines.
func (r *Realm) Session() uuid.UUID {
	return r.session
}

func closedError(op string) error {
	return realm.Errorf(realm.KindIllegalState, op, "realm is closed").WithCode(realm.CodeClosed)
}

// check runs the ownership test first, then the lifecycle test.
func (r *Realm) check(op string) error {
	if err := r.guard.Check(op); err != nil {
		return err
	}
	if r.closed.Load() {
		return closedError(op)
	}
	return nil
}

func (r *Realm) checkWrite(op string) error {
	if err := r.check(op); err != nil {
		return err
	}
	if r.tx == nil {
		return realm.Errorf(realm.KindIllegalState, op, "cannot modify objects outside a write transaction")
	}
	return nil
}

func (r *Realm) objectSchema(op, typeName string) (*schema.ObjectSchema, error) {
	o, err := r.schema.Object(typeName)
	if err != nil {
		if e, ok := err.(*realm.Error); ok {
			cp := *e
			cp.Op = op
			return nil, &cp
		}
		return nil, err
	}
	return o, nil
}

// view returns the snapshot reads go through: the write transaction's
// uncommitted state while one is open, the pinned snapshot otherwise.
func (r *Realm) view() *storage.Snapshot {
	if r.tx != nil {
		return r.tx.View()
	}
	return r.snap
}

func (r *Realm) stamp() stamp {
	if r.tx != nil {
		return stamp{version: r.tx.Base().Version(), tx: r.tx, mutations: r.tx.Mutations()}
	}
	return stamp{version: r.snap.Version()}
}

// Version returns the version of the pinned snapshot, or of the base of the
// open write transaction.
func (r *Realm) Version() (uint64, error) {
	if err := r.check("version"); err != nil {
		return 0, err
	}
	return r.stamp().version, nil
}

// BeginWrite opens a write transaction. It waits while a handle on another
// goroutine holds the writer slot, but fails immediately if this handle
// already has a transaction open.
func (r *Realm) BeginWrite() error {
	return r.BeginWriteContext(context.Background())
}

// BeginWriteContext is BeginWrite with a bound on the wait for the writer
// slot.
func (r *Realm) BeginWriteContext(ctx context.Context) error {
	const op = "begin write"
	if err := r.check(op); err != nil {
		return err
	}
	if r.tx != nil {
		return realm.Errorf(realm.KindIllegalState, op, "a write transaction is already open on this realm")
	}
	if r.config.ReadOnly {
		return realm.Errorf(realm.KindIllegalState, op, "realm was opened read-only")
	}

	start := time.Now()
	tx, err := r.coord.BeginWrite(ctx)
	if err != nil {
		return err
	}
	r.tx = tx
	r.snap = tx.Base()

	r.logger.Debug("write transaction started", "version", r.snap.Version())
	if r.ann.Enabled() {
		r.ann.AddTiming(annotations.TxBegin, start, map[string]interface{}{
			"version": r.snap.Version(),
		})
	}
	return nil
}

// CommitWrite publishes the open write transaction as the next version and
// delivers change notifications to this handle's listeners.
func (r *Realm) CommitWrite() error {
	const op = "commit"
	if err := r.check(op); err != nil {
		return err
	}
	if r.tx == nil {
		return realm.Errorf(realm.KindIllegalState, op, "no write transaction is open")
	}

	start := time.Now()
	tx := r.tx
	r.tx = nil
	snap, err := tx.Commit()
	if err != nil {
		if r.ann.Enabled() {
			r.ann.AddTiming(annotations.TxCommit, start, map[string]interface{}{
				"error": err.Error(),
			})
		}
		return err
	}
	r.snap = snap

	r.logger.Debug("write transaction committed", "version", snap.Version(), "mutations", tx.Mutations())
	if r.ann.Enabled() {
		r.ann.AddTiming(annotations.TxCommit, start, map[string]interface{}{
			"version":   snap.Version(),
			"mutations": tx.Mutations(),
		})
	}
	r.notify()
	return nil
}

// CancelWrite discards the open write transaction.
func (r *Realm) CancelWrite() error {
	const op = "cancel"
	if err := r.check(op); err != nil {
		return err
	}
	if r.tx == nil {
		return realm.Errorf(realm.KindIllegalState, op, "no write transaction is open")
	}

	start := time.Now()
	tx := r.tx
	r.tx = nil
	tx.Rollback()

	r.logger.Debug("write transaction cancelled", "version", r.snap.Version(), "mutations", tx.Mutations())
	if r.ann.Enabled() {
		r.ann.AddTiming(annotations.TxCancel, start, map[string]interface{}{
			"version":   r.snap.Version(),
			"mutations": tx.Mutations(),
		})
	}
	return nil
}

// IsInTransaction reports whether a write transaction is open. It reports
// false when called from a goroutine that does not own the handle.
func (r *Realm) IsInTransaction() bool {
	return r.guard.Owned() && !r.closed.Load() && r.tx != nil
}

// ExecuteTransaction runs fn inside a write transaction and commits it. If fn
// returns an error or panics the transaction is cancelled before the error
// is returned or the panic resumes.
func (r *Realm) ExecuteTransaction(fn func(r *Realm) error) (err error) {
	if fn == nil {
		return realm.Errorf(realm.KindInvalidArgument, "execute transaction", "transaction function is required")
	}
	if err := r.BeginWrite(); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			r.rollbackQuietly()
			panic(p)
		}
	}()

	if err := fn(r); err != nil {
		r.rollbackQuietly()
		return err
	}
	if r.tx == nil {
		return realm.Errorf(realm.KindIllegalState, "execute transaction", "transaction was closed inside the transaction function")
	}
	return r.CommitWrite()
}

func (r *Realm) rollbackQuietly() {
	if r.tx == nil {
		return
	}
	if err := r.CancelWrite(); err != nil {
		r.logger.Warn("rollback failed", "error", err)
	}
}

// Refresh advances the pinned snapshot to the latest committed version and
// delivers change notifications. It fails inside a write transaction.
func (r *Realm) Refresh() error {
	const op = "refresh"
	if err := r.check(op); err != nil {
		return err
	}
	if r.tx != nil {
		return realm.Errorf(realm.KindIllegalState, op, "cannot refresh inside a write transaction")
	}
	r.advance()
	return nil
}

func (r *Realm) advance() {
	start := time.Now()
	from := r.snap.Version()
	r.snap = r.coord.Latest()
	to := r.snap.Version()

	if from != to {
		r.logger.Debug("realm refreshed", "from", from, "to", to)
	}
	if r.ann.Enabled() {
		r.ann.AddTiming(annotations.RealmRefresh, start, map[string]interface{}{
			"from": from,
			"to":   to,
		})
	}
	r.notify()
}

// WaitForChange blocks until another handle commits a version newer than the
// pinned one, then refreshes and returns true. It returns false when
// StopWaitForChange is called, and the context error when ctx ends.
func (r *Realm) WaitForChange(ctx context.Context) (bool, error) {
	const op = "wait for change"
	if err := r.check(op); err != nil {
		return false, err
	}
	if r.tx != nil {
		return false, realm.Errorf(realm.KindIllegalState, op, "cannot wait for changes inside a write transaction")
	}

	r.waitMu.Lock()
	stop := r.stop
	r.waitMu.Unlock()

	for {
		changed := r.coord.Changed()
		if r.coord.Latest().Version() > r.snap.Version() {
			r.advance()
			return true, nil
		}
		select {
		case <-changed:
		case <-stop:
			r.waitMu.Lock()
			if r.stop == stop {
				r.stop = make(chan struct{})
			}
			r.waitMu.Unlock()
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// StopWaitForChange makes a pending or the next WaitForChange return false.
// It may be called from any goroutine.
func (r *Realm) StopWaitForChange() {
	r.waitMu.Lock()
	defer r.waitMu.Unlock()
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
}

// AddChangeListener registers fn to run after each notification pass that
// observed a new version. It returns a token for RemoveChangeListener.
func (r *Realm) AddChangeListener(fn func(*Realm)) (string, error) {
	const op = "add change listener"
	if err := r.check(op); err != nil {
		return "", err
	}
	if fn == nil {
		return "", realm.Errorf(realm.KindInvalidArgument, op, "listener is required")
	}
	token := uuid.NewString()
	r.listeners = append(r.listeners, realmListener{token: token, fn: fn})
	return token, nil
}

// RemoveChangeListener unregisters the listener with the given token.
func (r *Realm) RemoveChangeListener(token string) error {
	if err := r.check("remove change listener"); err != nil {
		return err
	}
	for i, l := range r.listeners {
		if l.token == token {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			break
		}
	}
	return nil
}

// RemoveAllChangeListeners unregisters every realm listener.
func (r *Realm) RemoveAllChangeListeners() error {
	if err := r.check("remove all change listeners"); err != nil {
		return err
	}
	r.listeners = nil
	return nil
}

// notify re-evaluates live results with listeners, fires the ones whose
// contents or source tables changed, then fires realm listeners if the
// version advanced since the last pass.
func (r *Realm) notify() {
	start := time.Now()
	version := r.snap.Version()
	fired, results := 0, 0

	for res := range r.live {
		if !res.IsValid() {
			delete(r.live, res)
			continue
		}
		if res.refreshForNotification() {
			results++
			fired += res.fire()
		}
		res.untrack()
	}

	if version > r.notified {
		r.notified = version
		for _, l := range append([]realmListener(nil), r.listeners...) {
			l.fn(r)
			fired++
		}
	}

	if fired > 0 {
		r.logger.Debug("change listeners notified", "version", version, "listeners", fired)
		if r.ann.Enabled() {
			r.ann.AddTiming(annotations.ResultsNotified, start, map[string]interface{}{
				"version":   version,
				"listeners": fired,
				"results":   results,
			})
		}
	}
}

// CreateObject adds an object of a type without a primary key.
func (r *Realm) CreateObject(typeName string) (*Object, error) {
	const op = "create object"
	if err := r.checkWrite(op); err != nil {
		return nil, err
	}
	o, err := r.objectSchema(op, typeName)
	if err != nil {
		return nil, err
	}
	key, err := r.tx.Create(o.Index())
	if err != nil {
		return nil, err
	}
	return newObject(r, o, key), nil
}

// CreateObjectWithPrimaryKey adds an object with the given primary key. A
// key already in use, null included, fails with realm.ErrPrimaryKeyConstraint.
func (r *Realm) CreateObjectWithPrimaryKey(typeName string, primaryKey interface{}) (*Object, error) {
	const op = "create object"
	if err := r.checkWrite(op); err != nil {
		return nil, err
	}
	o, err := r.objectSchema(op, typeName)
	if err != nil {
		return nil, err
	}
	key, err := r.tx.CreateWithPrimaryKey(o.Index(), primaryKey)
	if err != nil {
		return nil, err
	}
	return newObject(r, o, key), nil
}

// Object returns the object with the given key, or nil if it does not exist.
func (r *Realm) Object(typeName string, key realm.ObjKey) (*Object, error) {
	const op = "object"
	if err := r.check(op); err != nil {
		return nil, err
	}
	o, err := r.objectSchema(op, typeName)
	if err != nil {
		return nil, err
	}
	if !r.view().Table(o.Index()).Has(key) {
		return nil, nil
	}
	return newObject(r, o, key), nil
}

// ObjectForPrimaryKey returns the object with the given primary key, or nil.
func (r *Realm) ObjectForPrimaryKey(typeName string, primaryKey interface{}) (*Object, error) {
	const op = "object for primary key"
	if err := r.check(op); err != nil {
		return nil, err
	}
	o, err := r.objectSchema(op, typeName)
	if err != nil {
		return nil, err
	}
	pk := o.PrimaryKey()
	if pk < 0 {
		return nil, realm.Errorf(realm.KindIllegalState, op, "type %q has no primary key", typeName)
	}
	v, err := realm.Coerce(o.Columns[pk].Type, primaryKey)
	if err != nil {
		return nil, realm.Wrap(realm.KindInvalidArgument, op, err, "bad primary key for %q", typeName)
	}
	key, ok := r.view().Table(o.Index()).FindByPrimaryKey(v)
	if !ok {
		return nil, nil
	}
	return newObject(r, o, key), nil
}

// Delete removes every object of a type.
func (r *Realm) Delete(typeName string) error {
	const op = "delete"
	if err := r.checkWrite(op); err != nil {
		return err
	}
	o, err := r.objectSchema(op, typeName)
	if err != nil {
		return err
	}
	return r.tx.DeleteAll(o.Index())
}

// DeleteAll removes every object of every type.
func (r *Realm) DeleteAll() error {
	if err := r.checkWrite("delete all"); err != nil {
		return err
	}
	for _, o := range r.schema.Objects() {
		if err := r.tx.DeleteAll(o.Index()); err != nil {
			return err
		}
	}
	return nil
}

// IsEmpty reports whether the realm holds no objects.
func (r *Realm) IsEmpty() (bool, error) {
	if err := r.check("is empty"); err != nil {
		return false, err
	}
	return r.view().Empty(), nil
}

// Where starts a query over every object of a type.
func (r *Realm) Where(typeName string) *Query {
	return newQuery(r, "where", typeName, nil)
}

// WherePredicate starts a query from a text predicate such as
// `age > 5 AND owner.name == "Tim" SORT(age DESC)`.
func (r *Realm) WherePredicate(typeName, predicate string) *Query {
	return newPredicateQuery(r, typeName, predicate, nil)
}
