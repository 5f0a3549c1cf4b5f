package db

import (
	"time"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/annotations"
	"github.com/wbrown/janus-realm/realm/query"
)

// Query is a goroutine-confined query builder bound to a realm. Builder
// calls record the first error, which the terminal call returns. A builder
// call from a foreign goroutine leaves the query untouched and returns a
// copy that fails every terminal call with realm.ErrWrongThread.
type Query struct {
	realm  *Realm
	b      *query.Builder
	parent *Results
	list   *List
	err    error

	// A text predicate stays unparsed until a builder call extends it, so
	// that an untouched one compiles through the realm's plan cache.
	typeName string
	text     string
}

func newQuery(r *Realm, op, typeName string, parent *Results) *Query {
	if err := r.check(op); err != nil {
		return &Query{realm: r, err: err}
	}
	return &Query{realm: r, b: query.NewBuilder(r.schema, typeName), parent: parent}
}

func newPredicateQuery(r *Realm, typeName, predicate string, parent *Results) *Query {
	if err := r.check("where"); err != nil {
		return &Query{realm: r, err: err}
	}
	return &Query{realm: r, parent: parent, typeName: typeName, text: predicate}
}

func (q *Query) pending() bool {
	return q.b == nil && q.err == nil
}

// parse turns a pending text predicate into a builder.
func (q *Query) parse() {
	if !q.pending() {
		return
	}
	b, err := query.ParsePredicate(q.realm.schema, q.typeName, q.text)
	if err != nil {
		q.err = err
		return
	}
	q.b = b
}

func (q *Query) apply(op string, fn func(b *query.Builder)) *Query {
	if err := q.realm.guard.Check(op); err != nil {
		return &Query{realm: q.realm, err: err}
	}
	q.parse()
	if q.err != nil {
		return q
	}
	fn(q.b)
	return q
}

// Err returns the first error recorded by a builder call.
func (q *Query) Err() error {
	q.parse()
	if q.err != nil {
		return q.err
	}
	return q.b.Err()
}

// Describe renders the predicate and view modifiers.
func (q *Query) Describe() string {
	q.parse()
	if q.err != nil {
		return "<invalid: " + q.err.Error() + ">"
	}
	return q.b.Describe()
}

func (q *Query) describe() string {
	if q.pending() {
		return q.text
	}
	return q.b.Describe()
}

// EqualTo matches objects whose field equals value. A nil value is IsNull.
func (q *Query) EqualTo(field string, value interface{}, c ...query.Case) *Query {
	return q.apply("equalTo", func(b *query.Builder) { b.EqualTo(field, value, c...) })
}

// NotEqualTo matches objects whose field differs from value, stored nulls
// included. A nil value is IsNotNull.
func (q *Query) NotEqualTo(field string, value interface{}, c ...query.Case) *Query {
	return q.apply("notEqualTo", func(b *query.Builder) { b.NotEqualTo(field, value, c...) })
}

// GreaterThan matches objects whose field is greater than value.
func (q *Query) GreaterThan(field string, value interface{}) *Query {
	return q.apply("greaterThan", func(b *query.Builder) { b.GreaterThan(field, value) })
}

// GreaterThanOrEqualTo matches objects whose field is at least value.
func (q *Query) GreaterThanOrEqualTo(field string, value interface{}) *Query {
	return q.apply("greaterThanOrEqualTo", func(b *query.Builder) { b.GreaterThanOrEqualTo(field, value) })
}

// LessThan matches objects whose field is less than value.
func (q *Query) LessThan(field string, value interface{}) *Query {
	return q.apply("lessThan", func(b *query.Builder) { b.LessThan(field, value) })
}

// LessThanOrEqualTo matches objects whose field is at most value.
func (q *Query) LessThanOrEqualTo(field string, value interface{}) *Query {
	return q.apply("lessThanOrEqualTo", func(b *query.Builder) { b.LessThanOrEqualTo(field, value) })
}

// Between matches low <= field <= high on a direct field.
func (q *Query) Between(field string, low, high interface{}) *Query {
	return q.apply("between", func(b *query.Builder) { b.Between(field, low, high) })
}

// BeginsWith matches string fields starting with value.
func (q *Query) BeginsWith(field, value string, c ...query.Case) *Query {
	return q.apply("beginsWith", func(b *query.Builder) { b.BeginsWith(field, value, c...) })
}

// EndsWith matches string fields ending with value.
func (q *Query) EndsWith(field, value string, c ...query.Case) *Query {
	return q.apply("endsWith", func(b *query.Builder) { b.EndsWith(field, value, c...) })
}

// Contains matches string fields containing value.
func (q *Query) Contains(field, value string, c ...query.Case) *Query {
	return q.apply("contains", func(b *query.Builder) { b.Contains(field, value, c...) })
}

// Like matches a glob pattern where * is any run and ? one character.
func (q *Query) Like(field, pattern string, c ...query.Case) *Query {
	return q.apply("like", func(b *query.Builder) { b.Like(field, pattern, c...) })
}

// In matches objects whose field equals any of values.
func (q *Query) In(field string, values []interface{}, c ...query.Case) *Query {
	return q.apply("in", func(b *query.Builder) { b.In(field, values, c...) })
}

// IsNull matches objects whose field is null or whose link chain is broken.
func (q *Query) IsNull(field string) *Query {
	return q.apply("isNull", func(b *query.Builder) { b.IsNull(field) })
}

// IsNotNull is the complement of IsNull.
func (q *Query) IsNotNull(field string) *Query {
	return q.apply("isNotNull", func(b *query.Builder) { b.IsNotNull(field) })
}

// IsEmpty matches empty strings, binaries and lists.
func (q *Query) IsEmpty(field string) *Query {
	return q.apply("isEmpty", func(b *query.Builder) { b.IsEmpty(field) })
}

// IsNotEmpty matches non-empty strings, binaries and lists.
func (q *Query) IsNotEmpty(field string) *Query {
	return q.apply("isNotEmpty", func(b *query.Builder) { b.IsNotEmpty(field) })
}

// Or joins the previous and the next predicate. AND binds tighter.
func (q *Query) Or() *Query {
	return q.apply("or", func(b *query.Builder) { b.Or() })
}

// Not negates the next predicate or group.
func (q *Query) Not() *Query {
	return q.apply("not", func(b *query.Builder) { b.Not() })
}

// BeginGroup opens a parenthesized group.
func (q *Query) BeginGroup() *Query {
	return q.apply("beginGroup", func(b *query.Builder) { b.BeginGroup() })
}

// EndGroup closes the innermost group.
func (q *Query) EndGroup() *Query {
	return q.apply("endGroup", func(b *query.Builder) { b.EndGroup() })
}

// Sort orders the results. It may be called once per query.
func (q *Query) Sort(fields []string, orders []query.Order) *Query {
	return q.apply("sort", func(b *query.Builder) { b.Sort(fields, orders) })
}

// Distinct keeps the first object per distinct tuple of indexed fields. It
// may be called once per query.
func (q *Query) Distinct(fields ...string) *Query {
	return q.apply("distinct", func(b *query.Builder) { b.Distinct(fields...) })
}

// compile runs the ownership and lifecycle checks, then returns the recorded
// builder error or the compiled plan.
func (q *Query) compile(op string) (*query.Plan, error) {
	if err := q.realm.check(op); err != nil {
		return nil, err
	}
	if q.err != nil {
		return nil, q.err
	}
	if q.pending() {
		return q.realm.plans.Compile(q.realm.schema, q.typeName, q.text)
	}
	return q.b.Compile()
}

func (q *Query) results(plan *query.Plan) *Results {
	return &Results{
		realm:  q.realm,
		object: plan.Object(),
		plan:   plan,
		desc:   q.describe(),
		parent: q.parent,
		list:   q.list,
	}
}

// FindAll evaluates the query and returns a live view of the matches.
func (q *Query) FindAll() (*Results, error) {
	const op = "findAll"
	plan, err := q.compile(op)
	if err != nil {
		return nil, err
	}
	res := q.results(plan)
	if _, err := res.evaluate(op); err != nil {
		return nil, err
	}
	return res, nil
}

// FindAllAsync returns an unloaded view. It reports no objects until Load
// is called or the next notification pass evaluates it.
func (q *Query) FindAllAsync() (*Results, error) {
	plan, err := q.compile("findAllAsync")
	if err != nil {
		return nil, err
	}
	res := q.results(plan)
	q.realm.live[res] = struct{}{}
	return res, nil
}

// FindFirst returns the first match, or nil when nothing matches.
func (q *Query) FindFirst() (*Object, error) {
	const op = "findFirst"
	keys, plan, err := q.keys(op)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return newObject(q.realm, plan.Object(), keys[0]), nil
}

// Count returns the number of matches.
func (q *Query) Count() (int64, error) {
	const op = "count"
	plan, err := q.compile(op)
	if err != nil {
		return 0, err
	}
	base, err := q.base(op)
	if err != nil {
		return 0, err
	}
	return plan.Count(q.realm.view(), base), nil
}

func (q *Query) base(op string) ([]realm.ObjKey, error) {
	switch {
	case q.parent != nil:
		return q.parent.baseKeys(op)
	case q.list != nil:
		return q.list.keys(op)
	}
	return nil, nil
}

func (q *Query) keys(op string) ([]realm.ObjKey, *query.Plan, error) {
	plan, err := q.compile(op)
	if err != nil {
		return nil, nil, err
	}
	base, err := q.base(op)
	if err != nil {
		return nil, nil, err
	}
	start := time.Now()
	snap := q.realm.view()
	keys := plan.FindAll(snap, base)
	q.realm.annotateQuery(start, plan, q.describe(), base, len(keys))
	return keys, plan, nil
}

func (q *Query) aggregate(op, field string, fn query.AggregateFunction) (realm.Value, error) {
	keys, plan, err := q.keys(op)
	if err != nil {
		return nil, err
	}
	return q.realm.reduce(plan, keys, field, fn)
}

// Min returns the smallest non-null value of field, or nil when there is none.
func (q *Query) Min(field string) (realm.Value, error) {
	return q.aggregate("min", field, query.Min)
}

// Max returns the largest non-null value of field, or nil when there is none.
func (q *Query) Max(field string) (realm.Value, error) {
	return q.aggregate("max", field, query.Max)
}

// Sum adds the non-null values of field: int64 for Int fields, float64
// otherwise. It is 0 when there are none.
func (q *Query) Sum(field string) (realm.Value, error) {
	return q.aggregate("sum", field, query.Sum)
}

// Average is the mean of the non-null values of field, or 0 when there are
// none.
func (q *Query) Average(field string) (float64, error) {
	v, err := q.aggregate("average", field, query.Average)
	if err != nil {
		return 0, err
	}
	f, _ := v.(float64)
	return f, nil
}

func (r *Realm) reduce(plan *query.Plan, keys []realm.ObjKey, field string, fn query.AggregateFunction) (realm.Value, error) {
	start := time.Now()
	v, err := query.Reduce(r.view(), plan.Object(), keys, field, fn)
	if err != nil {
		return nil, err
	}
	if r.ann.Enabled() {
		r.ann.AddTiming(annotations.QueryAggregated, start, map[string]interface{}{
			"function":   fn.FunctionName(),
			"field":      field,
			"input.size": len(keys),
			"result":     v,
		})
	}
	return v, nil
}

func (r *Realm) annotateQuery(start time.Time, plan *query.Plan, desc string, base []realm.ObjKey, matched int) {
	if !r.ann.Enabled() {
		return
	}
	input := len(base)
	if base == nil {
		input = r.view().Table(plan.Object().Index()).Len()
	}
	r.ann.AddTiming(annotations.QueryEvaluated, start, map[string]interface{}{
		"type":        plan.Object().Name,
		"query":       desc,
		"input.size":  input,
		"result.size": matched,
		"indexed":     plan.Indexed(),
	})
}
