// Package query builds and evaluates predicates over object tables.
//
// A Builder accumulates a flat token stream from fluent calls. Field paths and
// literals are checked as each leaf is added and the first failure is kept;
// connectives are parsed into a predicate tree when the query is compiled.
package query

import (
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Op is a leaf comparison operator.
type Op int

const (
	OpEqual Op = iota
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpBetween
	OpBeginsWith
	OpEndsWith
	OpContains
	OpLike
	OpIsNull
	OpIsNotNull
	OpIsEmpty
	OpIsNotEmpty
	OpIn
)

var opNames = map[Op]string{
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpBetween:      "BETWEEN",
	OpBeginsWith:   "BEGINSWITH",
	OpEndsWith:     "ENDSWITH",
	OpContains:     "CONTAINS",
	OpLike:         "LIKE",
	OpIsNull:       "== NULL",
	OpIsNotNull:    "!= NULL",
	OpIsEmpty:      "IS EMPTY",
	OpIsNotEmpty:   "IS NOT EMPTY",
	OpIn:           "IN",
}

func (o Op) String() string {
	return opNames[o]
}

// Case selects string comparison sensitivity. Insensitive folds ASCII letters only.
type Case int

const (
	Sensitive Case = iota
	Insensitive
)

type tokenKind int

const (
	tokLeaf tokenKind = iota
	tokOr
	tokNot
	tokBegin
	tokEnd
)

type token struct {
	kind tokenKind
	leaf *Leaf
}

// Leaf is one field/operator/literal comparison with its path resolved.
type Leaf struct {
	Op     Op
	Path   *schema.Path
	Values []realm.Value
	Case   Case

	like glob.Glob // compiled Like pattern, folded when Case is Insensitive
}

func (l *Leaf) String() string {
	switch l.Op {
	case OpIsNull, OpIsNotNull, OpIsEmpty, OpIsNotEmpty:
		return fmt.Sprintf("%s %s", l.Path.Raw, l.Op)
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN {%s, %s}", l.Path.Raw, formatLiteral(l.Values[0]), formatLiteral(l.Values[1]))
	case OpIn:
		s := l.Path.Raw + " IN {"
		for i, v := range l.Values {
			if i > 0 {
				s += ", "
			}
			s += formatLiteral(v)
		}
		return s + "}"
	}
	op := l.Op.String()
	if l.Case == Insensitive {
		op += "[c]"
	}
	return fmt.Sprintf("%s %s %s", l.Path.Raw, op, formatLiteral(l.Values[0]))
}

func formatLiteral(v realm.Value) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return fmt.Sprintf("%q", val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("B64(%x)", val)
	}
	return fmt.Sprintf("%v", v)
}

// Order is a sort direction.
type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

// Builder accumulates a predicate and its view modifiers for one object type.
type Builder struct {
	schema *schema.Schema
	object *schema.ObjectSchema
	tokens []token
	err    error

	sorted      bool
	distincted  bool
	descriptors []Descriptor
}

// NewBuilder starts a query over typeName. An unknown type is reported by Err.
func NewBuilder(s *schema.Schema, typeName string) *Builder {
	b := &Builder{schema: s}
	o, err := s.Object(typeName)
	if err != nil {
		b.err = err
		return b
	}
	b.object = o
	return b
}

// Err returns the first error recorded by a builder call.
func (b *Builder) Err() error {
	return b.err
}

// Object returns the queried type, or nil when the type is unknown.
func (b *Builder) Object() *schema.ObjectSchema {
	return b.object
}

// Schema returns the schema the builder resolves paths against.
func (b *Builder) Schema() *schema.Schema {
	return b.schema
}

// Fail records err unless an earlier error is already recorded.
func (b *Builder) Fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	cp := *b
	cp.tokens = append([]token(nil), b.tokens...)
	cp.descriptors = append([]Descriptor(nil), b.descriptors...)
	return &cp
}

func (b *Builder) resolve(op, field string) (*schema.Path, bool) {
	if b.err != nil {
		return nil, false
	}
	p, err := b.schema.ResolvePath(b.object.Name, field)
	if err != nil {
		b.Fail(relabel(err, op))
		return nil, false
	}
	return p, true
}

func relabel(err error, op string) error {
	if e, ok := err.(*realm.Error); ok {
		cp := *e
		cp.Op = op
		return &cp
	}
	return err
}

func (b *Builder) invalid(op, format string, args ...interface{}) *Builder {
	return b.Fail(realm.Errorf(realm.KindInvalidArgument, op, format, args...))
}

func (b *Builder) push(l *Leaf) *Builder {
	b.tokens = append(b.tokens, token{kind: tokLeaf, leaf: l})
	return b
}

// literal coerces a literal for comparison with the path's final column.
func (b *Builder) literal(op string, p *schema.Path, v interface{}) (realm.Value, bool) {
	c := p.Col
	if v == nil {
		if !c.Nullable {
			b.invalid(op, "field %q is not nullable and cannot be compared with null", p.Raw)
			return nil, false
		}
		return nil, true
	}
	if t, ok := v.(realm.Type); ok {
		b.invalid(op, "%s is a type, not a value", t)
		return nil, false
	}
	val, err := realm.Coerce(c.Type, v)
	if err != nil {
		b.invalid(op, "field %q of type %s cannot be compared with %T", p.Raw, c.Type, v)
		return nil, false
	}
	return val, true
}

func (b *Builder) noLinkValues(op string, p *schema.Path) bool {
	if p.Col.Type.IsLink() {
		b.invalid(op, "field %q is a %s; compare links with null tests only", p.Raw, p.Col.Type)
		return false
	}
	return true
}

// EqualTo matches objects whose field equals value. A nil value is IsNull.
func (b *Builder) EqualTo(field string, value interface{}, c ...Case) *Builder {
	if value == nil {
		return b.IsNull(field)
	}
	return b.compare("equalTo", OpEqual, field, value, c, allComparable)
}

// NotEqualTo matches objects whose field differs from value, including null
// fields. A nil value is IsNotNull.
func (b *Builder) NotEqualTo(field string, value interface{}, c ...Case) *Builder {
	if value == nil {
		return b.IsNotNull(field)
	}
	return b.compare("notEqualTo", OpNotEqual, field, value, c, allComparable)
}

// GreaterThan matches objects whose field is greater than value.
func (b *Builder) GreaterThan(field string, value interface{}) *Builder {
	return b.compare("greaterThan", OpGreater, field, value, nil, ordered)
}

// GreaterThanOrEqualTo matches objects whose field is at least value.
func (b *Builder) GreaterThanOrEqualTo(field string, value interface{}) *Builder {
	return b.compare("greaterThanOrEqualTo", OpGreaterEqual, field, value, nil, ordered)
}

// LessThan matches objects whose field is less than value.
func (b *Builder) LessThan(field string, value interface{}) *Builder {
	return b.compare("lessThan", OpLess, field, value, nil, ordered)
}

// LessThanOrEqualTo matches objects whose field is at most value.
func (b *Builder) LessThanOrEqualTo(field string, value interface{}) *Builder {
	return b.compare("lessThanOrEqualTo", OpLessEqual, field, value, nil, ordered)
}

// BeginsWith matches string fields starting with value.
func (b *Builder) BeginsWith(field, value string, c ...Case) *Builder {
	return b.compare("beginsWith", OpBeginsWith, field, value, c, stringsOnly)
}

// EndsWith matches string fields ending with value.
func (b *Builder) EndsWith(field, value string, c ...Case) *Builder {
	return b.compare("endsWith", OpEndsWith, field, value, c, stringsOnly)
}

// Contains matches string fields containing value.
func (b *Builder) Contains(field, value string, c ...Case) *Builder {
	return b.compare("contains", OpContains, field, value, c, stringsOnly)
}

// Like matches string fields against a glob where * matches any run of
// characters and ? matches exactly one.
func (b *Builder) Like(field, pattern string, c ...Case) *Builder {
	return b.compare("like", OpLike, field, pattern, c, stringsOnly)
}

type typeFilter func(realm.Type) bool

func allComparable(t realm.Type) bool { return !t.IsLink() }
func stringsOnly(t realm.Type) bool   { return t == realm.TypeString }
func ordered(t realm.Type) bool {
	return t == realm.TypeInt || t == realm.TypeFloat || t == realm.TypeDouble || t == realm.TypeDate
}

func caseOf(c []Case) Case {
	if len(c) > 0 {
		return c[0]
	}
	return Sensitive
}

func (b *Builder) compare(op string, o Op, field string, value interface{}, c []Case, allowed typeFilter) *Builder {
	p, ok := b.resolve(op, field)
	if !ok {
		return b
	}
	if !b.noLinkValues(op, p) {
		return b
	}
	if !allowed(p.Col.Type) {
		return b.invalid(op, "%s is not supported for field %q of type %s", op, p.Raw, p.Col.Type)
	}
	if value == nil {
		return b.invalid(op, "%s requires a non-null value", op)
	}
	v, ok := b.literal(op, p, value)
	if !ok {
		return b
	}
	cs := caseOf(c)
	if cs == Insensitive && p.Col.Type != realm.TypeString {
		return b.invalid(op, "case-insensitive comparison is only supported for strings, field %q is %s", p.Raw, p.Col.Type)
	}
	leaf := &Leaf{Op: o, Path: p, Values: []realm.Value{v}, Case: cs}
	if o == OpLike {
		pattern := v.(string)
		if cs == Insensitive {
			pattern = foldASCII(pattern)
		}
		g, err := compileLike(pattern)
		if err != nil {
			return b.invalid(op, "bad pattern %q for field %q: %v", pattern, p.Raw, err)
		}
		leaf.like = g
	}
	return b.push(leaf)
}

// Between matches fields within [low, high]. The field must be a direct
// numeric or date column.
func (b *Builder) Between(field string, low, high interface{}) *Builder {
	const op = "between"
	p, ok := b.resolve(op, field)
	if !ok {
		return b
	}
	if !p.IsDirect() {
		return b.invalid(op, "between is not supported across links (field %q)", p.Raw)
	}
	if !ordered(p.Col.Type) {
		return b.invalid(op, "between is not supported for field %q of type %s", p.Raw, p.Col.Type)
	}
	if low == nil || high == nil {
		return b.invalid(op, "between requires non-null bounds")
	}
	lo, ok := b.literal(op, p, low)
	if !ok {
		return b
	}
	hi, ok := b.literal(op, p, high)
	if !ok {
		return b
	}
	return b.push(&Leaf{Op: OpBetween, Path: p, Values: []realm.Value{lo, hi}})
}

// In matches fields equal to any of values.
func (b *Builder) In(field string, values []interface{}, c ...Case) *Builder {
	const op = "in"
	p, ok := b.resolve(op, field)
	if !ok {
		return b
	}
	if !b.noLinkValues(op, p) {
		return b
	}
	if len(values) == 0 {
		return b.invalid(op, "non-empty set of values required for field %q", p.Raw)
	}
	cs := caseOf(c)
	if cs == Insensitive && p.Col.Type != realm.TypeString {
		return b.invalid(op, "case-insensitive comparison is only supported for strings, field %q is %s", p.Raw, p.Col.Type)
	}
	lits := make([]realm.Value, 0, len(values))
	for _, raw := range values {
		v, ok := b.literal(op, p, raw)
		if !ok {
			return b
		}
		lits = append(lits, v)
	}
	return b.push(&Leaf{Op: OpIn, Path: p, Values: lits, Case: cs})
}

// IsNull matches objects whose field is null or whose link chain is broken.
func (b *Builder) IsNull(field string) *Builder {
	return b.nullTest("isNull", OpIsNull, field)
}

// IsNotNull is the complement of IsNull.
func (b *Builder) IsNotNull(field string) *Builder {
	return b.nullTest("isNotNull", OpIsNotNull, field)
}

func (b *Builder) nullTest(op string, o Op, field string) *Builder {
	p, ok := b.resolve(op, field)
	if !ok {
		return b
	}
	switch {
	case p.Col.Type == realm.TypeLinkList:
		return b.Fail(realm.Errorf(realm.KindInvalidArgument, op,
			"field %q is a list and is never null", p.Raw).WithCode(realm.CodeLinkListNull))
	case p.Col.Type == realm.TypeLink && !p.IsDirect():
		return b.invalid(op, "%s on a link reached through another link is not supported (field %q)", op, p.Raw)
	case !p.Col.Nullable:
		return b.invalid(op, "field %q is not nullable", p.Raw)
	}
	return b.push(&Leaf{Op: o, Path: p})
}

// IsEmpty matches zero-length String, Binary and LinkList fields.
func (b *Builder) IsEmpty(field string) *Builder {
	return b.emptyTest("isEmpty", OpIsEmpty, field)
}

// IsNotEmpty matches non-empty String, Binary and LinkList fields.
func (b *Builder) IsNotEmpty(field string) *Builder {
	return b.emptyTest("isNotEmpty", OpIsNotEmpty, field)
}

func (b *Builder) emptyTest(op string, o Op, field string) *Builder {
	p, ok := b.resolve(op, field)
	if !ok {
		return b
	}
	switch p.Col.Type {
	case realm.TypeString, realm.TypeBinary, realm.TypeLinkList:
	default:
		return b.invalid(op, "%s is not supported for field %q of type %s", op, p.Raw, p.Col.Type)
	}
	return b.push(&Leaf{Op: o, Path: p})
}

// Or joins the predicates on either side.
func (b *Builder) Or() *Builder {
	b.tokens = append(b.tokens, token{kind: tokOr})
	return b
}

// Not negates the following predicate or group.
func (b *Builder) Not() *Builder {
	b.tokens = append(b.tokens, token{kind: tokNot})
	return b
}

// BeginGroup opens a parenthesized group.
func (b *Builder) BeginGroup() *Builder {
	b.tokens = append(b.tokens, token{kind: tokBegin})
	return b
}

// EndGroup closes the innermost group.
func (b *Builder) EndGroup() *Builder {
	b.tokens = append(b.tokens, token{kind: tokEnd})
	return b
}

// Sort orders the results by fields. It may be called once per builder.
func (b *Builder) Sort(fields []string, orders []Order) *Builder {
	if b.err != nil {
		return b
	}
	if b.sorted {
		return b.Fail(realm.Errorf(realm.KindIllegalState, "sort", "sort was already applied to this query"))
	}
	d, err := NewSortDescriptor(b.schema, b.object, fields, orders)
	if err != nil {
		return b.Fail(err)
	}
	b.sorted = true
	b.descriptors = append(b.descriptors, d)
	return b
}

// Distinct keeps the first object per distinct tuple of fields. It may be
// called once per builder.
func (b *Builder) Distinct(fields ...string) *Builder {
	if b.err != nil {
		return b
	}
	if b.distincted {
		return b.Fail(realm.Errorf(realm.KindIllegalState, "distinct", "distinct was already applied to this query"))
	}
	d, err := NewDistinctDescriptor(b.schema, b.object, fields)
	if err != nil {
		return b.Fail(err)
	}
	b.distincted = true
	b.descriptors = append(b.descriptors, d)
	return b
}

// Compile parses the connectives and returns an executable plan.
func (b *Builder) Compile() (*Plan, error) {
	if b.err != nil {
		return nil, b.err
	}
	root, err := parseTokens(b.tokens)
	if err != nil {
		return nil, err
	}
	return newPlan(b.object, root, b.descriptors), nil
}

// Describe renders the predicate in text predicate syntax.
func (b *Builder) Describe() string {
	root, err := parseTokens(b.tokens)
	if err != nil {
		return "<invalid: " + err.Error() + ">"
	}
	s := root.String()
	for _, d := range b.descriptors {
		s += " " + d.String()
	}
	return s
}
