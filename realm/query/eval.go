package query

import (
	"bytes"
	"strings"

	"github.com/gobwas/glob"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
	"github.com/wbrown/janus-realm/realm/storage"
)

// Plan is a compiled query: a predicate tree over one table plus the view
// modifiers to apply to its matches.
type Plan struct {
	object      *schema.ObjectSchema
	root        Node
	descriptors []Descriptor
	indexed     *Leaf
}

func newPlan(o *schema.ObjectSchema, root Node, descriptors []Descriptor) *Plan {
	p := &Plan{object: o, root: root, descriptors: descriptors}
	p.indexed = indexableLeaf(root)
	return p
}

// indexableLeaf finds an EqualTo leaf on an indexed direct column that every
// match must satisfy.
func indexableLeaf(n Node) *Leaf {
	usable := func(l *Leaf) bool {
		return l.Op == OpEqual && l.Path.IsDirect() && l.Path.Col.Indexed && l.Case == Sensitive
	}
	switch node := n.(type) {
	case *LeafNode:
		if usable(node.Leaf) {
			return node.Leaf
		}
	case *AndNode:
		for _, c := range node.Children {
			if leaf, ok := c.(*LeafNode); ok && usable(leaf.Leaf) {
				return leaf.Leaf
			}
		}
	}
	return nil
}

// Object returns the queried type.
func (p *Plan) Object() *schema.ObjectSchema {
	return p.object
}

// Root returns the predicate tree.
func (p *Plan) Root() Node {
	return p.root
}

// Descriptors returns the sort and distinct modifiers in call order.
func (p *Plan) Descriptors() []Descriptor {
	return p.descriptors
}

// Indexed reports whether Find narrows its candidates through a value index.
func (p *Plan) Indexed() bool {
	return p.indexed != nil
}

// Tables returns the indices of every table the predicate reads.
func (p *Plan) Tables() []int {
	seen := map[int]bool{p.object.Index(): true}
	out := []int{p.object.Index()}
	var walk func(Node)
	walk = func(n Node) {
		switch node := n.(type) {
		case *AndNode:
			for _, c := range node.Children {
				walk(c)
			}
		case *OrNode:
			for _, c := range node.Children {
				walk(c)
			}
		case *NotNode:
			walk(node.Child)
		case *LeafNode:
			for _, h := range node.Leaf.Path.Hops {
				if !seen[h.Target] {
					seen[h.Target] = true
					out = append(out, h.Target)
				}
			}
		}
	}
	walk(p.root)
	return out
}

// Find returns the matching keys of base in base order. A nil base scans the
// whole table. Sort and distinct are not applied.
func (p *Plan) Find(snap *storage.Snapshot, base []realm.ObjKey) []realm.ObjKey {
	table := snap.Table(p.object.Index())
	candidates := base
	if candidates == nil {
		candidates = table.Keys()
	}

	if p.indexed != nil {
		hits := table.Index(p.indexed.Path.Column).Lookup(p.indexed.Values[0])
		if base == nil {
			candidates = hits
		} else {
			set := make(map[realm.ObjKey]struct{}, len(hits))
			for _, k := range hits {
				set[k] = struct{}{}
			}
			filtered := make([]realm.ObjKey, 0, len(hits))
			for _, k := range base {
				if _, ok := set[k]; ok {
					filtered = append(filtered, k)
				}
			}
			candidates = filtered
		}
	}

	ev := &evaluator{snap: snap}
	out := make([]realm.ObjKey, 0, len(candidates))
	for _, k := range candidates {
		if !table.Has(k) {
			continue
		}
		if ev.match(p.root, k) {
			out = append(out, k)
		}
	}
	return out
}

// FindAll returns the matching keys with sort and distinct applied.
func (p *Plan) FindAll(snap *storage.Snapshot, base []realm.ObjKey) []realm.ObjKey {
	return ApplyDescriptors(snap, p.Find(snap, base), p.descriptors)
}

// Count returns the number of matches.
func (p *Plan) Count(snap *storage.Snapshot, base []realm.ObjKey) int64 {
	if hasDistinct(p.descriptors) {
		return int64(len(p.FindAll(snap, base)))
	}
	return int64(len(p.Find(snap, base)))
}

type evaluator struct {
	snap *storage.Snapshot
}

func (e *evaluator) match(n Node, key realm.ObjKey) bool {
	switch node := n.(type) {
	case TrueNode:
		return true
	case *AndNode:
		for _, c := range node.Children {
			if !e.match(c, key) {
				return false
			}
		}
		return true
	case *OrNode:
		for _, c := range node.Children {
			if e.match(c, key) {
				return true
			}
		}
		return false
	case *NotNode:
		return !e.match(node.Child, key)
	case *LeafNode:
		return e.matchLeaf(node.Leaf, key)
	}
	return false
}

// matchLeaf applies the leaf to every value the path reaches from key. A
// broken single link reaches no value but counts as null for null tests;
// list hops match when any element matches.
func (e *evaluator) matchLeaf(l *Leaf, key realm.ObjKey) bool {
	p := l.Path
	if p.IsDirect() {
		v, ok := e.snap.Value(p.Table, key, p.Column)
		if !ok {
			return false
		}
		return matchValue(l, v)
	}
	return e.walk(l, 0, key)
}

func (e *evaluator) walk(l *Leaf, hop int, key realm.ObjKey) bool {
	p := l.Path
	if hop == len(p.Hops) {
		v, ok := e.snap.Value(p.Table, key, p.Column)
		if !ok {
			return false
		}
		return matchValue(l, v)
	}
	h := p.Hops[hop]
	raw, ok := e.snap.Value(h.Table, key, h.Column)
	if !ok {
		return false
	}
	if h.List {
		list, _ := raw.([]realm.ObjKey)
		for _, target := range list {
			if e.walk(l, hop+1, target) {
				return true
			}
		}
		return false
	}
	target, isKey := raw.(realm.ObjKey)
	if !isKey || !e.snap.Table(h.Target).Has(target) {
		return l.Op == OpIsNull
	}
	return e.walk(l, hop+1, target)
}

// matchValue evaluates the leaf against one stored value.
func matchValue(l *Leaf, v realm.Value) bool {
	switch l.Op {
	case OpIsNull:
		return v == nil
	case OpIsNotNull:
		return v != nil
	case OpIsEmpty:
		return v != nil && valueLen(v) == 0
	case OpIsNotEmpty:
		return v != nil && valueLen(v) > 0
	}

	if v == nil {
		// Null is different from every non-null literal and unordered.
		if l.Op == OpIn {
			for _, lit := range l.Values {
				if lit == nil {
					return true
				}
			}
		}
		return l.Op == OpNotEqual
	}

	switch l.Op {
	case OpEqual:
		return equalValues(v, l.Values[0], l.Case)
	case OpNotEqual:
		return !equalValues(v, l.Values[0], l.Case)
	case OpIn:
		for _, lit := range l.Values {
			if lit == nil {
				continue
			}
			if equalValues(v, lit, l.Case) {
				return true
			}
		}
		return false
	case OpGreater:
		return realm.CompareValues(v, l.Values[0]) > 0
	case OpGreaterEqual:
		return realm.CompareValues(v, l.Values[0]) >= 0
	case OpLess:
		return realm.CompareValues(v, l.Values[0]) < 0
	case OpLessEqual:
		return realm.CompareValues(v, l.Values[0]) <= 0
	case OpBetween:
		return realm.CompareValues(v, l.Values[0]) >= 0 && realm.CompareValues(v, l.Values[1]) <= 0
	}

	s, ok := v.(string)
	if !ok {
		return false
	}
	lit, _ := l.Values[0].(string)
	if l.Case == Insensitive {
		s, lit = foldASCII(s), foldASCII(lit)
	}
	switch l.Op {
	case OpBeginsWith:
		return strings.HasPrefix(s, lit)
	case OpEndsWith:
		return strings.HasSuffix(s, lit)
	case OpContains:
		return strings.Contains(s, lit)
	case OpLike:
		return l.like != nil && l.like.Match(s)
	}
	return false
}

func valueLen(v realm.Value) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []byte:
		return len(val)
	case []realm.ObjKey:
		return len(val)
	}
	return -1
}

func equalValues(stored, lit realm.Value, c Case) bool {
	if c == Insensitive {
		s, ok1 := stored.(string)
		l, ok2 := lit.(string)
		if ok1 && ok2 {
			return foldASCII(s) == foldASCII(l)
		}
	}
	if b, ok := stored.([]byte); ok {
		lb, ok := lit.([]byte)
		return ok && bytes.Equal(b, lb)
	}
	return realm.ValuesEqual(stored, lit)
}

// foldASCII lower-cases ASCII letters and leaves every other rune alone.
func foldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}

// compileLike turns a Like pattern into a glob where * matches any run of
// runes and ? matches exactly one. Every other rune is literal.
func compileLike(pattern string) (glob.Glob, error) {
	var sb strings.Builder
	for _, r := range pattern {
		switch r {
		case '*', '?':
			sb.WriteRune(r)
		default:
			sb.WriteString(glob.QuoteMeta(string(r)))
		}
	}
	return glob.Compile(sb.String())
}
