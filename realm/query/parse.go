package query

import (
	"strings"

	"github.com/wbrown/janus-realm/realm"
)

// Node is a compiled predicate.
type Node interface {
	String() string
}

// TrueNode matches every object; it is the predicate of an empty query.
type TrueNode struct{}

func (TrueNode) String() string { return "TRUEPREDICATE" }

// AndNode matches when every child matches.
type AndNode struct{ Children []Node }

func (n *AndNode) String() string { return joinNodes(n.Children, " AND ") }

// OrNode matches when any child matches.
type OrNode struct{ Children []Node }

func (n *OrNode) String() string { return joinNodes(n.Children, " OR ") }

// NotNode negates its child.
type NotNode struct{ Child Node }

func (n *NotNode) String() string { return "NOT " + groupString(n.Child) }

// LeafNode wraps a single comparison.
type LeafNode struct{ Leaf *Leaf }

func (n *LeafNode) String() string { return n.Leaf.String() }

func groupString(n Node) string {
	switch n.(type) {
	case *AndNode, *OrNode:
		return "(" + n.String() + ")"
	}
	return n.String()
}

func joinNodes(nodes []Node, sep string) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = groupString(n)
	}
	return strings.Join(parts, sep)
}

// parser turns the builder's flat token stream into a tree. AND binds
// tighter than OR:
//
//	expr  := and (OR and)*
//	and   := unary unary*
//	unary := NOT unary | LEAF | BEGIN expr END
type parser struct {
	tokens []token
	pos    int
}

func parseTokens(tokens []token) (Node, error) {
	if len(tokens) == 0 {
		return TrueNode{}, nil
	}
	p := &parser{tokens: tokens}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		// Only an unmatched EndGroup can stop expr early.
		return nil, unsupported("endGroup() without a matching beginGroup()")
	}
	return n, nil
}

func unsupported(format string, args ...interface{}) error {
	return realm.Errorf(realm.KindUnsupportedOperation, "query", format, args...)
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) expr() (Node, error) {
	first, err := p.and()
	if err != nil {
		return nil, err
	}
	children := []Node{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokOr {
			break
		}
		p.pos++
		next, err := p.and()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return &OrNode{Children: children}, nil
}

func (p *parser) and() (Node, error) {
	var children []Node
	for {
		t, ok := p.peek()
		if !ok || t.kind == tokOr || t.kind == tokEnd {
			break
		}
		n, err := p.unary()
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	if len(children) == 0 {
		return nil, p.missingOperand()
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return &AndNode{Children: children}, nil
}

// missingOperand explains why a conjunction came up empty.
func (p *parser) missingOperand() error {
	var prev *token
	if p.pos > 0 {
		prev = &p.tokens[p.pos-1]
	}
	t, ok := p.peek()
	switch {
	case prev == nil && ok && t.kind == tokOr:
		return unsupported("or() has no predicate on its left")
	case prev != nil && prev.kind == tokOr:
		return unsupported("or() has no predicate on its right")
	case prev != nil && prev.kind == tokBegin:
		return unsupported("empty group")
	case ok && t.kind == tokOr:
		return unsupported("or() has no predicate on its left")
	}
	return unsupported("missing predicate")
}

func (p *parser) unary() (Node, error) {
	t, _ := p.peek()
	switch t.kind {
	case tokNot:
		p.pos++
		next, ok := p.peek()
		if !ok || next.kind == tokOr || next.kind == tokEnd {
			return nil, unsupported("not() must be followed by a predicate or a group")
		}
		child, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &NotNode{Child: child}, nil
	case tokBegin:
		p.pos++
		if next, ok := p.peek(); ok && next.kind == tokEnd {
			return nil, unsupported("empty group")
		}
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		end, ok := p.peek()
		if !ok || end.kind != tokEnd {
			return nil, unsupported("beginGroup() without a matching endGroup()")
		}
		p.pos++
		return n, nil
	case tokLeaf:
		p.pos++
		return &LeafNode{Leaf: t.leaf}, nil
	}
	return nil, unsupported("unexpected connective")
}
