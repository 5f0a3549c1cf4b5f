package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// ParsePredicate builds a query over typeName from a text predicate such as
//
//	age > 5 AND (name BEGINSWITH[c] "p" OR dogs.age == 10) SORT(age DESC)
//
// Supported: == = != <> > >= < <= BEGINSWITH ENDSWITH CONTAINS LIKE, each
// string operator optionally suffixed with [c] for ASCII case-insensitivity;
// BETWEEN {lo, hi}; IN {a, b, ...}; IS [NOT] EMPTY; AND/&&, OR/||, NOT/!,
// parentheses, TRUEPREDICATE; trailing SORT(field [ASC|DESC], ...) and
// DISTINCT(field, ...). Literals are quoted strings, numbers, true, false,
// null and date("2006-01-02") or date("<RFC 3339>").
func ParsePredicate(s *schema.Schema, typeName, text string) (*Builder, error) {
	b := NewBuilder(s, typeName)
	if b.Err() != nil {
		return nil, b.Err()
	}
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &textParser{toks: toks, b: b}
	if err := p.parse(); err != nil {
		return nil, err
	}
	if b.Err() != nil {
		return nil, b.Err()
	}
	return b, nil
}

type lexKind int

const (
	lexIdent lexKind = iota
	lexString
	lexNumber
	lexPunct
	lexEOF
)

type lexToken struct {
	kind lexKind
	text string
	pos  int
}

func syntaxError(pos int, format string, args ...interface{}) error {
	return realm.Errorf(realm.KindInvalidArgument, "parse", "at offset %d: %s", pos, fmt.Sprintf(format, args...))
}

var punctuation = []string{"[c]", "==", "!=", "<>", ">=", "<=", "&&", "||", "=", ">", "<", "!", "(", ")", "{", "}", ","}

func lex(src string) ([]lexToken, error) {
	var toks []lexToken
	i := 0
	for i < len(src) {
		c, width := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(c):
			i += width
		case c == '"' || c == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				ch := src[i]
				if ch == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if rune(ch) == c {
					closed = true
					i++
					break
				}
				sb.WriteByte(ch)
				i++
			}
			if !closed {
				return nil, syntaxError(start, "unterminated string")
			}
			toks = append(toks, lexToken{kind: lexString, text: sb.String(), pos: start})
		case c == '-' || c == '+' || (c >= '0' && c <= '9'):
			start := i
			i++
			for i < len(src) && strings.ContainsRune("0123456789.eE+-", rune(src[i])) {
				if (src[i] == '+' || src[i] == '-') && src[i-1] != 'e' && src[i-1] != 'E' {
					break
				}
				i++
			}
			toks = append(toks, lexToken{kind: lexNumber, text: src[start:i], pos: start})
		case c == '_' || unicode.IsLetter(c):
			start := i
			for i < len(src) {
				r, w := utf8.DecodeRuneInString(src[i:])
				if r != '_' && r != '.' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += w
			}
			toks = append(toks, lexToken{kind: lexIdent, text: src[start:i], pos: start})
		default:
			matched := false
			for _, p := range punctuation {
				if strings.HasPrefix(src[i:], p) {
					toks = append(toks, lexToken{kind: lexPunct, text: p, pos: i})
					i += len(p)
					matched = true
					break
				}
			}
			if !matched {
				return nil, syntaxError(i, "unexpected character %q", c)
			}
		}
	}
	return append(toks, lexToken{kind: lexEOF, pos: len(src)}), nil
}

type textParser struct {
	toks []lexToken
	pos  int
	b    *Builder
}

func (p *textParser) peek() lexToken { return p.toks[p.pos] }
func (p *textParser) next() lexToken {
	t := p.toks[p.pos]
	if t.kind != lexEOF {
		p.pos++
	}
	return t
}

func (p *textParser) isKeyword(t lexToken, words ...string) bool {
	if t.kind != lexIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(t.text, w) {
			return true
		}
	}
	return false
}

func (p *textParser) isPunct(t lexToken, s string) bool {
	return t.kind == lexPunct && t.text == s
}

func (p *textParser) expectPunct(s string) error {
	t := p.next()
	if !p.isPunct(t, s) {
		return syntaxError(t.pos, "expected %q, found %q", s, t.text)
	}
	return nil
}

func (p *textParser) parse() error {
	t := p.peek()
	if t.kind != lexEOF && !p.isKeyword(t, "SORT", "DISTINCT") {
		if err := p.expr(); err != nil {
			return err
		}
	}
	for {
		t := p.peek()
		switch {
		case t.kind == lexEOF:
			return nil
		case p.isKeyword(t, "SORT"):
			if err := p.sortClause(); err != nil {
				return err
			}
		case p.isKeyword(t, "DISTINCT"):
			if err := p.distinctClause(); err != nil {
				return err
			}
		default:
			return syntaxError(t.pos, "unexpected %q", t.text)
		}
	}
}

func (p *textParser) expr() error {
	if err := p.and(); err != nil {
		return err
	}
	for p.isKeyword(p.peek(), "OR") || p.isPunct(p.peek(), "||") {
		p.next()
		p.b.Or()
		if err := p.and(); err != nil {
			return err
		}
	}
	return nil
}

func (p *textParser) and() error {
	if err := p.unary(); err != nil {
		return err
	}
	for p.isKeyword(p.peek(), "AND") || p.isPunct(p.peek(), "&&") {
		p.next()
		if err := p.unary(); err != nil {
			return err
		}
	}
	return nil
}

func (p *textParser) unary() error {
	t := p.peek()
	switch {
	case p.isKeyword(t, "NOT") || p.isPunct(t, "!"):
		p.next()
		p.b.Not()
		return p.unary()
	case p.isPunct(t, "("):
		p.next()
		p.b.BeginGroup()
		if err := p.expr(); err != nil {
			return err
		}
		if err := p.expectPunct(")"); err != nil {
			return err
		}
		p.b.EndGroup()
		return nil
	case p.isKeyword(t, "TRUEPREDICATE"):
		p.next()
		// Matches everything: an always-true group would need a leaf, so
		// emit nothing when it stands alone.
		if p.pos == 1 && p.peek().kind == lexEOF {
			return nil
		}
		return syntaxError(t.pos, "TRUEPREDICATE must be the whole predicate")
	case t.kind == lexIdent:
		return p.comparison()
	}
	return syntaxError(t.pos, "expected a predicate, found %q", t.text)
}

func (p *textParser) comparison() error {
	field := p.next().text
	opTok := p.next()

	if p.isKeyword(opTok, "IS") {
		not := false
		if p.isKeyword(p.peek(), "NOT") {
			p.next()
			not = true
		}
		t := p.next()
		switch {
		case p.isKeyword(t, "EMPTY") && not:
			p.b.IsNotEmpty(field)
		case p.isKeyword(t, "EMPTY"):
			p.b.IsEmpty(field)
		case p.isKeyword(t, "NULL", "NIL") && not:
			p.b.IsNotNull(field)
		case p.isKeyword(t, "NULL", "NIL"):
			p.b.IsNull(field)
		default:
			return syntaxError(t.pos, "expected EMPTY or NULL after IS")
		}
		return nil
	}
	if p.isKeyword(opTok, "BETWEEN") {
		vals, err := p.valueSet()
		if err != nil {
			return err
		}
		if len(vals) != 2 {
			return syntaxError(opTok.pos, "BETWEEN takes exactly two values")
		}
		p.b.Between(field, vals[0], vals[1])
		return nil
	}

	cs := Sensitive
	caseFlag := func() {
		if p.isPunct(p.peek(), "[c]") {
			p.next()
			cs = Insensitive
		}
	}

	if p.isKeyword(opTok, "IN") {
		caseFlag()
		vals, err := p.valueSet()
		if err != nil {
			return err
		}
		p.b.In(field, vals, cs)
		return nil
	}

	var op string
	switch {
	case opTok.kind == lexPunct:
		op = opTok.text
	case p.isKeyword(opTok, "BEGINSWITH", "ENDSWITH", "CONTAINS", "LIKE"):
		op = strings.ToUpper(opTok.text)
	default:
		return syntaxError(opTok.pos, "unknown operator %q", opTok.text)
	}
	caseFlag()
	v, err := p.value()
	if err != nil {
		return err
	}

	str := func() (string, error) {
		s, ok := v.(string)
		if !ok {
			return "", syntaxError(opTok.pos, "%s needs a string operand", op)
		}
		return s, nil
	}
	switch op {
	case "==", "=":
		p.b.EqualTo(field, v, cs)
	case "!=", "<>":
		p.b.NotEqualTo(field, v, cs)
	case ">":
		p.b.GreaterThan(field, v)
	case ">=":
		p.b.GreaterThanOrEqualTo(field, v)
	case "<":
		p.b.LessThan(field, v)
	case "<=":
		p.b.LessThanOrEqualTo(field, v)
	case "BEGINSWITH", "ENDSWITH", "CONTAINS", "LIKE":
		s, err := str()
		if err != nil {
			return err
		}
		switch op {
		case "BEGINSWITH":
			p.b.BeginsWith(field, s, cs)
		case "ENDSWITH":
			p.b.EndsWith(field, s, cs)
		case "CONTAINS":
			p.b.Contains(field, s, cs)
		default:
			p.b.Like(field, s, cs)
		}
	default:
		return syntaxError(opTok.pos, "unknown operator %q", op)
	}
	return nil
}

func (p *textParser) valueSet() ([]interface{}, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var vals []interface{}
	if p.isPunct(p.peek(), "}") {
		p.next()
		return vals, nil
	}
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		t := p.next()
		if p.isPunct(t, "}") {
			return vals, nil
		}
		if !p.isPunct(t, ",") {
			return nil, syntaxError(t.pos, "expected \",\" or \"}\"")
		}
	}
}

func (p *textParser) value() (interface{}, error) {
	t := p.next()
	switch t.kind {
	case lexString:
		return t.text, nil
	case lexNumber:
		if !strings.ContainsAny(t.text, ".eE") {
			i, err := strconv.ParseInt(t.text, 10, 64)
			if err != nil {
				return nil, syntaxError(t.pos, "bad integer %q", t.text)
			}
			return i, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, syntaxError(t.pos, "bad number %q", t.text)
		}
		return f, nil
	case lexIdent:
		switch {
		case p.isKeyword(t, "true"):
			return true, nil
		case p.isKeyword(t, "false"):
			return false, nil
		case p.isKeyword(t, "null", "nil"):
			return nil, nil
		case p.isKeyword(t, "date"):
			return p.date()
		}
	}
	return nil, syntaxError(t.pos, "expected a value, found %q", t.text)
}

func (p *textParser) date() (interface{}, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	t := p.next()
	if t.kind != lexString {
		return nil, syntaxError(t.pos, "date() takes a quoted timestamp")
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if ts, err := time.Parse(layout, t.text); err == nil {
			return ts.UTC(), nil
		}
	}
	return nil, syntaxError(t.pos, "bad timestamp %q", t.text)
}

func (p *textParser) fieldList() ([]string, []Order, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, nil, err
	}
	var fields []string
	var orders []Order
	for {
		t := p.next()
		if t.kind != lexIdent {
			return nil, nil, syntaxError(t.pos, "expected a field name")
		}
		fields = append(fields, t.text)
		order := Ascending
		if p.isKeyword(p.peek(), "ASC", "ASCENDING") {
			p.next()
		} else if p.isKeyword(p.peek(), "DESC", "DESCENDING") {
			p.next()
			order = Descending
		}
		orders = append(orders, order)
		t = p.next()
		if p.isPunct(t, ")") {
			return fields, orders, nil
		}
		if !p.isPunct(t, ",") {
			return nil, nil, syntaxError(t.pos, "expected \",\" or \")\"")
		}
	}
}

func (p *textParser) sortClause() error {
	p.next()
	fields, orders, err := p.fieldList()
	if err != nil {
		return err
	}
	p.b.Sort(fields, orders)
	return nil
}

func (p *textParser) distinctClause() error {
	p.next()
	fields, _, err := p.fieldList()
	if err != nil {
		return err
	}
	p.b.Distinct(fields...)
	return nil
}
