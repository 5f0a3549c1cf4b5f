package schema

import (
	"strings"

	"github.com/wbrown/janus-realm/realm"
)

// Hop is one link traversal in a field path.
type Hop struct {
	Table  int  // table the link column belongs to
	Column int  // index of the link column
	Target int  // table the link points into
	List   bool // LinkList hop (semi-join) rather than a single link
}

// Path is a field path resolved to integer indices.
type Path struct {
	Raw    string
	Root   int   // table the path starts from
	Hops   []Hop // link traversals, in order
	Table  int   // table the final column belongs to
	Column int   // index of the final column
	Col    *Column
}

// IsDirect reports whether the path names a column of the root table.
func (p *Path) IsDirect() bool {
	return len(p.Hops) == 0
}

// ThroughList reports whether any hop fans out over a list.
func (p *Path) ThroughList() bool {
	for _, h := range p.Hops {
		if h.List {
			return true
		}
	}
	return false
}

// ResolvePath resolves a dot-separated field path against the named type.
// Every non-final segment must name a Link or LinkList column.
func (s *Schema) ResolvePath(typeName, path string) (*Path, error) {
	o, err := s.Object(typeName)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, realm.Errorf(realm.KindInvalidArgument, "path", "non-empty field name required")
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, realm.Errorf(realm.KindInvalidArgument, "path", "invalid field path %q", path)
		}
	}

	p := &Path{Raw: path, Root: o.index}
	current := o
	for i, seg := range segments {
		col, ok := current.byName[seg]
		if !ok {
			return nil, realm.Errorf(realm.KindInvalidArgument, "path", "field %q does not exist in type %q (path %q)", seg, current.Name, path)
		}
		c := &current.Columns[col]
		if i == len(segments)-1 {
			p.Table = current.index
			p.Column = col
			p.Col = c
			break
		}
		if !c.Type.IsLink() {
			return nil, realm.Errorf(realm.KindInvalidArgument, "path", "field %q of type %q is not a link (path %q)", seg, current.Name, path)
		}
		target := s.objects[s.byName[c.Target]]
		p.Hops = append(p.Hops, Hop{
			Table:  current.index,
			Column: col,
			Target: target.index,
			List:   c.Type == realm.TypeLinkList,
		})
		current = target
	}
	return p, nil
}
