// Package schema maps object types to typed column layouts. A Schema is
// validated once when a realm opens and is immutable afterwards; everything
// downstream addresses columns by the integer indices it hands out.
package schema

import (
	"fmt"
	"strings"

	"github.com/wbrown/janus-realm/realm"
)

// Column describes one field of an object type.
type Column struct {
	Name       string
	Type       realm.Type
	Nullable   bool
	Indexed    bool
	PrimaryKey bool
	// Target names the linked object type for Link and LinkList columns.
	Target string
}

// Sortable reports whether results can be ordered by this column.
func (c *Column) Sortable() bool {
	switch c.Type {
	case realm.TypeBool, realm.TypeInt, realm.TypeFloat, realm.TypeDouble, realm.TypeString, realm.TypeDate:
		return true
	}
	return false
}

// Distinctable reports whether the column type supports distinct.
func (c *Column) Distinctable() bool {
	switch c.Type {
	case realm.TypeBool, realm.TypeInt, realm.TypeDate, realm.TypeString:
		return true
	}
	return false
}

func (c *Column) typeString() string {
	s := c.Type.String()
	if c.Type.IsLink() {
		s += "<" + c.Target + ">"
	}
	if c.Nullable {
		s += "?"
	}
	return s
}

// ObjectSchema is the column layout of one object type.
type ObjectSchema struct {
	Name    string
	Columns []Column

	index      int
	primaryKey int
	byName     map[string]int
}

// Object is a convenience constructor for an ObjectSchema.
func Object(name string, columns ...Column) *ObjectSchema {
	return &ObjectSchema{Name: name, Columns: columns}
}

// Index is the table index assigned to the type within its Schema.
func (o *ObjectSchema) Index() int {
	return o.index
}

// ColumnIndex returns the index of the named column.
func (o *ObjectSchema) ColumnIndex(name string) (int, bool) {
	i, ok := o.byName[name]
	return i, ok
}

// Column returns the named column, or nil.
func (o *ObjectSchema) Column(name string) *Column {
	if i, ok := o.byName[name]; ok {
		return &o.Columns[i]
	}
	return nil
}

// PrimaryKey returns the index of the primary key column, or -1.
func (o *ObjectSchema) PrimaryKey() int {
	return o.primaryKey
}

// HasPrimaryKey reports whether the type declares a primary key.
func (o *ObjectSchema) HasPrimaryKey() bool {
	return o.primaryKey >= 0
}

// Schema is the ordered set of object types known to a realm.
type Schema struct {
	objects []*ObjectSchema
	byName  map[string]int
}

// New validates the object schemas and assigns table and column indices.
func New(objects ...*ObjectSchema) (*Schema, error) {
	s := &Schema{
		objects: make([]*ObjectSchema, 0, len(objects)),
		byName:  make(map[string]int, len(objects)),
	}
	for _, o := range objects {
		if o == nil || o.Name == "" {
			return nil, realm.Errorf(realm.KindSchema, "schema", "object type without a name")
		}
		if _, dup := s.byName[o.Name]; dup {
			return nil, realm.Errorf(realm.KindSchema, "schema", "duplicate object type %q", o.Name)
		}
		cp := &ObjectSchema{
			Name:       o.Name,
			Columns:    append([]Column(nil), o.Columns...),
			index:      len(s.objects),
			primaryKey: -1,
			byName:     make(map[string]int, len(o.Columns)),
		}
		s.byName[o.Name] = cp.index
		s.objects = append(s.objects, cp)
	}

	for _, o := range s.objects {
		if err := s.validateObject(o); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustNew is New for statically known schemas; it panics on error.
func MustNew(objects ...*ObjectSchema) *Schema {
	s, err := New(objects...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) validateObject(o *ObjectSchema) error {
	if len(o.Columns) == 0 {
		return realm.Errorf(realm.KindSchema, "schema", "type %q has no columns", o.Name)
	}
	for i := range o.Columns {
		c := &o.Columns[i]
		if c.Name == "" || strings.Contains(c.Name, ".") {
			return realm.Errorf(realm.KindSchema, "schema", "type %q: invalid column name %q", o.Name, c.Name)
		}
		if _, dup := o.byName[c.Name]; dup {
			return realm.Errorf(realm.KindSchema, "schema", "type %q: duplicate column %q", o.Name, c.Name)
		}
		o.byName[c.Name] = i

		if _, ok := typeNames(c.Type); !ok {
			return realm.Errorf(realm.KindSchema, "schema", "%s.%s: unsupported column type %d", o.Name, c.Name, c.Type)
		}

		switch c.Type {
		case realm.TypeLink:
			// A single link is always nullable: the target may be deleted.
			c.Nullable = true
			fallthrough
		case realm.TypeLinkList:
			if _, ok := s.byName[c.Target]; !ok {
				return realm.Errorf(realm.KindSchema, "schema", "%s.%s links to unknown type %q", o.Name, c.Name, c.Target)
			}
			if c.Type == realm.TypeLinkList && c.Nullable {
				return realm.Errorf(realm.KindSchema, "schema", "%s.%s: list columns cannot be nullable", o.Name, c.Name)
			}
			if c.Indexed || c.PrimaryKey {
				return realm.Errorf(realm.KindSchema, "schema", "%s.%s: link columns cannot be indexed", o.Name, c.Name)
			}
		default:
			if c.Target != "" {
				return realm.Errorf(realm.KindSchema, "schema", "%s.%s: only link columns have a target", o.Name, c.Name)
			}
		}

		if c.PrimaryKey {
			if o.primaryKey >= 0 {
				return realm.Errorf(realm.KindSchema, "schema", "type %q declares more than one primary key", o.Name)
			}
			if c.Type != realm.TypeInt && c.Type != realm.TypeString {
				return realm.Errorf(realm.KindSchema, "schema", "%s.%s: %s is not a supported primary key type", o.Name, c.Name, c.Type)
			}
			o.primaryKey = i
			c.Indexed = true
		}
		if c.Indexed && !c.Distinctable() {
			return realm.Errorf(realm.KindSchema, "schema", "%s.%s: %s columns cannot be indexed", o.Name, c.Name, c.Type)
		}
	}
	return nil
}

func typeNames(t realm.Type) (string, bool) {
	if t < realm.TypeBool || t > realm.TypeLinkList {
		return "", false
	}
	return t.String(), true
}

// Object returns the schema of the named type.
func (s *Schema) Object(name string) (*ObjectSchema, error) {
	i, ok := s.byName[name]
	if !ok {
		return nil, realm.Errorf(realm.KindUnknownType, "schema", "type %q is not part of the schema", name)
	}
	return s.objects[i], nil
}

// ObjectAt returns the schema of the type with table index i.
func (s *Schema) ObjectAt(i int) *ObjectSchema {
	return s.objects[i]
}

// Objects returns the object schemas in declaration order.
func (s *Schema) Objects() []*ObjectSchema {
	return s.objects
}

// Len is the number of object types.
func (s *Schema) Len() int {
	return len(s.objects)
}

// Equal reports whether two schemas describe the same layout.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil || len(s.objects) != len(other.objects) {
		return false
	}
	for i, o := range s.objects {
		p := other.objects[i]
		if o.Name != p.Name || len(o.Columns) != len(p.Columns) {
			return false
		}
		for j := range o.Columns {
			if o.Columns[j] != p.Columns[j] {
				return false
			}
		}
	}
	return true
}

// Describe renders the schema as deterministic text, one type per block.
func (s *Schema) Describe() string {
	var b strings.Builder
	for i, o := range s.objects {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s\n", o.Name)
		for _, c := range o.Columns {
			fmt.Fprintf(&b, "  %s %s", c.Name, c.typeString())
			if c.PrimaryKey {
				b.WriteString(" @primaryKey")
			} else if c.Indexed {
				b.WriteString(" @indexed")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
