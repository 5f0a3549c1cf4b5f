package db

import (
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Standalone is an unmanaged object used to import graphs into a realm and
// to export them. Link fields hold a *Standalone or nil, list fields a
// []*Standalone, and every other field a plain Go value. Graphs may contain
// cycles.
type Standalone struct {
	Type   string
	Fields map[string]interface{}
}

// NewStandalone returns an unmanaged object of the given type.
func NewStandalone(typeName string, fields map[string]interface{}) *Standalone {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return &Standalone{Type: typeName, Fields: fields}
}

// importer copies a standalone graph into the open write transaction. The
// cache maps each source node to its managed copy so that shared nodes and
// cycles are materialized once.
type importer struct {
	r      *Realm
	op     string
	update bool
	cache  map[*Standalone]*Object
}

// CopyToRealm copies src and everything reachable from it into the realm.
// Objects whose primary key already exists fail with
// realm.ErrPrimaryKeyConstraint.
func (r *Realm) CopyToRealm(src *Standalone) (*Object, error) {
	return r.importGraph("copy to realm", src, false)
}

// CopyToRealmOrUpdate is CopyToRealm, except that an object whose primary
// key already exists is updated with the fields present in the source.
func (r *Realm) CopyToRealmOrUpdate(src *Standalone) (*Object, error) {
	return r.importGraph("copy to realm or update", src, true)
}

func (r *Realm) importGraph(op string, src *Standalone, update bool) (*Object, error) {
	if err := r.checkWrite(op); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "object to copy is required")
	}
	im := &importer{r: r, op: op, update: update, cache: make(map[*Standalone]*Object)}
	return im.copy(src)
}

func (im *importer) copy(src *Standalone) (*Object, error) {
	if obj, ok := im.cache[src]; ok {
		return obj, nil
	}
	o, err := im.r.objectSchema(im.op, src.Type)
	if err != nil {
		return nil, err
	}
	for name := range src.Fields {
		if _, ok := o.ColumnIndex(name); !ok {
			return nil, realm.Errorf(realm.KindInvalidArgument, im.op, "field %q does not exist in type %q", name, o.Name)
		}
	}

	obj, err := im.target(o, src)
	if err != nil {
		return nil, err
	}
	im.cache[src] = obj

	for ci := range o.Columns {
		c := &o.Columns[ci]
		raw, present := src.Fields[c.Name]
		if !present || ci == o.PrimaryKey() {
			continue
		}
		v, err := im.value(c, raw)
		if err != nil {
			return nil, err
		}
		if err := im.r.tx.Set(o.Index(), obj.key, ci, v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// target creates the managed object for src, or finds the existing one when
// updating by primary key.
func (im *importer) target(o *schema.ObjectSchema, src *Standalone) (*Object, error) {
	pk := o.PrimaryKey()
	if pk < 0 {
		key, err := im.r.tx.Create(o.Index())
		if err != nil {
			return nil, err
		}
		return newObject(im.r, o, key), nil
	}

	pv := src.Fields[o.Columns[pk].Name]
	if im.update {
		v, err := realm.Coerce(o.Columns[pk].Type, pv)
		if err != nil {
			return nil, realm.Wrap(realm.KindInvalidArgument, im.op, err, "bad primary key for %q", o.Name)
		}
		if key, ok := im.r.view().Table(o.Index()).FindByPrimaryKey(v); ok {
			return newObject(im.r, o, key), nil
		}
	}
	key, err := im.r.tx.CreateWithPrimaryKey(o.Index(), pv)
	if err != nil {
		return nil, err
	}
	return newObject(im.r, o, key), nil
}

func (im *importer) value(c *schema.Column, raw interface{}) (realm.Value, error) {
	switch c.Type {
	case realm.TypeLink:
		if raw == nil {
			return nil, nil
		}
		child, ok := raw.(*Standalone)
		if !ok {
			return nil, realm.Errorf(realm.KindInvalidArgument, im.op, "link field %q needs a *Standalone, got %T", c.Name, raw)
		}
		if child == nil {
			return nil, nil
		}
		obj, err := im.copy(child)
		if err != nil {
			return nil, err
		}
		return obj.key, nil

	case realm.TypeLinkList:
		var children []*Standalone
		if raw != nil {
			var ok bool
			if children, ok = raw.([]*Standalone); !ok {
				return nil, realm.Errorf(realm.KindInvalidArgument, im.op, "list field %q needs a []*Standalone, got %T", c.Name, raw)
			}
		}
		keys := make([]realm.ObjKey, 0, len(children))
		for _, child := range children {
			if child == nil {
				return nil, realm.Errorf(realm.KindInvalidArgument, im.op, "list field %q cannot hold null", c.Name)
			}
			obj, err := im.copy(child)
			if err != nil {
				return nil, err
			}
			keys = append(keys, obj.key)
		}
		return keys, nil
	}

	v, err := realm.Coerce(c.Type, raw)
	if err != nil {
		return nil, realm.Wrap(realm.KindInvalidArgument, im.op, err, "bad value for field %q", c.Name)
	}
	return v, nil
}

type objectID struct {
	table int
	key   realm.ObjKey
}

type exported struct {
	node  *Standalone
	depth int
}

// exporter detaches managed objects. A node already exported with at least
// the requested remaining depth is reused; a shallower one is filled in
// again so every node reaches the deepest depth it was requested at.
type exporter struct {
	r     *Realm
	cache map[objectID]*exported
}

// CopyFromRealm returns an unmanaged copy of obj. Links are followed depth
// levels deep; links beyond that are nil. Shared objects and cycles map to
// shared nodes.
func (r *Realm) CopyFromRealm(obj *Object, depth int) (*Standalone, error) {
	const op = "copy from realm"
	if err := r.check(op); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "object to copy is required")
	}
	if depth < 0 {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "depth must be >= 0, got %d", depth)
	}
	if obj.realm != r {
		return nil, realm.Errorf(realm.KindInvalidArgument, op, "object %s belongs to another realm handle", obj)
	}
	if !obj.IsValid() {
		return nil, invalidatedError(op, "object "+obj.String())
	}
	ex := &exporter{r: r, cache: make(map[objectID]*exported)}
	return ex.export(obj.object, obj.key, depth), nil
}

func (ex *exporter) export(o *schema.ObjectSchema, key realm.ObjKey, depth int) *Standalone {
	id := objectID{table: o.Index(), key: key}
	e, ok := ex.cache[id]
	if ok && e.depth >= depth {
		return e.node
	}
	if !ok {
		e = &exported{node: NewStandalone(o.Name, nil)}
		ex.cache[id] = e
	}
	e.depth = depth

	row, _ := ex.r.view().Table(o.Index()).Row(key)
	for ci := range o.Columns {
		c := &o.Columns[ci]
		switch c.Type {
		case realm.TypeLink:
			k, linked := row[ci].(realm.ObjKey)
			if !linked || depth == 0 {
				e.node.Fields[c.Name] = nil
				continue
			}
			target, _ := ex.r.schema.Object(c.Target)
			e.node.Fields[c.Name] = ex.export(target, k, depth-1)
		case realm.TypeLinkList:
			if depth == 0 {
				e.node.Fields[c.Name] = nil
				continue
			}
			target, _ := ex.r.schema.Object(c.Target)
			keys, _ := row[ci].([]realm.ObjKey)
			children := make([]*Standalone, len(keys))
			for i, k := range keys {
				children[i] = ex.export(target, k, depth-1)
			}
			e.node.Fields[c.Name] = children
		default:
			e.node.Fields[c.Name] = realm.CloneValue(row[ci])
		}
	}
	return e.node
}
