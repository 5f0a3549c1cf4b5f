package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wbrown/janus-realm/realm"
)

// document is the on-disk YAML form of a Schema.
type document struct {
	Types []typeDoc `yaml:"types"`
}

type typeDoc struct {
	Name    string      `yaml:"name"`
	Columns []columnDoc `yaml:"columns"`
}

type columnDoc struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Target     string `yaml:"target,omitempty"`
	Nullable   bool   `yaml:"nullable,omitempty"`
	Indexed    bool   `yaml:"indexed,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty"`
}

// LoadYAML reads and validates a schema document.
//
// Example:
//
//	types:
//	  - name: Dog
//	    columns:
//	      - {name: name, type: string, nullable: true}
//	      - {name: owner, type: link, target: Owner}
func LoadYAML(r io.Reader) (*Schema, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, realm.Wrap(realm.KindSchema, "schema", err, "failed to parse schema document")
	}

	objects := make([]*ObjectSchema, 0, len(doc.Types))
	for _, td := range doc.Types {
		o := &ObjectSchema{Name: td.Name}
		for _, cd := range td.Columns {
			t, ok := realm.ParseType(cd.Type)
			if !ok {
				return nil, realm.Errorf(realm.KindSchema, "schema", "%s.%s: unknown column type %q", td.Name, cd.Name, cd.Type)
			}
			o.Columns = append(o.Columns, Column{
				Name:       cd.Name,
				Type:       t,
				Target:     cd.Target,
				Nullable:   cd.Nullable,
				Indexed:    cd.Indexed,
				PrimaryKey: cd.PrimaryKey,
			})
		}
		objects = append(objects, o)
	}
	return New(objects...)
}

// LoadFile reads a schema document from path.
func LoadFile(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, realm.Wrap(realm.KindIO, "schema", err, "failed to open schema file %s", path)
	}
	defer f.Close()
	return LoadYAML(f)
}

// EncodeYAML encodes the schema in the form LoadYAML accepts.
func (s *Schema) EncodeYAML() ([]byte, error) {
	doc := document{Types: make([]typeDoc, 0, len(s.objects))}
	for _, o := range s.objects {
		td := typeDoc{Name: o.Name}
		for _, c := range o.Columns {
			cd := columnDoc{
				Name:       c.Name,
				Type:       c.Type.String(),
				Target:     c.Target,
				Nullable:   c.Nullable && c.Type != realm.TypeLink,
				PrimaryKey: c.PrimaryKey,
			}
			if !c.PrimaryKey {
				cd.Indexed = c.Indexed
			}
			td.Columns = append(td.Columns, cd)
		}
		doc.Types = append(doc.Types, td)
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode schema: %w", err)
	}
	return out, nil
}
