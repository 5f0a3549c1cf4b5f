package schema_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wbrown/janus-realm/internal/fixtures"
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

func TestDescribeGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)

	g.Assert(t, "animals_schema", []byte(fixtures.Animals().Describe()))
	g.Assert(t, "primary_keys_schema", []byte(schema.MustNew(fixtures.PrimaryKeyObjects()...).Describe()))
}

func TestObjectLookup(t *testing.T) {
	s := fixtures.Animals()

	dog, err := s.Object(fixtures.Dog)
	require.NoError(t, err)
	assert.Equal(t, 1, dog.Index())

	idx, ok := dog.ColumnIndex("age")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	_, err = s.Object("Unicorn")
	assert.ErrorIs(t, err, realm.ErrUnknownType)
	assert.ErrorIs(t, err, realm.ErrInvalidArgument)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		objects []*schema.ObjectSchema
	}{
		{"duplicate type", []*schema.ObjectSchema{
			schema.Object("A", schema.Column{Name: "x", Type: realm.TypeInt}),
			schema.Object("A", schema.Column{Name: "y", Type: realm.TypeInt}),
		}},
		{"duplicate column", []*schema.ObjectSchema{
			schema.Object("A", schema.Column{Name: "x", Type: realm.TypeInt}, schema.Column{Name: "x", Type: realm.TypeString}),
		}},
		{"two primary keys", []*schema.ObjectSchema{
			schema.Object("A",
				schema.Column{Name: "x", Type: realm.TypeInt, PrimaryKey: true},
				schema.Column{Name: "y", Type: realm.TypeString, PrimaryKey: true}),
		}},
		{"double primary key", []*schema.ObjectSchema{
			schema.Object("A", schema.Column{Name: "x", Type: realm.TypeDouble, PrimaryKey: true}),
		}},
		{"unknown link target", []*schema.ObjectSchema{
			schema.Object("A", schema.Column{Name: "b", Type: realm.TypeLink, Target: "B"}),
		}},
		{"nullable list", []*schema.ObjectSchema{
			schema.Object("A", schema.Column{Name: "self", Type: realm.TypeLinkList, Target: "A", Nullable: true}),
		}},
		{"indexed binary", []*schema.ObjectSchema{
			schema.Object("A", schema.Column{Name: "blob", Type: realm.TypeBinary, Indexed: true}),
		}},
		{"dotted column", []*schema.ObjectSchema{
			schema.Object("A", schema.Column{Name: "a.b", Type: realm.TypeInt}),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.New(tt.objects...)
			assert.ErrorIs(t, err, realm.ErrSchema)
		})
	}
}

func TestPrimaryKeyIsIndexed(t *testing.T) {
	s := schema.MustNew(fixtures.PrimaryKeyObjects()...)
	o, err := s.Object(fixtures.StringPK)
	require.NoError(t, err)
	assert.True(t, o.HasPrimaryKey())
	assert.True(t, o.Columns[o.PrimaryKey()].Indexed)
}

func TestResolvePath(t *testing.T) {
	s := fixtures.Animals()

	t.Run("direct", func(t *testing.T) {
		p, err := s.ResolvePath(fixtures.Owner, "name")
		require.NoError(t, err)
		assert.True(t, p.IsDirect())
		assert.Equal(t, realm.TypeString, p.Col.Type)
	})

	t.Run("single link", func(t *testing.T) {
		p, err := s.ResolvePath(fixtures.Owner, "cat.age")
		require.NoError(t, err)
		require.Len(t, p.Hops, 1)
		assert.False(t, p.Hops[0].List)
		assert.Equal(t, 2, p.Table)
		assert.Equal(t, realm.TypeInt, p.Col.Type)
	})

	t.Run("list then link", func(t *testing.T) {
		p, err := s.ResolvePath(fixtures.Owner, "dogs.owner.name")
		require.NoError(t, err)
		require.Len(t, p.Hops, 2)
		assert.True(t, p.Hops[0].List)
		assert.True(t, p.ThroughList())
		assert.Equal(t, 0, p.Table)
	})

	for _, bad := range []string{"", ".name", "name.", "cat..age", "nope", "name.length", "cat.nope"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := s.ResolvePath(fixtures.Owner, bad)
			assert.ErrorIs(t, err, realm.ErrInvalidArgument)
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	s := fixtures.Full()
	out, err := s.EncodeYAML()
	require.NoError(t, err)

	loaded, err := schema.LoadYAML(bytes.NewReader(out))
	require.NoError(t, err)
	assert.True(t, s.Equal(loaded), "schema changed across YAML:\n%s", out)
}

func TestLoadYAMLErrors(t *testing.T) {
	_, err := schema.LoadYAML(strings.NewReader("types:\n  - name: A\n    columns:\n      - {name: x, type: decimal}\n"))
	assert.ErrorIs(t, err, realm.ErrSchema)

	_, err = schema.LoadYAML(strings.NewReader("types: [unclosed"))
	assert.ErrorIs(t, err, realm.ErrSchema)
}
