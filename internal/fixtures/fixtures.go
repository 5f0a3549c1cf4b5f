// Package fixtures holds the object schemas shared by the package tests and
// the CLI demo.
package fixtures

import (
	"github.com/wbrown/janus-realm/realm"
	"github.com/wbrown/janus-realm/realm/schema"
)

// Type names used by the fixtures.
const (
	Owner      = "Owner"
	Dog        = "Dog"
	Cat        = "Cat"
	NullTypes  = "NullTypes"
	AllTypes   = "AllTypes"
	StringPK   = "PrimaryKeyAsString"
	NullablePK = "NullablePrimaryKey"
)

func animal(name string) *schema.ObjectSchema {
	return schema.Object(name,
		schema.Column{Name: "name", Type: realm.TypeString, Nullable: true},
		schema.Column{Name: "age", Type: realm.TypeInt},
		schema.Column{Name: "height", Type: realm.TypeFloat},
		schema.Column{Name: "weight", Type: realm.TypeDouble},
		schema.Column{Name: "hasTail", Type: realm.TypeBool},
		schema.Column{Name: "birthday", Type: realm.TypeDate, Nullable: true},
		schema.Column{Name: "owner", Type: realm.TypeLink, Target: Owner},
	)
}

// AnimalObjects returns the Owner/Dog/Cat types: an owner has a list of dogs
// and a single cat, and every animal links back to its owner.
func AnimalObjects() []*schema.ObjectSchema {
	return []*schema.ObjectSchema{
		schema.Object(Owner,
			schema.Column{Name: "name", Type: realm.TypeString, Nullable: true},
			schema.Column{Name: "dogs", Type: realm.TypeLinkList, Target: Dog},
			schema.Column{Name: "cat", Type: realm.TypeLink, Target: Cat},
		),
		animal(Dog),
		animal(Cat),
	}
}

// Animals is a schema with only the animal types.
func Animals() *schema.Schema {
	return schema.MustNew(AnimalObjects()...)
}

// NullTypesObject has a nullable and a non-nullable column of every type plus
// self-referencing link columns.
func NullTypesObject() *schema.ObjectSchema {
	return schema.Object(NullTypes,
		schema.Column{Name: "id", Type: realm.TypeInt, PrimaryKey: true},
		schema.Column{Name: "fieldStringNotNull", Type: realm.TypeString},
		schema.Column{Name: "fieldStringNull", Type: realm.TypeString, Nullable: true},
		schema.Column{Name: "fieldBooleanNotNull", Type: realm.TypeBool},
		schema.Column{Name: "fieldBooleanNull", Type: realm.TypeBool, Nullable: true},
		schema.Column{Name: "fieldBytesNotNull", Type: realm.TypeBinary},
		schema.Column{Name: "fieldBytesNull", Type: realm.TypeBinary, Nullable: true},
		schema.Column{Name: "fieldIntegerNotNull", Type: realm.TypeInt},
		schema.Column{Name: "fieldIntegerNull", Type: realm.TypeInt, Nullable: true},
		schema.Column{Name: "fieldFloatNotNull", Type: realm.TypeFloat},
		schema.Column{Name: "fieldFloatNull", Type: realm.TypeFloat, Nullable: true},
		schema.Column{Name: "fieldDoubleNotNull", Type: realm.TypeDouble},
		schema.Column{Name: "fieldDoubleNull", Type: realm.TypeDouble, Nullable: true},
		schema.Column{Name: "fieldDateNotNull", Type: realm.TypeDate},
		schema.Column{Name: "fieldDateNull", Type: realm.TypeDate, Nullable: true},
		schema.Column{Name: "fieldObjectNull", Type: realm.TypeLink, Target: NullTypes},
		schema.Column{Name: "fieldListNull", Type: realm.TypeLinkList, Target: NullTypes},
	)
}

// AllTypesObject has one column of every type, with the distinct-capable ones indexed.
func AllTypesObject() *schema.ObjectSchema {
	return schema.Object(AllTypes,
		schema.Column{Name: "columnString", Type: realm.TypeString, Indexed: true},
		schema.Column{Name: "columnLong", Type: realm.TypeInt, Indexed: true},
		schema.Column{Name: "columnFloat", Type: realm.TypeFloat},
		schema.Column{Name: "columnDouble", Type: realm.TypeDouble},
		schema.Column{Name: "columnBoolean", Type: realm.TypeBool, Indexed: true},
		schema.Column{Name: "columnDate", Type: realm.TypeDate, Indexed: true},
		schema.Column{Name: "columnBinary", Type: realm.TypeBinary},
		schema.Column{Name: "columnRealmObject", Type: realm.TypeLink, Target: Dog},
		schema.Column{Name: "columnRealmList", Type: realm.TypeLinkList, Target: Dog},
	)
}

// PrimaryKeyObjects returns a String primary key type and a nullable Int
// primary key type.
func PrimaryKeyObjects() []*schema.ObjectSchema {
	return []*schema.ObjectSchema{
		schema.Object(StringPK,
			schema.Column{Name: "name", Type: realm.TypeString, Nullable: true, PrimaryKey: true},
			schema.Column{Name: "id", Type: realm.TypeInt},
		),
		schema.Object(NullablePK,
			schema.Column{Name: "id", Type: realm.TypeInt, Nullable: true, PrimaryKey: true},
			schema.Column{Name: "label", Type: realm.TypeString},
		),
	}
}

// Full is every fixture type in one schema.
func Full() *schema.Schema {
	objects := AnimalObjects()
	objects = append(objects, NullTypesObject(), AllTypesObject())
	objects = append(objects, PrimaryKeyObjects()...)
	return schema.MustNew(objects...)
}
