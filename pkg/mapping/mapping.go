// Package mapping declares how entity types map to tables: their identity,
// scalar fields and associations. A Schema is an explicit table consulted by
// the session in place of runtime reflection; accessors are plain functions.
package mapping

import (
	"github.com/google/uuid"

	"github.com/mesh-intelligence/tally/pkg/types"
)

// Entity is implemented by every mapped type. Entities must be pointers so
// the session can track instances by address.
type Entity interface {
	EntityName() string
}

// Kind is the cardinality of an association.
type Kind int

const (
	ToOne Kind = iota
	ToMany
)

func (k Kind) String() string {
	if k == ToMany {
		return "to-many"
	}
	return "to-one"
}

// Cascade is the set of session operations propagated across an
// association from owner to dependent.
type Cascade uint8

const (
	CascadePersist Cascade = 1 << iota
	CascadeRemove
	CascadeDetach

	CascadeNone Cascade = 0
	CascadeAll          = CascadePersist | CascadeRemove | CascadeDetach
)

// Has reports whether c includes every flag in op.
func (c Cascade) Has(op Cascade) bool { return c&op == op }

// Field is a scalar attribute stored in a single column.
type Field struct {
	Name   string
	Column string
	Type   types.ColumnType

	// Get returns the current value; Set receives a value already
	// normalized to Type (string or int64).
	Get func(Entity) any
	Set func(Entity, any)

	// Generate, when set on an identity field, produces a value for
	// instances persisted with the field empty.
	Generate func() any
}

// Association links an entity to one or many entities of type Target.
//
// The owning side of a to-one association stores the target's key in
// JoinColumns. The inverse side names the owning association on the target
// in MappedBy and stores nothing. To-many associations are always inverse.
type Association struct {
	Name        string
	Target      string
	Kind        Kind
	JoinColumns []string
	MappedBy    string
	Cascade     Cascade

	// OrderBy lists target columns used to order a loaded to-many
	// collection.
	OrderBy []string

	// To-one accessors. Get must return a nil interface when unset.
	Get func(Entity) Entity
	Set func(owner, target Entity)

	// To-many accessors.
	Items  func(Entity) []Entity
	Append func(owner, item Entity)
}

// Owning reports whether the association stores the target's key.
func (a *Association) Owning() bool { return a.MappedBy == "" }

// Related returns the entities currently referenced by the association on e.
func (a *Association) Related(e Entity) []Entity {
	if a.Kind == ToMany {
		return a.Items(e)
	}
	if t := a.Get(e); t != nil {
		return []Entity{t}
	}
	return nil
}

// IDPart is one component of an entity's identity: either a scalar field or
// an owning to-one association whose target's identity is borrowed.
type IDPart struct {
	Field       string
	Association string
}

// FieldID declares an identity part taken from a scalar field.
func FieldID(name string) IDPart { return IDPart{Field: name} }

// AssociationID declares an identity part derived from a related entity.
func AssociationID(name string) IDPart { return IDPart{Association: name} }

// EntitySpec is the declaration of one entity type.
type EntitySpec struct {
	Name         string
	Table        string
	ID           []IDPart
	Fields       []Field
	Associations []Association

	// New returns a zero instance used when hydrating rows.
	New func() Entity
}

// Field returns the field with the given name.
func (s *EntitySpec) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// Association returns the association with the given name.
func (s *EntitySpec) Association(name string) (*Association, bool) {
	for i := range s.Associations {
		if s.Associations[i].Name == name {
			return &s.Associations[i], true
		}
	}
	return nil, false
}

// IsIDField reports whether the field is part of the identity.
func (s *EntitySpec) IsIDField(name string) bool {
	for _, p := range s.ID {
		if p.Field == name {
			return true
		}
	}
	return false
}

// IsIDAssociation reports whether the association is part of the identity.
func (s *EntitySpec) IsIDAssociation(name string) bool {
	for _, p := range s.ID {
		if p.Association == name {
			return true
		}
	}
	return false
}

// NewUUIDv7 generates a UUID v7 string; usable as a Field.Generate.
func NewUUIDv7() any {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
