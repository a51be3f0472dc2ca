package mapping

import (
	"errors"
	"fmt"

	"github.com/mesh-intelligence/tally/pkg/types"
)

// ErrInvalidSchema is returned by NewSchema for inconsistent declarations.
var ErrInvalidSchema = errors.New("invalid schema")

// Schema is a validated set of entity declarations together with the key
// layout and table definition derived for each entity.
type Schema struct {
	specs  map[string]*EntitySpec
	names  []string
	keys   map[string][]types.Column
	tables map[string]types.TableDef
}

// NewSchema validates specs and derives key columns and table definitions.
func NewSchema(specs ...*EntitySpec) (*Schema, error) {
	s := &Schema{
		specs:  make(map[string]*EntitySpec, len(specs)),
		keys:   make(map[string][]types.Column, len(specs)),
		tables: make(map[string]types.TableDef, len(specs)),
	}
	tableNames := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := checkSpec(spec); err != nil {
			return nil, err
		}
		if _, dup := s.specs[spec.Name]; dup {
			return nil, invalidf("entity %s declared twice", spec.Name)
		}
		if tableNames[spec.Table] {
			return nil, invalidf("table %s mapped twice", spec.Table)
		}
		tableNames[spec.Table] = true
		s.specs[spec.Name] = spec
		s.names = append(s.names, spec.Name)
	}

	for _, name := range s.names {
		if err := s.checkAssociations(s.specs[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range s.names {
		if _, err := s.keyColumns(name, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	for _, name := range s.names {
		def, err := s.buildTable(s.specs[name])
		if err != nil {
			return nil, err
		}
		s.tables[name] = def
	}
	for _, name := range s.names {
		if err := s.checkOrdering(s.specs[name]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on an invalid declaration.
func MustSchema(specs ...*EntitySpec) *Schema {
	s, err := NewSchema(specs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Spec returns the declaration of the named entity.
func (s *Schema) Spec(name string) (*EntitySpec, error) {
	spec, ok := s.specs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownEntity, name)
	}
	return spec, nil
}

// SpecOf returns the declaration for the type of e.
func (s *Schema) SpecOf(e Entity) (*EntitySpec, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", types.ErrUnknownEntity)
	}
	return s.Spec(e.EntityName())
}

// Specs returns all declarations in declaration order.
func (s *Schema) Specs() []*EntitySpec {
	out := make([]*EntitySpec, len(s.names))
	for i, name := range s.names {
		out[i] = s.specs[name]
	}
	return out
}

// KeyColumns returns the primary-key columns of the named entity's table,
// in identity order.
func (s *Schema) KeyColumns(name string) []types.Column {
	return s.keys[name]
}

// Table returns the table definition of the named entity.
func (s *Schema) Table(name string) types.TableDef {
	return s.tables[name]
}

// TableDefs returns every table definition in declaration order.
func (s *Schema) TableDefs() []types.TableDef {
	out := make([]types.TableDef, len(s.names))
	for i, name := range s.names {
		out[i] = s.tables[name]
	}
	return out
}

func checkSpec(spec *EntitySpec) error {
	if spec == nil || spec.Name == "" {
		return invalidf("entity without a name")
	}
	if spec.Table == "" {
		return invalidf("entity %s has no table", spec.Name)
	}
	if spec.New == nil {
		return invalidf("entity %s has no constructor", spec.Name)
	}
	if len(spec.ID) == 0 {
		return invalidf("entity %s has no identity", spec.Name)
	}
	for _, f := range spec.Fields {
		if f.Name == "" || f.Column == "" {
			return invalidf("entity %s has a field without name or column", spec.Name)
		}
		if f.Get == nil || f.Set == nil {
			return invalidf("field %s.%s needs Get and Set", spec.Name, f.Name)
		}
		if f.Generate != nil && !spec.IsIDField(f.Name) {
			return invalidf("field %s.%s: only identity fields can be generated", spec.Name, f.Name)
		}
	}
	for _, p := range spec.ID {
		switch {
		case p.Field != "" && p.Association != "":
			return invalidf("entity %s: identity part names both a field and an association", spec.Name)
		case p.Field != "":
			if _, ok := spec.Field(p.Field); !ok {
				return invalidf("entity %s: identity field %s not declared", spec.Name, p.Field)
			}
		case p.Association != "":
			a, ok := spec.Association(p.Association)
			if !ok {
				return invalidf("entity %s: identity association %s not declared", spec.Name, p.Association)
			}
			if a.Kind != ToOne || !a.Owning() {
				return invalidf("entity %s: identity association %s must be an owning to-one", spec.Name, a.Name)
			}
		default:
			return invalidf("entity %s: empty identity part", spec.Name)
		}
	}
	return nil
}

func (s *Schema) checkAssociations(spec *EntitySpec) error {
	for i := range spec.Associations {
		a := &spec.Associations[i]
		target, ok := s.specs[a.Target]
		if !ok {
			return invalidf("association %s.%s targets unknown entity %s", spec.Name, a.Name, a.Target)
		}
		if a.Owning() {
			if a.Kind != ToOne {
				return invalidf("association %s.%s: to-many associations must be mapped by the target", spec.Name, a.Name)
			}
			if len(a.JoinColumns) == 0 {
				return invalidf("association %s.%s has no join columns", spec.Name, a.Name)
			}
		} else {
			back, ok := target.Association(a.MappedBy)
			if !ok || !back.Owning() || back.Kind != ToOne || back.Target != spec.Name {
				return invalidf("association %s.%s: %s.%s is not an owning to-one back to %s",
					spec.Name, a.Name, target.Name, a.MappedBy, spec.Name)
			}
		}
		if a.Kind == ToMany {
			if a.Items == nil || a.Append == nil {
				return invalidf("association %s.%s needs Items and Append", spec.Name, a.Name)
			}
		} else if a.Get == nil || a.Set == nil {
			return invalidf("association %s.%s needs Get and Set", spec.Name, a.Name)
		}
	}
	return nil
}

// keyColumns resolves the key layout of name, following identity
// associations into their targets.
func (s *Schema) keyColumns(name string, visiting map[string]bool) ([]types.Column, error) {
	if cols, ok := s.keys[name]; ok {
		return cols, nil
	}
	if visiting[name] {
		return nil, invalidf("identity of %s depends on itself", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	spec := s.specs[name]
	var cols []types.Column
	for _, p := range spec.ID {
		if p.Field != "" {
			f, _ := spec.Field(p.Field)
			cols = append(cols, types.Column{Name: f.Column, Type: f.Type})
			continue
		}
		a, _ := spec.Association(p.Association)
		targetCols, err := s.keyColumns(a.Target, visiting)
		if err != nil {
			return nil, err
		}
		if len(a.JoinColumns) != len(targetCols) {
			return nil, invalidf("association %s.%s has %d join columns, %s has %d key columns",
				name, a.Name, len(a.JoinColumns), a.Target, len(targetCols))
		}
		for i, jc := range a.JoinColumns {
			cols = append(cols, types.Column{Name: jc, Type: targetCols[i].Type})
		}
	}
	s.keys[name] = cols
	return cols, nil
}

func (s *Schema) buildTable(spec *EntitySpec) (types.TableDef, error) {
	def := types.TableDef{Name: spec.Table}
	seen := make(map[string]bool)
	add := func(c types.Column) error {
		if seen[c.Name] {
			return invalidf("table %s: column %s declared twice", spec.Table, c.Name)
		}
		seen[c.Name] = true
		def.Columns = append(def.Columns, c)
		return nil
	}

	for _, c := range s.keys[spec.Name] {
		if err := add(c); err != nil {
			return def, err
		}
		def.PrimaryKey = append(def.PrimaryKey, c.Name)
	}
	for _, f := range spec.Fields {
		if spec.IsIDField(f.Name) {
			continue
		}
		if err := add(types.Column{Name: f.Column, Type: f.Type, Nullable: true}); err != nil {
			return def, err
		}
	}
	for i := range spec.Associations {
		a := &spec.Associations[i]
		if !a.Owning() || spec.IsIDAssociation(a.Name) {
			continue
		}
		targetCols := s.keys[a.Target]
		if len(a.JoinColumns) != len(targetCols) {
			return def, invalidf("association %s.%s has %d join columns, %s has %d key columns",
				spec.Name, a.Name, len(a.JoinColumns), a.Target, len(targetCols))
		}
		for j, jc := range a.JoinColumns {
			if err := add(types.Column{Name: jc, Type: targetCols[j].Type, Nullable: true}); err != nil {
				return def, err
			}
		}
	}
	return def, nil
}

func (s *Schema) checkOrdering(spec *EntitySpec) error {
	for _, a := range spec.Associations {
		target := s.tables[a.Target]
		for _, col := range a.OrderBy {
			if _, ok := target.Column(col); !ok {
				return invalidf("association %s.%s orders by unknown column %s.%s",
					spec.Name, a.Name, target.Name, col)
			}
		}
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchema, fmt.Sprintf(format, args...))
}
