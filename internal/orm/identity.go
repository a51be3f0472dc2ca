package orm

import (
	"fmt"

	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// keyLookup returns the key under which a related entity is already known.
type keyLookup func(mapping.Entity) (types.Key, bool)

// ResolveIdentity derives the key of e from its declared identity parts.
// Scalar parts read the field value; association parts borrow the related
// entity's resolved key. It returns an *types.IdentityIncompleteError when a
// scalar part is empty or a related entity is unset or unresolvable.
func ResolveIdentity(schema *mapping.Schema, e mapping.Entity) (types.Key, error) {
	return resolveIdentity(schema, e, nil)
}

func resolveIdentity(schema *mapping.Schema, e mapping.Entity, lookup keyLookup) (types.Key, error) {
	spec, err := schema.SpecOf(e)
	if err != nil {
		return types.Key{}, err
	}
	values, err := identityValues(schema, spec, e, lookup)
	if err != nil {
		return types.Key{}, err
	}
	return types.NewKey(spec.Name, values...)
}

func identityValues(schema *mapping.Schema, spec *mapping.EntitySpec, e mapping.Entity, lookup keyLookup) ([]any, error) {
	var values []any
	for _, part := range spec.ID {
		if part.Field != "" {
			f, _ := spec.Field(part.Field)
			v, err := f.Type.Normalize(f.Get(e))
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", spec.Name, f.Name, err)
			}
			if isEmpty(v) {
				return nil, &types.IdentityIncompleteError{Entity: spec.Name, Part: f.Name}
			}
			values = append(values, v)
			continue
		}

		a, _ := spec.Association(part.Association)
		target := a.Get(e)
		if target == nil {
			return nil, &types.IdentityIncompleteError{Entity: spec.Name, Part: a.Name}
		}
		if lookup != nil {
			if k, ok := lookup(target); ok {
				values = append(values, k.Values()...)
				continue
			}
		}
		k, err := resolveIdentity(schema, target, lookup)
		if err != nil {
			return nil, &types.IdentityIncompleteError{Entity: spec.Name, Part: a.Name, Err: err}
		}
		values = append(values, k.Values()...)
	}
	return values, nil
}

// keyFromRow builds the key of an entity from its primary-key columns.
func keyFromRow(schema *mapping.Schema, entity string, row types.Row) (types.Key, error) {
	cols := schema.KeyColumns(entity)
	values := make([]any, len(cols))
	for i, c := range cols {
		v, err := c.Type.Normalize(row[c.Name])
		if err != nil {
			return types.Key{}, err
		}
		if v == nil {
			return types.Key{}, fmt.Errorf("%w: %s column %s is null", types.ErrInvalidKey, entity, c.Name)
		}
		values[i] = v
	}
	return types.NewKey(entity, values...)
}

// keyFromValues normalizes caller-supplied key values against the key
// columns of entity.
func keyFromValues(schema *mapping.Schema, entity string, values []any) (types.Key, error) {
	cols := schema.KeyColumns(entity)
	if len(values) != len(cols) {
		return types.Key{}, fmt.Errorf("%w: %s takes %d key values, got %d",
			types.ErrInvalidKey, entity, len(cols), len(values))
	}
	norm := make([]any, len(values))
	for i, c := range cols {
		v, err := c.Type.Normalize(values[i])
		if err != nil {
			return types.Key{}, fmt.Errorf("%w: %s.%s: %v", types.ErrInvalidKey, entity, c.Name, err)
		}
		if v == nil {
			return types.Key{}, fmt.Errorf("%w: %s.%s is nil", types.ErrInvalidKey, entity, c.Name)
		}
		norm[i] = v
	}
	return types.NewKey(entity, norm...)
}

// keyRow maps the key values onto the key columns of entity.
func keyRow(schema *mapping.Schema, key types.Key) types.Row {
	cols := schema.KeyColumns(key.Entity)
	vals := key.Values()
	row := make(types.Row, len(cols))
	for i, c := range cols {
		row[c.Name] = vals[i]
	}
	return row
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}
