package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// findByKey returns the tracked instance for k or loads it from storage.
func (s *Session) findByKey(ctx context.Context, spec *mapping.EntitySpec, k types.Key) (mapping.Entity, error) {
	if en, ok := s.uow.entryByKey(k); ok {
		if en.state == stateRemoved {
			return nil, fmt.Errorf("%w: %s", types.ErrEntityRemoved, k)
		}
		return en.entity, nil
	}
	row, err := s.store.Get(ctx, spec.Table, keyRow(s.schema, k))
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrNotFound, k)
		}
		return nil, fmt.Errorf("loading %s: %w", k, err)
	}
	en, err := s.hydrate(ctx, spec, row)
	if err != nil {
		return nil, err
	}
	return en.entity, nil
}

// hydrate turns a stored row into a managed entity. The entity is entered
// into the identity map before its associations load, so references back to
// it resolve to the same instance. A row whose key is already tracked yields
// the tracked instance unchanged.
func (s *Session) hydrate(ctx context.Context, spec *mapping.EntitySpec, raw types.Row) (*entry, error) {
	row, err := s.schema.Table(spec.Name).NormalizeRow(raw)
	if err != nil {
		return nil, err
	}
	k, err := keyFromRow(s.schema, spec.Name, row)
	if err != nil {
		return nil, err
	}
	if en, ok := s.uow.entryByKey(k); ok {
		return en, nil
	}

	e := spec.New()
	for _, f := range spec.Fields {
		f.Set(e, row[f.Column])
	}
	en := &entry{entity: e, spec: spec, state: stateManaged, key: k, hasKey: true, snapshot: row}
	if err := s.uow.track(en); err != nil {
		return nil, err
	}
	if err := s.hydrateAssociations(ctx, en); err != nil {
		s.uow.untrack(en)
		return nil, err
	}
	return en, nil
}

func (s *Session) hydrateAssociations(ctx context.Context, en *entry) error {
	for i := range en.spec.Associations {
		a := &en.spec.Associations[i]
		if a.Owning() {
			if err := s.loadOwning(ctx, en, a); err != nil {
				return err
			}
			continue
		}
		if err := s.loadInverse(ctx, en, a); err != nil {
			return err
		}
	}
	return nil
}

// loadOwning resolves an owning to-one association from its join columns.
func (s *Session) loadOwning(ctx context.Context, en *entry, a *mapping.Association) error {
	values := make([]any, len(a.JoinColumns))
	for i, jc := range a.JoinColumns {
		v := en.snapshot[jc]
		if v == nil {
			return nil
		}
		values[i] = v
	}
	target, err := s.schema.Spec(a.Target)
	if err != nil {
		return err
	}
	tk, err := keyFromValues(s.schema, a.Target, values)
	if err != nil {
		return err
	}
	related, err := s.findByKey(ctx, target, tk)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", en.spec.Name, a.Name, err)
	}
	a.Set(en.entity, related)
	return nil
}

// loadInverse loads the entities whose owning association points back at en.
func (s *Session) loadInverse(ctx context.Context, en *entry, a *mapping.Association) error {
	target, err := s.schema.Spec(a.Target)
	if err != nil {
		return err
	}
	back, _ := target.Association(a.MappedBy)
	where := make(types.Row, len(back.JoinColumns))
	for i, v := range en.key.Values() {
		where[back.JoinColumns[i]] = v
	}
	rows, err := s.store.Select(ctx, target.Table, where, a.OrderBy)
	if err != nil {
		return fmt.Errorf("loading %s.%s: %w", en.spec.Name, a.Name, err)
	}
	for _, row := range rows {
		child, err := s.hydrate(ctx, target, row)
		if err != nil {
			return err
		}
		if child.state == stateRemoved {
			continue
		}
		if a.Kind == mapping.ToMany {
			a.Append(en.entity, child.entity)
			continue
		}
		a.Set(en.entity, child.entity)
		break
	}
	return nil
}
