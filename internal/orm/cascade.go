package orm

import (
	"errors"
	"fmt"

	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// visitSet guards cascades against cycles in the object graph.
type visitSet map[mapping.Entity]bool

// cascade applies fn to every entity reachable from en through associations
// declaring op.
func (s *Session) cascade(en *entry, op mapping.Cascade, visited visitSet, fn func(mapping.Entity, visitSet) error) error {
	for i := range en.spec.Associations {
		a := &en.spec.Associations[i]
		if !a.Cascade.Has(op) {
			continue
		}
		for _, related := range a.Related(en.entity) {
			if err := fn(related, visited); err != nil {
				return fmt.Errorf("cascade %s.%s: %w", en.spec.Name, a.Name, err)
			}
		}
	}
	return nil
}

func (s *Session) persist(e mapping.Entity, visited visitSet) error {
	if visited[e] {
		return nil
	}
	visited[e] = true

	spec, err := s.schema.SpecOf(e)
	if err != nil {
		return err
	}
	en, ok := s.uow.entryOf(e)
	switch {
	case !ok:
		if en, err = s.scheduleInsert(spec, e); err != nil {
			return err
		}
	case en.state == stateRemoved:
		en.state = stateManaged
	}
	return s.cascade(en, mapping.CascadePersist, visited, s.persist)
}

// scheduleInsert tracks e as new. Identity that cannot be resolved yet is
// deferred to flush.
func (s *Session) scheduleInsert(spec *mapping.EntitySpec, e mapping.Entity) (*entry, error) {
	generateIdentity(spec, e)
	en := &entry{entity: e, spec: spec, state: stateNew}
	k, err := resolveIdentity(s.schema, e, s.uow.trackedKey)
	switch {
	case err == nil:
		en.key, en.hasKey = k, true
	case errors.Is(err, types.ErrIdentityIncomplete):
		s.log.Debug("identity deferred", "entity", spec.Name, "reason", err.Error())
	default:
		return nil, err
	}
	if err := s.uow.track(en); err != nil {
		return nil, err
	}
	return en, nil
}

// cascadeNew schedules every untracked entity reachable through
// cascade-persist associations. Tracked entities are walked but their state
// is left alone, so a removal is not undone by a flush.
func (s *Session) cascadeNew(e mapping.Entity, visited visitSet) error {
	if visited[e] {
		return nil
	}
	en, ok := s.uow.entryOf(e)
	if !ok {
		return s.persist(e, visited)
	}
	visited[e] = true
	if en.state == stateRemoved {
		return nil
	}
	return s.cascade(en, mapping.CascadePersist, visited, s.cascadeNew)
}

func (s *Session) remove(e mapping.Entity, visited visitSet) error {
	if visited[e] {
		return nil
	}
	visited[e] = true

	en, ok := s.uow.entryOf(e)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrNotTracked, e.EntityName())
	}
	switch en.state {
	case stateNew:
		s.uow.untrack(en)
	case stateManaged:
		en.state = stateRemoved
	}
	return s.cascade(en, mapping.CascadeRemove, visited, s.removeDependent)
}

// removeDependent is remove for cascaded entities; untracked dependents have
// no row to delete and are skipped.
func (s *Session) removeDependent(e mapping.Entity, visited visitSet) error {
	if _, ok := s.uow.entryOf(e); !ok {
		return nil
	}
	return s.remove(e, visited)
}

func (s *Session) detach(e mapping.Entity, visited visitSet) error {
	if visited[e] {
		return nil
	}
	visited[e] = true

	en, ok := s.uow.entryOf(e)
	if !ok {
		return nil
	}
	s.uow.untrack(en)
	return s.cascade(en, mapping.CascadeDetach, visited, s.detach)
}

// generateIdentity fills empty generated identity fields.
func generateIdentity(spec *mapping.EntitySpec, e mapping.Entity) {
	for _, p := range spec.ID {
		if p.Field == "" {
			continue
		}
		f, _ := spec.Field(p.Field)
		if f.Generate == nil {
			continue
		}
		v, err := f.Type.Normalize(f.Get(e))
		if err == nil && isEmpty(v) {
			f.Set(e, f.Generate())
		}
	}
}
