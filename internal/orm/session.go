// Package orm implements a unit of work over a types.Storage: an identity
// map keyed by resolved identity, snapshot-based dirty checking, cascading
// persist/remove/detach, and dependency-ordered flushes.
//
// A Session is not safe for concurrent use.
package orm

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/tally/internal/logging"
	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// Session tracks entities loaded from or scheduled for a Storage.
type Session struct {
	schema *mapping.Schema
	store  types.Storage
	uow    *unitOfWork
	log    *logging.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSession returns an empty session over store.
func NewSession(schema *mapping.Schema, store types.Storage, opts ...Option) *Session {
	s := &Session{
		schema: schema,
		store:  store,
		uow:    newUnitOfWork(schema),
		log:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	return s
}

// Schema returns the session's mapping.
func (s *Session) Schema() *mapping.Schema { return s.schema }

// Persist schedules e for insertion on the next flush and cascades to
// associations declaring CascadePersist. Persisting a managed entity only
// cascades; persisting an entity scheduled for removal cancels the removal.
// An identity that cannot be resolved yet is not an error here; it must
// resolve by the time Flush runs.
func (s *Session) Persist(e mapping.Entity) error {
	return s.persist(e, visitSet{})
}

// Remove schedules e for deletion on the next flush and cascades to
// associations declaring CascadeRemove. Removing a new entity just stops
// tracking it. Returns ErrNotTracked for entities the session does not know.
func (s *Session) Remove(e mapping.Entity) error {
	return s.remove(e, visitSet{})
}

// Detach stops tracking e, cascading to associations declaring
// CascadeDetach. Pending changes to detached entities are discarded.
func (s *Session) Detach(e mapping.Entity) error {
	return s.detach(e, visitSet{})
}

// Contains reports whether e is tracked and not scheduled for removal.
func (s *Session) Contains(e mapping.Entity) bool {
	en, ok := s.uow.entryOf(e)
	return ok && en.state != stateRemoved
}

// KeyOf returns the key e is tracked under, if it has one.
func (s *Session) KeyOf(e mapping.Entity) (types.Key, bool) {
	return s.uow.trackedKey(e)
}

// Clear detaches every entity. Storage is not touched.
func (s *Session) Clear() {
	s.uow.clear()
}

// Find returns the entity of the named type with the given key values, in
// key-column order. A tracked instance is returned as is; otherwise the row
// is loaded and its associations hydrated. Returns ErrNotFound when no row
// exists.
func (s *Session) Find(ctx context.Context, entity string, key ...any) (mapping.Entity, error) {
	spec, err := s.schema.Spec(entity)
	if err != nil {
		return nil, err
	}
	k, err := keyFromValues(s.schema, entity, key)
	if err != nil {
		return nil, err
	}
	return s.findByKey(ctx, spec, k)
}

// changeSet is the list of writes computed by a flush, plus what to record
// once storage accepts them.
type changeSet struct {
	ops      []types.Operation
	inserted []*entry
	keys     map[*entry]types.Key
	updated  map[*entry]types.Row
	rows     map[*entry]types.Row
	removed  []*entry
}

// Flush writes all pending changes in one Storage.Apply call: inserts in
// dependency order, then updates of changed columns, then deletes in reverse
// dependency order. If computing the change set or applying it fails,
// nothing in the session changes except entities newly reached by cascade,
// which stay scheduled.
func (s *Session) Flush(ctx context.Context) error {
	visited := visitSet{}
	for _, en := range s.uow.entries() {
		if en.state == stateRemoved {
			continue
		}
		if err := s.cascadeNew(en.entity, visited); err != nil {
			return err
		}
	}

	cs, err := s.computeChangeSet()
	if err != nil {
		return err
	}
	if len(cs.ops) == 0 {
		s.log.Debug("flush: nothing to write")
		return nil
	}
	if err := s.store.Apply(ctx, cs.ops); err != nil {
		s.log.Warn("flush failed", "ops", len(cs.ops), "error", err)
		return fmt.Errorf("flush: %w", err)
	}
	s.commit(cs)
	s.log.Debug("flush",
		"inserts", len(cs.inserted),
		"updates", len(cs.updated),
		"deletes", len(cs.removed))
	return nil
}

func (s *Session) computeChangeSet() (*changeSet, error) {
	entries := s.uow.entries()
	cs := &changeSet{
		keys:    make(map[*entry]types.Key),
		updated: make(map[*entry]types.Row),
		rows:    make(map[*entry]types.Row),
	}

	// Stored entities resolve relations through their tracked keys.
	lookup := func(e mapping.Entity) (types.Key, bool) {
		en, ok := s.uow.entryOf(e)
		if !ok || en.state == stateNew || !en.hasKey {
			return types.Key{}, false
		}
		return en.key, true
	}

	owner := make(map[types.Key]*entry, len(entries))
	for _, en := range entries {
		if en.state != stateNew {
			owner[en.key] = en
		}
	}
	for _, en := range entries {
		if en.state == stateRemoved {
			continue
		}
		k, err := resolveIdentity(s.schema, en.entity, lookup)
		if err != nil {
			return nil, fmt.Errorf("flush: %w", err)
		}
		switch en.state {
		case stateNew:
			if other, ok := owner[k]; ok && other != en {
				return nil, &types.DuplicateIdentityError{Key: k}
			}
			owner[k] = en
			cs.keys[en] = k
		case stateManaged:
			if k != en.key {
				return nil, fmt.Errorf("%w: %s now resolves to %s", types.ErrIdentityChanged, en.key, k)
			}
		}
	}

	var pending []*entry
	for _, en := range entries {
		if en.state == stateRemoved {
			pending = append(pending, en)
			continue
		}
		if _, err := s.dependencies(en, true); err != nil {
			return nil, err
		}
		if en.state == stateNew {
			pending = append(pending, en)
		}
	}
	ordered, err := s.commitOrder(pending)
	if err != nil {
		return nil, err
	}

	keyOf := func(e mapping.Entity) (types.Key, bool) {
		en, ok := s.uow.entryOf(e)
		if !ok {
			return types.Key{}, false
		}
		if k, ok := cs.keys[en]; ok {
			return k, true
		}
		return en.key, en.hasKey
	}

	for _, en := range ordered {
		if en.state != stateNew {
			continue
		}
		row, err := s.rowOf(en, cs.keys[en], keyOf)
		if err != nil {
			return nil, err
		}
		cs.rows[en] = row
		cs.inserted = append(cs.inserted, en)
		cs.ops = append(cs.ops, s.insertOp(en, row))
	}

	for _, en := range entries {
		if en.state != stateManaged {
			continue
		}
		row, err := s.rowOf(en, en.key, keyOf)
		if err != nil {
			return nil, err
		}
		changed := s.changedColumns(en, row)
		if len(changed) == 0 {
			continue
		}
		cs.updated[en] = row
		cs.ops = append(cs.ops, types.Operation{
			Kind:   types.OpUpdate,
			Table:  en.spec.Table,
			Key:    keyRow(s.schema, en.key),
			Values: changed,
		})
	}

	for i := len(ordered) - 1; i >= 0; i-- {
		en := ordered[i]
		if en.state != stateRemoved {
			continue
		}
		cs.removed = append(cs.removed, en)
		cs.ops = append(cs.ops, types.Operation{
			Kind:  types.OpDelete,
			Table: en.spec.Table,
			Key:   keyRow(s.schema, en.key),
		})
	}
	return cs, nil
}

// rowOf computes the full row of en under key k.
func (s *Session) rowOf(en *entry, k types.Key, keyOf keyLookup) (types.Row, error) {
	row := keyRow(s.schema, k)
	for _, f := range en.spec.Fields {
		if en.spec.IsIDField(f.Name) {
			continue
		}
		v, err := f.Type.Normalize(f.Get(en.entity))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", en.spec.Name, f.Name, err)
		}
		row[f.Column] = v
	}
	for i := range en.spec.Associations {
		a := &en.spec.Associations[i]
		if !a.Owning() || en.spec.IsIDAssociation(a.Name) {
			continue
		}
		target := a.Get(en.entity)
		if target == nil {
			for _, jc := range a.JoinColumns {
				row[jc] = nil
			}
			continue
		}
		tk, ok := keyOf(target)
		if !ok {
			return nil, &types.UnresolvedDependencyError{Entity: en.spec.Name, Association: a.Name, Target: a.Target}
		}
		for j, v := range tk.Values() {
			row[a.JoinColumns[j]] = v
		}
	}
	return row, nil
}

func (s *Session) insertOp(en *entry, row types.Row) types.Operation {
	key := make(types.Row)
	values := make(types.Row)
	pk := make(map[string]bool)
	for _, c := range s.schema.KeyColumns(en.spec.Name) {
		pk[c.Name] = true
	}
	for col, v := range row {
		if pk[col] {
			key[col] = v
		} else {
			values[col] = v
		}
	}
	return types.Operation{Kind: types.OpInsert, Table: en.spec.Table, Key: key, Values: values}
}

// changedColumns compares the non-key columns of row with the snapshot by
// value.
func (s *Session) changedColumns(en *entry, row types.Row) types.Row {
	def := s.schema.Table(en.spec.Name)
	pk := make(map[string]bool, len(def.PrimaryKey))
	for _, c := range def.PrimaryKey {
		pk[c] = true
	}
	changed := make(types.Row)
	for _, c := range def.Columns {
		if pk[c.Name] {
			continue
		}
		if row[c.Name] != en.snapshot[c.Name] {
			changed[c.Name] = row[c.Name]
		}
	}
	return changed
}

// commit records a successfully applied change set.
func (s *Session) commit(cs *changeSet) {
	for _, en := range cs.inserted {
		if en.hasKey {
			if cur, ok := s.uow.byKey[en.key]; ok && cur == en {
				delete(s.uow.byKey, en.key)
			}
			en.hasKey = false
		}
	}
	for _, en := range cs.inserted {
		en.key, en.hasKey = cs.keys[en], true
		s.uow.byKey[en.key] = en
		en.state = stateManaged
		en.snapshot = cs.rows[en]
	}
	for en, row := range cs.updated {
		en.snapshot = row
	}
	for _, en := range cs.removed {
		s.uow.untrack(en)
	}
}
