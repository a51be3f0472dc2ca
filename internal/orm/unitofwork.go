package orm

import (
	"fmt"

	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// entityState is the lifecycle state of a tracked entity.
type entityState int

const (
	stateNew     entityState = iota // scheduled for insert
	stateManaged                    // has a row; dirty-checked on flush
	stateRemoved                    // has a row; scheduled for delete
)

func (s entityState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateManaged:
		return "managed"
	case stateRemoved:
		return "removed"
	default:
		return fmt.Sprintf("entityState(%d)", int(s))
	}
}

// entry is the unit of work's record of one tracked instance.
type entry struct {
	entity mapping.Entity
	spec   *mapping.EntitySpec
	state  entityState

	// key is set once identity resolves; new entities may be tracked
	// before their related entities have keys.
	key    types.Key
	hasKey bool

	// snapshot is the row as last read from or written to storage.
	// nil for new entities.
	snapshot types.Row
}

// unitOfWork is the identity map plus the set of pending changes.
type unitOfWork struct {
	schema   *mapping.Schema
	byKey    map[types.Key]*entry
	byEntity map[mapping.Entity]*entry
	order    []*entry
}

func newUnitOfWork(schema *mapping.Schema) *unitOfWork {
	return &unitOfWork{
		schema:   schema,
		byKey:    make(map[types.Key]*entry),
		byEntity: make(map[mapping.Entity]*entry),
	}
}

func (u *unitOfWork) entryOf(e mapping.Entity) (*entry, bool) {
	en, ok := u.byEntity[e]
	return en, ok
}

func (u *unitOfWork) entryByKey(k types.Key) (*entry, bool) {
	en, ok := u.byKey[k]
	return en, ok
}

// track registers a new entry. When the entry has a key it must not collide
// with another tracked instance.
func (u *unitOfWork) track(en *entry) error {
	if en.hasKey {
		if other, ok := u.byKey[en.key]; ok && other.entity != en.entity {
			return &types.DuplicateIdentityError{Key: en.key}
		}
		u.byKey[en.key] = en
	}
	u.byEntity[en.entity] = en
	u.order = append(u.order, en)
	return nil
}

// assignKey records the resolved key of a tracked entry.
func (u *unitOfWork) assignKey(en *entry, k types.Key) error {
	if other, ok := u.byKey[k]; ok && other != en {
		return &types.DuplicateIdentityError{Key: k}
	}
	if en.hasKey && en.key != k {
		delete(u.byKey, en.key)
	}
	en.key = k
	en.hasKey = true
	u.byKey[k] = en
	return nil
}

func (u *unitOfWork) untrack(en *entry) {
	if en.hasKey {
		if cur, ok := u.byKey[en.key]; ok && cur == en {
			delete(u.byKey, en.key)
		}
	}
	delete(u.byEntity, en.entity)
	for i, o := range u.order {
		if o == en {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
}

func (u *unitOfWork) clear() {
	u.byKey = make(map[types.Key]*entry)
	u.byEntity = make(map[mapping.Entity]*entry)
	u.order = nil
}

// trackedKey is a keyLookup over the identity map.
func (u *unitOfWork) trackedKey(e mapping.Entity) (types.Key, bool) {
	en, ok := u.byEntity[e]
	if !ok || !en.hasKey {
		return types.Key{}, false
	}
	return en.key, true
}

// entries returns a copy of the tracked entries in registration order.
func (u *unitOfWork) entries() []*entry {
	out := make([]*entry, len(u.order))
	copy(out, u.order)
	return out
}
