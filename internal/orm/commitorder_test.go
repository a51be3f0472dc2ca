// Tests for commit ordering over a self-referencing entity.
package orm

import (
	"context"
	"testing"

	"github.com/mesh-intelligence/tally/internal/memstore"
	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// node points at another node through a non-identity owning association.
type node struct {
	ID   string
	next *node
}

func (*node) EntityName() string { return "Node" }

func nodeSchema(t *testing.T) *mapping.Schema {
	t.Helper()
	schema, err := mapping.NewSchema(&mapping.EntitySpec{
		Name:  "Node",
		Table: "nodes",
		ID:    []mapping.IDPart{mapping.FieldID("id")},
		Fields: []mapping.Field{{
			Name:   "id",
			Column: "id",
			Type:   types.ColumnText,
			Get:    func(e mapping.Entity) any { return e.(*node).ID },
			Set:    func(e mapping.Entity, v any) { e.(*node).ID, _ = v.(string) },
		}},
		Associations: []mapping.Association{{
			Name:        "next",
			Target:      "Node",
			Kind:        mapping.ToOne,
			JoinColumns: []string{"next_id"},
			Get: func(e mapping.Entity) mapping.Entity {
				if n := e.(*node).next; n != nil {
					return n
				}
				return nil
			},
			Set: func(owner, target mapping.Entity) {
				n, _ := target.(*node)
				owner.(*node).next = n
			},
		}},
		New: func() mapping.Entity { return &node{} },
	})
	require.NoError(t, err)
	return schema
}

func setupNodes(t *testing.T) (*Session, *memstore.Store) {
	t.Helper()
	schema := nodeSchema(t)
	store := memstore.New()
	require.NoError(t, store.CreateTables(context.Background(), schema.TableDefs()))
	return NewSession(schema, store), store
}

func TestCommitOrder_DependenciesFirst(t *testing.T) {
	s, store := setupNodes(t)
	c := &node{ID: "c"}
	b := &node{ID: "b", next: c}
	a := &node{ID: "a", next: b}
	for _, n := range []*node{a, b, c} {
		require.NoError(t, s.Persist(n))
	}

	ordered, err := s.commitOrder(s.uow.entries())
	require.NoError(t, err)
	var ids []string
	for _, en := range ordered {
		ids = append(ids, en.entity.(*node).ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)

	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 3, store.Len("nodes"))

	row, err := store.Get(context.Background(), "nodes", types.Row{"id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "b", row["next_id"])
}

func TestCommitOrder_StoredDependencyImposesNoOrder(t *testing.T) {
	s, store := setupNodes(t)
	ctx := context.Background()
	b := &node{ID: "b"}
	require.NoError(t, s.Persist(b))
	require.NoError(t, s.Flush(ctx))

	a := &node{ID: "a", next: b}
	require.NoError(t, s.Persist(a))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 2, store.Len("nodes"))
}

func TestFlush_DependencyCycle(t *testing.T) {
	s, store := setupNodes(t)
	a := &node{ID: "a"}
	b := &node{ID: "b", next: a}
	a.next = b
	require.NoError(t, s.Persist(a))
	require.NoError(t, s.Persist(b))

	err := s.Flush(context.Background())
	var cycle *types.IdentityDependencyCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"Node(a)", "Node(b)", "Node(a)"}, cycle.Path)
	assert.ErrorIs(t, err, types.ErrIdentityDependencyCycle)
	assert.Equal(t, 0, store.Len("nodes"))

	// Breaking the cycle lets the flush go through.
	b.next = nil
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 2, store.Len("nodes"))
}

func TestFlush_NullsClearedAssociation(t *testing.T) {
	s, store := setupNodes(t)
	ctx := context.Background()
	b := &node{ID: "b"}
	a := &node{ID: "a", next: b}
	require.NoError(t, s.Persist(a))
	require.NoError(t, s.Persist(b))
	require.NoError(t, s.Flush(ctx))

	a.next = nil
	require.NoError(t, s.Flush(ctx))
	row, err := store.Get(ctx, "nodes", types.Row{"id": "a"})
	require.NoError(t, err)
	assert.Nil(t, row["next_id"])

	s.Clear()
	found, err := s.Find(ctx, "Node", "a")
	require.NoError(t, err)
	assert.Nil(t, found.(*node).next)
}

func TestDependencies_UntrackedTarget(t *testing.T) {
	s, _ := setupNodes(t)
	a := &node{ID: "a", next: &node{ID: "ghost"}}
	require.NoError(t, s.Persist(a))
	en, ok := s.uow.entryOf(a)
	require.True(t, ok)

	_, err := s.dependencies(en, true)
	var unresolved *types.UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "Node", unresolved.Target)

	deps, err := s.dependencies(en, false)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestFlush_ReferenceToRemovedNode(t *testing.T) {
	s, store := setupNodes(t)
	ctx := context.Background()
	b := &node{ID: "b"}
	a := &node{ID: "a", next: b}
	require.NoError(t, s.Persist(a))
	require.NoError(t, s.Persist(b))
	require.NoError(t, s.Flush(ctx))

	require.NoError(t, s.Remove(b))
	err := s.Flush(ctx)
	var unresolved *types.UnresolvedDependencyError
	require.ErrorAs(t, err, &unresolved)
	assert.True(t, unresolved.Removed)
	assert.Equal(t, "next", unresolved.Association)
	assert.Equal(t, 2, store.Len("nodes"))

	a.next = nil
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, store.Len("nodes"))
	row, err := store.Get(ctx, "nodes", types.Row{"id": "a"})
	require.NoError(t, err)
	assert.Nil(t, row["next_id"])
}
