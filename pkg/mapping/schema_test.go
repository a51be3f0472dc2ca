package mapping_test

import (
	"testing"

	"github.com/mesh-intelligence/tally/internal/standings"
	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thing struct {
	ID     string
	parent *thing
}

func (*thing) EntityName() string { return "Thing" }

func idField() mapping.Field {
	return mapping.Field{
		Name:   "id",
		Column: "id",
		Type:   types.ColumnText,
		Get:    func(e mapping.Entity) any { return e.(*thing).ID },
		Set:    func(e mapping.Entity, v any) { e.(*thing).ID, _ = v.(string) },
	}
}

func parentAssoc() mapping.Association {
	return mapping.Association{
		Name:        "parent",
		Target:      "Thing",
		Kind:        mapping.ToOne,
		JoinColumns: []string{"parent_id"},
		Get: func(e mapping.Entity) mapping.Entity {
			if p := e.(*thing).parent; p != nil {
				return p
			}
			return nil
		},
		Set: func(owner, target mapping.Entity) {
			p, _ := target.(*thing)
			owner.(*thing).parent = p
		},
	}
}

func thingSpec() *mapping.EntitySpec {
	return &mapping.EntitySpec{
		Name:         "Thing",
		Table:        "things",
		ID:           []mapping.IDPart{mapping.FieldID("id")},
		Fields:       []mapping.Field{idField()},
		Associations: []mapping.Association{parentAssoc()},
		New:          func() mapping.Entity { return &thing{} },
	}
}

func TestNewSchema_StandingsLayout(t *testing.T) {
	schema := standings.Schema()

	tests := []struct {
		entity  string
		table   string
		columns []string
		pk      []string
	}{
		{standings.EntityTeam, standings.TableTeams, []string{"id"}, []string{"id"}},
		{standings.EntitySeason, standings.TableSeasons, []string{"id"}, []string{"id"}},
		{standings.EntityRanking, standings.TableRankings, []string{"season"}, []string{"season"}},
		{standings.EntityRankingPosition, standings.TableRankingPositions,
			[]string{"season", "team_id", "points"}, []string{"season", "team_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.entity, func(t *testing.T) {
			def := schema.Table(tt.entity)
			assert.Equal(t, tt.table, def.Name)
			assert.Equal(t, tt.columns, def.ColumnNames())
			assert.Equal(t, tt.pk, def.PrimaryKey)
		})
	}

	spec, err := schema.SpecOf(&standings.Ranking{})
	require.NoError(t, err)
	assert.Equal(t, standings.EntityRanking, spec.Name)
	assert.Len(t, schema.TableDefs(), 4)
}

func TestNewSchema_Valid(t *testing.T) {
	schema, err := mapping.NewSchema(thingSpec())
	require.NoError(t, err)

	def := schema.Table("Thing")
	assert.Equal(t, []types.Column{
		{Name: "id", Type: types.ColumnText},
		{Name: "parent_id", Type: types.ColumnText, Nullable: true},
	}, def.Columns)

	_, err = schema.Spec("Other")
	assert.ErrorIs(t, err, types.ErrUnknownEntity)
}

func TestNewSchema_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *mapping.EntitySpec)
	}{
		{"no table", func(s *mapping.EntitySpec) { s.Table = "" }},
		{"no constructor", func(s *mapping.EntitySpec) { s.New = nil }},
		{"no identity", func(s *mapping.EntitySpec) { s.ID = nil }},
		{"unknown identity field", func(s *mapping.EntitySpec) { s.ID = []mapping.IDPart{mapping.FieldID("code")} }},
		{"self identity", func(s *mapping.EntitySpec) { s.ID = []mapping.IDPart{mapping.AssociationID("parent")} }},
		{"generated non-identity field", func(s *mapping.EntitySpec) {
			f := idField()
			f.Name, f.Column, f.Generate = "label", "label", mapping.NewUUIDv7
			s.Fields = append(s.Fields, f)
		}},
		{"unknown target", func(s *mapping.EntitySpec) { s.Associations[0].Target = "Ghost" }},
		{"owning without join columns", func(s *mapping.EntitySpec) { s.Associations[0].JoinColumns = nil }},
		{"join width mismatch", func(s *mapping.EntitySpec) { s.Associations[0].JoinColumns = []string{"a", "b"} }},
		{"duplicate column", func(s *mapping.EntitySpec) { s.Associations[0].JoinColumns = []string{"id"} }},
		{"owning to-many", func(s *mapping.EntitySpec) { s.Associations[0].Kind = mapping.ToMany }},
		{"inverse without owning side", func(s *mapping.EntitySpec) {
			a := parentAssoc()
			a.Name, a.JoinColumns, a.MappedBy = "children", nil, "missing"
			s.Associations = append(s.Associations, a)
		}},
		{"order by unknown column", func(s *mapping.EntitySpec) { s.Associations[0].OrderBy = []string{"rank"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := thingSpec()
			tt.mutate(spec)
			_, err := mapping.NewSchema(spec)
			assert.ErrorIs(t, err, mapping.ErrInvalidSchema)
		})
	}

	t.Run("entity declared twice", func(t *testing.T) {
		_, err := mapping.NewSchema(thingSpec(), thingSpec())
		assert.ErrorIs(t, err, mapping.ErrInvalidSchema)
	})

	t.Run("MustSchema panics", func(t *testing.T) {
		spec := thingSpec()
		spec.Table = ""
		assert.Panics(t, func() { mapping.MustSchema(spec) })
	})
}

func TestCascade_Has(t *testing.T) {
	assert.True(t, mapping.CascadeAll.Has(mapping.CascadeRemove))
	assert.True(t, mapping.CascadePersist.Has(mapping.CascadeNone))
	assert.False(t, mapping.CascadePersist.Has(mapping.CascadeRemove))
	assert.False(t, mapping.CascadeNone.Has(mapping.CascadeDetach))
}
