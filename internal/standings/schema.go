package standings

import (
	"github.com/mesh-intelligence/tally/pkg/mapping"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// Table names.
const (
	TableTeams            = "soccer_teams"
	TableSeasons          = "soccer_seasons"
	TableRankings         = "soccer_rankings"
	TableRankingPositions = "soccer_ranking_positions"
)

var schema = mapping.MustSchema(teamSpec(), seasonSpec(), rankingSpec(), rankingPositionSpec())

// Schema returns the mapping of the standings entities.
func Schema() *mapping.Schema { return schema }

func teamSpec() *mapping.EntitySpec {
	return &mapping.EntitySpec{
		Name:  EntityTeam,
		Table: TableTeams,
		ID:    []mapping.IDPart{mapping.FieldID("id")},
		Fields: []mapping.Field{{
			Name:     "id",
			Column:   "id",
			Type:     types.ColumnText,
			Get:      func(e mapping.Entity) any { return e.(*Team).ID },
			Set:      func(e mapping.Entity, v any) { e.(*Team).ID, _ = v.(string) },
			Generate: mapping.NewUUIDv7,
		}},
		New: func() mapping.Entity { return &Team{} },
	}
}

func seasonSpec() *mapping.EntitySpec {
	return &mapping.EntitySpec{
		Name:  EntitySeason,
		Table: TableSeasons,
		ID:    []mapping.IDPart{mapping.FieldID("id")},
		Fields: []mapping.Field{{
			Name:   "id",
			Column: "id",
			Type:   types.ColumnText,
			Get:    func(e mapping.Entity) any { return e.(*Season).ID },
			Set:    func(e mapping.Entity, v any) { e.(*Season).ID, _ = v.(string) },
		}},
		Associations: []mapping.Association{{
			Name:     "ranking",
			Target:   EntityRanking,
			Kind:     mapping.ToOne,
			MappedBy: "season",
			Cascade:  mapping.CascadeAll,
			Get: func(e mapping.Entity) mapping.Entity {
				if r := e.(*Season).ranking; r != nil {
					return r
				}
				return nil
			},
			Set: func(owner, target mapping.Entity) {
				r, _ := target.(*Ranking)
				owner.(*Season).ranking = r
			},
		}},
		New: func() mapping.Entity { return &Season{} },
	}
}

func rankingSpec() *mapping.EntitySpec {
	return &mapping.EntitySpec{
		Name:  EntityRanking,
		Table: TableRankings,
		ID:    []mapping.IDPart{mapping.AssociationID("season")},
		Associations: []mapping.Association{
			{
				Name:        "season",
				Target:      EntitySeason,
				Kind:        mapping.ToOne,
				JoinColumns: []string{"season"},
				Get: func(e mapping.Entity) mapping.Entity {
					if s := e.(*Ranking).season; s != nil {
						return s
					}
					return nil
				},
				Set: func(owner, target mapping.Entity) {
					s, _ := target.(*Season)
					owner.(*Ranking).season = s
				},
			},
			{
				Name:     "positions",
				Target:   EntityRankingPosition,
				Kind:     mapping.ToMany,
				MappedBy: "ranking",
				Cascade:  mapping.CascadeAll,
				OrderBy:  []string{"team_id"},
				Items: func(e mapping.Entity) []mapping.Entity {
					ps := e.(*Ranking).positions
					out := make([]mapping.Entity, len(ps))
					for i, p := range ps {
						out[i] = p
					}
					return out
				},
				Append: func(owner, item mapping.Entity) {
					r := owner.(*Ranking)
					r.positions = append(r.positions, item.(*RankingPosition))
				},
			},
		},
		New: func() mapping.Entity { return &Ranking{} },
	}
}

func rankingPositionSpec() *mapping.EntitySpec {
	return &mapping.EntitySpec{
		Name:  EntityRankingPosition,
		Table: TableRankingPositions,
		ID: []mapping.IDPart{
			mapping.AssociationID("ranking"),
			mapping.AssociationID("team"),
		},
		Fields: []mapping.Field{{
			Name:   "points",
			Column: "points",
			Type:   types.ColumnInteger,
			Get:    func(e mapping.Entity) any { return e.(*RankingPosition).points },
			Set: func(e mapping.Entity, v any) {
				n, _ := v.(int64)
				e.(*RankingPosition).points = int(n)
			},
		}},
		Associations: []mapping.Association{
			{
				Name:        "ranking",
				Target:      EntityRanking,
				Kind:        mapping.ToOne,
				JoinColumns: []string{"season"},
				Get: func(e mapping.Entity) mapping.Entity {
					if r := e.(*RankingPosition).ranking; r != nil {
						return r
					}
					return nil
				},
				Set: func(owner, target mapping.Entity) {
					r, _ := target.(*Ranking)
					owner.(*RankingPosition).ranking = r
				},
			},
			{
				Name:        "team",
				Target:      EntityTeam,
				Kind:        mapping.ToOne,
				JoinColumns: []string{"team_id"},
				Get: func(e mapping.Entity) mapping.Entity {
					if t := e.(*RankingPosition).team; t != nil {
						return t
					}
					return nil
				},
				Set: func(owner, target mapping.Entity) {
					t, _ := target.(*Team)
					owner.(*RankingPosition).team = t
				},
			},
		},
		New: func() mapping.Entity { return &RankingPosition{} },
	}
}
