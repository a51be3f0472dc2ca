// Package standings models soccer season rankings: teams, seasons, one
// ranking per season and one ranking position per team. A ranking borrows
// its identity from its season; a position is identified by its ranking
// and its team together.
package standings

import (
	"errors"
	"fmt"
)

// Entity names as declared in the schema.
const (
	EntityTeam            = "Team"
	EntitySeason          = "Season"
	EntityRanking         = "Ranking"
	EntityRankingPosition = "RankingPosition"
)

// Domain errors.
var (
	ErrTeamAlreadyRanked = errors.New("team already has a position in this ranking")
	ErrTeamNotRanked     = errors.New("team has no position in this ranking")
	ErrSeasonHasRanking  = errors.New("season already has a ranking")
	ErrNilReference      = errors.New("season and team must not be nil")
)

// Team is a leaf entity identified by its ID. An empty ID is replaced with
// a UUID v7 when the team is persisted.
type Team struct {
	ID string
}

// NewTeam returns a team with the given id.
func NewTeam(id string) *Team {
	return &Team{ID: id}
}

func (*Team) EntityName() string { return EntityTeam }

// Season is identified by a caller-assigned ID and owns at most one Ranking.
type Season struct {
	ID      string
	ranking *Ranking
}

// NewSeason returns a season with the given id and no ranking.
func NewSeason(id string) *Season {
	return &Season{ID: id}
}

func (*Season) EntityName() string { return EntitySeason }

// Ranking returns the season's ranking, or nil.
func (s *Season) Ranking() *Ranking { return s.ranking }

// Ranking holds the positions of one season. Its identity is its season's.
type Ranking struct {
	season    *Season
	positions []*RankingPosition
}

// NewRanking creates the ranking of season with one zero-point position per
// team and attaches it to the season. Duplicate teams are rejected.
func NewRanking(season *Season, teams ...*Team) (*Ranking, error) {
	if season == nil {
		return nil, ErrNilReference
	}
	if season.ranking != nil {
		return nil, ErrSeasonHasRanking
	}
	r := &Ranking{season: season}
	for _, t := range teams {
		if _, err := r.AddTeam(t); err != nil {
			return nil, err
		}
	}
	season.ranking = r
	return r, nil
}

func (*Ranking) EntityName() string { return EntityRanking }

// Season returns the season this ranking belongs to.
func (r *Ranking) Season() *Season { return r.season }

// Positions returns the positions in insertion (or load) order.
func (r *Ranking) Positions() []*RankingPosition { return r.positions }

// AddTeam appends a zero-point position for team. Each team can appear once.
func (r *Ranking) AddTeam(team *Team) (*RankingPosition, error) {
	if team == nil {
		return nil, ErrNilReference
	}
	if r.hasTeam(team) {
		return nil, fmt.Errorf("%w: %s", ErrTeamAlreadyRanked, team.ID)
	}
	p := &RankingPosition{ranking: r, team: team}
	r.positions = append(r.positions, p)
	return p, nil
}

// Position returns the position of the team with the given id, or nil.
func (r *Ranking) Position(teamID string) *RankingPosition {
	for _, p := range r.positions {
		if p.team != nil && p.team.ID == teamID {
			return p
		}
	}
	return nil
}

func (r *Ranking) hasTeam(team *Team) bool {
	for _, p := range r.positions {
		if p.team == team || (team.ID != "" && p.team != nil && p.team.ID == team.ID) {
			return true
		}
	}
	return false
}

// RankingPosition is a team's standing within a ranking. Ranking and team
// are fixed at construction; only points change.
type RankingPosition struct {
	ranking *Ranking
	team    *Team
	points  int
}

func (*RankingPosition) EntityName() string { return EntityRankingPosition }

// Ranking returns the ranking this position belongs to.
func (p *RankingPosition) Ranking() *Ranking { return p.ranking }

// Team returns the ranked team.
func (p *RankingPosition) Team() *Team { return p.team }

// Points returns the current points.
func (p *RankingPosition) Points() int { return p.points }

// SetPoints replaces the points.
func (p *RankingPosition) SetPoints(points int) { p.points = points }

// AddPoints adds delta to the points.
func (p *RankingPosition) AddPoints(delta int) { p.points += delta }
