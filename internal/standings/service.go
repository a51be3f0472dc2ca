package standings

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mesh-intelligence/tally/internal/logging"
	"github.com/mesh-intelligence/tally/internal/orm"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// Service errors.
var (
	ErrTeamExists     = errors.New("team already exists")
	ErrSeasonExists   = errors.New("season already exists")
	ErrSeasonNotFound = errors.New("season not found")
	ErrTeamNotFound   = errors.New("team not found")
	ErrNoRanking      = errors.New("season has no ranking")
)

// Standing is one row of a season table.
type Standing struct {
	TeamID string `json:"team_id" yaml:"team_id"`
	Points int    `json:"points" yaml:"points"`
}

// Service runs standings use cases. Each call works in its own session and
// flushes before returning.
type Service struct {
	store types.Storage
	log   *logging.Logger
}

// NewService returns a service over store. A nil logger discards output.
func NewService(store types.Storage, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: store, log: log}
}

// Init creates the standings tables.
func (s *Service) Init(ctx context.Context) error {
	return s.store.CreateTables(ctx, Schema().TableDefs())
}

func (s *Service) session() *orm.Session {
	return orm.NewSession(Schema(), s.store, orm.WithLogger(s.log))
}

// AddTeam stores a new team. An empty id is generated.
func (s *Service) AddTeam(ctx context.Context, id string) (*Team, error) {
	sess := s.session()
	if id != "" {
		if _, err := findTeam(ctx, sess, id); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrTeamExists, id)
		} else if !errors.Is(err, ErrTeamNotFound) {
			return nil, err
		}
	}
	team := NewTeam(id)
	if err := sess.Persist(team); err != nil {
		return nil, err
	}
	if err := sess.Flush(ctx); err != nil {
		return nil, err
	}
	s.log.Info("team added", "team", team.ID)
	return team, nil
}

// AddSeason stores a new season without a ranking.
func (s *Service) AddSeason(ctx context.Context, id string) (*Season, error) {
	if id == "" {
		return nil, &types.IdentityIncompleteError{Entity: EntitySeason, Part: "id"}
	}
	sess := s.session()
	if _, err := findSeason(ctx, sess, id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSeasonExists, id)
	} else if !errors.Is(err, ErrSeasonNotFound) {
		return nil, err
	}
	season := NewSeason(id)
	if err := sess.Persist(season); err != nil {
		return nil, err
	}
	if err := sess.Flush(ctx); err != nil {
		return nil, err
	}
	s.log.Info("season added", "season", id)
	return season, nil
}

// RemoveSeason deletes a season together with its ranking and positions.
func (s *Service) RemoveSeason(ctx context.Context, id string) error {
	sess := s.session()
	season, err := findSeason(ctx, sess, id)
	if err != nil {
		return err
	}
	if err := sess.Remove(season); err != nil {
		return err
	}
	if err := sess.Flush(ctx); err != nil {
		return err
	}
	s.log.Info("season removed", "season", id)
	return nil
}

// CreateRanking creates the ranking of a stored season with a zero-point
// position for each of the given stored teams.
func (s *Service) CreateRanking(ctx context.Context, seasonID string, teamIDs ...string) (*Ranking, error) {
	sess := s.session()
	season, err := findSeason(ctx, sess, seasonID)
	if err != nil {
		return nil, err
	}
	if season.Ranking() != nil {
		return nil, fmt.Errorf("%w: %s", ErrSeasonHasRanking, seasonID)
	}
	teams := make([]*Team, 0, len(teamIDs))
	for _, id := range teamIDs {
		team, err := findTeam(ctx, sess, id)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	ranking, err := NewRanking(season, teams...)
	if err != nil {
		return nil, err
	}
	if err := sess.Persist(ranking); err != nil {
		return nil, err
	}
	if err := sess.Flush(ctx); err != nil {
		return nil, err
	}
	s.log.Info("ranking created", "season", seasonID, "teams", len(teams))
	return ranking, nil
}

// EnterTeam adds a stored team to an existing ranking with zero points.
// The new position reaches storage through the ranking's cascade.
func (s *Service) EnterTeam(ctx context.Context, seasonID, teamID string) (*RankingPosition, error) {
	sess := s.session()
	ranking, err := findRanking(ctx, sess, seasonID)
	if err != nil {
		return nil, err
	}
	team, err := findTeam(ctx, sess, teamID)
	if err != nil {
		return nil, err
	}
	pos, err := ranking.AddTeam(team)
	if err != nil {
		return nil, err
	}
	if err := sess.Flush(ctx); err != nil {
		return nil, err
	}
	s.log.Info("team entered", "season", seasonID, "team", teamID)
	return pos, nil
}

// AwardPoints adds delta to a team's points in a season's ranking.
func (s *Service) AwardPoints(ctx context.Context, seasonID, teamID string, delta int) (*RankingPosition, error) {
	sess := s.session()
	ranking, err := findRanking(ctx, sess, seasonID)
	if err != nil {
		return nil, err
	}
	pos := ranking.Position(teamID)
	if pos == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrTeamNotRanked, teamID, seasonID)
	}
	pos.AddPoints(delta)
	if err := sess.Flush(ctx); err != nil {
		return nil, err
	}
	s.log.Info("points awarded", "season", seasonID, "team", teamID, "delta", delta, "points", pos.Points())
	return pos, nil
}

// Standings returns a season's table ordered by points, highest first, then
// by team id.
func (s *Service) Standings(ctx context.Context, seasonID string) ([]Standing, error) {
	ranking, err := findRanking(ctx, s.session(), seasonID)
	if err != nil {
		return nil, err
	}
	out := make([]Standing, 0, len(ranking.Positions()))
	for _, p := range ranking.Positions() {
		out = append(out, Standing{TeamID: p.Team().ID, Points: p.Points()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out, nil
}

func findTeam(ctx context.Context, sess *orm.Session, id string) (*Team, error) {
	e, err := sess.Find(ctx, EntityTeam, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e.(*Team), nil
}

func findSeason(ctx context.Context, sess *orm.Session, id string) (*Season, error) {
	e, err := sess.Find(ctx, EntitySeason, id)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSeasonNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return e.(*Season), nil
}

func findRanking(ctx context.Context, sess *orm.Session, seasonID string) (*Ranking, error) {
	season, err := findSeason(ctx, sess, seasonID)
	if err != nil {
		return nil, err
	}
	if season.Ranking() == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRanking, seasonID)
	}
	return season.Ranking(), nil
}
