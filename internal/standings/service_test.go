package standings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mesh-intelligence/tally/internal/memstore"
	"github.com/mesh-intelligence/tally/internal/sqlstore"
	"github.com/mesh-intelligence/tally/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a fresh storage per backend the service runs on.
func backends(t *testing.T) map[string]func(t *testing.T) types.Storage {
	return map[string]func(t *testing.T) types.Storage{
		types.BackendMemory: func(t *testing.T) types.Storage {
			return memstore.New()
		},
		types.BackendSQLite: func(t *testing.T) types.Storage {
			b, err := sqlstore.Open(context.Background(), types.Config{
				Backend: types.BackendSQLite,
				DataDir: t.TempDir(),
			}, nil)
			require.NoError(t, err)
			return b
		},
	}
}

func setupService(t *testing.T, open func(t *testing.T) types.Storage) *Service {
	t.Helper()
	store := open(t)
	t.Cleanup(func() { store.Close() })
	svc := NewService(store, nil)
	require.NoError(t, svc.Init(context.Background()))
	return svc
}

func TestService_SeasonLifecycle(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			svc := setupService(t, open)
			ctx := context.Background()

			for _, id := range []string{"team_A", "team_B", "team_C"} {
				_, err := svc.AddTeam(ctx, id)
				require.NoError(t, err)
			}
			_, err := svc.AddSeason(ctx, "season_18")
			require.NoError(t, err)

			ranking, err := svc.CreateRanking(ctx, "season_18", "team_B", "team_A")
			require.NoError(t, err)
			assert.Len(t, ranking.Positions(), 2)

			table, err := svc.Standings(ctx, "season_18")
			require.NoError(t, err)
			assert.Equal(t, []Standing{{"team_A", 0}, {"team_B", 0}}, table)

			_, err = svc.AwardPoints(ctx, "season_18", "team_B", 3)
			require.NoError(t, err)
			pos, err := svc.AwardPoints(ctx, "season_18", "team_B", 1)
			require.NoError(t, err)
			assert.Equal(t, 4, pos.Points())

			_, err = svc.EnterTeam(ctx, "season_18", "team_C")
			require.NoError(t, err)
			_, err = svc.AwardPoints(ctx, "season_18", "team_C", 1)
			require.NoError(t, err)

			table, err = svc.Standings(ctx, "season_18")
			require.NoError(t, err)
			assert.Equal(t, []Standing{{"team_B", 4}, {"team_C", 1}, {"team_A", 0}}, table)

			require.NoError(t, svc.RemoveSeason(ctx, "season_18"))
			_, err = svc.Standings(ctx, "season_18")
			assert.ErrorIs(t, err, ErrSeasonNotFound)

			// Teams outlive the season.
			_, err = svc.AddTeam(ctx, "team_A")
			assert.ErrorIs(t, err, ErrTeamExists)
		})
	}
}

func TestService_Errors(t *testing.T) {
	svc := setupService(t, func(t *testing.T) types.Storage { return memstore.New() })
	ctx := context.Background()
	_, err := svc.AddTeam(ctx, "team_A")
	require.NoError(t, err)
	_, err = svc.AddSeason(ctx, "season_18")
	require.NoError(t, err)
	_, err = svc.AddSeason(ctx, "season_19")
	require.NoError(t, err)
	_, err = svc.CreateRanking(ctx, "season_18", "team_A")
	require.NoError(t, err)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"duplicate season", func() error { _, err := svc.AddSeason(ctx, "season_18"); return err }, ErrSeasonExists},
		{"season without id", func() error { _, err := svc.AddSeason(ctx, ""); return err }, types.ErrIdentityIncomplete},
		{"second ranking", func() error { _, err := svc.CreateRanking(ctx, "season_18"); return err }, ErrSeasonHasRanking},
		{"ranking of unknown season", func() error { _, err := svc.CreateRanking(ctx, "season_99"); return err }, ErrSeasonNotFound},
		{"ranking with unknown team", func() error { _, err := svc.CreateRanking(ctx, "season_19", "team_Z"); return err }, ErrTeamNotFound},
		{"ranking with a team twice", func() error { _, err := svc.CreateRanking(ctx, "season_19", "team_A", "team_A"); return err }, ErrTeamAlreadyRanked},
		{"points for unranked team", func() error { _, err := svc.AwardPoints(ctx, "season_18", "team_Z", 3); return err }, ErrTeamNotRanked},
		{"points without ranking", func() error { _, err := svc.AwardPoints(ctx, "season_19", "team_A", 3); return err }, ErrNoRanking},
		{"entering a ranked team", func() error { _, err := svc.EnterTeam(ctx, "season_18", "team_A"); return err }, ErrTeamAlreadyRanked},
		{"removing unknown season", func() error { return svc.RemoveSeason(ctx, "season_99") }, ErrSeasonNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
}

func TestService_GeneratedTeamID(t *testing.T) {
	svc := setupService(t, func(t *testing.T) types.Storage { return memstore.New() })
	team, err := svc.AddTeam(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, team.ID)
}

func TestService_PersistsAcrossReattach(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: dir}

	store, err := sqlstore.Open(ctx, cfg, nil)
	require.NoError(t, err)
	svc := NewService(store, nil)
	require.NoError(t, svc.Init(ctx))
	_, err = svc.AddTeam(ctx, "team_A")
	require.NoError(t, err)
	_, err = svc.AddSeason(ctx, "season_18")
	require.NoError(t, err)
	_, err = svc.CreateRanking(ctx, "season_18", "team_A")
	require.NoError(t, err)
	_, err = svc.AwardPoints(ctx, "season_18", "team_A", 3)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = sqlstore.Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc = NewService(store, nil)
	require.NoError(t, svc.Init(ctx))

	table, err := svc.Standings(ctx, "season_18")
	require.NoError(t, err)
	assert.Equal(t, []Standing{{"team_A", 3}}, table)
}

func TestService_MirrorFailureDoesNotBlockLaterWrites(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := types.Config{Backend: types.BackendSQLite, DataDir: dir}
	mirror := filepath.Join(dir, TableTeams+".jsonl")

	store, err := sqlstore.Open(ctx, cfg, nil)
	require.NoError(t, err)
	svc := NewService(store, nil)
	require.NoError(t, svc.Init(ctx))

	require.NoError(t, os.Remove(mirror))
	require.NoError(t, os.MkdirAll(filepath.Join(mirror, "blocker"), 0o755))
	_, err = svc.AddTeam(ctx, "team_A")
	require.NoError(t, err)
	_, err = svc.AddTeam(ctx, "team_A")
	assert.ErrorIs(t, err, ErrTeamExists)

	require.NoError(t, os.RemoveAll(mirror))
	_, err = svc.AddTeam(ctx, "team_B")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = sqlstore.Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc = NewService(store, nil)
	require.NoError(t, svc.Init(ctx))
	for _, id := range []string{"team_A", "team_B"} {
		_, err := svc.AddTeam(ctx, id)
		assert.ErrorIs(t, err, ErrTeamExists, id)
	}
}
