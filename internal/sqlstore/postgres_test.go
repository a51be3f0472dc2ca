package sqlstore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mesh-intelligence/tally/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostgres_ApplyGetSelect runs against the server in TALLY_TEST_DSN on a
// table private to the test.
func TestPostgres_ApplyGetSelect(t *testing.T) {
	dsn := os.Getenv("TALLY_TEST_DSN")
	if dsn == "" {
		t.Skip("TALLY_TEST_DSN not set")
	}
	ctx := context.Background()
	b, err := Open(ctx, types.Config{Backend: types.BackendPostgres, DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	def := positionsDef
	def.Name = "positions_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, b.CreateTables(ctx, []types.TableDef{def}))
	t.Cleanup(func() {
		b.db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+quoteIdent(def.Name))
	})

	insert := func(season, team string, points int64) types.Operation {
		op := insertPosition(season, team, 0)
		op.Table = def.Name
		op.Values = types.Row{"points": points}
		return op
	}
	require.NoError(t, b.Apply(ctx, []types.Operation{
		insert("s1", "team_B", 1),
		insert("s1", "team_A", 3),
	}))

	row, err := b.Get(ctx, def.Name, types.Row{"season": "s1", "team_id": "team_A"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), row["points"])

	err = b.Apply(ctx, []types.Operation{
		insert("s1", "team_C", 0),
		insert("s1", "team_A", 0),
	})
	assert.ErrorIs(t, err, types.ErrRowExists)

	rows, err := b.Select(ctx, def.Name, types.Row{"season": "s1"}, []string{"points"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "team_B", rows[0]["team_id"])
	assert.Equal(t, "team_A", rows[1]["team_id"])
}
