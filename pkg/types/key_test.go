package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	tests := []struct {
		name    string
		entity  string
		values  []any
		wantErr bool
		want    string
	}{
		{name: "single string", entity: "Team", values: []any{"team_A"}, want: "Team(team_A)"},
		{name: "composite", entity: "RankingPosition", values: []any{"season_18", "team_A"}, want: "RankingPosition(season_18, team_A)"},
		{name: "integer", entity: "Match", values: []any{int64(42)}, want: "Match(42)"},
		{name: "separators in values", entity: "Team", values: []any{`a,"b"`, "c"}, want: `Team(a,"b", c)`},
		{name: "no values", entity: "Team", wantErr: true},
		{name: "no entity", values: []any{"x"}, wantErr: true},
		{name: "unnormalized int", entity: "Match", values: []any{42}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := NewKey(tt.entity, tt.values...)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.String())
			assert.Equal(t, tt.values, k.Values())
		})
	}
}

func TestKey_Comparable(t *testing.T) {
	a, err := NewKey("RankingPosition", "season_18", "team_A")
	require.NoError(t, err)
	b, err := NewKey("RankingPosition", "season_18", "team_A")
	require.NoError(t, err)
	c, err := NewKey("RankingPosition", "season_18,team_A")
	require.NoError(t, err)
	d, err := NewKey("Ranking", "season_18", "team_A")
	require.NoError(t, err)
	s, err := NewKey("Match", "1")
	require.NoError(t, err)
	i, err := NewKey("Match", int64(1))
	require.NoError(t, err)

	assert.True(t, a == b)
	assert.False(t, a == c, "flattening must not merge values")
	assert.False(t, a == d, "entity is part of the key")
	assert.False(t, s == i, "text and integer values differ")

	seen := map[Key]bool{a: true}
	assert.True(t, seen[b])
	assert.False(t, a.IsZero())
	assert.True(t, Key{}.IsZero())
}
