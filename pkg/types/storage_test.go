package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnType_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		typ     ColumnType
		in      any
		want    any
		wantErr bool
	}{
		{name: "nil stays nil", typ: ColumnInteger, in: nil, want: nil},
		{name: "text string", typ: ColumnText, in: "a", want: "a"},
		{name: "text bytes", typ: ColumnText, in: []byte("a"), want: "a"},
		{name: "text json number", typ: ColumnText, in: json.Number("12"), want: "12"},
		{name: "text rejects int", typ: ColumnText, in: 3, wantErr: true},
		{name: "int", typ: ColumnInteger, in: 3, want: int64(3)},
		{name: "int32", typ: ColumnInteger, in: int32(3), want: int64(3)},
		{name: "integral float", typ: ColumnInteger, in: float64(3), want: int64(3)},
		{name: "fractional float", typ: ColumnInteger, in: 3.5, wantErr: true},
		{name: "json number", typ: ColumnInteger, in: json.Number("7"), want: int64(7)},
		{name: "driver bytes", typ: ColumnInteger, in: []byte("8"), want: int64(8)},
		{name: "bad string", typ: ColumnInteger, in: "x", wantErr: true},
		{name: "bool", typ: ColumnInteger, in: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.Normalize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTableDef_NormalizeRow(t *testing.T) {
	def := TableDef{
		Name: "positions",
		Columns: []Column{
			{Name: "season", Type: ColumnText},
			{Name: "points", Type: ColumnInteger, Nullable: true},
		},
		PrimaryKey: []string{"season"},
	}
	assert.Equal(t, []string{"season", "points"}, def.ColumnNames())

	row, err := def.NormalizeRow(map[string]any{"season": "s1", "points": json.Number("3"), "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, Row{"season": "s1", "points": int64(3)}, row)

	row, err = def.NormalizeRow(map[string]any{"season": "s1"})
	require.NoError(t, err)
	assert.Equal(t, Row{"season": "s1", "points": nil}, row)

	_, err = def.NormalizeRow(map[string]any{"season": "s1", "points": true})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestOperation_String(t *testing.T) {
	op := Operation{Kind: OpDelete, Table: "soccer_teams", Key: Row{"id": "team_A"}}
	assert.Equal(t, "delete soccer_teams map[id:team_A]", op.String())
	assert.Equal(t, "OpKind(9)", OpKind(9).String())
}
