package sqlstore

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"             // registers the "sqlite" database/sql driver

	"github.com/mesh-intelligence/tally/pkg/types"
)

// dialect captures the SQL differences between the supported engines.
type dialect struct {
	name   string
	driver string

	// numbered placeholders ($1, $2) instead of ?
	numbered bool

	columnTypes map[types.ColumnType]string
}

var sqliteDialect = dialect{
	name:   types.BackendSQLite,
	driver: "sqlite",
	columnTypes: map[types.ColumnType]string{
		types.ColumnText:    "TEXT",
		types.ColumnInteger: "INTEGER",
	},
}

var postgresDialect = dialect{
	name:     types.BackendPostgres,
	driver:   "pgx",
	numbered: true,
	columnTypes: map[types.ColumnType]string{
		types.ColumnText:    "TEXT",
		types.ColumnInteger: "BIGINT",
	},
}

func dialectFor(backend string) (dialect, error) {
	switch backend {
	case types.BackendSQLite:
		return sqliteDialect, nil
	case types.BackendPostgres:
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: %s", types.ErrBackendUnknown, backend)
	}
}

// placeholder returns the bind marker for the n-th argument (1-based).
func (d dialect) placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteIdents(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = quoteIdent(n)
	}
	return strings.Join(q, ", ")
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for def.
func (d dialect) createTableSQL(def types.TableDef) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quoteIdent(def.Name))
	pk := make(map[string]bool, len(def.PrimaryKey))
	for _, c := range def.PrimaryKey {
		pk[c] = true
	}
	for _, c := range def.Columns {
		typ, ok := d.columnTypes[c.Type]
		if !ok {
			return "", fmt.Errorf("%s.%s: unsupported column type %s", def.Name, c.Name, c.Type)
		}
		fmt.Fprintf(&b, "    %s %s", quoteIdent(c.Name), typ)
		if pk[c.Name] || !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString(",\n")
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n);", quoteIdents(def.PrimaryKey))
	return b.String(), nil
}

// whereClause renders "a = ? AND b = ?" for cols, numbering placeholders
// from start.
func (d dialect) whereClause(cols []string, start int) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = %s", quoteIdent(c), d.placeholder(start+i))
	}
	return strings.Join(parts, " AND ")
}
