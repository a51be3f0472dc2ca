package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/tally/pkg/types"
)

// Get returns the row with the given primary key.
func (b *Backend) Get(ctx context.Context, table string, key types.Row) (types.Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	def, err := b.tableDef(table)
	if err != nil {
		return nil, err
	}
	for _, c := range def.PrimaryKey {
		if _, ok := key[c]; !ok {
			return nil, fmt.Errorf("%w: %s key is missing column %s", types.ErrInvalidKey, table, c)
		}
	}
	rows, err := b.selectRows(ctx, def, key, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.ErrNotFound
	}
	return rows[0], nil
}

// Select returns rows matching where, ordered by orderBy then primary key.
func (b *Backend) Select(ctx context.Context, table string, where types.Row, orderBy []string) ([]types.Row, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	def, err := b.tableDef(table)
	if err != nil {
		return nil, err
	}
	return b.selectRows(ctx, def, where, orderBy)
}

// selectRows must be called with b.mu held.
func (b *Backend) selectRows(ctx context.Context, def types.TableDef, where types.Row, orderBy []string) ([]types.Row, error) {
	cols := def.ColumnNames()
	query := fmt.Sprintf("SELECT %s FROM %s", quoteIdents(cols), quoteIdent(def.Name))

	whereCols := sortedNames(keysOf(where))
	args := make([]any, 0, len(whereCols))
	for _, c := range whereCols {
		col, ok := def.Column(c)
		if !ok {
			return nil, fmt.Errorf("%s: unknown column %s", def.Name, c)
		}
		v, err := col.Type.Normalize(where[c])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	if len(whereCols) > 0 {
		query += " WHERE " + b.dialect.whereClause(whereCols, 1)
	}
	order := append(append([]string{}, orderBy...), def.PrimaryKey...)
	query += " ORDER BY " + quoteIdents(order)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", def.Name, err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", def.Name, err)
		}
		raw := make(map[string]any, len(cols))
		for i, c := range cols {
			raw[c] = values[i]
		}
		row, err := def.NormalizeRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", def.Name, err)
	}
	return out, nil
}

// Apply runs ops in one transaction. Updates and deletes that match no row
// fail with ErrNotFound and roll the whole batch back.
func (b *Backend) Apply(ctx context.Context, ops []types.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrStorageClosed
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	touched := make(map[string]bool)
	for i, op := range ops {
		def, err := b.tableDef(op.Table)
		if err != nil {
			return err
		}
		if err := b.execOp(ctx, tx, def, op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op, err)
		}
		touched[op.Table] = true
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	b.log.Debug("applied", "ops", len(ops), "tables", len(touched))
	b.syncTables(ctx, touched)
	return nil
}

func (b *Backend) execOp(ctx context.Context, tx *sql.Tx, def types.TableDef, op types.Operation) error {
	keyCols := def.PrimaryKey
	keyArgs := make([]any, len(keyCols))
	for i, c := range keyCols {
		v, ok := op.Key[c]
		if !ok {
			return fmt.Errorf("%w: missing key column %s", types.ErrInvalidKey, c)
		}
		keyArgs[i] = v
	}

	switch op.Kind {
	case types.OpInsert:
		var one int
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT 1 FROM %s WHERE %s", quoteIdent(def.Name), b.dialect.whereClause(keyCols, 1)),
			keyArgs...).Scan(&one)
		switch {
		case err == nil:
			return types.ErrRowExists
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		cols := def.ColumnNames()
		args := make([]any, len(cols))
		for i, c := range cols {
			if v, ok := op.Key[c]; ok {
				args[i] = v
			} else {
				args[i] = op.Values[c]
			}
		}
		if _, err := tx.ExecContext(ctx, b.insertSQL(def.Name, cols), args...); err != nil {
			return err
		}
		return nil

	case types.OpUpdate:
		if len(op.Values) == 0 {
			return nil
		}
		setCols := sortedNames(keysOf(op.Values))
		sets := make([]string, len(setCols))
		args := make([]any, 0, len(setCols)+len(keyArgs))
		for i, c := range setCols {
			if _, ok := def.Column(c); !ok {
				return fmt.Errorf("%s: unknown column %s", def.Name, c)
			}
			sets[i] = fmt.Sprintf("%s = %s", quoteIdent(c), b.dialect.placeholder(i+1))
			args = append(args, op.Values[c])
		}
		args = append(args, keyArgs...)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			quoteIdent(def.Name), strings.Join(sets, ", "),
			b.dialect.whereClause(keyCols, len(setCols)+1))
		return expectOne(tx.ExecContext(ctx, query, args...))

	case types.OpDelete:
		query := fmt.Sprintf("DELETE FROM %s WHERE %s",
			quoteIdent(def.Name), b.dialect.whereClause(keyCols, 1))
		return expectOne(tx.ExecContext(ctx, query, keyArgs...))

	default:
		return fmt.Errorf("unsupported operation %s", op.Kind)
	}
}

func (b *Backend) insertSQL(table string, cols []string) string {
	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = b.dialect.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), quoteIdents(cols), strings.Join(ph, ", "))
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return types.ErrNotFound
	}
	return nil
}

func keysOf(r types.Row) map[string]bool {
	out := make(map[string]bool, len(r))
	for k := range r {
		out[k] = true
	}
	return out
}
