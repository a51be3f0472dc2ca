// Package memstore provides an in-memory types.Storage. Apply works on a
// copy of the affected tables and swaps it in only when every operation
// succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mesh-intelligence/tally/pkg/types"
)

// Compile-time interface check.
var _ types.Storage = (*Store)(nil)

type table struct {
	def  types.TableDef
	rows map[types.Key]types.Row
}

func (t *table) clone() *table {
	rows := make(map[types.Key]types.Row, len(t.rows))
	for k, r := range t.rows {
		rows[k] = r
	}
	return &table{def: t.def, rows: rows}
}

func (t *table) keyOf(row types.Row) (types.Key, error) {
	values := make([]any, len(t.def.PrimaryKey))
	for i, col := range t.def.PrimaryKey {
		c, _ := t.def.Column(col)
		v, err := c.Type.Normalize(row[col])
		if err != nil {
			return types.Key{}, err
		}
		values[i] = v
	}
	return types.NewKey(t.def.Name, values...)
}

// Store is an in-memory Storage safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	closed bool
	tables map[string]*table
}

// New returns an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// CreateTables registers table definitions. Existing tables keep their rows.
func (s *Store) CreateTables(ctx context.Context, defs []types.TableDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStorageClosed
	}
	for _, def := range defs {
		if _, ok := s.tables[def.Name]; ok {
			continue
		}
		s.tables[def.Name] = &table{def: def, rows: make(map[types.Key]types.Row)}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string, key types.Row) (types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(key)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[k]
	if !ok {
		return nil, types.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *Store) Select(ctx context.Context, name string, where types.Row, orderBy []string) ([]types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	for col := range where {
		if _, ok := t.def.Column(col); !ok {
			return nil, fmt.Errorf("%s: unknown column %s", name, col)
		}
	}

	var out []types.Row
	for _, row := range t.rows {
		if matches(t.def, row, where) {
			out = append(out, row.Clone())
		}
	}
	order := append(append([]string{}, orderBy...), t.def.PrimaryKey...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, col := range order {
			if c := compare(out[i][col], out[j][col]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return out, nil
}

// Apply runs ops against copies of the touched tables and publishes them
// only if all succeed.
func (s *Store) Apply(ctx context.Context, ops []types.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStorageClosed
	}

	work := make(map[string]*table)
	for i, op := range ops {
		t, ok := work[op.Table]
		if !ok {
			base, err := s.table(op.Table)
			if err != nil {
				return err
			}
			t = base.clone()
			work[op.Table] = t
		}
		if err := apply(t, op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op, err)
		}
	}
	for name, t := range work {
		s.tables[name] = t
	}
	return nil
}

// Close marks the store closed. Data is discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tables = make(map[string]*table)
	return nil
}

// Len returns the number of rows in a table; used by tests and diagnostics.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

// table must be called with s.mu held.
func (s *Store) table(name string) (*table, error) {
	if s.closed {
		return nil, types.ErrStorageClosed
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrTableNotFound, name)
	}
	return t, nil
}

func apply(t *table, op types.Operation) error {
	k, err := t.keyOf(op.Key)
	if err != nil {
		return err
	}
	switch op.Kind {
	case types.OpInsert:
		if _, exists := t.rows[k]; exists {
			return fmt.Errorf("%w: %s", types.ErrRowExists, k)
		}
		merged := op.Values.Clone()
		if merged == nil {
			merged = make(types.Row)
		}
		for col, v := range op.Key {
			merged[col] = v
		}
		row, err := t.def.NormalizeRow(merged)
		if err != nil {
			return err
		}
		t.rows[k] = row
	case types.OpUpdate:
		cur, ok := t.rows[k]
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrNotFound, k)
		}
		next := cur.Clone()
		for col, v := range op.Values {
			c, ok := t.def.Column(col)
			if !ok {
				return fmt.Errorf("%s: unknown column %s", t.def.Name, col)
			}
			nv, err := c.Type.Normalize(v)
			if err != nil {
				return err
			}
			next[col] = nv
		}
		t.rows[k] = next
	case types.OpDelete:
		if _, ok := t.rows[k]; !ok {
			return fmt.Errorf("%w: %s", types.ErrNotFound, k)
		}
		delete(t.rows, k)
	default:
		return fmt.Errorf("unsupported operation %s", op.Kind)
	}
	return nil
}

func matches(def types.TableDef, row, where types.Row) bool {
	for col, want := range where {
		c, _ := def.Column(col)
		nv, err := c.Type.Normalize(want)
		if err != nil || row[col] != nv {
			return false
		}
	}
	return true
}

// compare orders nil first, then int64 and string values naturally.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case string:
		if y, ok := b.(string); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return 0
}
