package types

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Storage is the persistence collaborator of a session. It stores rows keyed
// by primary-key columns and applies batches of writes atomically.
type Storage interface {
	// CreateTables creates any table in defs that does not exist yet.
	CreateTables(ctx context.Context, defs []TableDef) error

	// Get returns the row whose primary-key columns equal key.
	// Returns ErrNotFound if no such row exists.
	Get(ctx context.Context, table string, key Row) (Row, error)

	// Select returns every row whose columns equal the values in where,
	// sorted by orderBy and then by primary key. An empty where matches all.
	Select(ctx context.Context, table string, where Row, orderBy []string) ([]Row, error)

	// Apply executes ops in order. Either every operation is applied or
	// none is.
	Apply(ctx context.Context, ops []Operation) error

	// Close releases backend resources. Close is idempotent.
	Close() error
}

// Row maps column names to normalized values (string, int64 or nil).
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ColumnType is the storage type of a column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnInteger
)

func (t ColumnType) String() string {
	switch t {
	case ColumnText:
		return "text"
	case ColumnInteger:
		return "integer"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Normalize converts v to the canonical Go representation of t: string for
// text and int64 for integer columns. nil stays nil. Values read back from
// drivers or JSON (byte slices, json.Number, integral float64) are accepted.
func (t ColumnType) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case ColumnText:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case json.Number:
			return x.String(), nil
		}
	case ColumnInteger:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case float64:
			if x == math.Trunc(x) {
				return int64(x), nil
			}
		case json.Number:
			return x.Int64()
		case []byte:
			return strconv.ParseInt(string(x), 10, 64)
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	}
	return nil, fmt.Errorf("%w: cannot store %T as %s", ErrInvalidValue, v, t)
}

// OpKind identifies the kind of write in an Operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Operation is one write against a table. Key holds the primary-key column
// values. Values holds the non-key columns to write: every column for an
// insert, only the changed columns for an update, nothing for a delete.
type Operation struct {
	Kind   OpKind
	Table  string
	Key    Row
	Values Row
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s %v", op.Kind, op.Table, op.Key)
}

// Column describes one column of a table.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// TableDef describes a table: its columns in declaration order and the
// columns forming its primary key.
type TableDef struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// Column returns the column with the given name.
func (d TableDef) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (d TableDef) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// NormalizeRow returns a copy of row with every column of d normalized to
// its declared type. Columns not present in row are set to nil.
func (d TableDef) NormalizeRow(row map[string]any) (Row, error) {
	out := make(Row, len(d.Columns))
	for _, c := range d.Columns {
		v, err := c.Type.Normalize(row[c.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", d.Name, c.Name, err)
		}
		out[c.Name] = v
	}
	return out, nil
}
