// Package sqlstore implements types.Storage on database/sql for SQLite
// (modernc.org/sqlite) and Postgres (pgx). Every Apply runs in a single
// transaction.
//
// For SQLite the data directory holds one JSONL file per table as the
// source of truth. Attach rebuilds the database file from scratch and
// CreateTables loads each table's JSONL; committed writes rewrite the JSONL
// of the touched tables, immediately or on Detach depending on the sync
// strategy.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mesh-intelligence/tally/internal/logging"
	"github.com/mesh-intelligence/tally/pkg/types"
)

// Compile-time interface check.
var _ types.Storage = (*Backend)(nil)

const dbFileName = "tally.db"

// Backend is a SQL-backed Storage. It is safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	dialect  dialect
	db       *sql.DB
	defs     map[string]types.TableDef
	log      *logging.Logger

	// dirty holds tables whose JSONL mirror is stale: written under on_close,
	// or left behind by a failed rewrite.
	dirty map[string]bool
}

// NewBackend returns a detached backend. Call Attach before use.
func NewBackend(log *logging.Logger) *Backend {
	if log == nil {
		log = logging.Nop()
	}
	return &Backend{
		defs:  make(map[string]types.TableDef),
		dirty: make(map[string]bool),
		log:   log.With("component", "sqlstore"),
	}
}

// Open is NewBackend followed by Attach.
func Open(ctx context.Context, cfg types.Config, log *logging.Logger) (*Backend, error) {
	b := NewBackend(log)
	if err := b.Attach(ctx, cfg); err != nil {
		return nil, err
	}
	return b, nil
}

// Attach opens the database described by cfg. For SQLite it creates DataDir
// if needed and starts from an empty database file.
func (b *Backend) Attach(ctx context.Context, cfg types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d, err := dialectFor(cfg.Backend)
	if err != nil {
		return err
	}

	dsn := cfg.DSN
	if d.name == types.BackendSQLite {
		if cfg.DataDir == "" {
			cfg.DataDir = "."
		}
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, dbFileName)
		// JSONL is authoritative; the database is rebuilt on every attach.
		_ = os.Remove(dbPath)
		dsn = dbPath
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == types.BackendSQLite {
		// One connection serializes writers and keeps the file consistent.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", d.name, err)
	}

	b.db = db
	b.dialect = d
	b.config = cfg
	b.defs = make(map[string]types.TableDef)
	b.dirty = make(map[string]bool)
	b.attached = true
	b.log.Debug("attached", "backend", d.name, "data_dir", cfg.DataDir)
	return nil
}

// Detach flushes pending JSONL writes and closes the database. Detach is
// idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if err := b.syncDirtyLocked(context.Background()); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.attached = false
	b.defs = make(map[string]types.TableDef)
	return nil
}

// Close implements types.Storage.
func (b *Backend) Close() error {
	return b.Detach()
}

// CreateTables creates missing tables and, for SQLite, loads their JSONL
// files.
func (b *Backend) CreateTables(ctx context.Context, defs []types.TableDef) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return types.ErrStorageClosed
	}
	for _, def := range defs {
		stmt, err := b.dialect.createTableSQL(def)
		if err != nil {
			return err
		}
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", def.Name, err)
		}
		b.defs[def.Name] = def
	}
	if !b.mirrorsJSONL() {
		return nil
	}
	if err := b.initJSONLFiles(defs); err != nil {
		return err
	}
	return b.loadJSONL(ctx, defs)
}

// mirrorsJSONL reports whether this backend keeps a JSONL mirror.
func (b *Backend) mirrorsJSONL() bool {
	return b.dialect.name == types.BackendSQLite
}

func (b *Backend) tableDef(name string) (types.TableDef, error) {
	if !b.attached {
		return types.TableDef{}, types.ErrStorageClosed
	}
	def, ok := b.defs[name]
	if !ok {
		return types.TableDef{}, fmt.Errorf("%w: %s", types.ErrTableNotFound, name)
	}
	return def, nil
}
