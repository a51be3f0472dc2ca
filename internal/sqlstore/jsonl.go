package sqlstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mesh-intelligence/tally/pkg/types"
)

// jsonlPath returns the mirror file of a table.
func (b *Backend) jsonlPath(table string) string {
	return filepath.Join(b.config.DataDir, table+".jsonl")
}

// readRecords decodes each line of a table mirror into a column map.
// Numbers stay json.Number so NormalizeRow can check them. Blank and
// malformed lines are skipped.
func readRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil || rec == nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeRows replaces a table mirror with one JSON object per row. The file
// is written to a temp file, synced and renamed into place, so readers see
// either the old mirror or the new one.
func writeRows(path string, def types.TableDef, rows []types.Row) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+def.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, row := range rows {
		rec := make(map[string]any, len(def.Columns))
		for _, c := range def.Columns {
			rec[c.Name] = row[c.Name]
		}
		if err := enc.Encode(rec); err != nil {
			return fail(fmt.Errorf("encoding %s row: %w", def.Name, err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flushing %s: %w", def.Name, err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// initJSONLFiles creates an empty mirror file for every table that has none.
func (b *Backend) initJSONLFiles(defs []types.TableDef) error {
	for _, def := range defs {
		path := b.jsonlPath(def.Name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if err := writeRows(path, def, nil); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// loadJSONL inserts the records of each table's mirror in one transaction.
// Records that fail to decode or violate constraints are skipped; unknown
// fields are ignored.
func (b *Backend) loadJSONL(ctx context.Context, defs []types.TableDef) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, def := range defs {
		records, err := readRecords(b.jsonlPath(def.Name))
		if err != nil {
			return err
		}
		if len(records) == 0 {
			continue
		}
		cols := def.ColumnNames()
		stmt, err := tx.PrepareContext(ctx, b.insertSQL(def.Name, cols))
		if err != nil {
			return fmt.Errorf("preparing load of %s: %w", def.Name, err)
		}
		loaded := 0
		for _, rec := range records {
			row, err := def.NormalizeRow(rec)
			if err != nil {
				continue
			}
			args := make([]any, len(cols))
			for i, c := range cols {
				args[i] = row[c]
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				continue
			}
			loaded++
		}
		stmt.Close()
		b.log.Debug("loaded jsonl", "table", def.Name, "records", loaded, "skipped", len(records)-loaded)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// persistTableJSONL rewrites the mirror of one table from the database.
// Records are written in primary-key order so the files diff cleanly.
func (b *Backend) persistTableJSONL(ctx context.Context, def types.TableDef) error {
	rows, err := b.selectRows(ctx, def, nil, nil)
	if err != nil {
		return fmt.Errorf("querying %s for JSONL: %w", def.Name, err)
	}
	return writeRows(b.jsonlPath(def.Name), def, rows)
}

// syncTables runs after a committed write. Under on_close it only marks the
// tables dirty. Otherwise it rewrites their mirrors together with any left
// stale by an earlier failure. The rows are already committed, so a mirror
// that cannot be written stays dirty for the next Apply or Detach instead of
// failing the write.
// The caller must hold b.mu.
func (b *Backend) syncTables(ctx context.Context, tables map[string]bool) {
	if !b.mirrorsJSONL() {
		return
	}
	for t := range tables {
		b.dirty[t] = true
	}
	if b.config.EffectiveSyncStrategy() == types.SyncOnClose {
		return
	}
	for _, name := range sortedNames(b.dirty) {
		if err := b.persistTableJSONL(ctx, b.defs[name]); err != nil {
			b.log.Warn("jsonl mirror is stale", "table", name, "error", err)
			continue
		}
		delete(b.dirty, name)
	}
}

// syncDirtyLocked writes every stale mirror. The caller must hold b.mu.
func (b *Backend) syncDirtyLocked(ctx context.Context) error {
	if len(b.dirty) == 0 {
		return nil
	}
	for _, name := range sortedNames(b.dirty) {
		if err := b.persistTableJSONL(ctx, b.defs[name]); err != nil {
			return fmt.Errorf("persist %s: %w", name, err)
		}
		delete(b.dirty, name)
	}
	return nil
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
