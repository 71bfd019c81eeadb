// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// schema is the durable side's single table. Entry names are paths
// relative to the working directory, always '/'-separated.
const schema = `
CREATE TABLE IF NOT EXISTS cache_entry (
	name        TEXT PRIMARY KEY,
	compression INTEGER NOT NULL,
	raw_size    INTEGER NOT NULL,
	content     BLOB NOT NULL,
	updated_at  INTEGER NOT NULL
) WITHOUT ROWID;
`

// Config holds the parameters for opening a store. Path and Dir are
// required.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory is created if it does not exist.
	Path string

	// Dir is the working directory that Mount materializes into and
	// Sync captures from. Created if it does not exist.
	Dir string

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store is the durable key-value backed filesystem region. It is not
// safe for concurrent use — the worker's serve loop processes one
// request at a time, and that serialization is the store's only
// concurrency guard.
type Store struct {
	pool   *sqlitex.Pool
	dir    string
	path   string
	logger *slog.Logger
}

// PurgeResult reports the outcome of an invalidate-all pass. Counts
// are logical entries (one per name, however many sides it existed
// on). Failures are tolerated (the pass continues past them) but
// never hidden.
type PurgeResult struct {
	// Removed is the number of entries successfully removed.
	Removed int

	// Failed is the number of entries whose removal failed on either
	// side.
	Failed int
}

// Open opens the database, applies the standard pragmas, ensures the
// schema, and creates the working directory. The caller must call
// Close when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store: Dir is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("store: creating database directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("store: creating working directory: %w", err)
	}

	// Pool size 1: the worker is single-threaded by design, and one
	// connection keeps writes strictly ordered with reads.
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: 1,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	logger.Info("store opened", "path", cfg.Path, "dir", cfg.Dir)

	return &Store{
		pool:   pool,
		dir:    cfg.Dir,
		path:   cfg.Path,
		logger: logger,
	}, nil
}

// Dir returns the working directory (the volatile side).
func (s *Store) Dir() string {
	return s.dir
}

// Mount materializes every durable entry into the working directory,
// replacing whatever was there. Returns the number of entries
// materialized.
func (s *Store) Mount(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	// Start from an empty directory so the volatile side exactly
	// mirrors the durable truth, with no stray files from a previous
	// crashed run.
	if err := clearDirectory(s.dir); err != nil {
		return 0, fmt.Errorf("store: clearing working directory: %w", err)
	}

	materialized := 0
	err = sqlitex.Execute(conn,
		`SELECT name, compression, raw_size, content FROM cache_entry ORDER BY name`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				name := stmt.ColumnText(0)
				tag := CompressionTag(stmt.ColumnInt64(1))
				rawSize := int(stmt.ColumnInt64(2))
				content := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, content)

				data, err := decompressEntry(content, tag, rawSize)
				if err != nil {
					return fmt.Errorf("entry %s: %w", name, err)
				}

				target := filepath.Join(s.dir, filepath.FromSlash(name))
				if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
					return fmt.Errorf("entry %s: %w", name, err)
				}
				if err := os.WriteFile(target, data, 0600); err != nil {
					return fmt.Errorf("entry %s: %w", name, err)
				}
				materialized++
				return nil
			},
		})
	if err != nil {
		return materialized, fmt.Errorf("store: mount: %w", err)
	}

	s.logger.Info("store mounted", "entries", materialized)
	return materialized, nil
}

// Sync captures the working directory into the database and
// checkpoints the WAL. This is the only operation that durably
// commits cache state; everything written to the working directory
// since the last Sync is volatile until it runs.
func (s *Store) Sync(ctx context.Context) error {
	files, err := s.listWorkingFiles()
	if err != nil {
		return fmt.Errorf("store: sync: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := s.captureFiles(conn, files); err != nil {
		return err
	}

	// Checkpoint the WAL so the committed state lives in the main
	// database file, not just the log.
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA wal_checkpoint(TRUNCATE)", nil); err != nil {
		return fmt.Errorf("store: sync: checkpoint: %w", err)
	}

	s.logger.Debug("store synced", "entries", len(files))
	return nil
}

// captureFiles upserts the named working files into the database and
// drops rows whose files vanished, all in one immediate transaction.
func (s *Store) captureFiles(conn *sqlite.Conn, files []string) (err error) {
	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: sync: begin: %w", err)
	}
	defer endTransaction(&err)

	present := make(map[string]bool, len(files))
	for _, name := range files {
		present[name] = true

		data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(name)))
		if err != nil {
			return fmt.Errorf("store: sync: reading %s: %w", name, err)
		}

		content, tag := compressEntry(data)
		err = sqlitex.Execute(conn,
			`INSERT INTO cache_entry (name, compression, raw_size, content, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET
			   compression = excluded.compression,
			   raw_size    = excluded.raw_size,
			   content     = excluded.content,
			   updated_at  = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{name, int64(tag), int64(len(data)), content, time.Now().Unix()},
			})
		if err != nil {
			return fmt.Errorf("store: sync: writing %s: %w", name, err)
		}
	}

	// Drop rows whose files vanished from the working directory since
	// the last Sync.
	var stale []string
	err = sqlitex.Execute(conn, `SELECT name FROM cache_entry`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if name := stmt.ColumnText(0); !present[name] {
				stale = append(stale, name)
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("store: sync: listing entries: %w", err)
	}
	for _, name := range stale {
		err = sqlitex.Execute(conn, `DELETE FROM cache_entry WHERE name = ?`,
			&sqlitex.ExecOptions{Args: []any{name}})
		if err != nil {
			return fmt.Errorf("store: sync: deleting %s: %w", name, err)
		}
	}

	return nil
}

// Purge removes every entry from both the working directory and the
// database. Counts are per logical entry: an entry present as both a
// working file and a database row is one removal, and it counts as
// failed if either side could not be removed. Individual failures are
// logged, never fatal — invalidate-all is allowed to be partially
// lossy, but not silently so.
func (s *Store) Purge(ctx context.Context) (PurgeResult, error) {
	var result PurgeResult

	files, err := s.listWorkingFiles()
	if err != nil {
		return result, fmt.Errorf("store: purge: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return result, fmt.Errorf("store: take: %w", err)
	}
	defer s.pool.Put(conn)

	var rows []string
	err = sqlitex.Execute(conn, `SELECT name FROM cache_entry`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return result, fmt.Errorf("store: purge: listing entries: %w", err)
	}

	// An entry can exist on disk only (written since the last Sync),
	// in the database only (file vanished), or on both sides.
	onDisk := make(map[string]bool, len(files))
	for _, name := range files {
		onDisk[name] = true
	}
	inDatabase := make(map[string]bool, len(rows))
	for _, name := range rows {
		inDatabase[name] = true
	}
	entries := make(map[string]bool, len(files)+len(rows))
	maps.Copy(entries, onDisk)
	maps.Copy(entries, inDatabase)

	for _, name := range slices.Sorted(maps.Keys(entries)) {
		removed := true
		if onDisk[name] {
			if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(name))); err != nil {
				removed = false
				s.logger.Warn("purge: removing cache file failed", "name", name, "error", err)
			}
		}
		if inDatabase[name] {
			err := sqlitex.Execute(conn, `DELETE FROM cache_entry WHERE name = ?`,
				&sqlitex.ExecOptions{Args: []any{name}})
			if err != nil {
				removed = false
				s.logger.Warn("purge: deleting cache row failed", "name", name, "error", err)
			}
		}
		if removed {
			result.Removed++
		} else {
			result.Failed++
		}
	}
	removeEmptyDirectories(s.dir)

	s.logger.Info("store purged", "removed", result.Removed, "failed", result.Failed)
	return result, nil
}

// Close closes the database. Pending working-directory writes that
// were never Synced are lost, which is the documented crash-equivalent
// behavior.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

// listWorkingFiles returns every regular file under the working
// directory as a '/'-separated path relative to it, sorted by walk
// order.
func (s *Store) listWorkingFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking working directory: %w", err)
	}
	return files, nil
}

// prepareConnection applies the standard pragmas and ensures the
// schema. Runs once per pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// clearDirectory removes everything inside dir without removing dir
// itself.
func clearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// removeEmptyDirectories prunes now-empty subdirectories left behind
// after a purge. Best-effort: a non-empty or busy directory is left
// in place.
func removeEmptyDirectories(dir string) {
	var subdirectories []string
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() && path != dir {
			subdirectories = append(subdirectories, path)
		}
		return nil
	})
	// Deepest first, so parents empty out as children are removed.
	for i := len(subdirectories) - 1; i >= 0; i-- {
		_ = os.Remove(subdirectories[i])
	}
}
