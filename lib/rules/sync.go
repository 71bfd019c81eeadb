// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scanforge-foundation/scanforge/lib/rulehash"
	"github.com/scanforge-foundation/scanforge/lib/store"
)

// Manager synchronizes the local rule corpus with its distribution
// source. Construct one per worker; it holds no state beyond its
// configuration.
type Manager struct {
	// Fetch retrieves the raw archive bytes. Required.
	Fetch FetchFunc

	// Store is the persistent cache region to invalidate when the
	// corpus changes. Required.
	Store *store.Store

	// ArchivePath is the fixed path the raw archive is persisted at.
	// Required.
	ArchivePath string

	// RulesDir is the fixed working directory the archive is
	// extracted into. Wiped and recreated on every extraction.
	// Required.
	RulesDir string

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Result reports one Sync pass.
type Result struct {
	// RulesDir is the directory holding the extracted corpus.
	RulesDir string

	// NewHash is the hex content hash of the fetched archive.
	NewHash string

	// Changed is true when NewHash differs from the hash the previous
	// session recorded (always true on first run).
	Changed bool

	// JunkRemoved is the number of junk artifacts stripped from the
	// extracted tree.
	JunkRemoved int
}

// Sync runs one fetch/validate/extract pass. previousHash is the
// corpus hash the host recorded from the previous session, empty on
// first run.
//
// A retrieval failure surfaces as [*FetchError] and leaves the store
// and rules directory untouched. Any failure after a successful fetch
// is fatal to the pass: extraction problems mean a corrupt corpus.
func (m *Manager) Sync(ctx context.Context, previousHash string) (Result, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	archive, err := m.Fetch(ctx)
	if err != nil {
		return Result{}, err
	}

	newHash := rulehash.Format(rulehash.Archive(archive))
	changed := newHash != previousHash

	logger.Info("rule archive fetched",
		"bytes", len(archive),
		"hash", newHash,
		"changed", changed,
	)

	if changed {
		// Every cached artifact was derived from the old corpus.
		// Invalidate before extraction so a crash mid-pass can never
		// leave new rules beside stale cache entries.
		purged, err := m.Store.Purge(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("rules: invalidating cache: %w", err)
		}
		logger.Info("persistent cache invalidated",
			"removed", purged.Removed,
			"failed", purged.Failed,
		)

		// Checkpoint so the invalidation is durable before extraction
		// starts.
		if err := m.Store.Sync(ctx); err != nil {
			return Result{}, fmt.Errorf("rules: committing cache invalidation: %w", err)
		}
	}

	if err := writeFileAtomic(m.ArchivePath, archive); err != nil {
		return Result{}, fmt.Errorf("rules: persisting archive: %w", err)
	}

	if err := extractArchive(archive, m.RulesDir); err != nil {
		return Result{}, fmt.Errorf("rules: extracting archive: %w", err)
	}

	junkRemoved, err := stripJunk(m.RulesDir)
	if err != nil {
		return Result{}, fmt.Errorf("rules: stripping junk artifacts: %w", err)
	}
	if junkRemoved > 0 {
		logger.Info("junk artifacts stripped", "count", junkRemoved)
	}

	return Result{
		RulesDir:    m.RulesDir,
		NewHash:     newHash,
		Changed:     changed,
		JunkRemoved: junkRemoved,
	}, nil
}

// writeFileAtomic writes data to path via a temporary file, fsync, and
// rename, so a crashed write never leaves a truncated archive at the
// fixed path.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	// Write, sync, close — in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
