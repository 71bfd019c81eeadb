// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// extractArchive extracts a gzip tarball into dir, replacing whatever
// was there. The corpus is replaced wholesale, never merged, so the
// directory is wiped first.
func extractArchive(archive []byte, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clearing rules directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating rules directory: %w", err)
	}

	gzipReader, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := secureJoin(dir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0700); err != nil {
				return fmt.Errorf("creating %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
				return fmt.Errorf("creating parent of %s: %w", header.Name, err)
			}
			file, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("creating %s: %w", header.Name, err)
			}
			if _, err := io.Copy(file, tarReader); err != nil {
				file.Close()
				return fmt.Errorf("writing %s: %w", header.Name, err)
			}
			if err := file.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", header.Name, err)
			}

		default:
			// Symlinks, devices, and the rest have no business in a
			// rule corpus; refuse rather than silently skip.
			return fmt.Errorf("unsupported tar entry type %d for %s", header.Typeflag, header.Name)
		}
	}
}

// secureJoin joins name under dir, rejecting entries that would
// escape it ("../", absolute paths).
func secureJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if target != dir && !strings.HasPrefix(target, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("tar entry %q escapes extraction directory", name)
	}
	return target, nil
}

// junkEntry reports whether a file or directory name is a known
// platform-metadata artifact that rule archives built on developer
// machines tend to carry.
func junkEntry(name string) bool {
	switch name {
	case ".DS_Store", "Thumbs.db", "__MACOSX", "desktop.ini":
		return true
	}
	// AppleDouble sidecar files.
	return strings.HasPrefix(name, "._")
}

// stripJunk walks the extracted tree and deletes junk artifacts,
// returning the number removed. A junk directory counts as one
// artifact regardless of its contents.
func stripJunk(dir string) (int, error) {
	var junkPaths []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if junkEntry(entry.Name()) {
			junkPaths = append(junkPaths, path)
			if entry.IsDir() {
				return fs.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking extracted tree: %w", err)
	}

	for _, path := range junkPaths {
		if err := os.RemoveAll(path); err != nil {
			return 0, fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return len(junkPaths), nil
}
