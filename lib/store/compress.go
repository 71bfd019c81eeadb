// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how an entry's content is stored. Tags
// are persisted in the cache_entry table — changing their values
// breaks existing databases.
type CompressionTag uint8

const (
	// CompressionNone stores the content verbatim. Used when LZ4
	// does not actually shrink the data (already-compressed derived
	// artifacts, tiny entries).
	CompressionNone CompressionTag = 0

	// CompressionLZ4 stores the content as an LZ4 block. Fast to
	// decode on every Mount, and rule-set derived artifacts are
	// mostly serialized structures that compress well.
	CompressionLZ4 CompressionTag = 1
)

// compressEntry compresses data for storage, choosing CompressionNone
// when compression would not help.
func compressEntry(data []byte) ([]byte, CompressionTag) {
	if len(data) == 0 {
		return data, CompressionNone
	}

	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	written, err := lz4.CompressBlock(data, destination, nil)
	// CompressBlock returns 0 (with no error) when it determines the
	// data is incompressible. Also fall back when the "compressed"
	// form would be no smaller than the original.
	if err != nil || written == 0 || written >= len(data) {
		return data, CompressionNone
	}

	return destination[:written], CompressionLZ4
}

// decompressEntry restores an entry's original content. rawSize must
// match the recorded uncompressed length exactly; a mismatch means the
// row is corrupt.
func decompressEntry(content []byte, tag CompressionTag, rawSize int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(content) != rawSize {
			return nil, fmt.Errorf("uncompressed entry: size %d does not match recorded %d",
				len(content), rawSize)
		}
		return content, nil

	case CompressionLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(content, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("unknown compression tag: %d", tag)
	}
}
