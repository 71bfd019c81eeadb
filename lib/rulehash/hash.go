// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package rulehash computes the content hash that identifies a rule
// corpus. The hash is a keyed BLAKE3 digest of the raw archive bytes,
// computed before extraction, and is the durable identity of "which
// rule set is active": the host remembers it across sessions and the
// worker compares it on every bootstrap to decide whether the
// persistent cache must be invalidated.
package rulehash

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of a corpus archive.
type Hash [32]byte

// corpusDomainKey is the 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures corpus hashes can never collide with hashes of
// the same bytes computed in another context. The byte values are the
// ASCII encoding of the domain name, zero-padded to 32 bytes, so the
// key is inspectable in hex dumps without sacrificing any
// cryptographic property. Changing this key invalidates every
// recorded corpus hash.
var corpusDomainKey = [32]byte{
	's', 'c', 'a', 'n', 'f', 'o', 'r', 'g', 'e', '.', 'r', 'u', 'l', 'e', 's', '.',
	'a', 'r', 'c', 'h', 'i', 'v', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Archive computes the corpus-domain hash of raw archive bytes.
func Archive(data []byte) Hash {
	// NewKeyed requires exactly 32 bytes, which the fixed-size key
	// guarantees; the error path is unreachable.
	hasher, err := blake3.NewKeyed(corpusDomainKey[:])
	if err != nil {
		panic("rulehash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// Format returns the hex-encoded string representation of a hash.
// This is the canonical form carried in protocol messages and logs.
func Format(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// Parse parses a 64-character hex string into a Hash.
func Parse(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing corpus hash: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("corpus hash is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}
