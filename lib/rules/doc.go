// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package rules maintains the worker's copy of the rule corpus: a
// versioned gzip tarball fetched from a distribution endpoint,
// identified by the BLAKE3 content hash of its raw bytes.
//
// [Manager.Sync] is the whole lifecycle for one bootstrap:
//
//  1. fetch the archive — the only failure class surfaced as a
//     non-fatal [*FetchError] (the worker degrades to lazy loading),
//  2. hash the raw bytes and compare against the hash recorded by the
//     previous session,
//  3. on mismatch (or first run), purge the persistent cache — every
//     derived artifact in it was built from the old corpus,
//  4. persist the archive atomically and re-extract it wholesale into
//     the rules directory (the corpus is replaced, never merged),
//  5. strip platform-metadata junk (.DS_Store, __MACOSX/, AppleDouble
//     sidecars) that rule archives built on macOS tend to carry.
//
// The manager never records the new hash itself: the host owns that
// memory across sessions and learns the hash from the rules_hash
// protocol event. The invariant the manager does guarantee is that the
// persistent cache never holds entries derived from a corpus other
// than the one whose hash was reported in the same pass.
package rules
