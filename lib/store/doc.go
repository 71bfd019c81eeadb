// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides the worker's durable key-value backed
// filesystem region: a working directory whose contents are mirrored
// into a SQLite database on explicit checkpoints.
//
// The working directory is the volatile side — the engine reads and
// writes derived rule-set artifacts there as ordinary files. The
// SQLite database is the durable side. Nothing moves between the two
// automatically:
//
//   - [Store.Mount] materializes every durable entry into the working
//     directory. Called once during bootstrap, before anything touches
//     the directory.
//   - [Store.Sync] is the only durable commit point. It walks the
//     working directory, upserts each file into SQLite (LZ4
//     block-compressed when that actually shrinks it), drops rows for
//     files that vanished, and checkpoints the WAL.
//   - [Store.Purge] is invalidate-all: best-effort removal of every
//     entry on both sides, reporting removed and failed counts rather
//     than swallowing failures silently.
//
// A crash between writing the working directory and calling Sync loses
// those writes. That is deliberate and safe: the cache contents are
// derived from the rule corpus, so losing them is equivalent to a
// cache miss and bootstrap rebuilds them on the next run.
//
// The database uses the standard pragma set: WAL journal mode,
// synchronous=NORMAL (transactions survive process crashes; an OS
// crash may lose the tail, which the cache-miss property absorbs),
// and a busy timeout instead of immediate SQLITE_BUSY errors.
package store
