// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/scanforge-foundation/scanforge/lib/protocol"
)

// RuleSet is the engine's in-memory representation of a loaded rule
// corpus. Read-only once constructed, shared by every scan, rebuilt
// only when the worker re-initializes.
type RuleSet interface {
	// Fingerprint identifies the loaded rule set. The engine keys its
	// derived-artifact cache by this value internally.
	Fingerprint() string
}

// Extractor is a format-and-OS-aware feature source constructed over
// one input file. One per scan request; never reused.
type Extractor interface{}

// Matches is the engine's opaque match set for one scan, produced by
// Match and consumed by Render.
type Matches interface{}

// ExtractorSpec describes the input one extractor is built over.
type ExtractorSpec struct {
	// FileData is the raw input bytes.
	FileData []byte

	// FileName is the submitted file name. The engine stages the
	// bytes under this name, so two concurrent scans of the same name
	// would share a write path — the worker serializes requests to
	// keep that from happening.
	FileName string

	// Format is the resolved input format. FormatAuto means the
	// engine sniffs content.
	Format protocol.InputFormat

	// OS is the assumed operating system for OS-sensitive features.
	OS protocol.InputOS
}

// Rendering is the outcome of rendering one match set. Render
// implementations may produce output directly, emit it as captured
// diagnostic output, or both; the dispatcher prefers Output when both
// are present.
type Rendering struct {
	// Output is the renderer's direct return value.
	Output string

	// Captured is incidental diagnostic output produced during
	// rendering.
	Captured string
}

// Engine is the external capability-matching collaborator. All calls
// are blocking from the worker's perspective; no operation is safe to
// overlap with another on the same Engine.
type Engine interface {
	// Start loads the engine's heavyweight runtime. Called once, as
	// the first bootstrap stage.
	Start(ctx context.Context) error

	// Version reports the engine's version string, surfaced to the
	// host after ready.
	Version(ctx context.Context) (string, error)

	// LoadRules constructs a RuleSet from an extracted corpus
	// directory, using cacheDir as its derived-artifact cache (keyed
	// internally by rule-set fingerprint).
	LoadRules(ctx context.Context, rulesDir, cacheDir string) (RuleSet, error)

	// NewExtractor constructs an extractor over one input.
	NewExtractor(ctx context.Context, spec ExtractorSpec) (Extractor, error)

	// Match runs capability matching for one extractor against the
	// shared rule set.
	Match(ctx context.Context, rules RuleSet, extractor Extractor) (Matches, error)

	// Render produces the requested textual or structured rendering
	// of a match set.
	Render(ctx context.Context, matches Matches, format protocol.OutputFormat) (Rendering, error)
}
