// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Request kinds, host → worker.
const (
	// KindInit starts the bootstrap sequence. Sent exactly once per
	// worker lifetime; a repeat init replays the prior terminal
	// outcome without re-running the stages.
	KindInit = "init"

	// KindScan submits one file for capability analysis. Only valid
	// after the worker has emitted a ready event.
	KindScan = "scan"
)

// Event kinds, worker → host.
const (
	// KindProgress reports bootstrap progress. Informational only;
	// percents are monotonically non-decreasing within one bootstrap.
	KindProgress = "progress"

	// KindReady signals that bootstrap succeeded and the worker
	// accepts scan requests. Terminal for the init exchange.
	KindReady = "ready"

	// KindVersion reports the loaded engine's version string. Emitted
	// once, immediately after ready.
	KindVersion = "version"

	// KindRulesHash reports the content hash of the active rule
	// corpus. Emitted only when the corpus changed relative to the
	// hash the host supplied with init; the host persists it across
	// sessions.
	KindRulesHash = "rules_hash"

	// KindResult carries the rendered output of one scan request.
	// Also carries scan failures formatted as text, so a bad input
	// never poisons the message channel.
	KindResult = "result"

	// KindError is a protocol-level failure: a fatal bootstrap error
	// (the worker is unusable thereafter) or the refusal of a scan
	// the worker cannot attempt (not ready, rule set unavailable).
	KindError = "error"
)

// Request is a CBOR-encoded message from the host to the worker.
type Request struct {
	// Kind is the request type: KindInit or KindScan.
	Kind string `cbor:"kind"`

	// RulesHash is the corpus content hash the host recorded from the
	// previous session (for init). Empty on first run; the worker
	// treats empty as "no corpus has ever been active" and always
	// reports the freshly computed hash back.
	RulesHash string `cbor:"rules_hash,omitempty"`

	// FileData is the raw bytes of the file to analyze (for scan).
	FileData []byte `cbor:"file_data,omitempty"`

	// FileName is the submitted file's name (for scan). Used for
	// format inference when InputFormat is auto, and as the scratch
	// file name handed to the engine.
	FileName string `cbor:"file_name,omitempty"`

	// InputFormat selects the input interpretation (for scan). When
	// FormatAuto, the worker infers from the file name suffix and
	// otherwise leaves resolution to the engine's content sniffing.
	InputFormat InputFormat `cbor:"input_format,omitempty"`

	// InputOS selects the assumed operating system for OS-sensitive
	// extraction (for scan).
	InputOS InputOS `cbor:"input_os,omitempty"`

	// OutputFormat selects the rendering mode (for scan).
	OutputFormat OutputFormat `cbor:"output_format,omitempty"`
}

// Event is a CBOR-encoded message from the worker to the host.
type Event struct {
	// Kind is the event type: one of the Kind* event constants.
	Kind string `cbor:"kind"`

	// Message is human-readable text: the stage description for
	// progress events, the failure description for error events.
	Message string `cbor:"message,omitempty"`

	// Percent is the bootstrap completion percentage for progress
	// events. A pointer distinguishes "0 percent" from "no percent
	// attached to this message".
	Percent *int `cbor:"percent,omitempty"`

	// Version is the engine version string (for version events).
	Version string `cbor:"version,omitempty"`

	// Hash is the new corpus content hash (for rules_hash events).
	Hash string `cbor:"hash,omitempty"`

	// Output is the rendered scan output (for result events).
	Output string `cbor:"output,omitempty"`
}

// ProgressEvent builds a progress event with the given message and
// percent.
func ProgressEvent(message string, percent int) Event {
	return Event{Kind: KindProgress, Message: message, Percent: &percent}
}
