// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the orchestration core: the bootstrap controller
// that sequences environment preparation, the scan dispatcher that
// serves analysis requests once the environment stabilizes, and the
// socket server that carries the message protocol across the
// isolation boundary.
//
// Bootstrap runs the stages strictly in order — start the engine
// runtime, mount the persistent cache, install runtime components,
// sync the rule corpus, construct the rule set — emitting monotonic
// progress and exactly one terminal signal (ready or error). The one
// deliberate soft spot: a rule archive fetch failure does not fail
// bootstrap. The worker comes up ready in a degraded mode and retries
// the corpus sync lazily on each scan until one succeeds; every such
// degraded transition is logged loudly rather than hidden.
//
// Scans are dispatched strictly one at a time: the server decodes
// requests from a single connection sequentially, which is the
// explicit at-most-one-in-flight queue that protects the shared rule
// set and the per-file-name scratch paths. Scan failures inside the
// analysis pipeline are returned as result events carrying the error
// text — the protocol channel itself stays healthy no matter what the
// input was.
package worker
