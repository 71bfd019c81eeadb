// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine defines the boundary to the external capability-
// matching engine. Scanforge orchestrates the engine's lifecycle —
// runtime startup, rule-set construction, per-scan dispatch — but
// never looks inside it: extractors, the matching algorithm, and
// result rendering are the engine's business, represented here as
// opaque handles.
//
// [Engine] is the full collaborator contract. [ExecEngine] adapts a
// standalone analyzer binary to it, staging input bytes into a scratch
// directory and shelling out per operation. Tests substitute in-memory
// fakes.
package engine
