// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package worker

// State is the worker's lifecycle state. Exactly one per controller,
// mutated only by the bootstrap sequence, read by the scan dispatcher
// as a precondition gate.
type State int

const (
	// StateUninitialized: no init request has been processed yet.
	StateUninitialized State = iota

	// StateLoadingRuntime: the engine runtime is starting.
	StateLoadingRuntime

	// StateInstallingDependencies: runtime components are installing.
	StateInstallingDependencies

	// StateSyncingRuleCache: the rule corpus is being synchronized.
	StateSyncingRuleCache

	// StateReady: bootstrap succeeded; scans are accepted.
	StateReady

	// StateFailed: bootstrap failed; the worker is unusable and the
	// host is expected to recreate it.
	StateFailed
)

// String returns the lifecycle state's name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoadingRuntime:
		return "loading-runtime"
	case StateInstallingDependencies:
		return "installing-dependencies"
	case StateSyncingRuleCache:
		return "syncing-rule-cache"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
