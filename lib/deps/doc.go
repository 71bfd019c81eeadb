// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package deps installs the runtime components the analysis engine
// needs before it can load rules. The component list is fixed at build
// time, embedded as a JSONC manifest (JSON with comments and trailing
// commas), and installed strictly in declared order — later components
// may depend on earlier ones, and sequential installs keep peak memory
// bounded and progress percentages deterministic.
//
// Installation is delegated to a [PackageManager], the external
// package-manager collaborator. Scanforge only orchestrates: a spec
// marked tolerate_failure logs its failure and the batch continues; a
// required spec aborts the batch with the wrapped error. There is no
// rollback on partial failure — that matches the collaborator's own
// semantics, where an aborted batch leaves earlier components
// installed.
package deps
