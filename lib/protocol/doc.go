// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the CBOR-encoded message types exchanged
// between the host and the scanforge worker over the worker's Unix
// socket. Both the worker and any host-side client import this package
// so the wire types are defined once rather than mirrored.
//
// The conversation is strictly ordered. The host sends one init
// request; the worker answers with zero or more progress events
// followed by exactly one terminal signal (ready plus version, or
// error). After ready, the host sends scan requests one at a time;
// each produces exactly one result or error event. Scan failures
// inside the analysis pipeline are reported as result events whose
// output embeds the failure text — the error kind is reserved for
// protocol-level refusals, so the channel survives bad inputs.
package protocol
