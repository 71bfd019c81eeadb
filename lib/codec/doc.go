// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Scanforge's standard CBOR encoding configuration.
//
// Every message that crosses the worker's isolation boundary — init and
// scan requests from the host, progress/ready/result/error events back —
// is CBOR. The encoder uses Core Deterministic Encoding (RFC 8949 §4.2):
// sorted map keys, smallest integer encoding, no indefinite-length items.
// Same logical message always produces identical bytes, which keeps
// protocol traces diffable and test fixtures stable.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For the socket stream:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Protocol types carry `cbor` struct tags exclusively — they never
// participate in JSON serialization, and doubling up tags would obscure
// that contract.
package codec
