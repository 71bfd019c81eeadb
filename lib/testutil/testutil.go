// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for scanforge
// packages.
//
// [RequireClosed] encapsulates the timeout safety valve pattern
// (select with time.After fallback) so individual tests never hang
// forever waiting on a done channel.
//
// [SocketDir] creates a short-pathed temporary directory for Unix
// domain sockets: sun_path is limited to 108 bytes and nested test
// temp directories routinely exceed it.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil

import (
	"os"
	"testing"
	"time"
)

// RequireClosed waits for ch to be closed (or receive a value) within
// timeout, or fails the test. Use this for done channels that signal
// by closing.
func RequireClosed(t *testing.T, ch <-chan struct{}, timeout time.Duration, message string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for channel close: %s", timeout, message)
	}
}

// SocketDir creates a temporary directory directly in /tmp, suitable
// for Unix domain sockets, and removes it when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "scanforge-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
