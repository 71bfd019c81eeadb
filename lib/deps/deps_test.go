// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package deps

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
)

// fakePackageManager records install attempts and fails the names
// listed in failing.
type fakePackageManager struct {
	installed []string
	failing   map[string]bool
}

func (f *fakePackageManager) Install(_ context.Context, spec Spec) error {
	f.installed = append(f.installed, spec.Name)
	if f.failing[spec.Name] {
		return fmt.Errorf("registry refused %s", spec.Name)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManifestParsesInOrder(t *testing.T) {
	specs, err := Manifest()
	if err != nil {
		t.Fatalf("Manifest failed: %v", err)
	}
	if len(specs) == 0 {
		t.Fatal("Manifest returned no specs")
	}

	// The engine must come after the extractors it imports.
	indexOf := func(name string) int {
		for i, spec := range specs {
			if spec.Name == name {
				return i
			}
		}
		t.Fatalf("manifest has no %q entry", name)
		return -1
	}
	if indexOf("feature-extractors") > indexOf("capability-engine") {
		t.Error("feature-extractors must precede capability-engine")
	}

	for _, spec := range specs {
		if spec.Version == "" {
			t.Errorf("spec %s has no version constraint", spec.Name)
		}
	}
}

func TestInstallAllPreservesOrder(t *testing.T) {
	specs := []Spec{
		{Name: "first", Version: "==1"},
		{Name: "second", Version: "==2"},
		{Name: "third", Version: "==3"},
	}
	pm := &fakePackageManager{}

	var reported []int
	err := InstallAll(context.Background(), pm, specs, discardLogger(), func(index int, _ Spec) {
		reported = append(reported, index)
	})
	if err != nil {
		t.Fatalf("InstallAll failed: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(pm.installed) != len(want) {
		t.Fatalf("installed %v, want %v", pm.installed, want)
	}
	for i := range want {
		if pm.installed[i] != want[i] {
			t.Errorf("install order[%d] = %s, want %s", i, pm.installed[i], want[i])
		}
		if reported[i] != i {
			t.Errorf("progress callback index[%d] = %d, want %d", i, reported[i], i)
		}
	}
}

func TestInstallAllToleratedFailureContinues(t *testing.T) {
	specs := []Spec{
		{Name: "required-a", Version: "==1"},
		{Name: "optional", Version: "==1", TolerateFailure: true},
		{Name: "required-b", Version: "==1"},
	}
	pm := &fakePackageManager{failing: map[string]bool{"optional": true}}

	if err := InstallAll(context.Background(), pm, specs, discardLogger(), nil); err != nil {
		t.Fatalf("InstallAll should tolerate the optional failure, got: %v", err)
	}

	if len(pm.installed) != 3 {
		t.Errorf("attempted %d installs, want 3 (batch must continue past tolerated failure)", len(pm.installed))
	}
}

func TestInstallAllRequiredFailureAborts(t *testing.T) {
	specs := []Spec{
		{Name: "required-a", Version: "==1"},
		{Name: "required-b", Version: "==1"},
		{Name: "never-reached", Version: "==1"},
	}
	pm := &fakePackageManager{failing: map[string]bool{"required-b": true}}

	err := InstallAll(context.Background(), pm, specs, discardLogger(), nil)
	if err == nil {
		t.Fatal("InstallAll should fail when a required spec fails")
	}
	if len(pm.installed) != 2 {
		t.Errorf("attempted %d installs, want 2 (abort on required failure, no further attempts)", len(pm.installed))
	}
}
