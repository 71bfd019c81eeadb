// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package deps

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/jsonc"
)

//go:embed manifest.jsonc
var manifestSource []byte

// Spec describes one runtime component to install. Specs are immutable
// and consumed in declared order.
type Spec struct {
	// Name is the component name passed to the package manager.
	Name string `json:"name"`

	// Version is the version constraint (e.g., "==6.2.0", ">=1.1").
	Version string `json:"version"`

	// Registries lists alternate source registries to resolve the
	// component from, tried in order. Empty means the package
	// manager's default registry.
	Registries []string `json:"registries,omitempty"`

	// TolerateFailure marks the component as optional: its
	// installation failure is logged and the batch continues.
	TolerateFailure bool `json:"tolerate_failure,omitempty"`
}

// PackageManager is the external collaborator that performs the actual
// installation, mutating the runtime's available-module set.
type PackageManager interface {
	// Install installs one component. Blocking; returns when the
	// component is available to the runtime or the attempt failed.
	Install(ctx context.Context, spec Spec) error
}

// Manifest returns the build-time component list, parsed from the
// embedded JSONC manifest. Returns an error only if the embedded file
// is malformed — a build bug, not a runtime condition.
func Manifest() ([]Spec, error) {
	var specs []Spec
	if err := json.Unmarshal(jsonc.ToJSON(manifestSource), &specs); err != nil {
		return nil, fmt.Errorf("parsing embedded dependency manifest: %w", err)
	}
	for i, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("dependency manifest entry %d has no name", i)
		}
	}
	return specs, nil
}

// InstallAll installs specs strictly sequentially in declared order.
// onInstalled, if non-nil, is called after each spec's attempt
// (successful or tolerated) with the zero-based index — the bootstrap
// controller derives progress percentages from it.
//
// A failure in a TolerateFailure spec is logged at WARN and the batch
// continues; a failure in a required spec aborts immediately with the
// wrapped error, leaving earlier components installed.
func InstallAll(ctx context.Context, pm PackageManager, specs []Spec, logger *slog.Logger, onInstalled func(index int, spec Spec)) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for i, spec := range specs {
		logger.Info("installing component",
			"name", spec.Name,
			"version", spec.Version,
			"index", i+1,
			"total", len(specs),
		)

		if err := pm.Install(ctx, spec); err != nil {
			if !spec.TolerateFailure {
				return fmt.Errorf("installing %s %s: %w", spec.Name, spec.Version, err)
			}
			logger.Warn("optional component install failed, continuing",
				"name", spec.Name,
				"version", spec.Version,
				"error", err,
			)
		}

		if onInstalled != nil {
			onInstalled(i, spec)
		}
	}

	return nil
}
