// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package deps

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecInstaller installs components by shelling out to the analyzer
// binary's install subcommand:
//
//	<binary> install --name <name> --version <constraint> [--registry <url>]...
//
// The analyzer owns its runtime environment; the worker only sequences
// the installs and interprets exit status.
type ExecInstaller struct {
	// BinaryPath is the analyzer binary. Required.
	BinaryPath string
}

// Install runs one install invocation. A non-zero exit wraps the tail
// of stderr into the error.
func (e *ExecInstaller) Install(ctx context.Context, spec Spec) error {
	args := []string{"install", "--name", spec.Name, "--version", spec.Version}
	for _, registry := range spec.Registries {
		args = append(args, "--registry", registry)
	}

	command := exec.CommandContext(ctx, e.BinaryPath, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("install %s: %w (stderr: %s)", spec.Name, err, detail)
		}
		return fmt.Errorf("install %s: %w", spec.Name, err)
	}
	return nil
}
