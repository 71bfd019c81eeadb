// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/scanforge-foundation/scanforge/lib/protocol"
)

// ExecEngine adapts a standalone analyzer binary to the Engine
// interface. Each operation is one subprocess invocation:
//
//	<binary> selfcheck
//	<binary> version
//	<binary> load-rules --rules <dir> --cache <dir>
//	<binary> match --rules <dir> --cache <dir> --input <path> --format <f> --os <o>
//	<binary> render --mode <m>        (match document on stdin)
//
// Input bytes are staged into ScratchDir under their submitted file
// name before extraction. The same name always maps to the same
// scratch path, so overlapping scans of one name would race — the
// worker's serialized request queue is what prevents that.
type ExecEngine struct {
	// BinaryPath is the analyzer binary. Required.
	BinaryPath string

	// ScratchDir is where input bytes are staged. Created on Start.
	// Required.
	ScratchDir string
}

type execRuleSet struct {
	fingerprint string
	rulesDir    string
	cacheDir    string
}

func (r *execRuleSet) Fingerprint() string { return r.fingerprint }

type execExtractor struct {
	inputPath string
	format    protocol.InputFormat
	os        protocol.InputOS
}

type execMatches struct {
	document []byte
}

// Start verifies the analyzer binary runs and lets it warm up its
// runtime.
func (e *ExecEngine) Start(ctx context.Context) error {
	if err := os.MkdirAll(e.ScratchDir, 0700); err != nil {
		return fmt.Errorf("engine: creating scratch directory: %w", err)
	}
	if _, err := e.run(ctx, nil, "selfcheck"); err != nil {
		return fmt.Errorf("engine: selfcheck: %w", err)
	}
	return nil
}

// Version reports the analyzer's version string.
func (e *ExecEngine) Version(ctx context.Context) (string, error) {
	stdout, err := e.run(ctx, nil, "version")
	if err != nil {
		return "", fmt.Errorf("engine: version: %w", err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// LoadRules asks the analyzer to compile the corpus, warming its
// derived-artifact cache in cacheDir. The printed fingerprint becomes
// the RuleSet identity.
func (e *ExecEngine) LoadRules(ctx context.Context, rulesDir, cacheDir string) (RuleSet, error) {
	stdout, err := e.run(ctx, nil, "load-rules", "--rules", rulesDir, "--cache", cacheDir)
	if err != nil {
		return nil, fmt.Errorf("engine: load-rules: %w", err)
	}
	fingerprint := strings.TrimSpace(string(stdout))
	if fingerprint == "" {
		return nil, fmt.Errorf("engine: load-rules printed no fingerprint")
	}
	return &execRuleSet{
		fingerprint: fingerprint,
		rulesDir:    rulesDir,
		cacheDir:    cacheDir,
	}, nil
}

// NewExtractor stages the input bytes into the scratch directory. The
// actual extractor lives inside the analyzer process and is
// constructed during match; what crosses the boundary is the staged
// path plus the format and OS hints.
func (e *ExecEngine) NewExtractor(ctx context.Context, spec ExtractorSpec) (Extractor, error) {
	if spec.FileName == "" {
		return nil, fmt.Errorf("engine: extractor needs a file name")
	}
	inputPath := filepath.Join(e.ScratchDir, filepath.Base(spec.FileName))
	if err := os.WriteFile(inputPath, spec.FileData, 0600); err != nil {
		return nil, fmt.Errorf("engine: staging input: %w", err)
	}
	return &execExtractor{
		inputPath: inputPath,
		format:    spec.Format,
		os:        spec.OS,
	}, nil
}

// Match runs capability matching and returns the analyzer's match
// document.
func (e *ExecEngine) Match(ctx context.Context, rules RuleSet, extractor Extractor) (Matches, error) {
	ruleSet, ok := rules.(*execRuleSet)
	if !ok {
		return nil, fmt.Errorf("engine: rule set was not produced by this engine")
	}
	input, ok := extractor.(*execExtractor)
	if !ok {
		return nil, fmt.Errorf("engine: extractor was not produced by this engine")
	}

	stdout, err := e.run(ctx, nil, "match",
		"--rules", ruleSet.rulesDir,
		"--cache", ruleSet.cacheDir,
		"--input", input.inputPath,
		"--format", string(input.format),
		"--os", string(input.os),
	)
	if err != nil {
		return nil, fmt.Errorf("engine: match: %w", err)
	}
	return &execMatches{document: stdout}, nil
}

// Render produces the requested rendering of a match document. The
// analyzer's stdout is the direct output; its stderr is the captured
// diagnostic stream.
func (e *ExecEngine) Render(ctx context.Context, matches Matches, format protocol.OutputFormat) (Rendering, error) {
	matchSet, ok := matches.(*execMatches)
	if !ok {
		return Rendering{}, fmt.Errorf("engine: match set was not produced by this engine")
	}

	command := exec.CommandContext(ctx, e.BinaryPath, "render", "--mode", string(format))
	command.Stdin = bytes.NewReader(matchSet.document)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Rendering{}, fmt.Errorf("engine: render: %w (stderr: %s)",
			err, strings.TrimSpace(stderr.String()))
	}
	return Rendering{
		Output:   stdout.String(),
		Captured: stderr.String(),
	}, nil
}

// run invokes the analyzer with the given arguments, returning its
// stdout. A non-zero exit wraps the tail of stderr into the error.
func (e *ExecEngine) run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, e.BinaryPath, args...)
	if stdin != nil {
		command.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%w (stderr: %s)", err, detail)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
