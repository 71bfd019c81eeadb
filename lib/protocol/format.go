// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"fmt"
	"strings"
)

// InputFormat identifies how the engine should interpret the input
// bytes. The zero value is FormatAuto.
type InputFormat string

const (
	// FormatAuto asks the worker to infer the format from the file
	// name suffix, falling back to the engine's content sniffing.
	FormatAuto InputFormat = "auto"

	// FormatShellcode32 treats the input as raw 32-bit shellcode.
	FormatShellcode32 InputFormat = "shellcode32"

	// FormatShellcode64 treats the input as raw 64-bit shellcode.
	FormatShellcode64 InputFormat = "shellcode64"

	// FormatBinExport2 treats the input as a BinExport2 protobuf
	// produced by a disassembler export.
	FormatBinExport2 InputFormat = "binexport2"

	// FormatFreeze treats the input as a serialized feature freeze.
	FormatFreeze InputFormat = "freeze"
)

// ParseInputFormat parses an input format from its string
// representation. The empty string parses as FormatAuto.
func ParseInputFormat(name string) (InputFormat, error) {
	switch InputFormat(name) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatShellcode32, FormatShellcode64, FormatBinExport2, FormatFreeze:
		return InputFormat(name), nil
	default:
		return "", fmt.Errorf("unknown input format: %q", name)
	}
}

// InputOS identifies the operating system assumed during extraction.
// The zero value is OSAuto.
type InputOS string

const (
	// OSAuto lets the engine determine the OS from the file format.
	OSAuto InputOS = "auto"

	// OSWindows assumes Windows semantics (PE imports, API names).
	OSWindows InputOS = "windows"

	// OSLinux assumes Linux semantics.
	OSLinux InputOS = "linux"

	// OSMacOS assumes macOS semantics.
	OSMacOS InputOS = "macos"
)

// ParseInputOS parses an input OS from its string representation. The
// empty string parses as OSAuto.
func ParseInputOS(name string) (InputOS, error) {
	switch InputOS(name) {
	case "", OSAuto:
		return OSAuto, nil
	case OSWindows, OSLinux, OSMacOS:
		return InputOS(name), nil
	default:
		return "", fmt.Errorf("unknown input OS: %q", name)
	}
}

// OutputFormat selects the rendering mode for scan results. The zero
// value is OutputDefault.
type OutputFormat string

const (
	// OutputDefault is the compact capability table.
	OutputDefault OutputFormat = "default"

	// OutputJSON is the structured result document.
	OutputJSON OutputFormat = "json"

	// OutputVerbose adds rule metadata to the table.
	OutputVerbose OutputFormat = "verbose"

	// OutputVVerbose adds per-match feature locations.
	OutputVVerbose OutputFormat = "vverbose"
)

// ParseOutputFormat parses an output format from its string
// representation. The empty string parses as OutputDefault. No other
// values are accepted.
func ParseOutputFormat(name string) (OutputFormat, error) {
	switch OutputFormat(name) {
	case "", OutputDefault:
		return OutputDefault, nil
	case OutputJSON, OutputVerbose, OutputVVerbose:
		return OutputFormat(name), nil
	default:
		return "", fmt.Errorf("unknown output format: %q", name)
	}
}

// formatBySuffix maps file name suffixes to input formats. Matching is
// case-insensitive on the suffix. Anything not listed stays
// FormatAuto for the engine to resolve by content sniffing.
var formatBySuffix = map[string]InputFormat{
	".sc32":       FormatShellcode32,
	".raw32":      FormatShellcode32,
	".sc64":       FormatShellcode64,
	".raw64":      FormatShellcode64,
	".binexport":  FormatBinExport2,
	".binexport2": FormatBinExport2,
	".frz":        FormatFreeze,
}

// InferFormat resolves FormatAuto from the file name's suffix. Formats
// other than FormatAuto pass through unchanged — an explicit request
// always wins over inference.
func InferFormat(fileName string, format InputFormat) InputFormat {
	if format != FormatAuto && format != "" {
		return format
	}
	lowered := strings.ToLower(fileName)
	for suffix, inferred := range formatBySuffix {
		if strings.HasSuffix(lowered, suffix) {
			return inferred
		}
	}
	return FormatAuto
}
