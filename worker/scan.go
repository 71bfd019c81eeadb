// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/scanforge-foundation/scanforge/lib/engine"
	"github.com/scanforge-foundation/scanforge/lib/protocol"
)

// Scan handles one scan request, emitting exactly one result or error
// event.
//
// The error kind is reserved for refusals: the worker is not ready,
// the request carries an enum value outside the accepted sets, or the
// rule set is unavailable and its lazy load failed. Once the analysis
// pipeline starts, any failure — a corrupt file, an engine crash, a
// rendering bug — comes back as a result event whose output embeds the
// message and a diagnostic trace. The request failed; the worker did
// not.
func (c *Controller) Scan(ctx context.Context, request protocol.Request) {
	if c.state != StateReady {
		c.emit(protocol.Event{
			Kind:    protocol.KindError,
			Message: fmt.Sprintf("scan rejected: worker is %s, not ready", c.state),
		})
		return
	}

	if err := normalizeScanRequest(&request); err != nil {
		c.logger.Warn("scan rejected: malformed request", "error", err)
		c.emit(protocol.Event{
			Kind:    protocol.KindError,
			Message: fmt.Sprintf("scan rejected: %v", err),
		})
		return
	}

	if err := c.ensureRuleSet(ctx); err != nil {
		c.logger.Warn("scan rejected: rule set unavailable", "error", err)
		c.emit(protocol.Event{
			Kind:    protocol.KindError,
			Message: fmt.Sprintf("scan rejected: %v", err),
		})
		return
	}

	output, err := c.analyze(ctx, request)
	if err != nil {
		c.logger.Warn("scan failed",
			"file", request.FileName,
			"error", err,
		)
		output = fmt.Sprintf("analysis of %s failed: %v", request.FileName, err)
	}

	c.emit(protocol.Event{Kind: protocol.KindResult, Output: output})
}

// normalizeScanRequest validates the request's enum fields against the
// accepted value sets and resolves empty values to their defaults. No
// other values reach the engine.
func normalizeScanRequest(request *protocol.Request) error {
	inputFormat, err := protocol.ParseInputFormat(string(request.InputFormat))
	if err != nil {
		return err
	}
	inputOS, err := protocol.ParseInputOS(string(request.InputOS))
	if err != nil {
		return err
	}
	outputFormat, err := protocol.ParseOutputFormat(string(request.OutputFormat))
	if err != nil {
		return err
	}

	request.InputFormat = inputFormat
	request.InputOS = inputOS
	request.OutputFormat = outputFormat
	return nil
}

// analyze runs the extract → match → render pipeline for one request.
// Every failure carries a diagnostic trace in the error: panics the
// trace of the panic site, ordinary errors the trace of the dispatch
// point.
func (c *Controller) analyze(ctx context.Context, request protocol.Request) (output string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
			return
		}
		if err != nil {
			err = fmt.Errorf("%w\n%s", err, debug.Stack())
		}
	}()

	format := protocol.InferFormat(request.FileName, request.InputFormat)
	if format != request.InputFormat {
		c.logger.Debug("input format inferred from file name",
			"file", request.FileName,
			"format", string(format),
		)
	}

	extractor, err := c.engine.NewExtractor(ctx, engine.ExtractorSpec{
		FileData: request.FileData,
		FileName: request.FileName,
		Format:   format,
		OS:       request.InputOS,
	})
	if err != nil {
		return "", fmt.Errorf("constructing extractor: %w", err)
	}

	matches, err := c.engine.Match(ctx, c.ruleSet, extractor)
	if err != nil {
		return "", fmt.Errorf("matching capabilities: %w", err)
	}

	rendering, err := c.engine.Render(ctx, matches, request.OutputFormat)
	if err != nil {
		return "", fmt.Errorf("rendering results: %w", err)
	}

	// Prefer the renderer's direct return value; fall back to
	// whatever diagnostic output it produced along the way.
	if rendering.Output != "" {
		return rendering.Output, nil
	}
	return rendering.Captured, nil
}
