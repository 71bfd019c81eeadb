// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/scanforge-foundation/scanforge/lib/deps"
	"github.com/scanforge-foundation/scanforge/lib/engine"
	"github.com/scanforge-foundation/scanforge/lib/protocol"
	"github.com/scanforge-foundation/scanforge/lib/rules"
	"github.com/scanforge-foundation/scanforge/lib/store"
)

// fakeRuleSet is an opaque rule-set handle for tests.
type fakeRuleSet struct{ fingerprint string }

func (f *fakeRuleSet) Fingerprint() string { return f.fingerprint }

type fakeExtractor struct{ spec engine.ExtractorSpec }

type fakeMatches struct{}

// fakeEngine implements engine.Engine with injectable behavior and
// call recording.
type fakeEngine struct {
	startErr   error
	startCalls int

	version string

	loadErr   error
	loadCalls int

	extractorErr   error
	extractorSpecs []engine.ExtractorSpec

	matchErr  error
	panicOn   string // file name that makes Match panic
	rendering engine.Rendering
	renderErr error

	renderFormats []protocol.OutputFormat
}

func (f *fakeEngine) Start(context.Context) error {
	f.startCalls++
	return f.startErr
}

func (f *fakeEngine) Version(context.Context) (string, error) {
	if f.version == "" {
		return "engine 7.0.4", nil
	}
	return f.version, nil
}

func (f *fakeEngine) LoadRules(_ context.Context, rulesDir, cacheDir string) (engine.RuleSet, error) {
	f.loadCalls++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &fakeRuleSet{fingerprint: "fp-" + filepath.Base(rulesDir)}, nil
}

func (f *fakeEngine) NewExtractor(_ context.Context, spec engine.ExtractorSpec) (engine.Extractor, error) {
	f.extractorSpecs = append(f.extractorSpecs, spec)
	if f.extractorErr != nil {
		return nil, f.extractorErr
	}
	return &fakeExtractor{spec: spec}, nil
}

func (f *fakeEngine) Match(_ context.Context, _ engine.RuleSet, extractor engine.Extractor) (engine.Matches, error) {
	if f.panicOn != "" && extractor.(*fakeExtractor).spec.FileName == f.panicOn {
		panic("extractor choked on " + f.panicOn)
	}
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return &fakeMatches{}, nil
}

func (f *fakeEngine) Render(_ context.Context, _ engine.Matches, format protocol.OutputFormat) (engine.Rendering, error) {
	f.renderFormats = append(f.renderFormats, format)
	if f.renderErr != nil {
		return engine.Rendering{}, f.renderErr
	}
	if f.rendering == (engine.Rendering{}) {
		return engine.Rendering{Output: "CAPABILITY TABLE"}, nil
	}
	return f.rendering, nil
}

type installOnlyPackageManager struct{ installed []string }

func (p *installOnlyPackageManager) Install(_ context.Context, spec deps.Spec) error {
	p.installed = append(p.installed, spec.Name)
	return nil
}

// harness wires a controller over a real store and rules manager, a
// fake engine, and an event collector.
type harness struct {
	controller *Controller
	engine     *fakeEngine
	store      *store.Store
	manager    *rules.Manager
	events     []protocol.Event

	// archive served by the fetch func; set fetchErr to fail fetches.
	archive  []byte
	fetchErr error
}

func corpusArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	gzipWriter := gzip.NewWriter(&buffer)
	tarWriter := tar.NewWriter(gzipWriter)
	for name, content := range files {
		err := tarWriter.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0600, Size: int64(len(content)),
		})
		if err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tarWriter.Write([]byte(content)); err != nil {
			t.Fatalf("tar content: %v", err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	if err := gzipWriter.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buffer.Bytes()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	base := t.TempDir()

	cacheStore, err := store.Open(store.Config{
		Path: filepath.Join(base, "cache.db"),
		Dir:  filepath.Join(base, "cache"),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { cacheStore.Close() })

	h := &harness{
		engine:  &fakeEngine{},
		store:   cacheStore,
		archive: corpusArchive(t, map[string]string{"corpus/a.yml": "rule: a"}),
	}
	h.manager = &rules.Manager{
		Fetch: func(context.Context) ([]byte, error) {
			if h.fetchErr != nil {
				return nil, h.fetchErr
			}
			return h.archive, nil
		},
		Store:       cacheStore,
		ArchivePath: filepath.Join(base, "rules.tar.gz"),
		RulesDir:    filepath.Join(base, "rules"),
	}
	h.controller = NewController(Config{
		Engine:         h.engine,
		PackageManager: &installOnlyPackageManager{},
		Store:          cacheStore,
		Rules:          h.manager,
		Specs: []deps.Spec{
			{Name: "binformat-parsers", Version: "==2.3.1"},
			{Name: "capability-engine", Version: "==7.0.4"},
		},
	}, func(event protocol.Event) {
		h.events = append(h.events, event)
	})
	return h
}

// eventsOfKind filters collected events by kind.
func (h *harness) eventsOfKind(kind string) []protocol.Event {
	var matched []protocol.Event
	for _, event := range h.events {
		if event.Kind == kind {
			matched = append(matched, event)
		}
	}
	return matched
}

func TestInitializeFirstRun(t *testing.T) {
	h := newHarness(t)

	h.controller.Initialize(context.Background(), "")

	if h.controller.State() != StateReady {
		t.Fatalf("state = %s, want ready", h.controller.State())
	}

	// Exactly one terminal ready, one version, and — first run — one
	// rules_hash event.
	if ready := h.eventsOfKind(protocol.KindReady); len(ready) != 1 {
		t.Errorf("ready events = %d, want 1", len(ready))
	}
	versions := h.eventsOfKind(protocol.KindVersion)
	if len(versions) != 1 || versions[0].Version != "engine 7.0.4" {
		t.Errorf("version events = %+v, want one with engine 7.0.4", versions)
	}
	hashes := h.eventsOfKind(protocol.KindRulesHash)
	if len(hashes) != 1 {
		t.Fatalf("rules_hash events = %d, want 1 on first run", len(hashes))
	}
	if len(hashes[0].Hash) != 64 {
		t.Errorf("rules_hash hash = %q, want 64 hex chars", hashes[0].Hash)
	}
	if errors := h.eventsOfKind(protocol.KindError); len(errors) != 0 {
		t.Errorf("unexpected error events: %+v", errors)
	}
}

func TestInitializeProgressMonotonic(t *testing.T) {
	h := newHarness(t)

	h.controller.Initialize(context.Background(), "")

	progress := h.eventsOfKind(protocol.KindProgress)
	if len(progress) < 5 {
		t.Fatalf("progress events = %d, want at least one per stage", len(progress))
	}
	last := -1
	for i, event := range progress {
		if event.Percent == nil {
			t.Fatalf("progress event %d has no percent", i)
		}
		percent := *event.Percent
		if percent < 0 || percent > 100 {
			t.Errorf("progress %d percent = %d, out of range", i, percent)
		}
		if percent < last {
			t.Errorf("progress went backwards: %d after %d (%q)", percent, last, event.Message)
		}
		last = percent
	}
	if last != 100 {
		t.Errorf("final progress percent = %d, want 100", last)
	}
}

func TestInitializeUnchangedCorpusEmitsNoHash(t *testing.T) {
	first := newHarness(t)
	first.controller.Initialize(context.Background(), "")
	recorded := first.eventsOfKind(protocol.KindRulesHash)[0].Hash

	// A new worker lifetime (fresh controller), same archive bytes,
	// host supplies the recorded hash.
	second := newHarness(t)
	second.archive = first.archive
	second.controller.Initialize(context.Background(), recorded)

	if second.controller.State() != StateReady {
		t.Fatalf("state = %s, want ready", second.controller.State())
	}
	if hashes := second.eventsOfKind(protocol.KindRulesHash); len(hashes) != 0 {
		t.Errorf("rules_hash events = %d, want 0 for unchanged corpus", len(hashes))
	}
}

func TestInitializeRepeatReplaysOutcome(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.controller.Initialize(ctx, "")
	firstCount := len(h.events)

	h.controller.Initialize(ctx, "")

	if h.engine.startCalls != 1 {
		t.Errorf("engine.Start calls = %d, want 1 (stages must not rerun)", h.engine.startCalls)
	}
	replayed := h.events[firstCount:]
	wantKinds := []string{protocol.KindReady, protocol.KindVersion, protocol.KindRulesHash}
	if len(replayed) != len(wantKinds) {
		t.Fatalf("replayed %d events, want %d: %+v", len(replayed), len(wantKinds), replayed)
	}
	for i, kind := range wantKinds {
		if replayed[i].Kind != kind {
			t.Errorf("replayed[%d].Kind = %s, want %s", i, replayed[i].Kind, kind)
		}
	}
}

func TestInitializeStageFailureIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.engine.startErr = fmt.Errorf("runtime image missing")

	h.controller.Initialize(context.Background(), "")

	if h.controller.State() != StateFailed {
		t.Fatalf("state = %s, want failed", h.controller.State())
	}
	errorEvents := h.eventsOfKind(protocol.KindError)
	if len(errorEvents) != 1 {
		t.Fatalf("error events = %d, want exactly 1", len(errorEvents))
	}
	if !strings.Contains(errorEvents[0].Message, "runtime image missing") {
		t.Errorf("error message %q does not carry the cause", errorEvents[0].Message)
	}
	if len(h.eventsOfKind(protocol.KindReady)) != 0 {
		t.Error("ready must not be emitted after a stage failure")
	}

	// Scans against a failed worker are refused, not analyzed.
	h.events = nil
	h.controller.Scan(context.Background(), protocol.Request{Kind: protocol.KindScan, FileName: "a.exe"})
	if len(h.eventsOfKind(protocol.KindError)) != 1 {
		t.Error("scan against failed worker should produce an error event")
	}
	if len(h.engine.extractorSpecs) != 0 {
		t.Error("scan against failed worker must not reach the engine")
	}
}

func TestInitializeRuleLoadFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.engine.loadErr = fmt.Errorf("corpus has a malformed rule")

	h.controller.Initialize(context.Background(), "")

	if h.controller.State() != StateFailed {
		t.Fatalf("state = %s, want failed (rule-set construction is fatal)", h.controller.State())
	}
}

func TestDegradedBootstrapAndLazyRecovery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetchErr = &rules.FetchError{URL: "https://rules.example/corpus.tar.gz", StatusCode: 503}

	h.controller.Initialize(ctx, "")

	// Fetch failure is the one non-fatal bootstrap failure: the
	// worker reports ready anyway.
	if h.controller.State() != StateReady {
		t.Fatalf("state = %s, want ready in degraded mode", h.controller.State())
	}
	if len(h.eventsOfKind(protocol.KindReady)) != 1 {
		t.Fatal("degraded bootstrap must still emit ready")
	}
	if len(h.eventsOfKind(protocol.KindRulesHash)) != 0 {
		t.Error("no rules_hash may be emitted while the corpus is unknown")
	}

	// First scan: corpus still unreachable → per-request error, state
	// untouched.
	h.events = nil
	h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "a.exe"})
	if len(h.eventsOfKind(protocol.KindError)) != 1 {
		t.Fatal("scan during outage should produce an error event")
	}
	if h.controller.State() != StateReady {
		t.Errorf("state = %s, lazy-load failure must not change lifecycle state", h.controller.State())
	}

	// Corpus comes back: the next scan lazily syncs, reports the
	// hash, and analyzes.
	h.fetchErr = nil
	h.events = nil
	h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "a.exe"})

	if len(h.eventsOfKind(protocol.KindRulesHash)) != 1 {
		t.Error("lazy recovery must report the corpus hash")
	}
	results := h.eventsOfKind(protocol.KindResult)
	if len(results) != 1 || results[0].Output != "CAPABILITY TABLE" {
		t.Errorf("result events = %+v, want one capability table", results)
	}
}

func TestScanInfersFormatFromSuffix(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.controller.Initialize(ctx, "")

	h.controller.Scan(ctx, protocol.Request{
		Kind:        protocol.KindScan,
		FileName:    "sample.sc32",
		InputFormat: protocol.FormatAuto,
	})

	if len(h.engine.extractorSpecs) != 1 {
		t.Fatalf("extractor constructions = %d, want 1", len(h.engine.extractorSpecs))
	}
	if format := h.engine.extractorSpecs[0].Format; format != protocol.FormatShellcode32 {
		t.Errorf("extractor format = %q, want shellcode32 (inferred before construction)", format)
	}
}

func TestScanRejectsUnknownEnumValues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.controller.Initialize(ctx, "")

	cases := []struct {
		name    string
		request protocol.Request
		detail  string
	}{
		{"output format", protocol.Request{Kind: protocol.KindScan, FileName: "a.exe", OutputFormat: "xml"}, "xml"},
		{"input format", protocol.Request{Kind: protocol.KindScan, FileName: "a.exe", InputFormat: "pe32"}, "pe32"},
		{"input os", protocol.Request{Kind: protocol.KindScan, FileName: "a.exe", InputOS: "beos"}, "beos"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			h.events = nil
			h.controller.Scan(ctx, testCase.request)

			errorEvents := h.eventsOfKind(protocol.KindError)
			if len(errorEvents) != 1 {
				t.Fatalf("error events = %d, want exactly 1", len(errorEvents))
			}
			if !strings.Contains(errorEvents[0].Message, testCase.detail) {
				t.Errorf("error message %q does not name the rejected value", errorEvents[0].Message)
			}
			if len(h.eventsOfKind(protocol.KindResult)) != 0 {
				t.Error("a rejected request must not produce a result event")
			}
		})
	}
	if len(h.engine.extractorSpecs) != 0 {
		t.Error("rejected requests must not reach the engine")
	}

	// The refusals leave the worker usable, and an omitted output
	// format reaches the renderer as the default mode.
	h.events = nil
	h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "fine.exe"})
	results := h.eventsOfKind(protocol.KindResult)
	if len(results) != 1 || results[0].Output != "CAPABILITY TABLE" {
		t.Fatalf("valid scan after refusals = %+v, want one capability table", results)
	}
	if len(h.engine.renderFormats) != 1 || h.engine.renderFormats[0] != protocol.OutputDefault {
		t.Errorf("render formats = %v, want [%s]", h.engine.renderFormats, protocol.OutputDefault)
	}
}

func TestScanFailureIsResultNotError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.controller.Initialize(ctx, "")

	h.events = nil
	h.engine.matchErr = fmt.Errorf("unparseable header")
	h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "corrupt.exe"})

	results := h.eventsOfKind(protocol.KindResult)
	if len(results) != 1 {
		t.Fatalf("result events = %d, want exactly 1", len(results))
	}
	if !strings.Contains(results[0].Output, "unparseable header") {
		t.Errorf("result output %q does not describe the failure", results[0].Output)
	}
	if !strings.Contains(results[0].Output, "goroutine") {
		t.Errorf("result output should embed a diagnostic trace")
	}
	if len(h.eventsOfKind(protocol.KindError)) != 0 {
		t.Error("analysis failures must never surface as protocol errors")
	}

	// The worker remains usable for the next request.
	h.events = nil
	h.engine.matchErr = nil
	h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "fine.exe"})
	results = h.eventsOfKind(protocol.KindResult)
	if len(results) != 1 || results[0].Output != "CAPABILITY TABLE" {
		t.Errorf("follow-up scan results = %+v, want one capability table", results)
	}
}

func TestScanPanicIsCapturedWithTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.controller.Initialize(ctx, "")

	h.events = nil
	h.engine.panicOn = "bomb.bin"
	h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "bomb.bin"})

	results := h.eventsOfKind(protocol.KindResult)
	if len(results) != 1 {
		t.Fatalf("result events = %d, want 1", len(results))
	}
	if !strings.Contains(results[0].Output, "extractor choked on bomb.bin") {
		t.Errorf("result output %q missing panic message", results[0].Output)
	}
	if !strings.Contains(results[0].Output, "goroutine") {
		t.Errorf("result output should embed a diagnostic trace")
	}
	if h.controller.State() != StateReady {
		t.Errorf("state = %s after panic, want ready", h.controller.State())
	}
}

func TestScanPrefersDirectOutputOverCaptured(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.controller.Initialize(ctx, "")

	t.Run("both present", func(t *testing.T) {
		h.events = nil
		h.engine.rendering = engine.Rendering{Output: "direct", Captured: "captured"}
		h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "a.exe"})
		results := h.eventsOfKind(protocol.KindResult)
		if len(results) != 1 || results[0].Output != "direct" {
			t.Errorf("results = %+v, want direct output preferred", results)
		}
	})

	t.Run("captured only", func(t *testing.T) {
		h.events = nil
		h.engine.rendering = engine.Rendering{Captured: "captured"}
		h.controller.Scan(ctx, protocol.Request{Kind: protocol.KindScan, FileName: "a.exe"})
		results := h.eventsOfKind(protocol.KindResult)
		if len(results) != 1 || results[0].Output != "captured" {
			t.Errorf("results = %+v, want captured output as fallback", results)
		}
	})
}
