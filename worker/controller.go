// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/scanforge-foundation/scanforge/lib/deps"
	"github.com/scanforge-foundation/scanforge/lib/engine"
	"github.com/scanforge-foundation/scanforge/lib/protocol"
	"github.com/scanforge-foundation/scanforge/lib/rules"
	"github.com/scanforge-foundation/scanforge/lib/store"
)

// Progress partition of the 0–100 range across bootstrap stages.
// Percentages within a stage are interpolated (dependency installs)
// or pinned to the boundary.
const (
	percentRuntimeStart = 0
	percentStoreMount   = 15
	percentInstallStart = 30
	percentRuleSync     = 70
	percentEngineLoad   = 90
	percentDone         = 100
)

// Config holds the controller's collaborators. All fields except
// Specs and Logger are required.
type Config struct {
	// Engine is the external capability-matching engine.
	Engine engine.Engine

	// PackageManager installs runtime components.
	PackageManager deps.PackageManager

	// Store is the persistent cache region.
	Store *store.Store

	// Rules synchronizes the rule corpus.
	Rules *rules.Manager

	// Specs is the dependency list. Nil means the embedded build-time
	// manifest.
	Specs []deps.Spec

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Controller owns the lifecycle state machine. It is not safe for
// concurrent use; the server's serialized request loop is its only
// caller in production, and tests construct a fresh controller per
// case.
type Controller struct {
	engine         engine.Engine
	packageManager deps.PackageManager
	store          *store.Store
	rules          *rules.Manager
	specs          []deps.Spec
	logger         *slog.Logger

	emit func(protocol.Event)

	state        State
	ruleSet      engine.RuleSet
	version      string
	previousHash string // hash supplied by the host with init; lazy retries compare against it
	lastPercent  int

	// terminal replays the init outcome when the host re-sends init:
	// the bootstrap runs once per worker lifetime by construction.
	terminal []protocol.Event

	// pendingHashEvent is the rules_hash event produced during
	// bootstrap, held back so it follows ready and version in the
	// terminal sequence.
	pendingHashEvent *protocol.Event
}

// NewController builds a controller in StateUninitialized. Events are
// delivered through emit, which must be re-pointed at the live
// connection via SetEmitter before each request is dispatched.
func NewController(cfg Config, emit func(protocol.Event)) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		engine:         cfg.Engine,
		packageManager: cfg.PackageManager,
		store:          cfg.Store,
		rules:          cfg.Rules,
		specs:          cfg.Specs,
		logger:         logger,
		emit:           emit,
		state:          StateUninitialized,
	}
}

// SetEmitter redirects event delivery, returning the previous emitter.
func (c *Controller) SetEmitter(emit func(protocol.Event)) func(protocol.Event) {
	previous := c.emit
	c.emit = emit
	return previous
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.state
}

// progress emits one progress event, clamping the percent so it never
// decreases within a bootstrap run.
func (c *Controller) progress(message string, percent int) {
	if percent < c.lastPercent {
		percent = c.lastPercent
	}
	c.lastPercent = percent
	c.emit(protocol.ProgressEvent(message, percent))
}

// Initialize runs the bootstrap sequence. previousHash is the corpus
// content hash the host recorded from its previous session, empty on
// first run.
//
// The sequence runs at most once per controller: a repeat init replays
// the recorded terminal events (ready/version/rules_hash, or error)
// without touching any stage.
func (c *Controller) Initialize(ctx context.Context, previousHash string) {
	if c.state != StateUninitialized {
		c.logger.Info("repeat init, replaying terminal outcome", "state", c.state.String())
		for _, event := range c.terminal {
			c.emit(event)
		}
		return
	}

	c.previousHash = previousHash

	err := c.runStages(ctx)
	if err != nil {
		c.state = StateFailed
		c.logger.Error("bootstrap failed", "error", err)
		event := protocol.Event{Kind: protocol.KindError, Message: err.Error()}
		c.terminal = append(c.terminal, event)
		c.emit(event)
		return
	}

	c.state = StateReady
	c.terminal = append(c.terminal,
		protocol.Event{Kind: protocol.KindReady},
		protocol.Event{Kind: protocol.KindVersion, Version: c.version},
	)
	if c.pendingHashEvent != nil {
		c.terminal = append(c.terminal, *c.pendingHashEvent)
		c.pendingHashEvent = nil
	}
	c.logger.Info("worker ready", "version", c.version, "degraded", c.ruleSet == nil)
	for _, event := range c.terminal {
		c.emit(event)
	}
}

// runStages executes the five bootstrap stages in order. A panic in
// any stage is converted into an error carrying the stack trace, so
// the host always receives a single terminal error event.
func (c *Controller) runStages(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("bootstrap panic: %v\n%s", recovered, debug.Stack())
		}
	}()

	// Stage 1: engine runtime.
	c.state = StateLoadingRuntime
	c.progress("loading analysis runtime", percentRuntimeStart)
	if err := c.engine.Start(ctx); err != nil {
		return fmt.Errorf("loading runtime: %w", err)
	}
	c.progress("analysis runtime loaded", percentStoreMount)

	// Stage 2: persistent cache mount.
	entries, err := c.store.Mount(ctx)
	if err != nil {
		return fmt.Errorf("mounting persistent cache: %w", err)
	}
	c.progress(fmt.Sprintf("persistent cache mounted (%d entries)", entries), percentInstallStart)

	// Stage 3: runtime components, strictly sequential.
	c.state = StateInstallingDependencies
	specs := c.specs
	if specs == nil {
		if specs, err = deps.Manifest(); err != nil {
			return fmt.Errorf("loading dependency manifest: %w", err)
		}
	}
	installSpan := percentRuleSync - percentInstallStart
	err = deps.InstallAll(ctx, c.packageManager, specs, c.logger, func(index int, spec deps.Spec) {
		percent := percentInstallStart + installSpan*(index+1)/len(specs)
		c.progress(fmt.Sprintf("installed %s", spec.Name), percent)
	})
	if err != nil {
		return fmt.Errorf("installing dependencies: %w", err)
	}

	// Stage 4: rule corpus sync. A retrieval failure degrades instead
	// of failing: the corpus may be temporarily unreachable, and the
	// scan path retries lazily. Anything else about the corpus is
	// fatal.
	c.state = StateSyncingRuleCache
	c.progress("syncing rule corpus", percentRuleSync)
	syncResult, err := c.rules.Sync(ctx, c.previousHash)
	degraded := false
	var fetchError *rules.FetchError
	if errors.As(err, &fetchError) {
		degraded = true
		c.logger.Warn("rule archive unreachable, deferring rule load to first scan",
			"degraded", true,
			"error", err,
		)
	} else if err != nil {
		return fmt.Errorf("syncing rule corpus: %w", err)
	}
	c.progress("rule corpus synced", percentEngineLoad)

	// Stage 5: rule-set construction and version report.
	if !degraded {
		c.progress("loading rule set", percentEngineLoad)
		if err := c.loadRuleSet(ctx, syncResult); err != nil {
			return err
		}
	}

	version, err := c.engine.Version(ctx)
	if err != nil {
		return fmt.Errorf("reading engine version: %w", err)
	}
	c.version = version
	c.progress("engine ready", percentDone)
	return nil
}

// loadRuleSet constructs the rule set from a successful corpus sync,
// flushes the derived-artifact cache to durable storage, and reports
// the corpus hash to the host when it changed.
func (c *Controller) loadRuleSet(ctx context.Context, syncResult rules.Result) error {
	ruleSet, err := c.engine.LoadRules(ctx, syncResult.RulesDir, c.store.Dir())
	if err != nil {
		return fmt.Errorf("loading rule set: %w", err)
	}

	// The engine just populated its derived-artifact cache; commit it
	// before anything can crash, or the next boot pays the full
	// rule-compilation cost again.
	if err := c.store.Sync(ctx); err != nil {
		return fmt.Errorf("flushing persistent cache: %w", err)
	}

	c.ruleSet = ruleSet
	if syncResult.Changed {
		event := protocol.Event{Kind: protocol.KindRulesHash, Hash: syncResult.NewHash}
		if c.state == StateReady {
			// Lazy load after a degraded bootstrap: deliver directly.
			c.emit(event)
		} else {
			// Bootstrap path: the hash follows ready and version in
			// the terminal sequence.
			c.pendingHashEvent = &event
		}
		c.previousHash = syncResult.NewHash
	}

	c.logger.Info("rule set loaded",
		"fingerprint", ruleSet.Fingerprint(),
		"hash", syncResult.NewHash,
		"changed", syncResult.Changed,
	)
	return nil
}

// ensureRuleSet performs the lazy one-time rule load for scans issued
// after a degraded bootstrap. Fails the request without changing the
// lifecycle state; the next scan retries.
func (c *Controller) ensureRuleSet(ctx context.Context) error {
	if c.ruleSet != nil {
		return nil
	}

	c.logger.Info("degraded mode: retrying rule corpus sync before scan")
	syncResult, err := c.rules.Sync(ctx, c.previousHash)
	if err != nil {
		return fmt.Errorf("rule corpus still unavailable: %w", err)
	}
	return c.loadRuleSet(ctx, syncResult)
}
