/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
)

// Canonical analysis constants. The analyser reads fftSize/2 bins.
const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.7
)

// GraphState is the lifecycle state of the analysis graph.
type GraphState string

const (
	GraphUninitialized GraphState = "uninitialized"
	GraphBuilding      GraphState = "building"
	GraphReady         GraphState = "ready"
	GraphClosing       GraphState = "closing"
	GraphFailed        GraphState = "failed"
)

// resetGraceTimeout bounds the fire-and-forget close on the synchronous
// teardown path.
const resetGraceTimeout = 5 * time.Second

// GraphManager builds and tears down the analysis graph bound to a media
// handle: source node -> analyser -> destination. It guarantees at most one
// live (non-closed) context at any instant; the mutex is held across every
// build and close so a CreateGraph can never race an in-flight
// SafeResetGraph.
type GraphManager struct {
	pf     platform.Platform
	logger zerolog.Logger

	fftSize   int
	smoothing float64

	mu       sync.Mutex
	state    GraphState
	audioCtx platform.AudioContext
	analyser platform.Analyser
	source   platform.SourceNode
	lastErr  error

	// wrapRetries counts close-and-retry recoveries, exposed for telemetry.
	wrapRetries int
}

// NewGraphManager creates a graph manager using the canonical analysis
// constants.
func NewGraphManager(pf platform.Platform, logger zerolog.Logger) *GraphManager {
	return &GraphManager{
		pf:        pf,
		logger:    logger.With().Str("component", "graph_manager").Logger(),
		fftSize:   DefaultFFTSize,
		smoothing: DefaultSmoothing,
		state:     GraphUninitialized,
	}
}

// State returns the current lifecycle state.
func (g *GraphManager) State() GraphState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastError returns the error recorded on the last Failed transition.
func (g *GraphManager) LastError() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Analyser returns the live analysis node, or nil when no graph is ready.
func (g *GraphManager) Analyser() platform.Analyser {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GraphReady {
		return nil
	}
	return g.analyser
}

// WrapRetries reports how many wrap conflicts were recovered by
// close-and-retry.
func (g *GraphManager) WrapRetries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wrapRetries
}

// CreateGraph builds a fresh context, analyser, and source node around the
// handle and connects them. A wrap conflict (the handle is still claimed by
// an earlier source node) is recovered by fully closing the previous context
// and retrying the wrap exactly once; a second failure lands in GraphFailed.
func (g *GraphManager) CreateGraph(ctx context.Context, handle platform.MediaHandle) (platform.Analyser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	prior := g.audioCtx
	g.state = GraphBuilding

	analyser, err := g.buildLocked(ctx, handle, prior)
	if err != nil {
		// A failed build must not orphan the previous context: close it too,
		// so the handle's wrap claim lapses and a later build can recover
		// instead of hitting an unresolvable wrap conflict.
		g.discard(ctx, prior)
		g.state = GraphFailed
		g.lastErr = err
		g.audioCtx = nil
		g.analyser = nil
		g.source = nil
		g.logger.Error().Err(err).Msg("graph build failed")
		return nil, err
	}

	g.state = GraphReady
	g.lastErr = nil
	return analyser, nil
}

// buildLocked performs the actual construction. Called with g.mu held.
func (g *GraphManager) buildLocked(ctx context.Context, handle platform.MediaHandle, prior platform.AudioContext) (platform.Analyser, error) {
	audioCtx, err := g.pf.CreateAudioContext()
	if err != nil {
		return nil, fmt.Errorf("create audio context: %w", err)
	}

	analyser, err := audioCtx.CreateAnalyser(g.fftSize, g.smoothing)
	if err != nil {
		g.discard(ctx, audioCtx)
		return nil, fmt.Errorf("create analyser: %w", err)
	}

	source, err := audioCtx.CreateMediaSource(handle)
	if errors.Is(err, platform.ErrAlreadyWrapped) {
		// The handle is still claimed by an earlier source node. Close the
		// owning context fully (awaited, not fire-and-forget) and retry the
		// wrap exactly once.
		g.logger.Warn().Msg("wrap conflict, closing previous context and retrying")
		if closeErr := g.closeContext(ctx, prior); closeErr != nil {
			g.logger.Warn().Err(closeErr).Msg("previous context close failed during wrap recovery")
		}
		source, err = audioCtx.CreateMediaSource(handle)
		if err == nil {
			g.wrapRetries++
		}
	}
	if err != nil {
		g.discard(ctx, audioCtx)
		return nil, fmt.Errorf("wrap media handle: %w", err)
	}

	if err := source.Connect(analyser); err != nil {
		g.discard(ctx, audioCtx)
		return nil, fmt.Errorf("connect source to analyser: %w", err)
	}
	if err := analyser.Connect(audioCtx.Destination()); err != nil {
		source.Disconnect()
		g.discard(ctx, audioCtx)
		return nil, fmt.Errorf("connect analyser to destination: %w", err)
	}

	// The previous context may still be live when no wrap conflict fired.
	// Close it now so at most one context stays open.
	if prior != nil && prior != audioCtx {
		if closeErr := g.closeContext(ctx, prior); closeErr != nil {
			g.logger.Warn().Err(closeErr).Msg("previous context close failed")
		}
	}

	// A context commonly starts suspended before the first user gesture.
	// Resume failure is reported but keeps the graph: the analyser simply
	// reads zeros until a later resume succeeds.
	if audioCtx.State() == platform.ContextSuspended {
		if resumeErr := audioCtx.Resume(ctx); resumeErr != nil {
			g.logger.Warn().Err(resumeErr).Msg("context resume failed, analysis reads zeros until resumed")
		}
	}

	g.audioCtx = audioCtx
	g.analyser = analyser
	g.source = source

	g.logger.Debug().
		Int("fft_size", g.fftSize).
		Float64("smoothing", g.smoothing).
		Msg("analysis graph ready")

	return analyser, nil
}

// ResetGraph tears the graph down best-effort without awaiting the context
// close. Intended for teardown paths that cannot block, e.g. player
// disposal. Safe from Ready, Failed, and Uninitialized.
func (g *GraphManager) ResetGraph() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.disconnectLocked()

	if audioCtx := g.audioCtx; audioCtx != nil {
		go func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), resetGraceTimeout)
			defer cancel()
			if err := g.closeContext(closeCtx, audioCtx); err != nil {
				g.logger.Debug().Err(err).Msg("background context close failed")
			}
		}()
	}

	g.audioCtx = nil
	g.analyser = nil
	g.source = nil
	g.state = GraphUninitialized
}

// SafeResetGraph tears the graph down and awaits the context close before
// returning. Preferred whenever a CreateGraph follows immediately, so the new
// context never races a still-closing one. A second consecutive call is a
// no-op.
func (g *GraphManager) SafeResetGraph(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.audioCtx == nil {
		if g.state != GraphUninitialized {
			g.state = GraphUninitialized
		}
		return nil
	}

	g.disconnectLocked()
	g.state = GraphClosing

	err := g.closeContext(ctx, g.audioCtx)

	g.audioCtx = nil
	g.analyser = nil
	g.source = nil
	g.state = GraphUninitialized

	if err != nil {
		return fmt.Errorf("close audio context: %w", err)
	}
	return nil
}

// disconnectLocked drops the source->analyser and analyser->destination
// edges. Called with g.mu held.
func (g *GraphManager) disconnectLocked() {
	if g.source != nil {
		g.source.Disconnect()
	}
	if g.analyser != nil {
		g.analyser.Disconnect()
	}
}

// closeContext closes an audio context once. A context already in the closed
// state is detected and skipped; a double close reported by the platform is
// swallowed rather than escalated.
func (g *GraphManager) closeContext(ctx context.Context, audioCtx platform.AudioContext) error {
	if audioCtx == nil {
		return nil
	}
	if audioCtx.State() == platform.ContextClosed {
		return nil
	}
	if err := audioCtx.Close(ctx); err != nil && !errors.Is(err, platform.ErrContextClosed) {
		return err
	}
	return nil
}

// discard closes a partially built context during a failed build.
func (g *GraphManager) discard(ctx context.Context, audioCtx platform.AudioContext) {
	if err := g.closeContext(ctx, audioCtx); err != nil {
		g.logger.Debug().Err(err).Msg("discard of partial context failed")
	}
}
