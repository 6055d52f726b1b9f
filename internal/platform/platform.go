/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package platform defines the capability surface the playback core needs
// from its host: a playable media handle and an audio analysis graph. The
// core never touches a concrete audio stack directly, so it can run against
// the software implementation in localaudio or the fake in platformtest.
package platform

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors every implementation must return for the conditions the
// playback core handles explicitly.
var (
	// ErrAlreadyWrapped is returned by CreateMediaSource when the handle has
	// been wrapped by a source node before. The binding is permanent for the
	// handle's lifetime; a second wrap must fail loudly, not silently.
	ErrAlreadyWrapped = errors.New("media handle already wrapped by a source node")

	// ErrAutoplayBlocked is returned by MediaHandle.Play when the host refuses
	// to start playback without prior user interaction. It is a retryable
	// condition, not a fatal error.
	ErrAutoplayBlocked = errors.New("playback blocked pending user interaction")

	// ErrContextClosed is returned when an operation targets a context that
	// has already been closed. Closing twice is a caller bug to avoid.
	ErrContextClosed = errors.New("audio context already closed")

	// ErrNoSource is returned by Play when no source URL is assigned.
	ErrNoSource = errors.New("no source assigned to media handle")
)

// ContextState reports the lifecycle state of an AudioContext.
type ContextState string

const (
	ContextRunning   ContextState = "running"
	ContextSuspended ContextState = "suspended"
	ContextClosed    ContextState = "closed"
)

// MediaEventKind identifies a media handle lifecycle event.
type MediaEventKind string

const (
	MediaLoaded     MediaEventKind = "loaded"
	MediaTimeUpdate MediaEventKind = "timeupdate"
	MediaEnded      MediaEventKind = "ended"
	MediaError      MediaEventKind = "error"
)

// MediaEvent is delivered to the handle's registered listener.
type MediaEvent struct {
	Kind     MediaEventKind
	Position float64 // seconds, set for MediaTimeUpdate
	Duration float64 // seconds, set for MediaLoaded
	Err      error   // set for MediaError
}

// Platform is the injected capability bundle.
type Platform interface {
	CreateMediaHandle() (MediaHandle, error)
	CreateAudioContext() (AudioContext, error)
	Now() time.Time
}

// MediaHandle wraps one playable resource. Exactly one source URL is active
// at a time; replacing the source requires ClearSource before SetSource.
type MediaHandle interface {
	SetSource(url string)
	ClearSource()
	Source() string

	// Play requests playback. A rejection with ErrAutoplayBlocked means the
	// caller should arrange a user-initiated retry.
	Play(ctx context.Context) error
	Pause()

	Seek(seconds float64)
	Position() float64
	// Duration returns the known duration in seconds, or 0 when unknown.
	Duration() float64

	SetVolume(v float64)
	SetLoop(loop bool)

	// Subscribe registers the single event listener. Implementations invoke
	// it from their own scheduling domain; listeners must not block.
	Subscribe(fn func(MediaEvent))

	// Close releases decoder and output resources held by the handle.
	Close() error
}

// AudioNode is a connectable stage in the analysis graph.
type AudioNode interface {
	Connect(to AudioNode) error
	Disconnect()
}

// Analyser exposes frequency-magnitude data for the signal passing through.
type Analyser interface {
	AudioNode

	// FrequencyData fills dst with the current magnitude snapshot, one byte
	// per bin in 0..255. len(dst) should be BinCount.
	FrequencyData(dst []byte) error

	// BinCount is half the FFT size.
	BinCount() int
}

// SourceNode is the graph stage wrapping a media handle.
type SourceNode interface {
	AudioNode
}

// AudioContext owns the nodes of one analysis graph.
type AudioContext interface {
	// CreateAnalyser builds an analysis node with the given FFT size and
	// smoothing constant in [0,1).
	CreateAnalyser(fftSize int, smoothing float64) (Analyser, error)

	// CreateMediaSource wraps handle in a source node. Returns
	// ErrAlreadyWrapped if the handle was ever wrapped before.
	CreateMediaSource(handle MediaHandle) (SourceNode, error)

	Destination() AudioNode

	State() ContextState

	// Resume transitions a suspended context to running.
	Resume(ctx context.Context) error

	// Close releases the context. Returns ErrContextClosed if already closed.
	Close(ctx context.Context) error
}
