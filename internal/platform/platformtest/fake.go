/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package platformtest provides an in-memory platform implementation for
// exercising the playback core without an audio stack. Tests can script
// wrap conflicts, close delays, blocked play attempts, and frequency frames.
package platformtest

import (
	"context"
	"sync"
	"time"

	"github.com/wrenlabs/bassline/internal/platform"
)

// Fake implements platform.Platform.
type Fake struct {
	mu       sync.Mutex
	now      time.Time
	handles  []*FakeHandle
	contexts []*FakeContext

	// AutoLoadDuration, when > 0, makes handles emit a loaded event with this
	// duration synchronously on SetSource.
	AutoLoadDuration float64

	// CloseDelay is applied to every context close, simulating a slow
	// asynchronous close.
	CloseDelay time.Duration

	// StartSuspended makes new contexts start in the suspended state.
	StartSuspended bool

	// FailWrapAll makes every new context report a wrap conflict on every
	// CreateMediaSource call, forcing the retry path to fail.
	FailWrapAll bool

	// FailResumeAll makes every new context refuse to resume.
	FailResumeAll bool
}

// New creates a fake platform.
func New() *Fake {
	return &Fake{now: time.Unix(1700000000, 0)}
}

// CreateMediaHandle returns a new fake handle.
func (f *Fake) CreateMediaHandle() (platform.MediaHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &FakeHandle{fake: f}
	f.handles = append(f.handles, h)
	return h, nil
}

// CreateAudioContext returns a new fake context.
func (f *Fake) CreateAudioContext() (platform.AudioContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := platform.ContextRunning
	if f.StartSuspended {
		state = platform.ContextSuspended
	}
	c := &FakeContext{
		fake:       f,
		state:      state,
		closeDelay: f.CloseDelay,
		FailWrap:   f.FailWrapAll,
		FailResume: f.FailResumeAll,
	}
	f.contexts = append(f.contexts, c)
	return c, nil
}

// Handles returns every handle ever created.
func (f *Fake) Handles() []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeHandle(nil), f.handles...)
}

// Now returns the fake clock value.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// LiveContexts counts contexts that have not been closed.
func (f *Fake) LiveContexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.contexts {
		if c.State() != platform.ContextClosed {
			n++
		}
	}
	return n
}

// Contexts returns every context ever created.
func (f *Fake) Contexts() []*FakeContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeContext(nil), f.contexts...)
}

// FakeHandle implements platform.MediaHandle.
type FakeHandle struct {
	fake *Fake

	mu       sync.Mutex
	source   string
	position float64
	duration float64
	volume   float64
	loop     bool
	playing  bool
	listener func(platform.MediaEvent)

	// wrapOwner is the context whose source node currently claims this
	// handle. The claim lapses when that context closes.
	wrapOwner *FakeContext

	// BlockPlays makes the next N Play calls fail with ErrAutoplayBlocked.
	BlockPlays int

	// FailLoad makes SetSource emit an error event instead of loaded.
	FailLoad bool

	PlayCalls  int
	PauseCalls int
	LoadCalls  int
}

func (h *FakeHandle) SetSource(url string) {
	h.mu.Lock()
	h.source = url
	h.position = 0
	h.duration = 0
	h.LoadCalls++
	failLoad := h.FailLoad
	autoDur := h.fake.AutoLoadDuration
	h.mu.Unlock()

	if failLoad {
		h.emit(platform.MediaEvent{Kind: platform.MediaError, Err: platform.ErrNoSource})
		return
	}
	if autoDur > 0 {
		h.EmitLoaded(autoDur)
	}
}

func (h *FakeHandle) ClearSource() {
	h.mu.Lock()
	h.source = ""
	h.playing = false
	h.mu.Unlock()
}

func (h *FakeHandle) Source() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

func (h *FakeHandle) Play(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PlayCalls++
	if h.source == "" {
		return platform.ErrNoSource
	}
	if h.BlockPlays > 0 {
		h.BlockPlays--
		return platform.ErrAutoplayBlocked
	}
	h.playing = true
	return nil
}

func (h *FakeHandle) Pause() {
	h.mu.Lock()
	h.PauseCalls++
	h.playing = false
	h.mu.Unlock()
}

func (h *FakeHandle) Seek(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.duration == 0 {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds > h.duration {
		seconds = h.duration
	}
	h.position = seconds
}

func (h *FakeHandle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

func (h *FakeHandle) Duration() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

func (h *FakeHandle) SetVolume(v float64) {
	h.mu.Lock()
	h.volume = v
	h.mu.Unlock()
}

func (h *FakeHandle) Volume() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

func (h *FakeHandle) SetLoop(loop bool) {
	h.mu.Lock()
	h.loop = loop
	h.mu.Unlock()
}

func (h *FakeHandle) Loop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loop
}

func (h *FakeHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *FakeHandle) Subscribe(fn func(platform.MediaEvent)) {
	h.mu.Lock()
	h.listener = fn
	h.mu.Unlock()
}

func (h *FakeHandle) Close() error {
	h.ClearSource()
	return nil
}

// EmitLoaded simulates metadata arrival.
func (h *FakeHandle) EmitLoaded(duration float64) {
	h.mu.Lock()
	h.duration = duration
	h.mu.Unlock()
	h.emit(platform.MediaEvent{Kind: platform.MediaLoaded, Duration: duration})
}

// EmitTimeUpdate simulates a position report.
func (h *FakeHandle) EmitTimeUpdate(position float64) {
	h.mu.Lock()
	h.position = position
	h.mu.Unlock()
	h.emit(platform.MediaEvent{Kind: platform.MediaTimeUpdate, Position: position})
}

// EmitEnded simulates natural end of the track.
func (h *FakeHandle) EmitEnded() {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
	h.emit(platform.MediaEvent{Kind: platform.MediaEnded})
}

// EmitError simulates a decode failure.
func (h *FakeHandle) EmitError(err error) {
	h.mu.Lock()
	h.playing = false
	h.mu.Unlock()
	h.emit(platform.MediaEvent{Kind: platform.MediaError, Err: err})
}

func (h *FakeHandle) emit(ev platform.MediaEvent) {
	h.mu.Lock()
	fn := h.listener
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// FakeContext implements platform.AudioContext.
type FakeContext struct {
	fake *Fake

	mu         sync.Mutex
	state      platform.ContextState
	closeDelay time.Duration
	analysers  []*FakeAnalyser
	sources    []*FakeSource

	// FailWrap forces every CreateMediaSource call on this context to report
	// a wrap conflict regardless of handle state.
	FailWrap bool

	// FailResume makes Resume return an error.
	FailResume bool

	CloseCalls  int
	ResumeCalls int
}

func (c *FakeContext) CreateAnalyser(fftSize int, smoothing float64) (platform.Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == platform.ContextClosed {
		return nil, platform.ErrContextClosed
	}
	a := &FakeAnalyser{bins: make([]byte, fftSize/2), smoothing: smoothing}
	c.analysers = append(c.analysers, a)
	return a, nil
}

func (c *FakeContext) CreateMediaSource(handle platform.MediaHandle) (platform.SourceNode, error) {
	c.mu.Lock()
	if c.state == platform.ContextClosed {
		c.mu.Unlock()
		return nil, platform.ErrContextClosed
	}
	failWrap := c.FailWrap
	c.mu.Unlock()

	fh, ok := handle.(*FakeHandle)
	if !ok {
		return nil, platform.ErrAlreadyWrapped
	}

	fh.mu.Lock()
	defer fh.mu.Unlock()
	if failWrap {
		return nil, platform.ErrAlreadyWrapped
	}
	if fh.wrapOwner != nil && fh.wrapOwner.State() != platform.ContextClosed {
		return nil, platform.ErrAlreadyWrapped
	}
	fh.wrapOwner = c

	src := &FakeSource{handle: fh}
	c.mu.Lock()
	c.sources = append(c.sources, src)
	c.mu.Unlock()
	return src, nil
}

func (c *FakeContext) Destination() platform.AudioNode {
	return &FakeDestination{}
}

func (c *FakeContext) State() platform.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *FakeContext) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResumeCalls++
	if c.state == platform.ContextClosed {
		return platform.ErrContextClosed
	}
	if c.FailResume {
		return platform.ErrAutoplayBlocked
	}
	c.state = platform.ContextRunning
	return nil
}

func (c *FakeContext) Close(ctx context.Context) error {
	c.mu.Lock()
	c.CloseCalls++
	if c.state == platform.ContextClosed {
		c.mu.Unlock()
		return platform.ErrContextClosed
	}
	delay := c.closeDelay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.state = platform.ContextClosed
	c.mu.Unlock()
	return nil
}

// FakeAnalyser implements platform.Analyser with scriptable frames.
type FakeAnalyser struct {
	mu        sync.Mutex
	bins      []byte
	smoothing float64
	connected platform.AudioNode

	// FailReads makes FrequencyData return ErrContextClosed.
	FailReads bool
}

func (a *FakeAnalyser) Connect(to platform.AudioNode) error {
	a.mu.Lock()
	a.connected = to
	a.mu.Unlock()
	return nil
}

func (a *FakeAnalyser) Disconnect() {
	a.mu.Lock()
	a.connected = nil
	a.mu.Unlock()
}

func (a *FakeAnalyser) FrequencyData(dst []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailReads {
		return platform.ErrContextClosed
	}
	copy(dst, a.bins)
	return nil
}

func (a *FakeAnalyser) BinCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bins)
}

// SetFrame replaces the frame returned by subsequent reads.
func (a *FakeAnalyser) SetFrame(bins []byte) {
	a.mu.Lock()
	copy(a.bins, bins)
	a.mu.Unlock()
}

// SetFailReads toggles read failures.
func (a *FakeAnalyser) SetFailReads(fail bool) {
	a.mu.Lock()
	a.FailReads = fail
	a.mu.Unlock()
}

// FakeSource implements platform.SourceNode.
type FakeSource struct {
	mu        sync.Mutex
	handle    *FakeHandle
	connected platform.AudioNode
}

func (s *FakeSource) Connect(to platform.AudioNode) error {
	s.mu.Lock()
	s.connected = to
	s.mu.Unlock()
	return nil
}

func (s *FakeSource) Disconnect() {
	s.mu.Lock()
	s.connected = nil
	s.mu.Unlock()
}

// FakeDestination is the terminal output node.
type FakeDestination struct{}

func (d *FakeDestination) Connect(to platform.AudioNode) error { return nil }
func (d *FakeDestination) Disconnect()                         {}
