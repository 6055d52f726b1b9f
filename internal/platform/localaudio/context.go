/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package localaudio

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/wrenlabs/bassline/internal/platform"
)

// analysisWindow is the number of recent mono samples the PCM tap retains
// for frequency analysis.
const analysisWindow = 2048

// Context implements platform.AudioContext. It owns no device resources of
// its own; closing it releases the analysis claim on the bound handle while
// audio keeps flowing to the speaker.
type Context struct {
	logger zerolog.Logger

	mu     sync.Mutex
	state  platform.ContextState
	bound  *Handle
	nodes  []*Analyser
}

func (c *Context) CreateAnalyser(fftSize int, smoothing float64) (platform.Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == platform.ContextClosed {
		return nil, platform.ErrContextClosed
	}
	a := &Analyser{
		ctx:       c,
		fft:       fourier.NewFFT(fftSize),
		fftSize:   fftSize,
		smoothing: smoothing,
		window:    hanning(fftSize),
		smoothed:  make([]float64, fftSize/2),
	}
	c.nodes = append(c.nodes, a)
	return a, nil
}

func (c *Context) CreateMediaSource(handle platform.MediaHandle) (platform.SourceNode, error) {
	c.mu.Lock()
	if c.state == platform.ContextClosed {
		c.mu.Unlock()
		return nil, platform.ErrContextClosed
	}
	c.mu.Unlock()

	h, ok := handle.(*Handle)
	if !ok {
		return nil, platform.ErrAlreadyWrapped
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.wrapOwner != nil && h.wrapOwner.State() != platform.ContextClosed {
		return nil, platform.ErrAlreadyWrapped
	}
	h.wrapOwner = c

	c.mu.Lock()
	c.bound = h
	c.mu.Unlock()

	return &SourceNode{handle: h}, nil
}

func (c *Context) Destination() platform.AudioNode {
	// The speaker is the terminal sink; the node exists only so the graph
	// shape matches what callers expect to connect.
	return &destinationNode{}
}

func (c *Context) State() platform.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume is immediate: the local device needs no user-interaction gate.
func (c *Context) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == platform.ContextClosed {
		return platform.ErrContextClosed
	}
	c.state = platform.ContextRunning
	return nil
}

// Close releases the analysis claim. Playback through the speaker is owned
// by the handle and is not interrupted.
func (c *Context) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == platform.ContextClosed {
		return platform.ErrContextClosed
	}
	c.state = platform.ContextClosed
	c.bound = nil
	c.nodes = nil
	return nil
}

// boundTap returns the PCM tap of the bound handle, nil when unbound.
func (c *Context) boundTap() *pcmTap {
	c.mu.Lock()
	h := c.bound
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tap
}

// Analyser implements platform.Analyser with a windowed FFT over the tap.
type Analyser struct {
	ctx       *Context
	fft       *fourier.FFT
	fftSize   int
	smoothing float64
	window    []float64

	mu       sync.Mutex
	smoothed []float64
}

func (a *Analyser) Connect(to platform.AudioNode) error { return nil }
func (a *Analyser) Disconnect()                         {}

func (a *Analyser) BinCount() int {
	return a.fftSize / 2
}

// FrequencyData computes byte magnitudes the way analyser nodes report
// them: windowed FFT, per-bin temporal smoothing, then a fixed dB range
// mapped onto 0..255.
func (a *Analyser) FrequencyData(dst []byte) error {
	if a.ctx.State() == platform.ContextClosed {
		return platform.ErrContextClosed
	}

	tap := a.ctx.boundTap()
	if tap == nil {
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}

	samples := make([]float64, a.fftSize)
	tap.snapshot(samples)
	for i := range samples {
		samples[i] *= a.window[i]
	}

	coeffs := a.fft.Coefficients(nil, samples)

	a.mu.Lock()
	defer a.mu.Unlock()
	for bin := 0; bin < a.fftSize/2 && bin < len(dst); bin++ {
		mag := cmplxAbs(coeffs[bin]) / float64(a.fftSize)
		a.smoothed[bin] = a.smoothing*a.smoothed[bin] + (1-a.smoothing)*mag
		dst[bin] = magnitudeToByte(a.smoothed[bin])
	}
	return nil
}

// SourceNode wraps the bound handle; the actual signal path runs through
// the handle's PCM tap.
type SourceNode struct {
	handle *Handle
}

func (s *SourceNode) Connect(to platform.AudioNode) error { return nil }
func (s *SourceNode) Disconnect()                         {}

type destinationNode struct{}

func (d *destinationNode) Connect(to platform.AudioNode) error { return nil }
func (d *destinationNode) Disconnect()                         {}

// pcmTap retains the most recent mono samples flowing to the speaker.
type pcmTap struct {
	inner interface {
		Stream(samples [][2]float64) (int, bool)
		Err() error
	}

	mu   sync.Mutex
	ring []float64
	idx  int
}

func newPCMTap(size int) *pcmTap {
	return &pcmTap{ring: make([]float64, size)}
}

func (t *pcmTap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.inner.Stream(samples)
	t.mu.Lock()
	for i := 0; i < n; i++ {
		t.ring[t.idx] = (samples[i][0] + samples[i][1]) / 2
		t.idx = (t.idx + 1) % len(t.ring)
	}
	t.mu.Unlock()
	return n, ok
}

func (t *pcmTap) Err() error {
	return t.inner.Err()
}

// snapshot copies the ring into dst, oldest sample first. dst shorter than
// the ring gets the newest samples.
func (t *pcmTap) snapshot(dst []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(dst)
	if n > len(t.ring) {
		n = len(t.ring)
	}
	start := t.idx - n
	for i := 0; i < n; i++ {
		dst[i] = t.ring[((start+i)%len(t.ring)+len(t.ring))%len(t.ring)]
	}
}

func hanning(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// magnitudeToByte maps a normalized magnitude through the -100..-30 dB
// range onto 0..255.
func magnitudeToByte(mag float64) byte {
	const minDB, maxDB = -100.0, -30.0
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	if db < minDB {
		return 0
	}
	if db > maxDB {
		return 255
	}
	return byte((db - minDB) / (maxDB - minDB) * 255)
}
