/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package localaudio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
)

// Handle implements platform.MediaHandle over a beep decode pipeline and
// the speaker output.
type Handle struct {
	resolve Resolver
	logger  zerolog.Logger

	mu       sync.Mutex
	source   string
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	tap      *pcmTap
	loop     bool
	playing  bool
	level    float64
	listener func(platform.MediaEvent)

	// wrapOwner is the context whose source node claims this handle. The
	// claim lapses when that context closes.
	wrapOwner *Context

	ticker     *time.Ticker
	tickerStop chan struct{}
}

func newHandle(resolve Resolver, logger zerolog.Logger) *Handle {
	return &Handle{
		resolve: resolve,
		logger:  logger,
		level:   1.0,
	}
}

// SetSource resolves the URL, decodes the file header, and emits loaded or
// error. Decoding failures surface as media error events, mirroring how a
// media element reports them asynchronously.
func (h *Handle) SetSource(url string) {
	h.mu.Lock()
	h.teardownLocked()
	h.source = url
	h.mu.Unlock()

	path, err := h.resolve(url)
	if err != nil {
		h.emit(platform.MediaEvent{Kind: platform.MediaError, Err: err})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		h.emit(platform.MediaEvent{Kind: platform.MediaError, Err: err})
		return
	}

	streamer, format, err := decode(f, path)
	if err != nil {
		f.Close()
		h.emit(platform.MediaEvent{Kind: platform.MediaError, Err: fmt.Errorf("decode %s: %w", path, err)})
		return
	}

	h.mu.Lock()
	h.streamer = streamer
	h.format = format
	h.tap = newPCMTap(analysisWindow)
	h.mu.Unlock()

	duration := format.SampleRate.D(streamer.Len()).Seconds()
	h.logger.Debug().Str("path", path).Float64("duration", duration).Msg("source decoded")
	h.emit(platform.MediaEvent{Kind: platform.MediaLoaded, Duration: duration})
}

// ClearSource stops output and drops the decoder.
func (h *Handle) ClearSource() {
	h.mu.Lock()
	h.teardownLocked()
	h.source = ""
	h.mu.Unlock()
}

func (h *Handle) Source() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

// Play starts or resumes output on the speaker.
func (h *Handle) Play(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.streamer == nil {
		return platform.ErrNoSource
	}

	if h.ctrl != nil {
		// Resume after pause.
		speaker.Lock()
		h.ctrl.Paused = false
		speaker.Unlock()
		h.playing = true
		return nil
	}

	if err := speaker.Init(h.format.SampleRate, h.format.SampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}

	// Replay after a natural end starts over from the top.
	if h.streamer.Position() >= h.streamer.Len() {
		if err := h.streamer.Seek(0); err != nil {
			return fmt.Errorf("rewind: %w", err)
		}
	}

	h.tap.inner = h.streamer
	h.ctrl = &beep.Ctrl{Streamer: h.tap}
	h.volume = &effects.Volume{
		Streamer: h.ctrl,
		Base:     2,
		Volume:   levelToGain(h.level),
		Silent:   h.level == 0,
	}

	speaker.Play(beep.Seq(h.volume, beep.Callback(func() {
		go h.handleDrain()
	})))
	h.playing = true
	h.startTickerLocked()
	return nil
}

// Pause halts output without releasing the decoder.
func (h *Handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctrl != nil {
		speaker.Lock()
		h.ctrl.Paused = true
		speaker.Unlock()
	}
	h.playing = false
}

// Seek moves the decode position.
func (h *Handle) Seek(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streamer == nil {
		return
	}
	speaker.Lock()
	defer speaker.Unlock()
	pos := h.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if pos < 0 {
		pos = 0
	}
	if max := h.streamer.Len(); pos > max {
		pos = max
	}
	if err := h.streamer.Seek(pos); err != nil {
		h.logger.Warn().Err(err).Msg("seek failed")
	}
}

func (h *Handle) Position() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streamer == nil {
		return 0
	}
	speaker.Lock()
	defer speaker.Unlock()
	return h.format.SampleRate.D(h.streamer.Position()).Seconds()
}

func (h *Handle) Duration() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streamer == nil {
		return 0
	}
	return h.format.SampleRate.D(h.streamer.Len()).Seconds()
}

func (h *Handle) SetVolume(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = v
	if h.volume != nil {
		speaker.Lock()
		h.volume.Volume = levelToGain(v)
		h.volume.Silent = v == 0
		speaker.Unlock()
	}
}

func (h *Handle) SetLoop(loop bool) {
	h.mu.Lock()
	h.loop = loop
	h.mu.Unlock()
}

func (h *Handle) Subscribe(fn func(platform.MediaEvent)) {
	h.mu.Lock()
	h.listener = fn
	h.mu.Unlock()
}

// Close releases decoder and output resources.
func (h *Handle) Close() error {
	h.ClearSource()
	return nil
}

// handleDrain runs when the stream finishes naturally. Looping restarts the
// same source; otherwise the end is reported upward.
func (h *Handle) handleDrain() {
	h.mu.Lock()
	loop := h.loop
	streamer := h.streamer
	h.mu.Unlock()

	if streamer == nil {
		return
	}

	if loop {
		h.mu.Lock()
		speaker.Lock()
		err := streamer.Seek(0)
		speaker.Unlock()
		if err == nil && h.volume != nil {
			speaker.Play(beep.Seq(h.volume, beep.Callback(func() {
				go h.handleDrain()
			})))
		}
		h.mu.Unlock()
		return
	}

	// The speaker queue has drained, so the pipeline is dead. Drop it; a
	// later Play rebuilds from the start like a media element replay.
	h.mu.Lock()
	h.ctrl = nil
	h.volume = nil
	h.playing = false
	h.stopTickerLocked()
	h.mu.Unlock()
	h.emit(platform.MediaEvent{Kind: platform.MediaEnded})
}

// startTickerLocked drives timeupdate events, mirroring the coarse cadence
// of media element position reporting.
func (h *Handle) startTickerLocked() {
	if h.ticker != nil {
		return
	}
	h.ticker = time.NewTicker(500 * time.Millisecond)
	h.tickerStop = make(chan struct{})
	ticks := h.ticker.C
	stop := h.tickerStop
	go func() {
		for {
			select {
			case <-ticks:
				h.emit(platform.MediaEvent{Kind: platform.MediaTimeUpdate, Position: h.Position()})
			case <-stop:
				return
			}
		}
	}()
}

func (h *Handle) stopTickerLocked() {
	if h.ticker != nil {
		h.ticker.Stop()
		close(h.tickerStop)
		h.ticker = nil
		h.tickerStop = nil
	}
}

// teardownLocked stops playback and releases the decoder. Callers hold h.mu.
func (h *Handle) teardownLocked() {
	if h.ctrl != nil {
		speaker.Clear()
		h.ctrl = nil
		h.volume = nil
	}
	h.stopTickerLocked()
	if h.streamer != nil {
		_ = h.streamer.Close()
		h.streamer = nil
	}
	h.tap = nil
	h.playing = false
}

func (h *Handle) emit(ev platform.MediaEvent) {
	h.mu.Lock()
	fn := h.listener
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// decode picks the decoder by file extension.
func decode(f *os.File, path string) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode(f)
	case ".flac":
		return flac.Decode(f)
	case ".ogg":
		return vorbis.Decode(f)
	case ".wav":
		return wav.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported format %s", filepath.Ext(path))
	}
}

// levelToGain maps linear volume 0..1 onto the exponential gain scale the
// volume effect expects.
func levelToGain(level float64) float64 {
	return level*2 - 2
}
