/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
)

// BassWindowBins restricts analysis to the lowest bins, roughly 0-170 Hz at
// a 256-point transform and 44.1 kHz sampling.
const BassWindowBins = 8

// DefaultAnalyzerTick approximates a display refresh interval.
const DefaultAnalyzerTick = 16 * time.Millisecond

// Analyzer polls an analysis node while playback is active and publishes a
// smoothed bass-intensity scalar in [0, 0.8]. It never polls when stopped.
type Analyzer struct {
	logger zerolog.Logger
	tick   time.Duration

	mu       sync.Mutex
	stopCh   chan struct{} // loop cancellation token; nil when not running
	analyser platform.Analyser
	value    float64
}

// NewAnalyzer creates an analyzer with the given polling interval. A
// non-positive tick falls back to DefaultAnalyzerTick.
func NewAnalyzer(tick time.Duration, logger zerolog.Logger) *Analyzer {
	if tick <= 0 {
		tick = DefaultAnalyzerTick
	}
	return &Analyzer{
		logger: logger.With().Str("component", "analyzer").Logger(),
		tick:   tick,
	}
}

// BassIntensity returns the most recently published value.
func (a *Analyzer) BassIntensity() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
}

// Running reports whether the polling loop is live.
func (a *Analyzer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCh != nil
}

// Start begins the polling loop against the analysis node. A running loop is
// stopped first, so at most one loop exists.
func (a *Analyzer) Start(analyser platform.Analyser) {
	if analyser == nil {
		return
	}
	a.Stop()

	a.mu.Lock()
	stop := make(chan struct{})
	a.stopCh = stop
	a.analyser = analyser
	a.mu.Unlock()

	go a.loop(analyser, stop)
}

// Stop cancels the loop, nils the token immediately so a stale loop cannot be
// mistaken for a live one, and resets the published value to 0.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	if a.stopCh != nil {
		close(a.stopCh)
		a.stopCh = nil
	}
	a.analyser = nil
	a.value = 0
	a.mu.Unlock()
}

func (a *Analyzer) loop(analyser platform.Analyser, stop chan struct{}) {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	bins := make([]byte, analyser.BinCount())

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.pollOnce(analyser, bins, stop)
		}
	}
}

// pollOnce reads one frequency snapshot and publishes the derived intensity.
// Errors are contained per tick: the value drops to 0 and the loop keeps
// going, so a transiently disconnected node never crashes the polling chain.
func (a *Analyzer) pollOnce(analyser platform.Analyser, bins []byte, stop chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn().Interface("panic", r).Msg("analysis tick panicked")
			a.publish(0, stop)
		}
	}()

	if err := analyser.FrequencyData(bins); err != nil {
		a.publish(0, stop)
		return
	}

	a.publish(bassIntensity(bins), stop)
}

// publish stores the value unless the loop was cancelled meanwhile; a stale
// loop's late tick must not overwrite the reset.
func (a *Analyzer) publish(v float64, stop chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopCh != stop {
		return
	}
	a.value = v
}

// bassIntensity derives the scalar from a frequency snapshot: mean and peak
// of the bass window blended 70/30, then perceptually compressed. The result
// is bounded by 0.8 because normalized never exceeds 1.
func bassIntensity(bins []byte) float64 {
	window := BassWindowBins
	if len(bins) < window {
		window = len(bins)
	}
	if window == 0 {
		return 0
	}

	var sum, peak float64
	for _, b := range bins[:window] {
		v := float64(b)
		sum += v
		if v > peak {
			peak = v
		}
	}

	avg := sum / float64(window) / 255
	peak /= 255

	normalized := avg*0.7 + peak*0.3
	if normalized > 1 {
		normalized = 1
	}

	return math.Pow(normalized, 0.8) * 0.8
}
