/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/events"
	"github.com/wrenlabs/bassline/internal/platform"
	"github.com/wrenlabs/bassline/internal/telemetry"
)

// Track is a playable queue entry, produced by the library.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	DurationSeconds float64 `json:"durationSeconds"`
	CoverArtURL     string  `json:"coverArtUrl"`
	PlayableURL     string  `json:"playableUrl"`
}

// Snapshot is the read-only state the UI layer consumes.
type Snapshot struct {
	Track             *Track     `json:"track,omitempty"`
	Index             int        `json:"index"`
	QueueLength       int        `json:"queueLength"`
	Position          float64    `json:"position"`
	Duration          float64    `json:"duration"`
	PlaybackState     State      `json:"playbackState"`
	BassIntensity     float64    `json:"bassIntensity"`
	IsPlaybackBlocked bool       `json:"isPlaybackBlocked"`
	Volume            float64    `json:"volume"`
	OrderMode         OrderMode  `json:"orderMode"`
	RepeatMode        RepeatMode `json:"repeatMode"`
}

// Options tunes orchestrator timing.
type Options struct {
	AutoplayRetryDelay time.Duration
	AnalyzerTick       time.Duration
}

// DefaultAutoplayRetryDelay is the fixed pause before the single automatic
// retry of a blocked play.
const DefaultAutoplayRetryDelay = 750 * time.Millisecond

// Orchestrator owns the media handle and the analysis graph exclusively. The
// UI layer reads snapshots and issues intents; it never touches graph
// objects. There is no process-wide singleton: one orchestrator is built at
// player mount and disposed at unmount.
type Orchestrator struct {
	pf       platform.Platform
	ctrl     *Controller
	graph    *GraphManager
	analyzer *Analyzer
	session  *Session
	bus      *events.Bus
	metrics  *telemetry.Metrics
	logger   zerolog.Logger

	retryDelay time.Duration

	// bindMu serializes the stale-check, graph reset, and graph rebuild of a
	// track change as one unit. With only the generation guard, a superseded
	// goroutine could pass its check, lose the CPU, and then reset a graph
	// the superseding goroutine had already built.
	bindMu sync.Mutex

	mu              sync.Mutex
	queue           []Track
	generation      uint64 // supersedes in-flight track changes
	autoplayPending bool   // the in-flight load should start playback
	blocked         bool
	volume          float64
	retryTimer      *time.Timer // armed while a blocked play awaits its retry
	closed          bool
}

// NewOrchestrator builds the player core on the injected platform. The rand
// source seeds shuffle decisions; metrics may be nil.
func NewOrchestrator(pf platform.Platform, bus *events.Bus, metrics *telemetry.Metrics, rng *rand.Rand, opts Options, logger zerolog.Logger) (*Orchestrator, error) {
	handle, err := pf.CreateMediaHandle()
	if err != nil {
		return nil, err
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.AutoplayRetryDelay <= 0 {
		opts.AutoplayRetryDelay = DefaultAutoplayRetryDelay
	}

	o := &Orchestrator{
		pf:         pf,
		ctrl:       NewController(handle, logger),
		graph:      NewGraphManager(pf, logger),
		analyzer:   NewAnalyzer(opts.AnalyzerTick, logger),
		session:    NewSession(0, rng),
		bus:        bus,
		metrics:    metrics,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		retryDelay: opts.AutoplayRetryDelay,
		volume:     1.0,
	}

	o.ctrl.OnLoaded(o.handleLoaded)
	o.ctrl.OnEnded(o.handleEnded)
	o.ctrl.OnError(o.handleLoadError)

	return o, nil
}

// SetQueue replaces the playable queue. The current index is clamped by the
// session; playback of the current track is not interrupted.
func (o *Orchestrator) SetQueue(tracks []Track) {
	o.mu.Lock()
	o.queue = append([]Track(nil), tracks...)
	o.mu.Unlock()
	o.session.SetTrackCount(len(tracks))
}

// Queue returns a copy of the current queue.
func (o *Orchestrator) Queue() []Track {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Track(nil), o.queue...)
}

// Snapshot returns the current read-only player state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	blocked := o.blocked
	volume := o.volume
	queueLen := len(o.queue)
	var track *Track
	idx := o.session.Current()
	if idx < queueLen {
		t := o.queue[idx]
		track = &t
	}
	o.mu.Unlock()

	return Snapshot{
		Track:             track,
		Index:             idx,
		QueueLength:       queueLen,
		Position:          o.ctrl.Position(),
		Duration:          o.ctrl.Duration(),
		PlaybackState:     o.ctrl.State(),
		BassIntensity:     o.analyzer.BassIntensity(),
		IsPlaybackBlocked: blocked,
		Volume:            volume,
		OrderMode:         o.session.Order(),
		RepeatMode:        o.session.Repeat(),
	}
}

// PlayTrackAt jumps to an explicit queue index and starts playback.
func (o *Orchestrator) PlayTrackAt(index int) error {
	if !o.session.Jump(index) {
		return errors.New("track index out of range")
	}
	o.changeTrack(index, true)
	return nil
}

// Play starts or resumes playback of the current track. On the first play of
// a fresh queue it performs a full track change so the graph gets bound.
func (o *Orchestrator) Play() {
	switch o.ctrl.State() {
	case StateIdle:
		o.mu.Lock()
		empty := len(o.queue) == 0
		o.mu.Unlock()
		if empty {
			return
		}
		o.changeTrack(o.session.Current(), true)
	default:
		gen := o.currentGeneration()
		o.attemptPlay(gen)
	}
}

// Pause pauses playback and stops the analysis loop.
func (o *Orchestrator) Pause() {
	o.cancelRetry()
	o.ctrl.Pause()
	o.analyzer.Stop()
	o.publishState()
}

// Seek moves the playhead; clamped by the controller.
func (o *Orchestrator) Seek(seconds float64) {
	o.ctrl.Seek(seconds)
}

// SetVolume adjusts output volume; clamped to [0,1].
func (o *Orchestrator) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.mu.Lock()
	o.volume = v
	o.mu.Unlock()
	o.ctrl.SetVolume(v)
}

// Next advances according to the session's order mode.
func (o *Orchestrator) Next() {
	if next, ok := o.session.Advance(); ok {
		o.changeTrack(next, o.ctrl.State() == StatePlaying || o.ctrl.State() == StateLoading)
	}
}

// Previous steps back; in shuffle mode this replays history.
func (o *Orchestrator) Previous() {
	if prev, ok := o.session.Previous(); ok {
		o.changeTrack(prev, o.ctrl.State() == StatePlaying || o.ctrl.State() == StateLoading)
	}
}

// ToggleRepeat cycles the repeat mode.
func (o *Orchestrator) ToggleRepeat() RepeatMode {
	mode := o.session.ToggleRepeat()
	o.ctrl.SetLoop(mode == RepeatOne)
	o.publishState()
	return mode
}

// ToggleShuffle flips the order mode.
func (o *Orchestrator) ToggleShuffle() OrderMode {
	mode := o.session.ToggleShuffle()
	o.publishState()
	return mode
}

// Session exposes the playback session for inspection.
func (o *Orchestrator) Session() *Session {
	return o.session
}

// GraphState reports the analysis graph lifecycle state.
func (o *Orchestrator) GraphState() GraphState {
	return o.graph.State()
}

// BassIntensity returns the current published analysis value.
func (o *Orchestrator) BassIntensity() float64 {
	return o.analyzer.BassIntensity()
}

// Close disposes the player: cancels pending retries, stops analysis, tears
// the graph down best-effort (without awaiting a possibly pending close),
// and detaches the media handle so nothing leaks on unmount.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.generation++
	o.mu.Unlock()

	o.cancelRetry()
	o.analyzer.Stop()

	// Taking bindMu waits out any in-flight rebuild; once closed is set no
	// new one can pass its generation check, so nothing is rebuilt after the
	// teardown below.
	o.bindMu.Lock()
	o.graph.ResetGraph()
	o.ctrl.Detach()
	o.bindMu.Unlock()

	o.logger.Debug().Msg("player disposed")
}

// changeTrack supersedes any in-flight track change and begins loading the
// track at index. The rest of the transition continues in handleLoaded once
// metadata is ready, guarded by the generation captured here.
func (o *Orchestrator) changeTrack(index int, autoplay bool) {
	o.mu.Lock()
	if o.closed || index >= len(o.queue) {
		o.mu.Unlock()
		return
	}
	o.generation++
	o.blocked = false
	track := o.queue[index]
	o.autoplayPending = autoplay
	o.mu.Unlock()

	o.cancelRetry()
	o.analyzer.Stop()

	if o.metrics != nil {
		o.metrics.TrackChanges.Inc()
	}

	o.logger.Info().
		Str("track_id", track.ID).
		Str("title", track.Title).
		Bool("autoplay", autoplay).
		Msg("track change")

	o.publishState()
	o.ctrl.Load(track.PlayableURL)
}

// handleLoaded completes the track change: reset the graph (awaited),
// rebuild it around the handle, then start playback and analysis as
// requested. Late completions of superseded loads are dropped by the
// generation guard.
func (o *Orchestrator) handleLoaded(duration float64) {
	o.mu.Lock()
	gen := o.generation
	autoplay := o.autoplayPending
	o.mu.Unlock()

	go o.bindAndStart(gen, autoplay)
}

// bindAndStart runs the async tail of a track change. The whole
// check-reset-rebuild sequence holds bindMu, so a stale goroutine can never
// interleave its teardown with a successor's completed rebuild: by the time
// it acquires the lock, its generation check fails.
func (o *Orchestrator) bindAndStart(gen uint64, autoplay bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	o.bindMu.Lock()
	defer o.bindMu.Unlock()

	if o.stale(gen) {
		return
	}

	if err := o.graph.SafeResetGraph(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("graph reset failed before rebuild")
	}

	if o.stale(gen) {
		return
	}

	retriesBefore := o.graph.WrapRetries()
	analyser, err := o.graph.CreateGraph(ctx, o.ctrl.Handle())
	if o.metrics != nil {
		o.metrics.GraphRebuilds.Inc()
		if o.graph.WrapRetries() > retriesBefore {
			o.metrics.WrapConflicts.Inc()
		}
	}
	if err != nil {
		// Unrecoverable graph failure is surfaced but non-fatal: playback
		// proceeds without analysis and the user can pick another track.
		if o.metrics != nil {
			o.metrics.GraphFailures.Inc()
		}
		o.publish(events.EventGraphFailed, events.Payload{"error": err.Error()})
		o.logger.Error().Err(err).Msg("analysis graph unavailable")
	}

	if o.stale(gen) {
		return
	}

	o.applyVolume()

	if autoplay {
		o.attemptPlay(gen)
	}

	if o.ctrl.State() == StatePlaying && analyser != nil && !o.analyzer.Running() {
		o.analyzer.Start(analyser)
	}

	o.publishNowPlaying()
	o.publishState()
}

// attemptPlay requests playback; a blocked play arms the single fixed-delay
// retry. The armed timer is part of the state machine: a track change or
// pause cancels it, so there is no race between a stale retry and new work.
func (o *Orchestrator) attemptPlay(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started, err := o.ctrl.Play(ctx)
	if started {
		o.setBlocked(false)
		if analyser := o.graph.Analyser(); analyser != nil && !o.analyzer.Running() {
			o.analyzer.Start(analyser)
		}
		o.publishState()
		return
	}

	if errors.Is(err, platform.ErrAutoplayBlocked) {
		o.armRetry(gen)
		return
	}

	o.logger.Warn().Err(err).Msg("play failed")
	o.publishState()
}

// armRetry schedules the one automatic retry of a blocked play.
func (o *Orchestrator) armRetry(gen uint64) {
	o.mu.Lock()
	if o.closed || gen != o.generation {
		o.mu.Unlock()
		return
	}
	if o.retryTimer != nil {
		o.retryTimer.Stop()
	}
	o.retryTimer = time.AfterFunc(o.retryDelay, func() {
		o.retryPlay(gen)
	})
	o.mu.Unlock()

	o.logger.Debug().Dur("delay", o.retryDelay).Msg("play blocked, retry armed")
}

// retryPlay is the second and final play attempt after a block. Failing
// again surfaces the needs-interaction condition instead of looping.
func (o *Orchestrator) retryPlay(gen uint64) {
	if o.stale(gen) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started, err := o.ctrl.Play(ctx)
	if started {
		o.setBlocked(false)
		if analyser := o.graph.Analyser(); analyser != nil {
			o.analyzer.Start(analyser)
		}
		o.publishState()
		return
	}

	if errors.Is(err, platform.ErrAutoplayBlocked) {
		if o.metrics != nil {
			o.metrics.BlockedPlays.Inc()
		}
		o.setBlocked(true)
		o.publish(events.EventPlaybackBlocked, events.Payload{
			"track_index": o.session.Current(),
		})
		o.logger.Info().Msg("playback blocked, needs interaction")
		return
	}

	o.logger.Warn().Err(err).Msg("play retry failed")
	o.publishState()
}

// handleEnded applies the end-of-track decision table.
func (o *Orchestrator) handleEnded() {
	o.publish(events.EventTrackEnded, events.Payload{"track_index": o.session.Current()})

	repeat := o.session.Repeat()

	switch {
	case repeat == RepeatOne:
		gen := o.currentGeneration()
		o.ctrl.Seek(0)
		go o.attemptPlay(gen)

	case repeat == RepeatAll && o.session.HasNext():
		if next, ok := o.session.Advance(); ok {
			o.changeTrack(next, true)
		}

	case repeat == RepeatAll && o.session.HasPrevious():
		// End of list with repeat-all: wrap to the first track.
		if first, ok := o.session.WrapToFirst(); ok {
			o.changeTrack(first, true)
		}

	case o.session.HasNext():
		if next, ok := o.session.Advance(); ok {
			o.changeTrack(next, true)
		}

	default:
		o.analyzer.Stop()
		o.ctrl.Seek(0)
		o.publishState()
	}
}

// handleLoadError reports a load/decode failure; the player stays usable.
func (o *Orchestrator) handleLoadError(err error) {
	o.analyzer.Stop()
	o.publish(events.EventLoadError, events.Payload{
		"track_index": o.session.Current(),
		"error":       errString(err),
	})
	o.publishState()
}

func (o *Orchestrator) applyVolume() {
	o.mu.Lock()
	v := o.volume
	o.mu.Unlock()
	o.ctrl.SetVolume(v)
}

func (o *Orchestrator) currentGeneration() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

// stale reports whether gen has been superseded or the player closed.
func (o *Orchestrator) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed || gen != o.generation
}

func (o *Orchestrator) setBlocked(blocked bool) {
	o.mu.Lock()
	o.blocked = blocked
	o.mu.Unlock()
}

func (o *Orchestrator) cancelRetry() {
	o.mu.Lock()
	if o.retryTimer != nil {
		o.retryTimer.Stop()
		o.retryTimer = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) publishNowPlaying() {
	o.mu.Lock()
	idx := o.session.Current()
	var payload events.Payload
	if idx < len(o.queue) {
		t := o.queue[idx]
		payload = events.Payload{
			"track_id": t.ID,
			"title":    t.Title,
			"artist":   t.Artist,
			"album":    t.Album,
			"index":    idx,
		}
	}
	o.mu.Unlock()
	if payload != nil {
		o.publish(events.EventNowPlaying, payload)
	}
}

func (o *Orchestrator) publishState() {
	o.publish(events.EventPlaybackState, events.Payload{
		"state":   string(o.ctrl.State()),
		"blocked": o.isBlocked(),
	})
}

func (o *Orchestrator) isBlocked() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blocked
}

func (o *Orchestrator) publish(eventType events.EventType, payload events.Payload) {
	if o.bus != nil {
		o.bus.Publish(eventType, payload)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
