/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback implements the player core: the media controller, the
// audio analysis graph lifecycle, the bass-intensity analyzer, and the
// orchestrator that ties them to a playback session.
package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
)

// State is the playback state of the controller's media handle.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
	StateErrored State = "errored"
)

// Controller owns the single media handle of a player instance and exposes
// load/play/pause/seek/volume plus lifecycle events.
type Controller struct {
	handle platform.MediaHandle
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	duration float64
	lastErr  error

	onLoaded     func(duration float64)
	onTimeUpdate func(position float64)
	onEnded      func()
	onError      func(err error)
}

// NewController wraps a media handle created by the platform.
func NewController(handle platform.MediaHandle, logger zerolog.Logger) *Controller {
	c := &Controller{
		handle: handle,
		logger: logger.With().Str("component", "media_controller").Logger(),
		state:  StateIdle,
	}
	handle.Subscribe(c.handleEvent)
	return c
}

// Handle returns the underlying media handle for graph binding.
func (c *Controller) Handle() platform.MediaHandle {
	return c.handle
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that put the controller in StateErrored.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// OnLoaded registers the metadata-ready callback.
func (c *Controller) OnLoaded(fn func(duration float64)) {
	c.mu.Lock()
	c.onLoaded = fn
	c.mu.Unlock()
}

// OnTimeUpdate registers the position callback.
func (c *Controller) OnTimeUpdate(fn func(position float64)) {
	c.mu.Lock()
	c.onTimeUpdate = fn
	c.mu.Unlock()
}

// OnEnded registers the end-of-track callback.
func (c *Controller) OnEnded(fn func()) {
	c.mu.Lock()
	c.onEnded = fn
	c.mu.Unlock()
}

// OnError registers the error callback.
func (c *Controller) OnError(fn func(err error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Load detaches any current source, assigns the new one, and triggers a
// reload. Decode failures surface through the error event, never here.
func (c *Controller) Load(url string) {
	c.mu.Lock()
	c.state = StateLoading
	c.duration = 0
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Debug().Str("url", url).Msg("loading source")

	c.handle.ClearSource()
	c.handle.SetSource(url)
}

// Play requests playback. The started return reports whether playback
// actually began; a false with nil error never happens.
func (c *Controller) Play(ctx context.Context) (started bool, err error) {
	err = c.handle.Play(ctx)
	if err != nil {
		if errors.Is(err, platform.ErrAutoplayBlocked) {
			c.logger.Debug().Msg("play blocked by host")
			return false, err
		}
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = err
		c.mu.Unlock()
		return false, err
	}

	c.mu.Lock()
	c.state = StatePlaying
	c.mu.Unlock()
	return true, nil
}

// Pause requests a pause. No-op when not playing.
func (c *Controller) Pause() {
	c.handle.Pause()
	c.mu.Lock()
	if c.state == StatePlaying || c.state == StateLoading {
		c.state = StatePaused
	}
	c.mu.Unlock()
}

// Seek clamps to [0, duration] and is ignored while duration is unknown.
func (c *Controller) Seek(seconds float64) {
	c.mu.Lock()
	duration := c.duration
	c.mu.Unlock()

	if duration == 0 {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if seconds > duration {
		seconds = duration
	}
	c.handle.Seek(seconds)
}

// Position returns the current playback position in seconds.
func (c *Controller) Position() float64 {
	return c.handle.Position()
}

// Duration returns the known track duration in seconds, 0 when unknown.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// SetVolume clamps to [0,1].
func (c *Controller) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.handle.SetVolume(v)
}

// SetLoop toggles single-track looping on the handle.
func (c *Controller) SetLoop(loop bool) {
	c.handle.SetLoop(loop)
}

// Detach clears the source and releases the handle's resources. Used on
// player teardown.
func (c *Controller) Detach() {
	c.handle.ClearSource()
	if err := c.handle.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("handle close failed")
	}
	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Controller) handleEvent(ev platform.MediaEvent) {
	switch ev.Kind {
	case platform.MediaLoaded:
		c.mu.Lock()
		c.duration = ev.Duration
		if c.state == StateLoading {
			c.state = StatePaused
		}
		fn := c.onLoaded
		c.mu.Unlock()
		if fn != nil {
			fn(ev.Duration)
		}

	case platform.MediaTimeUpdate:
		c.mu.Lock()
		fn := c.onTimeUpdate
		c.mu.Unlock()
		if fn != nil {
			fn(ev.Position)
		}

	case platform.MediaEnded:
		c.mu.Lock()
		c.state = StateEnded
		fn := c.onEnded
		c.mu.Unlock()
		if fn != nil {
			fn()
		}

	case platform.MediaError:
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = ev.Err
		fn := c.onError
		c.mu.Unlock()
		c.logger.Warn().Err(ev.Err).Msg("media error")
		if fn != nil {
			fn(ev.Err)
		}
	}
}
