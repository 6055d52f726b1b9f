/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package localaudio implements the audio platform on the local sound
// device. Decoding and output go through beep; analysis taps the decoded
// PCM and runs an FFT over it.
package localaudio

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/platform"
)

// Resolver maps a playable URL to a local filesystem path. The serve mode
// resolves stream URLs through the catalog; the CLI player passes paths
// straight through.
type Resolver func(url string) (string, error)

// Platform implements platform.Platform for the local sound device.
type Platform struct {
	resolve Resolver
	logger  zerolog.Logger

	mu       sync.Mutex
	contexts []*Context
}

// New creates a local audio platform. A nil resolver treats every source
// URL as a filesystem path.
func New(resolve Resolver, logger zerolog.Logger) *Platform {
	if resolve == nil {
		resolve = func(url string) (string, error) { return url, nil }
	}
	return &Platform{
		resolve: resolve,
		logger:  logger.With().Str("component", "localaudio").Logger(),
	}
}

// CreateMediaHandle returns a handle backed by the beep decode pipeline.
func (p *Platform) CreateMediaHandle() (platform.MediaHandle, error) {
	return newHandle(p.resolve, p.logger), nil
}

// CreateAudioContext returns an analysis context.
func (p *Platform) CreateAudioContext() (platform.AudioContext, error) {
	c := &Context{state: platform.ContextRunning, logger: p.logger}
	p.mu.Lock()
	p.contexts = append(p.contexts, c)
	p.mu.Unlock()
	return c, nil
}

// Now returns the wall clock.
func (p *Platform) Now() time.Time {
	return time.Now()
}
