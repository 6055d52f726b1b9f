/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"math/rand"
	"sync"

	"github.com/samber/lo"
)

// OrderMode selects how the next track index is computed.
type OrderMode string

const (
	OrderSequential OrderMode = "sequential"
	OrderShuffled   OrderMode = "shuffled"
)

// RepeatMode selects what happens at the end of a track or the queue.
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// Session tracks the playback position within a queue: current index, order
// mode, repeat mode, and — while shuffled — a history of visited indices with
// a cursor, so "previous" replays history instead of re-randomizing.
type Session struct {
	mu         sync.Mutex
	trackCount int
	index      int
	order      OrderMode
	repeat     RepeatMode
	history    []int
	cursor     int
	rng        *rand.Rand
}

// NewSession creates a session over a queue of trackCount tracks. The rand
// source is injected so shuffle picks are deterministic under test.
func NewSession(trackCount int, rng *rand.Rand) *Session {
	return &Session{
		trackCount: trackCount,
		order:      OrderSequential,
		repeat:     RepeatOff,
		rng:        rng,
	}
}

// Current returns the current track index.
func (s *Session) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Order returns the order mode.
func (s *Session) Order() OrderMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order
}

// Repeat returns the repeat mode.
func (s *Session) Repeat() RepeatMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeat
}

// SetTrackCount resizes the queue, clamping the current index. Shuffle
// history referring to indices past the new count is restarted.
func (s *Session) SetTrackCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackCount = n
	if n == 0 {
		s.index = 0
		s.history = nil
		s.cursor = 0
		return
	}
	if s.index >= n {
		s.index = n - 1
	}
	if s.order == OrderShuffled {
		for _, visited := range s.history {
			if visited >= n {
				s.history = []int{s.index}
				s.cursor = 0
				break
			}
		}
	}
}

// TrackCount returns the queue size.
func (s *Session) TrackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trackCount
}

// Jump selects an explicit index (user picked a track). In shuffle mode the
// pick is recorded in history, discarding any forward history past the
// cursor.
func (s *Session) Jump(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= s.trackCount {
		return false
	}
	s.index = i
	if s.order == OrderShuffled {
		s.history = append(s.history[:s.cursor+1], i)
		s.cursor = len(s.history) - 1
	}
	return true
}

// Advance computes the next index. Sequential order stops at the end of the
// queue; shuffle replays forward history when the cursor is mid-history and
// otherwise appends a fresh random pick excluding the current index when the
// queue holds more than one track.
func (s *Session) Advance() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trackCount == 0 {
		return 0, false
	}

	if s.order == OrderSequential {
		if s.index+1 >= s.trackCount {
			return 0, false
		}
		s.index++
		return s.index, true
	}

	if s.cursor+1 < len(s.history) {
		s.cursor++
		s.index = s.history[s.cursor]
		return s.index, true
	}

	next := s.randomPickLocked()
	s.history = append(s.history, next)
	s.cursor = len(s.history) - 1
	s.index = next
	return next, true
}

// Previous computes the prior index. Shuffle only moves the history cursor
// back; it never deletes entries.
func (s *Session) Previous() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trackCount == 0 {
		return 0, false
	}

	if s.order == OrderSequential {
		if s.index == 0 {
			return 0, false
		}
		s.index--
		return s.index, true
	}

	if s.cursor == 0 {
		return 0, false
	}
	s.cursor--
	s.index = s.history[s.cursor]
	return s.index, true
}

// HasNext reports whether Advance would succeed, without mutating.
func (s *Session) HasNext() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackCount == 0 {
		return false
	}
	if s.order == OrderShuffled {
		return true
	}
	return s.index+1 < s.trackCount
}

// HasPrevious reports whether Previous would succeed, without mutating.
func (s *Session) HasPrevious() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackCount == 0 {
		return false
	}
	if s.order == OrderShuffled {
		return s.cursor > 0
	}
	return s.index > 0
}

// WrapToFirst returns to index 0, used by repeat-all at the end of the
// queue.
func (s *Session) WrapToFirst() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trackCount == 0 {
		return 0, false
	}
	s.index = 0
	if s.order == OrderShuffled {
		s.history = append(s.history, 0)
		s.cursor = len(s.history) - 1
	}
	return 0, true
}

// ToggleShuffle flips the order mode. Enabling seeds history with the
// current index so "previous" has an anchor.
func (s *Session) ToggleShuffle() OrderMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order == OrderSequential {
		s.order = OrderShuffled
		s.history = []int{s.index}
		s.cursor = 0
	} else {
		s.order = OrderSequential
		s.history = nil
		s.cursor = 0
	}
	return s.order
}

// ToggleRepeat cycles off -> all -> one -> off.
func (s *Session) ToggleRepeat() RepeatMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.repeat {
	case RepeatOff:
		s.repeat = RepeatAll
	case RepeatAll:
		s.repeat = RepeatOne
	default:
		s.repeat = RepeatOff
	}
	return s.repeat
}

// History returns a copy of the shuffle history and the cursor position.
func (s *Session) History() ([]int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.history...), s.cursor
}

// randomPickLocked picks a random index, excluding the current one when more
// than one track exists. Called with s.mu held.
func (s *Session) randomPickLocked() int {
	if s.trackCount == 1 {
		return 0
	}
	candidates := lo.Filter(lo.Range(s.trackCount), func(i int, _ int) bool {
		return i != s.index
	})
	return candidates[s.rng.Intn(len(candidates))]
}
