/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher rescans the library when the music directories change on disk.
// Filesystem events burst during copies, so changes are debounced into a
// single scan.
type Watcher struct {
	scanner  *Scanner
	debounce time.Duration
	logger   zerolog.Logger
}

// NewWatcher builds a watcher that triggers scanner passes.
func NewWatcher(scanner *Scanner, debounce time.Duration, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		scanner:  scanner,
		debounce: debounce,
		logger:   logger.With().Str("component", "library_watcher").Logger(),
	}
}

// Run watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, dir := range w.scanner.Dirs() {
		if err := fsw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("watch registration failed")
		}
	}

	w.logger.Info().Dur("debounce", w.debounce).Msg("library watcher started")

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	scanDue := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}

			// New directories must be registered before their contents settle.
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := fsw.Add(ev.Name); err != nil {
						w.logger.Warn().Err(err).Str("dir", ev.Name).Msg("watch registration failed")
					}
				}
			}

			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				if IsAudioFile(ev.Name) {
					if err := w.scanner.RemovePath(ctx, ev.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", ev.Name).Msg("remove failed")
					}
				}
			}

			w.logger.Debug().Str("op", ev.Op.String()).Str("path", ev.Name).Msg("fs change")
			if pending == nil {
				pending = time.AfterFunc(w.debounce, func() {
					select {
					case scanDue <- struct{}{}:
					default:
					}
				})
			} else {
				pending.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")

		case <-scanDue:
			pending = nil
			if _, err := w.scanner.Scan(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("watch-triggered scan failed")
			}
		}
	}
}

// relevant filters events down to audio files and directories.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op.Has(fsnotify.Chmod) {
		return false
	}
	if IsAudioFile(ev.Name) {
		return true
	}
	// Directory creates and removes matter for registration and pruning; a
	// removed path cannot be stat'd, so let those through.
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) || ev.Op.Has(fsnotify.Create) {
		return true
	}
	return false
}
