/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/wrenlabs/bassline/internal/events"
	"github.com/wrenlabs/bassline/internal/telemetry"
)

// ScanResult summarizes one full scan pass.
type ScanResult struct {
	Scanned  int
	Added    int
	Updated  int
	Removed  int
	Failed   int
	Duration time.Duration
}

// Scanner walks the music directories with a worker pool, extracts tags,
// caches embedded cover art, and reconciles the store against the
// filesystem.
type Scanner struct {
	store       *Store
	dirs        []string
	artCacheDir string
	workers     int
	bus         *events.Bus
	metrics     *telemetry.Metrics
	logger      zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewScanner builds a scanner over the configured music directories.
func NewScanner(store *Store, dirs []string, artCacheDir string, workers int, bus *events.Bus, metrics *telemetry.Metrics, logger zerolog.Logger) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		store:       store,
		dirs:        dirs,
		artCacheDir: artCacheDir,
		workers:     workers,
		bus:         bus,
		metrics:     metrics,
		logger:      logger.With().Str("component", "library_scanner").Logger(),
	}
}

// Scan runs one full pass. Concurrent calls collapse: a scan already in
// progress makes later calls return immediately with an empty result.
func (s *Scanner) Scan(ctx context.Context) (ScanResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("scan already in progress")
		return ScanResult{}, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	s.publish(events.EventScanStarted, events.Payload{"dirs": s.dirs})

	paths := make(chan string, 64)
	var walkErr error
	go func() {
		defer close(paths)
		walkErr = s.walk(ctx, paths)
	}()

	var (
		resultMu sync.Mutex
		result   ScanResult
		seen     = make(map[string]struct{})
	)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				added, err := s.indexFile(ctx, path)

				resultMu.Lock()
				result.Scanned++
				seen[path] = struct{}{}
				switch {
				case err != nil:
					result.Failed++
				case added:
					result.Added++
				default:
					result.Updated++
				}
				resultMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if walkErr != nil {
		return result, walkErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	removed, err := s.store.PruneMissing(ctx, seen)
	if err != nil {
		return result, err
	}
	result.Removed = len(removed)
	for _, t := range removed {
		s.publish(events.EventTrackRemoved, events.Payload{"track_id": t.ID, "path": t.Path})
	}

	result.Duration = time.Since(start)

	if s.metrics != nil {
		s.metrics.ScanDuration.Observe(result.Duration.Seconds())
		if count, err := s.store.Count(ctx); err == nil {
			s.metrics.TracksIndexed.Set(float64(count))
		}
	}

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("added", result.Added).
		Int("updated", result.Updated).
		Int("removed", result.Removed).
		Int("failed", result.Failed).
		Dur("duration", result.Duration).
		Msg("library scan complete")

	s.publish(events.EventScanComplete, events.Payload{
		"scanned": result.Scanned,
		"added":   result.Added,
		"removed": result.Removed,
	})

	return result, nil
}

// walk feeds audio file paths into out. Unreadable subtrees are logged and
// skipped rather than failing the scan.
func (s *Scanner) walk(ctx context.Context, out chan<- string) error {
	for _, dir := range s.dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("scan skip")
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !IsAudioFile(path) {
				return nil
			}
			select {
			case out <- path:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// indexFile extracts metadata for one file and upserts it. Returns whether
// the file was new to the catalog.
func (s *Scanner) indexFile(ctx context.Context, path string) (added bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("stat failed")
		return false, err
	}

	existing, err := s.store.GetByPath(ctx, path)
	if err == nil && existing.FileModTime.Equal(info.ModTime()) && existing.FileSize == info.Size() {
		return false, nil // unchanged
	}

	meta, err := readMetadata(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("metadata extraction failed")
		return false, err
	}

	hash, err := hashFile(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("content hash failed")
		return false, err
	}

	track := &Track{
		ID:              uuid.NewString(),
		Path:            path,
		Title:           meta.Title,
		Artist:          meta.Artist,
		Album:           meta.Album,
		Genre:           meta.Genre,
		Year:            meta.Year,
		TrackNum:        meta.TrackNum,
		DiscNum:         meta.DiscNum,
		DurationSeconds: meta.DurationSeconds,
		FileSize:        info.Size(),
		FileModTime:     info.ModTime(),
		ContentHash:     hash,
	}
	if existing != nil {
		track.ID = existing.ID
	}

	if len(meta.Picture) > 0 {
		if artPath, err := s.cacheArt(track.ID, meta); err == nil {
			track.HasArt = true
			track.ArtPath = artPath
		} else {
			s.logger.Warn().Err(err).Str("path", path).Msg("cover art cache failed")
		}
	}

	if err := s.store.Upsert(ctx, track); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("track upsert failed")
		return false, err
	}

	if existing == nil {
		s.publish(events.EventTrackAdded, events.Payload{
			"track_id": track.ID,
			"title":    track.Title,
			"artist":   track.Artist,
		})
	}
	return existing == nil, nil
}

// cacheArt writes the embedded picture to the art cache and returns the
// cached file path.
func (s *Scanner) cacheArt(trackID string, meta *fileMetadata) (string, error) {
	if err := os.MkdirAll(s.artCacheDir, 0o755); err != nil {
		return "", err
	}
	artPath := filepath.Join(s.artCacheDir, trackID+meta.PictureExt)
	if err := os.WriteFile(artPath, meta.Picture, 0o644); err != nil {
		return "", err
	}
	return artPath, nil
}

// RemovePath drops a single file from the catalog, used by the watcher.
func (s *Scanner) RemovePath(ctx context.Context, path string) error {
	track, err := s.store.GetByPath(ctx, path)
	if err != nil {
		return nil // already gone
	}
	if _, err := s.store.DeleteByPath(ctx, path); err != nil {
		return err
	}
	s.publish(events.EventTrackRemoved, events.Payload{"track_id": track.ID, "path": path})
	if s.metrics != nil {
		if count, err := s.store.Count(ctx); err == nil {
			s.metrics.TracksIndexed.Set(float64(count))
		}
	}
	return nil
}

// Dirs returns the scanned roots plus every subdirectory currently on disk,
// for watch registration.
func (s *Scanner) Dirs() []string {
	dirs := append([]string(nil), s.dirs...)
	for _, root := range s.dirs {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			dirs = append(dirs, path)
			return nil
		})
	}
	return lo.Uniq(dirs)
}

func (s *Scanner) publish(eventType events.EventType, payload events.Payload) {
	if s.bus != nil {
		s.bus.Publish(eventType, payload)
	}
}
