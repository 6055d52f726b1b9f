/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media serves catalog files over HTTP: range-capable audio
// streaming and cached cover art.
package media

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/library"
	"github.com/wrenlabs/bassline/internal/telemetry"
)

var contentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// Service streams library files. Paths are validated against the configured
// music roots so a stale database row can never read outside them.
type Service struct {
	musicDirs   []string
	artCacheDir string
	metrics     *telemetry.Metrics
	logger      zerolog.Logger
}

// NewService creates the streaming service.
func NewService(musicDirs []string, artCacheDir string, metrics *telemetry.Metrics, logger zerolog.Logger) *Service {
	roots := make([]string, 0, len(musicDirs))
	for _, dir := range musicDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			roots = append(roots, abs)
		}
	}
	return &Service{
		musicDirs:   roots,
		artCacheDir: artCacheDir,
		metrics:     metrics,
		logger:      logger.With().Str("component", "media").Logger(),
	}
}

// ServeTrack streams the track's audio file, honoring Range requests so the
// player can seek without re-downloading.
func (s *Service) ServeTrack(w http.ResponseWriter, r *http.Request, track *library.Track) {
	path, err := s.resolve(track.Path)
	if err != nil {
		s.logger.Warn().Err(err).Str("track_id", track.ID).Msg("stream path rejected")
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("stream open failed")
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		w.Header().Set("Content-Type", ct)
	}

	cw := &countingWriter{ResponseWriter: w}
	http.ServeContent(cw, r, info.Name(), info.ModTime(), f)

	if s.metrics != nil {
		s.metrics.StreamedBytes.Add(float64(cw.written))
	}
}

// ServeArt serves the cached cover art for a track.
func (s *Service) ServeArt(w http.ResponseWriter, r *http.Request, track *library.Track) {
	if !track.HasArt || track.ArtPath == "" {
		http.Error(w, "no art", http.StatusNotFound)
		return
	}

	// Art files live only in the cache directory.
	abs, err := filepath.Abs(track.ArtPath)
	if err != nil || !within(abs, mustAbs(s.artCacheDir)) {
		http.Error(w, "no art", http.StatusNotFound)
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		http.Error(w, "no art", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "no art", http.StatusNotFound)
		return
	}

	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(abs))]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// resolve makes the path absolute and checks it sits under a music root.
func (s *Service) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for _, root := range s.musicDirs {
		if within(abs, root) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %s outside music directories", abs)
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// countingWriter tallies bytes actually written, including partial ranges.
type countingWriter struct {
	http.ResponseWriter
	written int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.ResponseWriter.Write(p)
	c.written += int64(n)
	return n, err
}
