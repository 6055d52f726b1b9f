/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

var supportedExtensions = map[string]struct{}{
	".mp3":  {},
	".flac": {},
	".ogg":  {},
	".wav":  {},
}

// IsAudioFile reports whether the path has a supported audio extension.
func IsAudioFile(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// fileMetadata is the raw extraction result for one audio file.
type fileMetadata struct {
	Title           string
	Artist          string
	Album           string
	Genre           string
	Year            int
	TrackNum        int
	DiscNum         int
	DurationSeconds float64
	Picture         []byte
	PictureExt      string
}

// readMetadata extracts tags and duration from an audio file. Files without
// readable tags still index with a title derived from the filename.
func readMetadata(path string) (*fileMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	meta := &fileMetadata{
		Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}

	if tags, err := tag.ReadFrom(f); err == nil {
		if t := strings.TrimSpace(tags.Title()); t != "" {
			meta.Title = t
		}
		meta.Artist = strings.TrimSpace(tags.Artist())
		meta.Album = strings.TrimSpace(tags.Album())
		meta.Genre = strings.TrimSpace(tags.Genre())
		meta.Year = tags.Year()
		meta.TrackNum, _ = tags.Track()
		meta.DiscNum, _ = tags.Disc()
		if pic := tags.Picture(); pic != nil && len(pic.Data) > 0 {
			meta.Picture = pic.Data
			meta.PictureExt = pictureExtension(pic.MIMEType)
		}
	}

	// Duration needs a decode pass; tags alone do not carry it reliably.
	if _, err := f.Seek(0, 0); err == nil {
		meta.DurationSeconds = probeDuration(f, path)
	}

	return meta, nil
}

// probeDuration decodes the stream header to compute the track length.
// Returns 0 when the file cannot be decoded; the player falls back to the
// duration reported by the media element at load time.
func probeDuration(f *os.File, path string) float64 {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		return 0
	}
	if err != nil {
		return 0
	}

	samples := streamer.Len()
	_ = streamer.Close()
	if samples <= 0 || format.SampleRate <= 0 {
		return 0
	}
	return format.SampleRate.D(samples).Seconds()
}

// hashFile returns the hex sha256 of the file contents, used to track
// content identity independent of path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func pictureExtension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
