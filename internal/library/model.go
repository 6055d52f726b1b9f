/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library indexes the music directories into a queryable track
// catalog: tag extraction, cover art caching, and filesystem watching.
package library

import "time"

// Track is an indexed audio file.
type Track struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	Path            string `gorm:"uniqueIndex"`
	Title           string `gorm:"index"`
	Artist          string `gorm:"index"`
	Album           string `gorm:"index"`
	Genre           string
	Year            int
	TrackNum        int
	DiscNum         int
	DurationSeconds float64
	HasArt          bool
	ArtPath         string
	FileSize        int64
	FileModTime     time.Time
	ContentHash     string `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
