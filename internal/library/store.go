/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTrackNotFound reports a lookup for a track the catalog does not hold.
var ErrTrackNotFound = errors.New("track not found")

// Store persists the track catalog.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore wraps the database and runs schema migration.
func NewStore(db *gorm.DB, logger zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Track{}); err != nil {
		return nil, fmt.Errorf("migrate library schema: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "library_store").Logger(),
	}, nil
}

// Upsert inserts the track or updates the row matching its path. The ID of
// an existing row is preserved so stream URLs stay stable across rescans.
func (s *Store) Upsert(ctx context.Context, track *Track) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "artist", "album", "genre", "year", "track_num", "disc_num",
			"duration_seconds", "has_art", "art_path", "file_size", "file_mod_time",
			"content_hash", "updated_at",
		}),
	}).Create(track).Error
}

// Get returns a single track by ID.
func (s *Store) Get(ctx context.Context, id string) (*Track, error) {
	var track Track
	err := s.db.WithContext(ctx).First(&track, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

// GetByPath returns a single track by filesystem path.
func (s *Store) GetByPath(ctx context.Context, path string) (*Track, error) {
	var track Track
	err := s.db.WithContext(ctx).First(&track, "path = ?", path).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrackNotFound
	}
	if err != nil {
		return nil, err
	}
	return &track, nil
}

// List returns the catalog in album play order, optionally filtered by a
// loose text search over title, artist, and album.
func (s *Store) List(ctx context.Context, search string) ([]Track, error) {
	q := s.db.WithContext(ctx).Model(&Track{})
	if trimmed := strings.TrimSpace(search); trimmed != "" {
		pattern := "%" + strings.ToLower(trimmed) + "%"
		q = q.Where(
			"LOWER(title) LIKE ? OR LOWER(artist) LIKE ? OR LOWER(album) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	var tracks []Track
	err := q.Order("artist, album, disc_num, track_num, title").Find(&tracks).Error
	return tracks, err
}

// Count returns the catalog size.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Track{}).Count(&n).Error
	return n, err
}

// DeleteByPath removes the row for a file that disappeared. Returns whether
// a row was actually deleted.
func (s *Store) DeleteByPath(ctx context.Context, path string) (bool, error) {
	res := s.db.WithContext(ctx).Where("path = ?", path).Delete(&Track{})
	return res.RowsAffected > 0, res.Error
}

// PruneMissing removes every row whose path is not in the seen set and
// returns the removed tracks so callers can emit events for them.
func (s *Store) PruneMissing(ctx context.Context, seen map[string]struct{}) ([]Track, error) {
	var all []Track
	if err := s.db.WithContext(ctx).Find(&all).Error; err != nil {
		return nil, err
	}

	var removed []Track
	for _, track := range all {
		if _, ok := seen[track.Path]; ok {
			continue
		}
		if err := s.db.WithContext(ctx).Delete(&Track{}, "id = ?", track.ID).Error; err != nil {
			return removed, err
		}
		removed = append(removed, track)
	}

	if len(removed) > 0 {
		s.logger.Info().Int("count", len(removed)).Msg("pruned missing tracks")
	}
	return removed, nil
}
