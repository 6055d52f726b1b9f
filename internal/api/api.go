/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: catalog queries, audio streaming,
// player intents, and the state websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/wrenlabs/bassline/internal/events"
	"github.com/wrenlabs/bassline/internal/library"
	"github.com/wrenlabs/bassline/internal/media"
	"github.com/wrenlabs/bassline/internal/playback"
	"github.com/wrenlabs/bassline/internal/telemetry"
)

// API exposes HTTP handlers.
type API struct {
	store     *library.Store
	media     *media.Service
	player    *playback.Orchestrator
	scanner   *library.Scanner
	bus       *events.Bus
	metrics   *telemetry.Metrics
	statePush time.Duration
	logger    zerolog.Logger
}

// New creates the API router wrapper. statePush is the websocket snapshot
// interval; zero selects a sane default.
func New(store *library.Store, mediaSvc *media.Service, player *playback.Orchestrator, scanner *library.Scanner, bus *events.Bus, metrics *telemetry.Metrics, statePush time.Duration, logger zerolog.Logger) *API {
	if statePush <= 0 {
		statePush = 250 * time.Millisecond
	}
	return &API{
		store:     store,
		media:     mediaSvc,
		player:    player,
		scanner:   scanner,
		bus:       bus,
		metrics:   metrics,
		statePush: statePush,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Route("/tracks", func(r chi.Router) {
			r.Get("/", a.handleTracksList)
			r.Get("/{trackID}", a.handleTrackGet)
		})
		r.Get("/stream/{trackID}", a.handleStream)
		r.Get("/art/{trackID}", a.handleArt)

		r.Route("/player", func(r chi.Router) {
			r.Get("/state", a.handlePlayerState)
			r.Get("/ws", a.handleStateSocket)
			r.Post("/queue", a.handleQueueSet)
			r.Post("/play", a.handlePlay)
			r.Post("/pause", a.handlePause)
			r.Post("/next", a.handleNext)
			r.Post("/previous", a.handlePrevious)
			r.Post("/seek", a.handleSeek)
			r.Post("/volume", a.handleVolume)
			r.Post("/repeat", a.handleRepeatToggle)
			r.Post("/shuffle", a.handleShuffleToggle)
		})

		r.Post("/library/scan", a.handleScan)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleTracksList(w http.ResponseWriter, r *http.Request) {
	tracks, err := a.store.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.logger.Error().Err(err).Msg("track list failed")
		writeError(w, http.StatusInternalServerError, "list_failed")
		return
	}

	out := make([]playback.Track, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, playableTrack(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": out, "count": len(out)})
}

func (a *API) handleTrackGet(w http.ResponseWriter, r *http.Request) {
	track, ok := a.lookupTrack(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, playableTrack(*track))
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	track, ok := a.lookupTrack(w, r)
	if !ok {
		return
	}
	a.media.ServeTrack(w, r, track)
}

func (a *API) handleArt(w http.ResponseWriter, r *http.Request) {
	track, ok := a.lookupTrack(w, r)
	if !ok {
		return
	}
	a.media.ServeArt(w, r, track)
}

func (a *API) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

type queueRequest struct {
	TrackIDs   []string `json:"track_ids"`
	StartIndex *int     `json:"start_index,omitempty"`
	Autoplay   bool     `json:"autoplay"`
	Query      string   `json:"query,omitempty"`
}

// handleQueueSet replaces the player queue. Callers either name track IDs
// explicitly or omit them to queue the whole catalog (optionally filtered).
func (a *API) handleQueueSet(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	var queue []playback.Track
	if len(req.TrackIDs) > 0 {
		for _, id := range req.TrackIDs {
			track, err := a.store.Get(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown_track:%s", id))
				return
			}
			queue = append(queue, playableTrack(*track))
		}
	} else {
		tracks, err := a.store.List(r.Context(), req.Query)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list_failed")
			return
		}
		for _, t := range tracks {
			queue = append(queue, playableTrack(t))
		}
	}

	a.player.SetQueue(queue)

	if req.StartIndex != nil {
		if err := a.player.PlayTrackAt(*req.StartIndex); err != nil {
			writeError(w, http.StatusBadRequest, "index_out_of_range")
			return
		}
	} else if req.Autoplay && len(queue) > 0 {
		a.player.Play()
	}

	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

type playRequest struct {
	Index *int `json:"index,omitempty"`
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body")
			return
		}
	}

	if req.Index != nil {
		if err := a.player.PlayTrackAt(*req.Index); err != nil {
			writeError(w, http.StatusBadRequest, "index_out_of_range")
			return
		}
	} else {
		a.player.Play()
	}
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.player.Pause()
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

func (a *API) handleNext(w http.ResponseWriter, r *http.Request) {
	a.player.Next()
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

func (a *API) handlePrevious(w http.ResponseWriter, r *http.Request) {
	a.player.Previous()
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

type seekRequest struct {
	Seconds float64 `json:"seconds"`
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	a.player.Seek(req.Seconds)
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	a.player.SetVolume(req.Volume)
	writeJSON(w, http.StatusOK, a.player.Snapshot())
}

func (a *API) handleRepeatToggle(w http.ResponseWriter, r *http.Request) {
	mode := a.player.ToggleRepeat()
	writeJSON(w, http.StatusOK, map[string]any{"repeatMode": mode})
}

func (a *API) handleShuffleToggle(w http.ResponseWriter, r *http.Request) {
	mode := a.player.ToggleShuffle()
	writeJSON(w, http.StatusOK, map[string]any{"orderMode": mode})
}

// handleScan kicks off a library scan in the background. Progress arrives on
// the event bus and the websocket.
func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	go func() {
		if _, err := a.scanner.Scan(context.Background()); err != nil {
			a.logger.Error().Err(err).Msg("requested scan failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

// lookupTrack resolves the trackID URL parameter, writing the error response
// itself when the track is unknown.
func (a *API) lookupTrack(w http.ResponseWriter, r *http.Request) (*library.Track, bool) {
	id := chi.URLParam(r, "trackID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return nil, false
	}

	track, err := a.store.Get(r.Context(), id)
	if errors.Is(err, library.ErrTrackNotFound) {
		writeError(w, http.StatusNotFound, "track_not_found")
		return nil, false
	}
	if err != nil {
		a.logger.Error().Err(err).Str("track_id", id).Msg("track lookup failed")
		writeError(w, http.StatusInternalServerError, "lookup_failed")
		return nil, false
	}
	return track, true
}

// playableTrack converts a catalog row into the queue entry shape the
// player and the UI consume.
func playableTrack(t library.Track) playback.Track {
	out := playback.Track{
		ID:              t.ID,
		Title:           t.Title,
		Artist:          t.Artist,
		Album:           t.Album,
		DurationSeconds: t.DurationSeconds,
		PlayableURL:     fmt.Sprintf("/api/v1/stream/%s", t.ID),
	}
	if t.HasArt {
		out.CoverArtURL = fmt.Sprintf("/api/v1/art/%s", t.ID)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
