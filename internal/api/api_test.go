package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	ws "nhooyr.io/websocket"

	"github.com/wrenlabs/bassline/internal/events"
	"github.com/wrenlabs/bassline/internal/library"
	"github.com/wrenlabs/bassline/internal/media"
	"github.com/wrenlabs/bassline/internal/platform/platformtest"
	"github.com/wrenlabs/bassline/internal/playback"
)

type fixture struct {
	api      *API
	router   chi.Router
	store    *library.Store
	player   *playback.Orchestrator
	fake     *platformtest.Fake
	musicDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	store, err := library.NewStore(db, zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	musicDir := t.TempDir()
	artDir := t.TempDir()
	bus := events.NewBus()

	fake := platformtest.New()
	fake.AutoLoadDuration = 120
	player, err := playback.NewOrchestrator(fake, bus, nil, rand.New(rand.NewSource(1)), playback.Options{
		AutoplayRetryDelay: 5 * time.Millisecond,
		AnalyzerTick:       time.Millisecond,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(player.Close)

	mediaSvc := media.NewService([]string{musicDir}, artDir, nil, zerolog.Nop())
	scanner := library.NewScanner(store, []string{musicDir}, artDir, 2, bus, nil, zerolog.Nop())

	a := New(store, mediaSvc, player, scanner, bus, nil, 50*time.Millisecond, zerolog.Nop())
	router := chi.NewRouter()
	a.Routes(router)

	return &fixture{
		api:      a,
		router:   router,
		store:    store,
		player:   player,
		fake:     fake,
		musicDir: musicDir,
	}
}

func (f *fixture) addTrack(t *testing.T, title, artist string) library.Track {
	t.Helper()
	path := filepath.Join(f.musicDir, title+".mp3")
	if err := os.WriteFile(path, []byte("stub audio "+title), 0o644); err != nil {
		t.Fatalf("write track file: %v", err)
	}
	track := library.Track{
		ID:              uuid.NewString(),
		Path:            path,
		Title:           title,
		Artist:          artist,
		Album:           "Test Album",
		DurationSeconds: 120,
	}
	if err := f.store.Upsert(context.Background(), &track); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return track
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestTracksListAndSearch(t *testing.T) {
	f := newFixture(t)
	f.addTrack(t, "Night Drive", "Neon City")
	f.addTrack(t, "Morning Light", "Someone Else")

	rec := f.do(t, http.MethodGet, "/api/v1/tracks/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Tracks []playback.Track `json:"tracks"`
		Count  int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 tracks, got %d", resp.Count)
	}
	if !strings.HasPrefix(resp.Tracks[0].PlayableURL, "/api/v1/stream/") {
		t.Fatalf("unexpected playable URL %q", resp.Tracks[0].PlayableURL)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/tracks/?q=neon", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Tracks[0].Artist != "Neon City" {
		t.Fatalf("unexpected search result %+v", resp)
	}
}

func TestTrackGetUnknown(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/tracks/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStreamServesRangeRequests(t *testing.T) {
	f := newFixture(t)
	track := f.addTrack(t, "Ranged", "Artist")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream/"+track.ID, nil)
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status %d", rec.Code)
	}
	if rec.Body.String() != "stub" {
		t.Fatalf("range body %q", rec.Body.String())
	}
}

func TestQueueSetWithStartIndexBeginsPlayback(t *testing.T) {
	f := newFixture(t)
	a := f.addTrack(t, "Alpha", "Artist")
	b := f.addTrack(t, "Beta", "Artist")

	rec := f.do(t, http.MethodPost, "/api/v1/player/queue", queueRequest{
		TrackIDs:   []string{a.ID, b.ID},
		StartIndex: intPtr(1),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	waitForState(t, f.player, playback.StatePlaying)
	snap := f.player.Snapshot()
	if snap.Index != 1 || snap.Track == nil || snap.Track.ID != b.ID {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestQueueSetUnknownTrackRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/player/queue", queueRequest{
		TrackIDs: []string{uuid.NewString()},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestPlayerIntents(t *testing.T) {
	f := newFixture(t)
	a := f.addTrack(t, "Alpha", "Artist")
	b := f.addTrack(t, "Beta", "Artist")

	rec := f.do(t, http.MethodPost, "/api/v1/player/queue", queueRequest{
		TrackIDs:   []string{a.ID, b.ID},
		StartIndex: intPtr(0),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("queue status %d", rec.Code)
	}
	waitForState(t, f.player, playback.StatePlaying)

	rec = f.do(t, http.MethodPost, "/api/v1/player/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status %d", rec.Code)
	}
	if f.player.Snapshot().PlaybackState != playback.StatePaused {
		t.Fatalf("expected paused, got %s", f.player.Snapshot().PlaybackState)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/player/volume", volumeRequest{Volume: 0.4})
	if rec.Code != http.StatusOK {
		t.Fatalf("volume status %d", rec.Code)
	}
	if v := f.player.Snapshot().Volume; v != 0.4 {
		t.Fatalf("volume %v", v)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/player/seek", seekRequest{Seconds: 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("seek status %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/player/next", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("next status %d", rec.Code)
	}
	if idx := f.player.Snapshot().Index; idx != 1 {
		t.Fatalf("expected index 1 after next, got %d", idx)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/player/repeat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat status %d", rec.Code)
	}
	var repeatResp struct {
		RepeatMode playback.RepeatMode `json:"repeatMode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &repeatResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if repeatResp.RepeatMode != playback.RepeatAll {
		t.Fatalf("expected repeat all, got %s", repeatResp.RepeatMode)
	}
}

func TestScanEndpointAccepted(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/library/scan", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestStateSocketPushesSnapshots(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/player/ws"
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg stateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if msg.Type != "snapshot" {
		t.Fatalf("expected initial snapshot frame, got %q", msg.Type)
	}
	if msg.Snapshot.PlaybackState != playback.StateIdle {
		t.Fatalf("expected idle player, got %s", msg.Snapshot.PlaybackState)
	}
}

func waitForState(t *testing.T, player *playback.Orchestrator, want playback.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if player.Snapshot().PlaybackState == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("player never reached %s, now %s", want, player.Snapshot().PlaybackState)
}

func intPtr(v int) *int { return &v }
