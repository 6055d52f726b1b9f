package library

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsAudioFile(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/music/song.mp3", true},
		{"/music/song.MP3", true},
		{"/music/song.flac", true},
		{"/music/song.ogg", true},
		{"/music/song.wav", true},
		{"/music/cover.jpg", false},
		{"/music/notes.txt", false},
		{"/music/noext", false},
	}
	for _, tc := range cases {
		if got := IsAudioFile(tc.path); got != tc.want {
			t.Errorf("IsAudioFile(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestReadMetadataFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Basement Tape.mp3")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	meta, err := readMetadata(path)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.Title != "Basement Tape" {
		t.Fatalf("expected filename-derived title, got %q", meta.Title)
	}
	if meta.DurationSeconds != 0 {
		t.Fatalf("undecodable file reported duration %v", meta.DurationSeconds)
	}
}

func TestReadMetadataMissingFile(t *testing.T) {
	if _, err := readMetadata("/nonexistent/song.mp3"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPictureExtension(t *testing.T) {
	if got := pictureExtension("image/png"); got != ".png" {
		t.Fatalf("png: %q", got)
	}
	if got := pictureExtension("image/jpeg"); got != ".jpg" {
		t.Fatalf("jpeg: %q", got)
	}
	if got := pictureExtension(""); got != ".jpg" {
		t.Fatalf("default: %q", got)
	}
}
