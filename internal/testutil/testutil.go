// Package testutil provides fixtures shared by package tests: synthetic audio
// files, tiny images and an on-disk database.
package testutil

import (
	"bytes"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/tags"
)

// mp3Frame returns a minimal MPEG1 Layer3 frame (128kbps, 44100Hz, stereo).
func mp3Frame() []byte {
	frame := make([]byte, 417)
	frame[0] = 0xff
	frame[1] = 0xfb
	frame[2] = 0x90
	frame[3] = 0x00
	return frame
}

// WriteMP3 creates an MP3 file at path (creating parent directories) and
// tags it with t when t is non-nil.
func WriteMP3(tb testing.TB, path string, t *tags.Tag) string {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(path, mp3Frame(), 0o644); err != nil {
		tb.Fatalf("create mp3: %v", err)
	}
	if t != nil {
		if err := tags.Write(path, t); err != nil {
			tb.Fatalf("write mp3 tags: %v", err)
		}
	}
	return path
}

// PNG returns a small valid PNG image of the given size.
func PNG(tb testing.TB, w, h int) []byte {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// OpenDB opens a migrated database file inside a temp dir and closes it on cleanup.
func OpenDB(tb testing.TB) *sql.DB {
	tb.Helper()
	conn, err := db.Open(filepath.Join(tb.TempDir(), "shelf.db"))
	if err != nil {
		tb.Fatalf("open db: %v", err)
	}
	tb.Cleanup(func() { conn.Close() })
	return conn
}
