// Package tags provides unified tag reading and writing for the audio formats
// accepted by the ingestion pipeline: MP3, M4A, FLAC and Ogg Vorbis.
package tags

import (
	"path/filepath"
	"strconv"
	"strings"
)

// File extensions supported by the tags package.
const (
	ExtMP3  = ".mp3"
	ExtM4A  = ".m4a"
	ExtFLAC = ".flac"
	ExtOGG  = ".ogg"
)

// supportedExts lists the extensions without the leading dot, in display order.
var supportedExts = []string{"mp3", "m4a", "flac", "ogg"}

// Tag contains the tag metadata handled by the pipeline and the library.
type Tag struct {
	Path        string
	Title       string
	Artist      string
	AlbumArtist string
	Album       string
	Genre       string

	// Date is the release date (YYYY-MM-DD or YYYY).
	Date string

	TrackNumber int
	TotalTracks int
	DiscNumber  int
	TotalDiscs  int

	// CoverArt is only populated by ReadFull; Write embeds it when non-empty.
	CoverArt []byte
}

// Year derives the year from the Date field.
// Returns 0 if Date is empty or cannot be parsed.
func (t *Tag) Year() int {
	if t.Date == "" {
		return 0
	}
	year := t.Date
	if len(year) > 4 {
		year = year[:4]
	}
	y, _ := strconv.Atoi(year)
	return y
}

// Sanitize trims surrounding whitespace from every text field.
func (t *Tag) Sanitize() {
	t.Title = strings.TrimSpace(t.Title)
	t.Artist = strings.TrimSpace(t.Artist)
	t.AlbumArtist = strings.TrimSpace(t.AlbumArtist)
	t.Album = strings.TrimSpace(t.Album)
	t.Genre = strings.TrimSpace(t.Genre)
	t.Date = strings.TrimSpace(t.Date)
}

// IsSupportedExt reports whether ext (with or without leading dot, any case)
// is one of the supported audio formats.
func IsSupportedExt(ext string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, e := range supportedExts {
		if e == ext {
			return true
		}
	}
	return false
}

// IsMusicFile returns true if the path has a supported music file extension.
func IsMusicFile(path string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	return IsSupportedExt(ext)
}

// taglibTags wraps a taglib result map with helper methods.
type taglibTags map[string][]string

// get returns the first value for any of the given keys, or empty string if not found.
func (t taglibTags) get(keys ...string) string {
	for _, key := range keys {
		if values, ok := t[key]; ok && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// getInt returns the first value as an integer, or 0 if not found or invalid.
func (t taglibTags) getInt(key string) int {
	if values, ok := t[key]; ok && len(values) > 0 {
		if n, err := strconv.Atoi(values[0]); err == nil {
			return n
		}
	}
	return 0
}

// parseNumberPair parses a track/disc number that may be "N" or "N/M" format.
func parseNumberPair(s string) (num, total int) {
	if s == "" {
		return 0, 0
	}
	if idx := strings.Index(s, "/"); idx > 0 {
		num, _ = strconv.Atoi(strings.TrimSpace(s[:idx]))
		total, _ = strconv.Atoi(strings.TrimSpace(s[idx+1:]))
		return num, total
	}
	num, _ = strconv.Atoi(strings.TrimSpace(s))
	return num, 0
}
