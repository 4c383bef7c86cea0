package tags

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// Read reads tag metadata from a music file.
// A file that carries no tags at all yields an empty Tag, not an error;
// an error is returned only when the file is missing, unsupported or unreadable.
// Unlike a player view, missing titles are left empty so callers can decide on fallbacks.
func Read(path string) (*Tag, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !IsSupportedExt(ext) {
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		switch ext {
		case ExtMP3:
			// dhowden/tag has issues with some UTF-16 encoded ID3 tags and
			// reports ErrNoTagsFound for bare MPEG streams.
			return readMP3WithID3v2Fallback(path)
		case ExtM4A, ExtFLAC, ExtOGG:
			t, taglibErr := readWithTaglib(path)
			if taglibErr != nil {
				if errors.Is(err, tag.ErrNoTagsFound) {
					return nil, fmt.Errorf("read tags: %w", taglibErr)
				}
				return nil, fmt.Errorf("read tags: %w", err)
			}
			return t, nil
		}
		return nil, err
	}

	track, totalTracks := m.Track()
	disc, totalDiscs := m.Disc()

	t := &Tag{
		Path:        path,
		Title:       m.Title(),
		Artist:      m.Artist(),
		AlbumArtist: m.AlbumArtist(),
		Album:       m.Album(),
		Genre:       m.Genre(),
		Date:        yearToDate(m.Year()),
		TrackNumber: track,
		TotalTracks: totalTracks,
		DiscNumber:  disc,
		TotalDiscs:  totalDiscs,
	}

	// dhowden/tag only exposes the year; prefer the full date where the format carries one.
	switch ext {
	case ExtMP3:
		readMP3Date(path, t)
	case ExtM4A, ExtFLAC, ExtOGG:
		readTaglibDate(path, t)
	}

	t.Sanitize()
	return t, nil
}

// ReadFull reads tag metadata and the embedded front cover, if any.
func ReadFull(path string) (*Tag, error) {
	t, err := Read(path)
	if err != nil {
		return nil, err
	}
	art, _, err := ReadPicture(path)
	if err != nil {
		return nil, err
	}
	t.CoverArt = art
	return t, nil
}

// ReadPicture returns the embedded artwork and its MIME type.
// It returns nil data and a nil error when the file has no artwork.
func ReadPicture(path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err == nil {
		if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
			return pic.Data, DetectMimeType(pic.Data), nil
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	var data []byte
	switch ext {
	case ExtMP3:
		data = readMP3Picture(path)
	case ExtM4A, ExtFLAC, ExtOGG:
		data = readTaglibPicture(path)
	}
	if len(data) == 0 {
		return nil, "", nil
	}
	return data, DetectMimeType(data), nil
}

// HasPicture reports whether the file carries embedded artwork.
func HasPicture(path string) bool {
	data, _, err := ReadPicture(path)
	return err == nil && len(data) > 0
}

// yearToDate converts a year integer to a date string.
// Returns empty string for year 0.
func yearToDate(year int) string {
	if year == 0 {
		return ""
	}
	return strconv.Itoa(year)
}
