// Package merge decides the initial metadata of a pending item from the
// inference result and the tags already embedded in the file.
package merge

import (
	"strings"

	"github.com/llehouerou/shelf/internal/inference"
	"github.com/llehouerou/shelf/internal/tags"
)

// Resolution is the authoritative initial record for a pending item.
// Album and album artist follow from the title and artist at confirm time
// (pending.Item.Album) and are not resolved here.
type Resolution struct {
	Title  string
	Artist string
	// Genre is always empty: it waits for an explicit user choice.
	Genre string

	// Artwork is the embedded cover, nil when the file has none.
	Artwork []byte
}

// Resolve merges inferred and embedded metadata. Either argument may be nil.
// Non-empty embedded title/artist win over inferred values, field by field.
func Resolve(inferred *inference.Result, embedded *tags.Tag) Resolution {
	var r Resolution
	if embedded != nil {
		r.Title = strings.TrimSpace(embedded.Title)
		r.Artist = strings.TrimSpace(embedded.Artist)
		if len(embedded.CoverArt) > 0 {
			r.Artwork = embedded.CoverArt
		}
	}
	if inferred != nil {
		if r.Title == "" {
			r.Title = strings.TrimSpace(inferred.Title)
		}
		if r.Artist == "" {
			r.Artist = strings.TrimSpace(inferred.Artist)
		}
	}
	return r
}

// Complete reports whether title and artist are both present.
func (r Resolution) Complete() bool {
	return len(r.Missing()) == 0
}

// Missing lists the required discovery fields left empty.
func (r Resolution) Missing() []string {
	var missing []string
	if r.Title == "" {
		missing = append(missing, "title")
	}
	if r.Artist == "" {
		missing = append(missing, "artist")
	}
	return missing
}

// HasArtwork reports whether embedded artwork was found.
func (r Resolution) HasArtwork() bool {
	return len(r.Artwork) > 0
}
