// Package pending holds discovered files awaiting confirmation: the durable
// store, the item lifecycle and the validation of user edits.
package pending

import (
	"time"
)

// Status is the lifecycle state of a pending item.
type Status string

const (
	StatusDiscovered  Status = "discovered"
	StatusInferred    Status = "inferred"
	StatusNeedsManual Status = "needs_manual"
	StatusError       Status = "error"
	// StatusConfirmed is never stored: a confirmed item leaves the store.
	StatusConfirmed Status = "confirmed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDiscovered, StatusInferred, StatusNeedsManual, StatusError, StatusConfirmed:
		return true
	}
	return false
}

// Item is a discovered file awaiting metadata review.
type Item struct {
	ID         string
	SourcePath string

	// Parsed from the file name; immutable.
	VideoTitle string
	Channel    string
	Extension  string

	// Set once from inference; kept as an audit trail.
	InferredTitle  string
	InferredArtist string

	// Working fields edited by the user.
	CurrentTitle  string
	CurrentArtist string
	Genre         string

	ArtworkPresent bool
	Status         Status
	ErrorMessage   string
	RawResponse    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Album is the album written on confirm: every track is its own album.
func (it Item) Album() string {
	return it.CurrentTitle
}

// AlbumArtist is the album artist written on confirm.
func (it Item) AlbumArtist() string {
	return it.CurrentArtist
}

// MissingFields lists the confirm-time required fields that are empty.
func (it Item) MissingFields() []string {
	var missing []string
	if it.CurrentTitle == "" {
		missing = append(missing, "title")
	}
	if it.CurrentArtist == "" {
		missing = append(missing, "artist")
	}
	if it.Genre == "" {
		missing = append(missing, "genre")
	}
	return missing
}
