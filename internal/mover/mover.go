// Package mover publishes confirmed pending items: it writes the final tags,
// picks a collision-free destination and moves the file into the library.
package mover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/llehouerou/shelf/internal/layout"
	"github.com/llehouerou/shelf/internal/pending"
	"github.com/llehouerou/shelf/internal/tags"
)

// ErrValidationFailed is returned by Confirm when the dry-run checks fail.
// It wraps a *pending.ValidationError naming the failed fields or checks.
var ErrValidationFailed = errors.New("validation failed")

// MoveError reports a failure after confirm started touching the file.
// The pending item is kept so the confirm can be retried.
type MoveError struct {
	Stage string
	Path  string
	Err   error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *MoveError) Unwrap() error {
	return e.Err
}

// Recoverable is always true: the source file and the pending item survive.
func (e *MoveError) Recoverable() bool {
	return true
}

// Metadata is the tag set written on confirm.
type Metadata struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"album_artist"`
	Genre       string `json:"genre"`
}

// Report is the side-effect free preview of a confirm.
type Report struct {
	ItemID   string   `json:"item_id"`
	Metadata Metadata `json:"metadata"`
	// Destination is the canonical path before collision suffixing.
	Destination string `json:"destination"`
	// ResolvedDestination is where the file would land right now.
	ResolvedDestination string   `json:"resolved_destination"`
	MissingFields       []string `json:"missing_fields"`
	LibraryWritable     bool     `json:"library_writable"`
	DestinationWritable bool     `json:"destination_writable"`
	SourceWritable      bool     `json:"source_writable"`
	Problems            []string `json:"problems"`
	CanConfirm          bool     `json:"can_confirm"`
}

// Engine computes previews and performs confirms against one library root.
type Engine struct {
	root    string
	claimer *layout.Claimer
	logger  *zap.Logger

	move func(ctx context.Context, src, dst string) error
}

// New creates an engine publishing into root. Pass the claimer shared with
// the library index; nil creates a private one.
func New(root string, claimer *layout.Claimer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if claimer == nil {
		claimer = layout.NewClaimer(root)
	}
	return &Engine{
		root:    root,
		claimer: claimer,
		logger:  logger,
		move:    layout.Move,
	}
}

// MetadataFor returns the tags confirm would write for it.
func MetadataFor(it pending.Item) Metadata {
	return Metadata{
		Title:       it.CurrentTitle,
		Artist:      it.CurrentArtist,
		Album:       it.Album(),
		AlbumArtist: it.AlbumArtist(),
		Genre:       it.Genre,
	}
}

// DryRun checks whether it can be confirmed and where it would go.
// It never mutates anything and is safe to call concurrently.
func (e *Engine) DryRun(it pending.Item) Report {
	r := Report{
		ItemID:        it.ID,
		Metadata:      MetadataFor(it),
		MissingFields: it.MissingFields(),
		Problems:      []string{},
	}
	if r.MissingFields == nil {
		r.MissingFields = []string{}
	}
	for _, f := range r.MissingFields {
		r.Problems = append(r.Problems, "missing "+f)
	}

	r.Destination = layout.Destination(e.root, it.CurrentArtist, it.CurrentTitle, it.Extension)
	if len(r.MissingFields) == 0 {
		if dest, err := layout.NextFree(e.root, it.CurrentArtist, it.CurrentTitle, it.Extension, ""); err == nil {
			r.ResolvedDestination = dest
		} else {
			r.Problems = append(r.Problems, err.Error())
		}
	}

	if err := layout.Writable(e.root); err == nil {
		r.LibraryWritable = true
	} else {
		r.Problems = append(r.Problems, "library root: "+err.Error())
	}
	if err := layout.Writable(filepath.Dir(r.Destination)); err == nil {
		r.DestinationWritable = true
	} else {
		r.Problems = append(r.Problems, "destination: "+err.Error())
	}
	if err := sourceWritable(it.SourcePath); err == nil {
		r.SourceWritable = true
	} else {
		r.Problems = append(r.Problems, "source: "+err.Error())
	}

	if it.Status != pending.StatusInferred {
		r.Problems = append(r.Problems, fmt.Sprintf("status is %s, expected %s", it.Status, pending.StatusInferred))
	}

	r.CanConfirm = len(r.Problems) == 0
	return r
}

// validationError converts a failed report into the confirm error.
func validationError(r Report, status pending.Status) error {
	ve := &pending.ValidationError{Err: pending.ErrMissingFields}
	switch {
	case len(r.MissingFields) > 0:
		ve = pending.MissingFieldsError(r.MissingFields)
	case status != pending.StatusInferred:
		ve.Err = pending.ErrInvalidTransition
		ve.Reason = fmt.Sprintf("item is %s, only %s items can be confirmed", status, pending.StatusInferred)
	default:
		if !r.LibraryWritable {
			ve.Fields = append(ve.Fields, "library_root")
		}
		if !r.DestinationWritable {
			ve.Fields = append(ve.Fields, "destination")
		}
		if !r.SourceWritable {
			ve.Fields = append(ve.Fields, "source")
		}
		ve.Err = layout.ErrNotWritable
		if len(ve.Fields) == 0 {
			ve.Err = layout.ErrCollisionUnresolvable
		}
		ve.Reason = fmt.Sprint(r.Problems)
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, ve)
}

// Confirm writes the final tags to the source file and moves it into the
// library, returning the destination. The caller removes the pending item on
// success; on a *MoveError the item must be kept for a retry.
func (e *Engine) Confirm(ctx context.Context, it pending.Item) (string, error) {
	r := e.DryRun(it)
	if !r.CanConfirm {
		return "", validationError(r, it.Status)
	}
	meta := r.Metadata

	err := tags.Edit(it.SourcePath, func(t *tags.Tag) {
		t.Title = meta.Title
		t.Artist = meta.Artist
		t.Album = meta.Album
		t.AlbumArtist = meta.AlbumArtist
		t.Genre = meta.Genre
	})
	if err != nil {
		return "", &MoveError{Stage: "write tags", Path: it.SourcePath, Err: err}
	}

	release, err := e.claimer.Claim(ctx, meta.Artist)
	if err != nil {
		return "", &MoveError{Stage: "claim destination", Path: it.SourcePath, Err: err}
	}
	defer release()

	dest, err := layout.NextFree(e.root, meta.Artist, meta.Title, it.Extension, "")
	if err != nil {
		if errors.Is(err, layout.ErrCollisionUnresolvable) {
			return "", err
		}
		return "", &MoveError{Stage: "resolve destination", Path: it.SourcePath, Err: err}
	}

	if err := e.move(ctx, it.SourcePath, dest); err != nil {
		return "", &MoveError{Stage: "move", Path: it.SourcePath, Err: err}
	}

	fields := []zap.Field{
		zap.String("item_id", it.ID),
		zap.String("source_path", it.SourcePath),
		zap.String("destination", dest),
	}
	if info, err := os.Stat(dest); err == nil {
		fields = append(fields, zap.String("size", humanize.Bytes(uint64(info.Size())))) //nolint:gosec // file sizes are non-negative
	}
	e.logger.Info("published", fields...)
	return dest, nil
}

func sourceWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("%w: %s: %w", layout.ErrNotWritable, path, err)
	}
	return layout.Writable(filepath.Dir(path))
}
