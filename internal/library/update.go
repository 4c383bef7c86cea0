package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/layout"
	"github.com/llehouerou/shelf/internal/tags"
)

// TrackUpdate is a partial edit; nil fields are left unchanged.
type TrackUpdate struct {
	Title       *string `json:"title,omitempty"`
	Artist      *string `json:"artist,omitempty"`
	Album       *string `json:"album,omitempty"`
	AlbumArtist *string `json:"album_artist,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	Year        *int    `json:"year,omitempty"`
}

// Empty reports whether the update carries no field.
func (u TrackUpdate) Empty() bool {
	return u.Title == nil && u.Artist == nil && u.Album == nil &&
		u.AlbumArtist == nil && u.Genre == nil && u.Year == nil
}

// Validate rejects values that cannot be written: blank title, artist or
// album and years outside 0-9999.
func (u TrackUpdate) Validate() error {
	for name, v := range map[string]*string{"title": u.Title, "artist": u.Artist, "album": u.Album} {
		if v != nil && strings.TrimSpace(*v) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidField, name)
		}
	}
	if u.Year != nil && (*u.Year < 0 || *u.Year > 9999) {
		return fmt.Errorf("%w: year %d", ErrInvalidField, *u.Year)
	}
	return nil
}

func (u TrackUpdate) apply(t *tags.Tag) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Artist != nil {
		t.Artist = *u.Artist
		// Album artist follows artist unless set explicitly.
		if u.AlbumArtist == nil {
			t.AlbumArtist = *u.Artist
		}
	}
	if u.Album != nil {
		t.Album = *u.Album
	}
	if u.AlbumArtist != nil {
		t.AlbumArtist = *u.AlbumArtist
	}
	if u.Genre != nil {
		t.Genre = *u.Genre
	}
	if u.Year != nil {
		t.Date = ""
		if *u.Year > 0 {
			t.Date = strconv.Itoa(*u.Year)
		}
	}
}

// BatchError describes one failed track of a batch update.
type BatchError struct {
	TrackID  int64  `json:"track_id"`
	FilePath string `json:"file_path,omitempty"`
	Error    string `json:"error"`
}

// BatchResult reports per-track outcomes of a batch update.
type BatchResult struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors"`
}

func trackKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// UpdateTrack writes u to the track's file and refreshes its row. When the
// title or artist changes the file is moved to its layout path right away and
// emptied directories are removed. If the move fails the row still reflects
// the new tags at the old path and the move error is returned.
func (l *Library) UpdateTrack(ctx context.Context, id int64, u TrackUpdate) (Track, error) {
	if err := u.Validate(); err != nil {
		return Track{}, err
	}

	unlock := l.tracks.Lock(trackKey(id))
	defer unlock()

	old, err := l.Track(ctx, id)
	if err != nil {
		return Track{}, err
	}
	if u.Empty() {
		return old, nil
	}
	if err := l.checkFile(ctx, old); err != nil {
		return Track{}, err
	}

	if err := tags.Edit(old.Path, u.apply); err != nil {
		return Track{}, err
	}

	updated, err := l.readTrack(old.Path, 0)
	if err != nil {
		return Track{}, fmt.Errorf("reread tags: %w", err)
	}

	var moveErr error
	if updated.Title != old.Title || updated.Artist != old.Artist {
		var dest string
		dest, moveErr = l.relocate(ctx, old.Path, old.Artist, updated.Artist, updated.Title)
		if moveErr == nil {
			updated.Path = dest
		}
	}

	if info, err := os.Stat(updated.Path); err == nil {
		updated.Mtime = info.ModTime().UnixNano()
	}
	if err := l.rewriteRow(ctx, id, updated); err != nil {
		return Track{}, fmt.Errorf("update index: %w", err)
	}
	if moveErr != nil {
		return Track{}, moveErr
	}

	l.logger.Info("track updated",
		zap.Int64("track_id", id),
		zap.String("path", updated.Path),
	)
	return l.Track(ctx, id)
}

// relocate moves a track to the layout path for (artist, title) while holding
// claims on both the old and the new artist directories.
func (l *Library) relocate(ctx context.Context, src, oldArtist, artist, title string) (string, error) {
	keys := []string{layout.SanitizeComponent(oldArtist), layout.SanitizeComponent(artist)}
	slices.Sort(keys)
	keys = slices.Compact(keys)

	for _, k := range keys {
		release, err := l.claimer.Claim(ctx, k)
		if err != nil {
			return "", fmt.Errorf("claim destination: %w", err)
		}
		defer release()
	}

	dest, err := layout.NextFree(l.root, artist, title, filepath.Ext(src), src)
	if err != nil {
		return "", err
	}
	if dest == src {
		return src, nil
	}
	if err := layout.Move(ctx, src, dest); err != nil {
		return "", fmt.Errorf("move track: %w", err)
	}
	layout.RemoveEmptyDirs(filepath.Dir(src), l.root)

	var size string
	if info, err := os.Stat(dest); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	l.logger.Info("track relocated",
		zap.String("from", src),
		zap.String("to", dest),
		zap.String("size", size),
	)
	return dest, nil
}

// rewriteRow replaces every indexed field of a track, including its path.
func (l *Library) rewriteRow(ctx context.Context, id int64, t Track) error {
	// A stale row may still point at the new path.
	if _, err := l.db.ExecContext(ctx, `DELETE FROM library_tracks WHERE path = ? AND id != ?`, t.Path, id); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE library_tracks SET
			path = ?, mtime = ?, title = ?, artist = ?, album_artist = ?, album = ?,
			genre = ?, year = ?, track_number = ?, has_artwork = ?, updated_at = ?
		WHERE id = ?
	`, t.Path, t.Mtime, t.Title, t.Artist, t.AlbumArtist, t.Album,
		db.NullString(t.Genre), db.NullInt(t.Year), db.NullInt(t.TrackNumber), db.BoolInt(t.HasArtwork),
		time.Now().UnixNano(), id)
	return err
}

// checkFile verifies the file behind t still exists. A vanished file drops
// the stale row so the index follows the filesystem.
func (l *Library) checkFile(ctx context.Context, t Track) error {
	_, err := os.Stat(t.Path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("track file: %w", err)
	}
	if err := l.RemoveTrack(ctx, t.Path); err != nil {
		l.logger.Warn("drop stale track", zap.String("path", t.Path), zap.Error(err))
	}
	return fmt.Errorf("%w: file missing at %s", ErrNotFound, t.Path)
}

// BatchUpdate applies u to every track independently. A failing track is
// recorded in the result and the remaining tracks are still updated. The
// error is only set when u itself is invalid.
func (l *Library) BatchUpdate(ctx context.Context, ids []int64, u TrackUpdate) (BatchResult, error) {
	if err := u.Validate(); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{Total: len(ids), Errors: []BatchError{}}
	for _, id := range ids {
		var path string
		if t, err := l.Track(ctx, id); err == nil {
			path = t.Path
		}
		_, err := l.UpdateTrack(ctx, id, u)
		if err == nil {
			result.Successful++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, BatchError{TrackID: id, FilePath: path, Error: err.Error()})
		l.logger.Warn("batch update track", zap.Int64("track_id", id), zap.Error(err))
	}
	return result, nil
}

// UpdateArtwork replaces the embedded artwork of a track.
func (l *Library) UpdateArtwork(ctx context.Context, id int64, data []byte) (Track, error) {
	if !tags.IsSupportedImage(data) {
		return Track{}, ErrUnsupportedImage
	}

	unlock := l.tracks.Lock(trackKey(id))
	defer unlock()

	t, err := l.Track(ctx, id)
	if err != nil {
		return Track{}, err
	}
	if err := l.checkFile(ctx, t); err != nil {
		return Track{}, err
	}
	if err := tags.Edit(t.Path, func(tag *tags.Tag) { tag.CoverArt = data }); err != nil {
		return Track{}, err
	}

	t.HasArtwork = true
	if info, err := os.Stat(t.Path); err == nil {
		t.Mtime = info.ModTime().UnixNano()
	}
	if err := l.rewriteRow(ctx, id, t); err != nil {
		return Track{}, fmt.Errorf("update index: %w", err)
	}
	return l.Track(ctx, id)
}

// Artwork returns the artwork embedded in a track's file.
func (l *Library) Artwork(ctx context.Context, id int64) ([]byte, string, error) {
	t, err := l.Track(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, mime, err := tags.ReadPicture(t.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, t.Path)
	}
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", ErrNoArtwork
	}
	return data, mime, nil
}
