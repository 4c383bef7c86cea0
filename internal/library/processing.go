package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/tags"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// trackResult is the outcome of reading one file during a rescan.
type trackResult struct {
	track Track
	err   error
}

// readTrack reads a file's tags and applies the indexing fallbacks.
func (l *Library) readTrack(path string, mtime int64) (Track, error) {
	t, err := tags.Read(path)
	if err != nil {
		return Track{}, err
	}
	t.Sanitize()

	track := Track{
		Path:        path,
		Mtime:       mtime,
		Title:       t.Title,
		Artist:      t.Artist,
		AlbumArtist: t.AlbumArtist,
		Album:       t.Album,
		Genre:       t.Genre,
		Year:        t.Year(),
		TrackNumber: t.TrackNumber,
		HasArtwork:  tags.HasPicture(path),
	}
	l.applyFallbacks(&track)
	return track, nil
}

// applyFallbacks fills fields the tags left empty from the file's location:
// title from the file name, album from the parent directory and artist from
// the album artist or the first directory under the root.
func (l *Library) applyFallbacks(t *Track) {
	if t.Title == "" {
		t.Title = strings.TrimSuffix(filepath.Base(t.Path), filepath.Ext(t.Path))
	}
	if t.Album == "" {
		t.Album = filepath.Base(filepath.Dir(t.Path))
	}
	if t.Artist == "" {
		t.Artist = t.AlbumArtist
	}
	if t.Artist == "" {
		rel := relativePath(l.root, t.Path)
		if first, _, ok := strings.Cut(filepath.ToSlash(rel), "/"); ok {
			t.Artist = first
		}
	}
	if t.AlbumArtist == "" {
		t.AlbumArtist = t.Artist
	}
}

// readFiles reads tags for every file in parallel and returns the results in
// completion order.
func (l *Library) readFiles(files []fileInfo) []trackResult {
	workCh := make(chan fileInfo)
	resultCh := make(chan trackResult, len(files))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Go(func() {
			for f := range workCh {
				track, err := l.readTrack(f.path, f.mtime)
				if err != nil {
					err = fmt.Errorf("%s: %w", f.path, err)
				}
				l.progress.advance()
				resultCh <- trackResult{track: track, err: err}
			}
		})
	}

	for _, f := range files {
		workCh <- f
	}
	close(workCh)
	wg.Wait()
	close(resultCh)

	results := make([]trackResult, 0, len(files))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}

// upsertTrack inserts or refreshes a track row. Rows touched after notAfter
// (a concurrent edit during a rescan) are left alone; pass 0 to always write.
func upsertTrack(ctx context.Context, ex execer, t Track, now, notAfter int64) error {
	query := `
		INSERT INTO library_tracks (path, mtime, title, artist, album_artist, album, genre, year, track_number, has_artwork, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime,
			title = excluded.title,
			artist = excluded.artist,
			album_artist = excluded.album_artist,
			album = excluded.album,
			genre = excluded.genre,
			year = excluded.year,
			track_number = excluded.track_number,
			has_artwork = excluded.has_artwork,
			updated_at = excluded.updated_at`
	args := []any{
		t.Path, t.Mtime, t.Title, t.Artist, t.AlbumArtist, t.Album,
		db.NullString(t.Genre), db.NullInt(t.Year), db.NullInt(t.TrackNumber), db.BoolInt(t.HasArtwork),
		now, now,
	}
	if notAfter > 0 {
		query += ` WHERE library_tracks.updated_at <= ?`
		args = append(args, notAfter)
	}
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// AddTrack indexes a single file, typically one just published by the mover.
func (l *Library) AddTrack(ctx context.Context, path string) (Track, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Track{}, fmt.Errorf("stat %s: %w", path, err)
	}
	track, err := l.readTrack(path, info.ModTime().UnixNano())
	if err != nil {
		return Track{}, fmt.Errorf("read tags: %w", err)
	}
	if err := upsertTrack(ctx, l.db, track, time.Now().UnixNano(), 0); err != nil {
		return Track{}, fmt.Errorf("index track: %w", err)
	}
	return l.TrackByPath(ctx, path)
}

// RemoveTrack drops the row indexed at path. Missing rows are not an error.
func (l *Library) RemoveTrack(ctx context.Context, path string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM library_tracks WHERE path = ?`, path)
	return err
}
