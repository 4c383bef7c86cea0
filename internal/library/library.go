// Package library is the catalog of the published tree: a rebuildable SQLite
// view of the files under the library root, with search, sorting, paging and
// tag edits that are always mirrored to disk.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/keylock"
	"github.com/llehouerou/shelf/internal/layout"
)

var (
	ErrNotFound         = errors.New("track not found")
	ErrScanInProgress   = errors.New("library scan already in progress")
	ErrUnsupportedImage = errors.New("unsupported image type, expected JPEG or PNG")
	ErrNoArtwork        = errors.New("track has no artwork")
	ErrInvalidField     = errors.New("invalid field value")
)

const numWorkers = 8

type Track struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	AlbumArtist string `json:"album_artist"`
	Album       string `json:"album"`
	Genre       string `json:"genre"`
	Year        int    `json:"year"`
	TrackNumber int    `json:"track_number"`
	HasArtwork  bool   `json:"has_artwork"`
	// Mtime is the file's modification time in nanoseconds when it was indexed.
	Mtime int64 `json:"-"`
}

type Artist struct {
	Name       string `json:"name"`
	TrackCount int    `json:"track_count"`
	AlbumCount int    `json:"album_count"`
}

type Album struct {
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Year       int    `json:"year"`
	TrackCount int    `json:"track_count"`
	// ArtworkTrackID is a track of the album carrying artwork, 0 when none.
	ArtworkTrackID int64 `json:"artwork_track_id"`
}

type Genre struct {
	Name       string `json:"name"`
	TrackCount int    `json:"track_count"`
}

type Stats struct {
	Tracks  int `json:"total_tracks"`
	Artists int `json:"total_artists"`
	Albums  int `json:"total_albums"`
	Genres  int `json:"total_genres"`
}

// Library indexes the tree under root.
type Library struct {
	db      *sql.DB
	root    string
	claimer *layout.Claimer
	tracks  keylock.Locker
	logger  *zap.Logger

	scanning atomic.Bool
	progress progressTracker
}

// New returns a library over an opened database. claimer must be the one used
// by every other writer of root so renames and publishes never collide.
func New(conn *sql.DB, root string, claimer *layout.Claimer, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	if claimer == nil {
		claimer = layout.NewClaimer(root)
	}
	return &Library{db: conn, root: root, claimer: claimer, logger: logger}
}

const trackColumns = `id, path, mtime, title, artist, album_artist, album, genre, year, track_number, has_artwork`

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(row scanner) (Track, error) {
	var t Track
	var genre sql.NullString
	var year, trackNum sql.NullInt64
	var artwork int
	if err := row.Scan(&t.ID, &t.Path, &t.Mtime, &t.Title, &t.Artist, &t.AlbumArtist, &t.Album,
		&genre, &year, &trackNum, &artwork); err != nil {
		return Track{}, err
	}
	t.Genre = db.NullStringValue(genre)
	t.Year = int(db.NullInt64Value(year))
	t.TrackNumber = int(db.NullInt64Value(trackNum))
	t.HasArtwork = artwork != 0
	return t, nil
}

// Track returns a track by id.
func (l *Library) Track(ctx context.Context, id int64) (Track, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM library_tracks WHERE id = ?`, id)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return t, err
}

// TrackByPath returns the track indexed at path.
func (l *Library) TrackByPath(ctx context.Context, path string) (Track, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM library_tracks WHERE path = ?`, path)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return t, err
}

// Has reports whether a track is indexed at path.
func (l *Library) Has(ctx context.Context, path string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_tracks WHERE path = ?`, path).Scan(&n)
	return n > 0, err
}

// Tracks returns one page of tracks matching q and the total match count.
func (l *Library) Tracks(ctx context.Context, q Query) ([]Track, int, error) {
	where, args := q.trackFilter()

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_tracks`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + trackColumns + ` FROM library_tracks` + where + q.trackOrder()
	if q.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(q.Limit) + ` OFFSET ` + strconv.Itoa(max(q.Offset, 0))
	} else if q.Offset > 0 {
		query += ` LIMIT -1 OFFSET ` + strconv.Itoa(q.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tracks := []Track{}
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, 0, err
		}
		tracks = append(tracks, t)
	}
	return tracks, total, rows.Err()
}

// Artists returns every artist matching q.Search, sorted and paged.
func (l *Library) Artists(ctx context.Context, q Query) ([]Artist, int, error) {
	where, args := q.nameFilter("artist")
	rows, err := l.db.QueryContext(ctx, `
		SELECT artist, COUNT(*), COUNT(DISTINCT album)
		FROM library_tracks`+where+`
		GROUP BY artist
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	artists := []Artist{}
	for rows.Next() {
		var a Artist
		if err := rows.Scan(&a.Name, &a.TrackCount, &a.AlbumCount); err != nil {
			return nil, 0, err
		}
		artists = append(artists, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	sortArtists(artists, q.SortBy, q.desc())
	page, total := paginate(artists, q.Limit, q.Offset)
	return page, total, nil
}

// Albums returns albums matching q.Search (and q.Artist when set), sorted and paged.
func (l *Library) Albums(ctx context.Context, q Query) ([]Album, int, error) {
	where, args := q.nameFilter("album")
	if q.Artist != "" {
		where = appendCond(where, `artist = ?`)
		args = append(args, q.Artist)
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT album, artist, MAX(COALESCE(year, 0)), COUNT(*),
			COALESCE(MIN(CASE WHEN has_artwork = 1 THEN id END), 0)
		FROM library_tracks`+where+`
		GROUP BY artist, album
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	albums := []Album{}
	for rows.Next() {
		var a Album
		if err := rows.Scan(&a.Name, &a.Artist, &a.Year, &a.TrackCount, &a.ArtworkTrackID); err != nil {
			return nil, 0, err
		}
		albums = append(albums, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	sortAlbums(albums, q.SortBy, q.desc())
	page, total := paginate(albums, q.Limit, q.Offset)
	return page, total, nil
}

// Genres returns genres matching q.Search, sorted and paged. Untagged tracks are not counted.
func (l *Library) Genres(ctx context.Context, q Query) ([]Genre, int, error) {
	where, args := q.nameFilter("genre")
	where = appendCond(where, `genre IS NOT NULL AND genre != ''`)
	rows, err := l.db.QueryContext(ctx, `
		SELECT genre, COUNT(*)
		FROM library_tracks`+where+`
		GROUP BY genre
	`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	genres := []Genre{}
	for rows.Next() {
		var g Genre
		if err := rows.Scan(&g.Name, &g.TrackCount); err != nil {
			return nil, 0, err
		}
		genres = append(genres, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	sortGenres(genres, q.SortBy, q.desc())
	page, total := paginate(genres, q.Limit, q.Offset)
	return page, total, nil
}

// Stats returns catalog totals.
func (l *Library) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := l.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT artist),
			COUNT(DISTINCT artist || char(31) || album),
			COUNT(DISTINCT NULLIF(genre, ''))
		FROM library_tracks
	`).Scan(&s.Tracks, &s.Artists, &s.Albums, &s.Genres)
	return s, err
}
