package library

import (
	"cmp"
	"slices"
	"strings"

	"github.com/llehouerou/shelf/internal/db"
)

// Sort orders.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Query selects, orders and pages one of the catalog views.
// Unknown sort keys fall back to the view's default key.
type Query struct {
	Search    string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int

	// Track filters. Artist also filters albums.
	Artist string
	Album  string
	Genre  string
}

func (q Query) desc() bool {
	return strings.EqualFold(q.SortOrder, SortDesc)
}

// likePattern case-folds and escapes s for a foldedLike substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(db.Fold(s)) + "%"
}

// foldedLike matches expr against a likePattern in any script's case.
func foldedLike(expr string) string {
	return db.FoldFunc + "(" + expr + `) LIKE ? ESCAPE '\'`
}

func appendCond(where, cond string) string {
	if where == "" {
		return " WHERE " + cond
	}
	return where + " AND " + cond
}

// nameFilter matches the search term against a single column.
func (q Query) nameFilter(column string) (string, []any) {
	search := strings.TrimSpace(q.Search)
	if search == "" {
		return "", nil
	}
	return " WHERE " + foldedLike(column), []any{likePattern(search)}
}

var trackSearchColumns = []string{"title", "artist", "album_artist", "album", "genre"}

func (q Query) trackFilter() (string, []any) {
	var where string
	var args []any

	if search := strings.TrimSpace(q.Search); search != "" {
		pattern := likePattern(search)
		conds := make([]string, len(trackSearchColumns))
		for i, col := range trackSearchColumns {
			conds[i] = foldedLike("COALESCE(" + col + ", '')")
			args = append(args, pattern)
		}
		where = appendCond(where, "("+strings.Join(conds, " OR ")+")")
	}
	if q.Artist != "" {
		where = appendCond(where, `(artist = ? OR album_artist = ?)`)
		args = append(args, q.Artist, q.Artist)
	}
	if q.Album != "" {
		where = appendCond(where, `album = ?`)
		args = append(args, q.Album)
	}
	if q.Genre != "" {
		where = appendCond(where, `genre = ?`)
		args = append(args, q.Genre)
	}
	return where, args
}

// trackOrderColumns whitelists the sortable track columns.
var trackOrderColumns = map[string]string{
	"title":        "title COLLATE NOCASE",
	"artist":       "artist COLLATE NOCASE",
	"album":        "album COLLATE NOCASE",
	"year":         "COALESCE(year, 0)",
	"track_number": "COALESCE(track_number, 0)",
}

func (q Query) trackOrder() string {
	col, ok := trackOrderColumns[q.SortBy]
	if !ok {
		col = trackOrderColumns["artist"]
	}
	dir := " ASC"
	if q.desc() {
		dir = " DESC"
	}
	return " ORDER BY " + col + dir + ", album COLLATE NOCASE, COALESCE(track_number, 0), title COLLATE NOCASE, id"
}

func compareNames(a, b string) int {
	if c := cmp.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}

func sortBy[T any](items []T, desc bool, primary func(a, b T) int, tie func(a, b T) int) {
	slices.SortStableFunc(items, func(a, b T) int {
		c := primary(a, b)
		if desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return tie(a, b)
	})
}

func sortArtists(artists []Artist, key string, desc bool) {
	byName := func(a, b Artist) int { return compareNames(a.Name, b.Name) }
	switch key {
	case "track_count":
		sortBy(artists, desc, func(a, b Artist) int { return cmp.Compare(a.TrackCount, b.TrackCount) }, byName)
	case "album_count":
		sortBy(artists, desc, func(a, b Artist) int { return cmp.Compare(a.AlbumCount, b.AlbumCount) }, byName)
	default:
		sortBy(artists, desc, byName, byName)
	}
}

func sortAlbums(albums []Album, key string, desc bool) {
	byName := func(a, b Album) int {
		if c := compareNames(a.Name, b.Name); c != 0 {
			return c
		}
		return compareNames(a.Artist, b.Artist)
	}
	switch key {
	case "year":
		sortBy(albums, desc, func(a, b Album) int { return cmp.Compare(a.Year, b.Year) }, byName)
	case "track_count":
		sortBy(albums, desc, func(a, b Album) int { return cmp.Compare(a.TrackCount, b.TrackCount) }, byName)
	case "artist":
		sortBy(albums, desc, func(a, b Album) int { return compareNames(a.Artist, b.Artist) }, byName)
	default:
		sortBy(albums, desc, byName, byName)
	}
}

func sortGenres(genres []Genre, key string, desc bool) {
	byName := func(a, b Genre) int { return compareNames(a.Name, b.Name) }
	if key == "track_count" {
		sortBy(genres, desc, func(a, b Genre) int { return cmp.Compare(a.TrackCount, b.TrackCount) }, byName)
		return
	}
	sortBy(genres, desc, byName, byName)
}

// paginate returns the requested window of items and the total count.
// A non-positive limit returns everything after offset.
func paginate[T any](items []T, limit, offset int) ([]T, int) {
	total := len(items)
	offset = max(offset, 0)
	if offset >= total {
		return []T{}, total
	}
	end := total
	if limit > 0 {
		end = min(offset+limit, total)
	}
	return items[offset:end], total
}
