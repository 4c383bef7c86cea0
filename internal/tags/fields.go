package tags

import "strconv"

// Vorbis comment keys. FLAC and Ogg share them; M4A reuses the totals as
// freeform atoms.
const (
	keyTitle       = "TITLE"
	keyArtist      = "ARTIST"
	keyAlbumArtist = "ALBUMARTIST"
	keyAlbum       = "ALBUM"
	keyGenre       = "GENRE"
	keyDate        = "DATE"
	keyYear        = "YEAR"
	keyTrackNumber = "TRACKNUMBER"
	keyTotalTracks = "TOTALTRACKS"
	keyDiscNumber  = "DISCNUMBER"
	keyTotalDiscs  = "TOTALDISCS"
)

// field is one key/value pair written to a tag container.
type field struct {
	key   string
	value string
}

// fieldList collects the non-empty values of a Tag.
type fieldList []field

func (l *fieldList) text(key, value string) {
	if value != "" {
		*l = append(*l, field{key, value})
	}
}

func (l *fieldList) number(key string, n int) {
	if n > 0 {
		*l = append(*l, field{key, strconv.Itoa(n)})
	}
}

// vorbisComments lists t as Vorbis comments, totals in their own keys.
func (t *Tag) vorbisComments() fieldList {
	var l fieldList
	l.text(keyTitle, t.Title)
	l.text(keyArtist, t.Artist)
	l.text(keyAlbumArtist, t.AlbumArtist)
	l.text(keyAlbum, t.Album)
	l.text(keyGenre, t.Genre)
	l.text(keyDate, t.Date)
	l.number(keyTrackNumber, t.TrackNumber)
	l.number(keyTotalTracks, t.TotalTracks)
	l.number(keyDiscNumber, t.DiscNumber)
	l.number(keyTotalDiscs, t.TotalDiscs)
	return l
}

// id3Frames lists t as ID3v2.4 text frames. Totals ride along as "N/M".
func (t *Tag) id3Frames() fieldList {
	var l fieldList
	l.text("TIT2", t.Title)
	l.text("TPE1", t.Artist)
	l.text("TPE2", t.AlbumArtist)
	l.text("TALB", t.Album)
	l.text("TCON", t.Genre)
	l.text("TDRC", t.Date)
	if t.TrackNumber > 0 {
		l.text("TRCK", numberPair(t.TrackNumber, t.TotalTracks))
	}
	if t.DiscNumber > 0 {
		l.text("TPOS", numberPair(t.DiscNumber, t.TotalDiscs))
	}
	return l
}

// numberPair formats "N" or "N/M".
func numberPair(n, total int) string {
	if total > 0 {
		return strconv.Itoa(n) + "/" + strconv.Itoa(total)
	}
	return strconv.Itoa(n)
}
