package tags

import (
	"fmt"
	"math"

	"github.com/Sorrow446/go-mp4tag"
)

// writeM4ATags rewrites the ilst atoms of an M4A file. The library merges
// into the existing atoms, so the old set is dropped explicitly; pictures
// are kept unless t replaces them.
func writeM4ATags(path string, t *Tag) error {
	mp4, err := mp4tag.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer mp4.Close()

	drop := []string{"alltags"}
	if len(t.CoverArt) > 0 {
		drop = append(drop, "allpictures")
	}
	if err := mp4.Write(m4aTags(t), drop); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// m4aTags maps t onto MP4 atoms. The genre goes to the free-text ©gen atom
// since the numeric gnre atom only knows the ID3v1 list; totals are also
// kept as freeform atoms for readers that ignore trkn/disk totals.
func m4aTags(t *Tag) *mp4tag.MP4Tags {
	var totals fieldList
	totals.number(keyTotalTracks, t.TotalTracks)
	totals.number(keyTotalDiscs, t.TotalDiscs)
	custom := make(map[string]string, len(totals))
	for _, f := range totals {
		custom[f.key] = f.value
	}

	out := &mp4tag.MP4Tags{
		Title:       t.Title,
		Artist:      t.Artist,
		Album:       t.Album,
		AlbumArtist: t.AlbumArtist,
		CustomGenre: t.Genre,
		Date:        t.Date,
		TrackNumber: atomInt(t.TrackNumber),
		TrackTotal:  atomInt(t.TotalTracks),
		DiscNumber:  atomInt(t.DiscNumber),
		DiscTotal:   atomInt(t.TotalDiscs),
		Custom:      custom,
	}
	if len(t.CoverArt) > 0 {
		out.Pictures = []*mp4tag.MP4Picture{{Data: t.CoverArt}}
	}
	return out
}

// atomInt clamps n into the int16 range of the trkn and disk atoms.
func atomInt(n int) int16 {
	return int16(min(max(n, 0), math.MaxInt16))
}
