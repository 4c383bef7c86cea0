package tags

import (
	"go.senan.xyz/taglib"
)

// readWithTaglib reads M4A, FLAC and Ogg metadata using TagLib as fallback
// when dhowden/tag fails (ffmpeg-created M4A, some FLAC and Ogg files).
func readWithTaglib(path string) (*Tag, error) {
	rawTags, err := taglib.ReadTags(path)
	if err != nil {
		return nil, err
	}
	tags := taglibTags(rawTags)

	trackNum, trackTotal := parseNumberPair(tags.get(taglib.TrackNumber))
	discNum, discTotal := parseNumberPair(tags.get(taglib.DiscNumber))
	if trackTotal == 0 {
		trackTotal = tags.getInt(keyTotalTracks)
	}
	if discTotal == 0 {
		discTotal = tags.getInt(keyTotalDiscs)
	}

	t := &Tag{
		Path:        path,
		Title:       tags.get(taglib.Title),
		Artist:      tags.get(taglib.Artist),
		AlbumArtist: tags.get(taglib.AlbumArtist),
		Album:       tags.get(taglib.Album),
		Genre:       tags.get(taglib.Genre),
		Date:        tags.get(taglib.Date, keyYear),
		TrackNumber: trackNum,
		TotalTracks: trackTotal,
		DiscNumber:  discNum,
		TotalDiscs:  discTotal,
	}
	t.Sanitize()
	return t, nil
}

// readTaglibDate fills the full date from the DATE property when present.
func readTaglibDate(path string, t *Tag) {
	rawTags, err := taglib.ReadTags(path)
	if err != nil {
		return
	}
	if date := taglibTags(rawTags).get(taglib.Date, keyYear); date != "" {
		t.Date = date
	}
}

// readTaglibPicture returns the first embedded image TagLib can find.
func readTaglibPicture(path string) []byte {
	data, err := taglib.ReadImage(path)
	if err != nil {
		return nil
	}
	return data
}
