package tags

import (
	"errors"
	"fmt"

	"github.com/bogem/id3v2/v2"
)

// writeMP3Tags replaces the ID3v2 tag of an MP3 file with a v2.4 tag.
// Tags older than v2.3 cannot be parsed by id3v2, so they are dropped first.
func writeMP3Tags(path string, t *Tag) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if errors.Is(err, id3v2.ErrUnsupportedVersion) {
		n, lenErr := leadingID3Len(path)
		if lenErr == nil && n > 0 {
			lenErr = stripLeadingID3(path, n)
		}
		if lenErr != nil {
			return fmt.Errorf("strip old ID3v2 tag: %w", lenErr)
		}
		tag, err = id3v2.Open(path, id3v2.Options{Parse: true})
	}
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer tag.Close()

	tag.DeleteAllFrames()
	tag.SetVersion(4)
	// UTF-8 keeps Arabic titles intact.
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	for _, f := range t.id3Frames() {
		tag.AddTextFrame(f.key, id3v2.EncodingUTF8, f.value)
	}
	if len(t.CoverArt) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    DetectMimeType(t.CoverArt),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     t.CoverArt,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save tags: %w", err)
	}
	return nil
}
