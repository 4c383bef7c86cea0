package tags

import (
	"fmt"
	"os"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// writeFLACTags replaces the Vorbis comment block of a FLAC file and, when
// t carries artwork, its picture blocks.
func writeFLACTags(path string, t *Tag) error {
	f, err := openFLAC(path)
	if err != nil {
		return fmt.Errorf("parse file: %w", err)
	}

	vc := flacvorbis.New()
	for _, c := range t.vorbisComments() {
		if err := vc.Add(c.key, c.value); err != nil {
			return fmt.Errorf("add %s: %w", c.key, err)
		}
	}
	comments := vc.Marshal()
	replaceMeta(f, flac.VorbisComment, &comments)

	if len(t.CoverArt) > 0 {
		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover,
			"Front Cover",
			t.CoverArt,
			DetectMimeType(t.CoverArt),
		)
		if err != nil {
			return fmt.Errorf("create picture: %w", err)
		}
		block := pic.Marshal()
		replaceMeta(f, flac.Picture, &block)
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	return nil
}

// openFLAC parses path, first dropping an ID3v2 tag some encoders put in
// front of the fLaC marker.
func openFLAC(path string) (*flac.File, error) {
	f, err := flac.ParseFile(path)
	if err == nil {
		return f, nil
	}

	n, lenErr := leadingID3Len(path)
	if lenErr != nil || n == 0 || !hasFLACMarkerAt(path, n) {
		return nil, err
	}
	if err := stripLeadingID3(path, n); err != nil {
		return nil, fmt.Errorf("strip ID3v2 header: %w", err)
	}
	return flac.ParseFile(path)
}

func hasFLACMarkerAt(path string, off int64) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	marker := make([]byte, 4)
	if _, err := file.ReadAt(marker, off); err != nil {
		return false
	}
	return string(marker) == "fLaC"
}

// replaceMeta swaps every metadata block of typ for block, keeping the
// position of the first one. Without an existing block, block is appended.
func replaceMeta(f *flac.File, typ flac.BlockType, block *flac.MetaDataBlock) {
	out := make([]*flac.MetaDataBlock, 0, len(f.Meta)+1)
	placed := false
	for _, m := range f.Meta {
		if m.Type != typ {
			out = append(out, m)
			continue
		}
		if !placed {
			out = append(out, block)
			placed = true
		}
	}
	if !placed {
		out = append(out, block)
	}
	f.Meta = out
}
