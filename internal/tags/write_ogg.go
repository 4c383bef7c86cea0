package tags

import (
	"fmt"

	"go.senan.xyz/taglib"
)

// writeOggTags replaces the Vorbis comments of an Ogg file through TagLib.
func writeOggTags(path string, t *Tag) error {
	comments := t.vorbisComments()
	props := make(map[string][]string, len(comments))
	for _, c := range comments {
		props[c.key] = []string{c.value}
	}

	// Clear drops every property missing from props.
	if err := taglib.WriteTags(path, props, taglib.Clear); err != nil {
		return fmt.Errorf("write tags: %w", err)
	}
	if len(t.CoverArt) > 0 {
		if err := taglib.WriteImage(path, t.CoverArt); err != nil {
			return fmt.Errorf("write cover art: %w", err)
		}
	}
	return nil
}
