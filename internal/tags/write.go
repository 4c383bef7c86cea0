package tags

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Write writes tag metadata to a music file, replacing the existing tag set.
// The file must already exist. This operation modifies the file in place.
// Writing the same Tag twice leaves the file in the same state.
func Write(path string, t *Tag) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ExtMP3:
		return writeMP3Tags(path, t)
	case ExtFLAC:
		return writeFLACTags(path, t)
	case ExtOGG:
		return writeOggTags(path, t)
	case ExtM4A:
		return writeM4ATags(path, t)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
}

// Edit reads the current tags and artwork, applies fn, and writes the result back.
// Fields fn leaves untouched, including embedded artwork, survive the rewrite.
func Edit(path string, fn func(t *Tag)) error {
	t, err := ReadFull(path)
	if err != nil {
		return fmt.Errorf("read tags: %w", err)
	}
	fn(t)
	t.Sanitize()
	if err := Write(path, t); err != nil {
		return fmt.Errorf("write tags: %w", err)
	}
	return nil
}

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

// DetectMimeType detects the MIME type of image data.
// Unknown data is reported as JPEG, which is what players assume for untyped covers.
func DetectMimeType(data []byte) string {
	if len(data) == 0 {
		return mimeJPEG
	}
	switch http.DetectContentType(data) {
	case mimePNG:
		return mimePNG
	default:
		return mimeJPEG
	}
}

// IsSupportedImage reports whether data is a JPEG or PNG image.
func IsSupportedImage(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch http.DetectContentType(data) {
	case mimeJPEG, mimePNG:
		return true
	}
	return false
}
