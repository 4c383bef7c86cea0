// Package filename decodes downloaded file names of the form
// "{video_title}###{channel}.{ext}".
package filename

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/llehouerou/shelf/internal/tags"
)

// Separator splits the video title from the channel in a file stem.
const Separator = "###"

// ErrUnsupportedFormat is returned for names that do not follow the
// separator grammar or carry an unsupported extension.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Parsed is the decoded form of a discovered file name.
type Parsed struct {
	VideoTitle string
	Channel    string
	// Extension is lowercase and has no leading dot.
	Extension string
}

// Parse decodes path. The stem must contain exactly one separator with a
// non-blank part on each side, and the extension must be one of the
// supported audio formats.
func Parse(path string) (Parsed, error) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext == "" || !tags.IsSupportedExt(ext) {
		return Parsed{}, fmt.Errorf("%w: extension %q not supported", ErrUnsupportedFormat, ext)
	}
	stem := strings.TrimSuffix(base, ext)

	switch n := strings.Count(stem, Separator); n {
	case 1:
	case 0:
		return Parsed{}, fmt.Errorf("%w: missing %q separator in %q", ErrUnsupportedFormat, Separator, base)
	default:
		return Parsed{}, fmt.Errorf("%w: %d %q separators in %q", ErrUnsupportedFormat, n, Separator, base)
	}

	title, channel, _ := strings.Cut(stem, Separator)
	title = strings.TrimSpace(title)
	channel = strings.TrimSpace(channel)
	if title == "" || channel == "" {
		return Parsed{}, fmt.Errorf("%w: empty video title or channel in %q", ErrUnsupportedFormat, base)
	}
	return Parsed{
		VideoTitle: title,
		Channel:    channel,
		Extension:  strings.ToLower(strings.TrimPrefix(ext, ".")),
	}, nil
}
