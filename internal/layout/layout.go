// Package layout owns the published library tree: it maps metadata to the
// "{artist}/{title}/{title}.{ext}" layout, resolves name collisions and moves
// files into place.
package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Fallback is used when a component sanitizes to nothing.
const Fallback = "untitled"

// maxComponentBytes keeps "{title} (n).{ext}" under the usual 255-byte name limit.
const maxComponentBytes = 180

// MaxCollisionSuffix bounds the " (n)" search.
const MaxCollisionSuffix = 9999

// ErrCollisionUnresolvable is returned when every suffix up to MaxCollisionSuffix is taken.
var ErrCollisionUnresolvable = errors.New("destination collision unresolvable")

var (
	// reIllegalChars matches characters not allowed in path components.
	reIllegalChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	// reMultiSpace matches runs of whitespace.
	reMultiSpace = regexp.MustCompile(`\s+`)
)

// SanitizeComponent turns a metadata value into a safe single path component.
func SanitizeComponent(s string) string {
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reIllegalChars.ReplaceAllString(s, "")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = strings.Trim(s, ". ")
	s = truncate(s, maxComponentBytes)
	s = strings.Trim(s, ". ")
	if s == "" {
		return Fallback
	}
	return s
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Suffixed returns the title used for the n-th collision ("T (n)"); n == 0 is the title itself.
func Suffixed(title string, n int) string {
	if n == 0 {
		return title
	}
	return title + " (" + strconv.Itoa(n) + ")"
}

// RelPath returns the library-relative path for a track.
func RelPath(artist, title, ext string) string {
	a := SanitizeComponent(artist)
	t := SanitizeComponent(title)
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return filepath.Join(a, t, t+"."+ext)
}

// Destination returns the unsuffixed absolute destination for a track.
func Destination(root, artist, title, ext string) string {
	return filepath.Join(root, RelPath(artist, title, ext))
}

// NextFree returns the first destination for the track that does not exist yet,
// appending " (1)", " (2)", ... to both the title directory and the file name.
// A path equal to self counts as free so a file can keep its own place.
// Callers must hold a Claim on the artist directory until the move completes.
func NextFree(root, artist, title, ext, self string) (string, error) {
	t := SanitizeComponent(title)
	for n := 0; n <= MaxCollisionSuffix; n++ {
		dest := Destination(root, artist, Suffixed(t, n), ext)
		if self != "" && dest == self {
			return dest, nil
		}
		_, err := os.Lstat(dest)
		if errors.Is(err, os.ErrNotExist) {
			return dest, nil
		}
		if err != nil {
			return "", fmt.Errorf("check destination: %w", err)
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrCollisionUnresolvable, SanitizeComponent(artist), t)
}

// RemoveEmptyDirs removes dir and its empty parents up to, not including, stop.
func RemoveEmptyDirs(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
