package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrNotWritable is returned when a directory cannot be written.
var ErrNotWritable = errors.New("not writable")

// Writable reports whether files can be created at path. When path does not
// exist yet, its nearest existing ancestor must be a writable directory.
func Writable(path string) error {
	dir := filepath.Clean(path)
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return fmt.Errorf("%w: %s is not a directory", ErrNotWritable, dir)
			}
			if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrNotWritable, dir, err)
			}
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s: %w", ErrNotWritable, dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("%w: no existing ancestor of %s", ErrNotWritable, path)
		}
		dir = parent
	}
}
