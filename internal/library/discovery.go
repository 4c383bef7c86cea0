package library

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/llehouerou/shelf/internal/tags"
)

type fileInfo struct {
	path  string
	mtime int64
}

// discoverFiles walks root and returns every music file found.
// Unreadable entries are skipped so one bad directory never aborts a rescan.
func discoverFiles(root string) []fileInfo {
	var files []fileInfo
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // intentionally skipping errors
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !tags.IsMusicFile(path) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil //nolint:nilerr // intentionally skipping errors
		}

		files = append(files, fileInfo{path: path, mtime: info.ModTime().UnixNano()})
		return nil
	})
	return files
}

// relativePath returns the path relative to root, or the full path if not under root.
func relativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
