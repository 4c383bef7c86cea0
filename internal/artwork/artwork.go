// Package artwork caches cover images extracted from pending items, keyed by
// item id, and serves resized thumbnails of them.
package artwork

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder for cover art
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/nfnt/resize"

	"github.com/llehouerou/shelf/internal/tags"
)

// ErrNotFound is returned when no artwork is cached for an id.
var ErrNotFound = errors.New("artwork not found")

// MaxThumbnailSize bounds the edge length accepted by Thumbnail.
const MaxThumbnailSize = 1024

// Cache stores artwork files in a directory.
type Cache struct {
	dir string
	mu  sync.Mutex

	// resized runs between resizing and caching a thumbnail; tests only.
	resized func()
}

// New returns a cache rooted at dir. The directory is created on first write.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Store saves data as the artwork for id, replacing any previous image.
func (c *Cache) Store(id string, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty artwork")
	}
	if _, _, err := Dimensions(data); err != nil {
		return fmt.Errorf("decode artwork: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create artwork dir: %w", err)
	}
	_ = c.removeLocked(id)
	return os.WriteFile(c.path(id, tags.DetectMimeType(data)), data, 0o644)
}

// Load returns the cached artwork for id and its MIME type.
func (c *Cache) Load(id string) ([]byte, string, error) {
	for _, mime := range []string{"image/jpeg", "image/png"} {
		data, err := os.ReadFile(c.path(id, mime))
		if err == nil {
			return data, mime, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
	}
	return nil, "", ErrNotFound
}

// Has reports whether artwork is cached for id.
func (c *Cache) Has(id string) bool {
	_, _, err := c.Load(id)
	return err == nil
}

// Thumbnail returns the artwork for id scaled to fit within size x size,
// encoded as JPEG. Thumbnails are cached next to the original.
func (c *Cache) Thumbnail(id string, size uint) ([]byte, error) {
	if size == 0 || size > MaxThumbnailSize {
		return nil, fmt.Errorf("thumbnail size must be between 1 and %d", MaxThumbnailSize)
	}

	thumbPath := filepath.Join(c.dir, id+"."+strconv.FormatUint(uint64(size), 10)+".thumb.jpg")
	if data, err := os.ReadFile(thumbPath); err == nil {
		return data, nil
	}

	data, _, err := c.Load(id)
	if err != nil {
		return nil, err
	}
	thumb, err := Resize(data, size)
	if err != nil {
		return nil, err
	}
	if c.resized != nil {
		c.resized()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Delete or Store may have run since Load; a thumbnail cached now would
	// outlive its original or go stale.
	current, _, err := c.Load(id)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(current, data) {
		return thumb, nil
	}
	if err := os.WriteFile(thumbPath, thumb, 0o644); err != nil {
		return nil, err
	}
	return thumb, nil
}

// Delete removes the artwork and every thumbnail cached for id.
func (c *Cache) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

func (c *Cache) removeLocked(id string) error {
	matches, err := filepath.Glob(filepath.Join(c.dir, id+".*"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) path(id, mime string) string {
	ext := ".jpg"
	if mime == "image/png" {
		ext = ".png"
	}
	return filepath.Join(c.dir, id+ext)
}

// Resize scales an encoded image to fit within size x size and re-encodes it
// as JPEG. Images already small enough are only re-encoded.
func Resize(data []byte, size uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resized := resize.Thumbnail(size, size, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions returns the pixel size of an encoded image without decoding it fully.
func Dimensions(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
