package tags

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestAudio encodes one second of sine into dir/test.<ext> with ffmpeg.
func createTestAudio(t *testing.T, dir, ext, codec string) string {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skipf("ffmpeg not available: %v", err)
	}
	path := filepath.Join(dir, "test"+ext)

	cmd := exec.Command("ffmpeg", "-y", "-f", "lavfi", "-i", "sine=frequency=440:duration=1", "-c:a", codec, path)
	cmd.Stderr = nil
	cmd.Stdout = nil
	if err := cmd.Run(); err != nil {
		t.Skipf("ffmpeg cannot encode %s: %v", codec, err)
	}
	return path
}

func createTestFLAC(t *testing.T, dir string) string {
	return createTestAudio(t, dir, ExtFLAC, "flac")
}

func createTestM4A(t *testing.T, dir string) string {
	return createTestAudio(t, dir, ExtM4A, "aac")
}

func createTestOgg(t *testing.T, dir string) string {
	return createTestAudio(t, dir, ExtOGG, "libvorbis")
}

// testPNG returns a small decodable PNG.
func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := range 8 {
		for y := range 8 {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func arabicTag(art []byte) *Tag {
	return &Tag{
		Title:       "زواج الغالي",
		Artist:      "ملا حاتم العبدالله",
		AlbumArtist: "ملا حاتم العبدالله",
		Album:       "زواج الغالي",
		Genre:       "لطميات",
		Date:        "2024",
		TrackNumber: 1,
		TotalTracks: 1,
		CoverArt:    art,
	}
}

var formatFixtures = []struct {
	name   string
	create func(t *testing.T, dir string) string
}{
	{"flac", createTestFLAC},
	{"m4a", createTestM4A},
	{"ogg", createTestOgg},
}

func TestWrite_Roundtrip(t *testing.T) {
	for _, tt := range formatFixtures {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.create(t, t.TempDir())
			art := testPNG(t)
			want := arabicTag(art)
			require.NoError(t, Write(path, want))

			got, err := ReadFull(path)
			require.NoError(t, err)
			assert.Equal(t, want.Title, got.Title)
			assert.Equal(t, want.Artist, got.Artist)
			assert.Equal(t, want.AlbumArtist, got.AlbumArtist)
			assert.Equal(t, want.Album, got.Album)
			assert.Equal(t, want.Genre, got.Genre)
			assert.Equal(t, 2024, got.Year())
			assert.Equal(t, 1, got.TrackNumber)
			assert.Equal(t, art, got.CoverArt)

			data, mime, err := ReadPicture(path)
			require.NoError(t, err)
			assert.Equal(t, art, data)
			assert.Equal(t, "image/png", mime)
			assert.True(t, HasPicture(path))
		})
	}
}

func TestWrite_ReplacesPreviousTags(t *testing.T) {
	for _, tt := range formatFixtures {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.create(t, t.TempDir())
			require.NoError(t, Write(path, arabicTag(nil)))
			require.NoError(t, Write(path, &Tag{Title: "New", Artist: "Someone"}))

			got, err := Read(path)
			require.NoError(t, err)
			assert.Equal(t, "New", got.Title)
			assert.Equal(t, "Someone", got.Artist)
			assert.Empty(t, got.Genre)
		})
	}
}

func TestEdit_PreservesArtwork(t *testing.T) {
	for _, tt := range formatFixtures {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.create(t, t.TempDir())
			art := testPNG(t)
			require.NoError(t, Write(path, arabicTag(art)))

			require.NoError(t, Edit(path, func(tag *Tag) { tag.Genre = "  قصائد  " }))

			got, err := ReadFull(path)
			require.NoError(t, err)
			assert.Equal(t, "قصائد", got.Genre)
			assert.Equal(t, "زواج الغالي", got.Title)
			assert.Equal(t, "ملا حاتم العبدالله", got.AlbumArtist)
			assert.Equal(t, art, got.CoverArt)
		})
	}
}

func TestWrite_ArtworkIsNotDuplicated(t *testing.T) {
	for _, tt := range formatFixtures {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.create(t, t.TempDir())
			first := testPNG(t)
			require.NoError(t, Write(path, arabicTag(first)))
			require.NoError(t, Write(path, arabicTag(first)))
			second := append(append([]byte{}, first...), 0)
			require.NoError(t, Write(path, arabicTag(second)))

			data, _, err := ReadPicture(path)
			require.NoError(t, err)
			assert.Equal(t, second, data)
		})
	}
}
