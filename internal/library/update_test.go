package library

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/shelf/internal/tags"
	"github.com/llehouerou/shelf/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func (f *fixture) indexed(t *testing.T, path string) Track {
	t.Helper()
	track, err := f.lib.AddTrack(context.Background(), path)
	require.NoError(t, err)
	return track
}

func TestUpdateTrack_GenreOnlyKeepsPath(t *testing.T) {
	f := newFixture(t)
	track := f.indexed(t, f.publish(t, "A", "T", "", 0))

	got, err := f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{Genre: ptr("لطميات"), Year: ptr(2020)})
	require.NoError(t, err)

	assert.Equal(t, track.Path, got.Path)
	assert.Equal(t, "لطميات", got.Genre)
	assert.Equal(t, 2020, got.Year)

	onDisk, err := tags.Read(track.Path)
	require.NoError(t, err)
	assert.Equal(t, "لطميات", onDisk.Genre)
	assert.Equal(t, 2020, onDisk.Year())
}

func TestUpdateTrack_TitleRelocates(t *testing.T) {
	f := newFixture(t)
	track := f.indexed(t, f.publish(t, "A", "Old", "", 0))

	got, err := f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{Title: ptr("New")})
	require.NoError(t, err)

	want := filepath.Join(f.root, "A", "New", "New.mp3")
	assert.Equal(t, want, got.Path)
	assert.Equal(t, track.ID, got.ID)
	assert.FileExists(t, want)
	assert.NoDirExists(t, filepath.Join(f.root, "A", "Old"))

	onDisk, err := tags.Read(want)
	require.NoError(t, err)
	assert.Equal(t, "New", onDisk.Title)
}

func TestUpdateTrack_ArtistRelocatesAndFollowsAlbumArtist(t *testing.T) {
	f := newFixture(t)
	track := f.indexed(t, f.publish(t, "A", "T", "", 0))

	got, err := f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{Artist: ptr("B")})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.root, "B", "T", "T.mp3"), got.Path)
	assert.Equal(t, "B", got.AlbumArtist)
	assert.NoDirExists(t, filepath.Join(f.root, "A"))
}

func TestUpdateTrack_CollisionGetsSuffix(t *testing.T) {
	f := newFixture(t)
	f.indexed(t, f.publish(t, "A", "Taken", "", 0))
	track := f.indexed(t, f.publish(t, "A", "Other", "", 0))

	got, err := f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{Title: ptr("Taken")})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.root, "A", "Taken (1)", "Taken (1).mp3"), got.Path)
	assert.FileExists(t, filepath.Join(f.root, "A", "Taken", "Taken.mp3"))
}

func TestUpdateTrack_Validation(t *testing.T) {
	f := newFixture(t)
	track := f.indexed(t, f.publish(t, "A", "T", "", 0))

	_, err := f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{Title: ptr("  ")})
	require.ErrorIs(t, err, ErrInvalidField)

	_, err = f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{Year: ptr(-1)})
	require.ErrorIs(t, err, ErrInvalidField)

	_, err = f.lib.UpdateTrack(context.Background(), 999, TrackUpdate{Genre: ptr("x")})
	require.ErrorIs(t, err, ErrNotFound)

	got, err := f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{})
	require.NoError(t, err)
	assert.Equal(t, track, got)
}

func TestUpdateTrack_ConcurrentSameTrack(t *testing.T) {
	f := newFixture(t)
	track := f.indexed(t, f.publish(t, "A", "T", "", 0))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Go(func() {
			_, errs[i] = f.lib.UpdateTrack(context.Background(), track.ID, TrackUpdate{Genre: ptr("G")})
		})
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := f.lib.Track(context.Background(), track.ID)
	require.NoError(t, err)
	assert.Equal(t, "G", got.Genre)
	assert.Equal(t, track.Path, got.Path)
}

func TestBatchUpdate_PartialFailure(t *testing.T) {
	f := newFixture(t)
	var ids []int64
	var paths []string
	for _, title := range []string{"One", "Two", "Three", "Four", "Five"} {
		track := f.indexed(t, f.publish(t, "A", title, "", 0))
		ids = append(ids, track.ID)
		paths = append(paths, track.Path)
	}
	require.NoError(t, os.Remove(paths[2]))

	result, err := f.lib.BatchUpdate(context.Background(), ids, TrackUpdate{Genre: ptr("لطميات")})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Successful)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ids[2], result.Errors[0].TrackID)
	assert.Equal(t, paths[2], result.Errors[0].FilePath)
	_, err = f.lib.Track(context.Background(), ids[2])
	assert.ErrorIs(t, err, ErrNotFound, "row for a vanished file is dropped")

	for i, p := range paths {
		if i == 2 {
			continue
		}
		onDisk, err := tags.Read(p)
		require.NoError(t, err)
		assert.Equal(t, "لطميات", onDisk.Genre)
	}
}

func TestBatchUpdate_InvalidUpdate(t *testing.T) {
	f := newFixture(t)
	_, err := f.lib.BatchUpdate(context.Background(), []int64{1}, TrackUpdate{Artist: ptr("")})
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestBatchUpdate_ArtistMovesEveryTrack(t *testing.T) {
	f := newFixture(t)
	a := f.indexed(t, f.publish(t, "Old", "One", "", 0))
	b := f.indexed(t, f.publish(t, "Old", "Two", "", 0))

	result, err := f.lib.BatchUpdate(context.Background(), []int64{a.ID, b.ID}, TrackUpdate{Artist: ptr("New")})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Successful)

	assert.FileExists(t, filepath.Join(f.root, "New", "One", "One.mp3"))
	assert.FileExists(t, filepath.Join(f.root, "New", "Two", "Two.mp3"))
	assert.NoDirExists(t, filepath.Join(f.root, "Old"))
}

func TestUpdateArtwork(t *testing.T) {
	f := newFixture(t)
	track := f.indexed(t, f.publish(t, "A", "T", "", 0))
	ctx := context.Background()

	_, _, err := f.lib.Artwork(ctx, track.ID)
	require.ErrorIs(t, err, ErrNoArtwork)

	_, err = f.lib.UpdateArtwork(ctx, track.ID, []byte("GIF89a not supported"))
	require.ErrorIs(t, err, ErrUnsupportedImage)

	img := testutil.PNG(t, 4, 4)
	got, err := f.lib.UpdateArtwork(ctx, track.ID, img)
	require.NoError(t, err)
	assert.True(t, got.HasArtwork)

	data, mime, err := f.lib.Artwork(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, img, data)

	onDisk, err := tags.Read(track.Path)
	require.NoError(t, err)
	assert.Equal(t, "T", onDisk.Title, "artwork edit keeps text tags")
}
