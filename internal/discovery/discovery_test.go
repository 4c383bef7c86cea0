package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/llehouerou/shelf/internal/artwork"
	"github.com/llehouerou/shelf/internal/events"
	"github.com/llehouerou/shelf/internal/inference"
	"github.com/llehouerou/shelf/internal/pending"
	"github.com/llehouerou/shelf/internal/tags"
	"github.com/llehouerou/shelf/internal/testutil"
)

type fakeInferrer struct {
	mu    sync.Mutex
	calls int
	fn    func(videoTitle, channel string) (inference.Result, error)
}

func (f *fakeInferrer) Infer(ctx context.Context, videoTitle, channel string) (inference.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(videoTitle, channel)
}

func (f *fakeInferrer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeIndex map[string]bool

func (f fakeIndex) Has(_ context.Context, path string) (bool, error) {
	return f[path], nil
}

type fixture struct {
	root     string
	store    *pending.Store
	art      *artwork.Cache
	notifier *events.Notifier
	sub      *events.Subscription
	infer    *fakeInferrer
	scanner  *Scanner
}

func newFixture(t *testing.T, index Index) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		root:     filepath.Join(dir, "incoming"),
		store:    pending.NewStore(testutil.OpenDB(t)),
		art:      artwork.New(filepath.Join(dir, "artwork")),
		notifier: events.New(nil),
		infer: &fakeInferrer{fn: func(videoTitle, channel string) (inference.Result, error) {
			return inference.Result{Title: videoTitle, Artist: channel, Raw: "title: " + videoTitle + "\nartist: " + channel}, nil
		}},
	}
	require.NoError(t, os.MkdirAll(f.root, 0o755))
	f.sub = f.notifier.Subscribe()
	t.Cleanup(f.sub.Close)
	f.scanner = New(Config{Root: f.root, Workers: 2, InferenceTimeout: time.Second},
		f.store, f.infer, f.art, f.notifier, index, nil, nil)
	return f
}

func (f *fixture) file(t *testing.T, name string, tag *tags.Tag) string {
	t.Helper()
	return testutil.WriteMP3(t, filepath.Join(f.root, name), tag)
}

func (f *fixture) run(t *testing.T) Summary {
	t.Helper()
	s, err := f.scanner.RunOnce(context.Background())
	require.NoError(t, err)
	return s
}

func (f *fixture) only(t *testing.T) pending.Item {
	t.Helper()
	items, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func (f *fixture) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-f.sub.C:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestRunOnce_InfersNewFile(t *testing.T) {
	f := newFixture(t, nil)
	path := f.file(t, "زواج الغالي###ملا حاتم العبدالله.mp3", nil)

	s := f.run(t)
	assert.Equal(t, Summary{Seen: 1, Created: 1}, s)

	it := f.only(t)
	assert.Equal(t, path, it.SourcePath)
	assert.Equal(t, "زواج الغالي", it.VideoTitle)
	assert.Equal(t, "ملا حاتم العبدالله", it.Channel)
	assert.Equal(t, "mp3", it.Extension)
	assert.Equal(t, pending.StatusInferred, it.Status)
	assert.Equal(t, "زواج الغالي", it.InferredTitle)
	assert.Equal(t, "ملا حاتم العبدالله", it.CurrentArtist)
	assert.Empty(t, it.Genre)
	assert.NotEmpty(t, it.RawResponse)

	evs := f.drain()
	require.Len(t, evs, 2)
	assert.Equal(t, events.NewItem, evs[0].Type)
	assert.Equal(t, events.ItemUpdated, evs[1].Type)
	assert.Equal(t, string(pending.StatusInferred), evs[1].Status)
	assert.Equal(t, it.ID, evs[1].ItemID)
}

func TestRunOnce_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.file(t, "a###b.mp3", nil)

	f.run(t)
	s := f.run(t)

	assert.Equal(t, Summary{Seen: 1}, s)
	assert.Equal(t, 1, f.infer.Calls())
	f.only(t)
}

func TestRunOnce_EmbeddedTagsWin(t *testing.T) {
	f := newFixture(t, nil)
	art := testutil.PNG(t, 2, 2)
	f.file(t, "video###channel.mp3", &tags.Tag{Title: "Real Title", Artist: "Real Artist", CoverArt: art})

	f.run(t)

	it := f.only(t)
	assert.Equal(t, pending.StatusInferred, it.Status)
	assert.Equal(t, "Real Title", it.CurrentTitle)
	assert.Equal(t, "Real Artist", it.CurrentArtist)
	assert.Equal(t, "video", it.InferredTitle, "inferred values are kept for audit")
	assert.True(t, it.ArtworkPresent)

	data, mime, err := f.art.Load(it.ID)
	require.NoError(t, err)
	assert.Equal(t, art, data)
	assert.Equal(t, "image/png", mime)
}

func TestRunOnce_ParseFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.file(t, "no separator.mp3", nil)

	s := f.run(t)
	assert.Equal(t, 1, s.Failed)

	it := f.only(t)
	assert.Equal(t, pending.StatusError, it.Status)
	assert.Contains(t, it.ErrorMessage, "separator")
	assert.Equal(t, "no separator", it.VideoTitle)
	assert.Zero(t, f.infer.Calls())

	evs := f.drain()
	require.Len(t, evs, 2)
	assert.Equal(t, events.ItemError, evs[1].Type)
	assert.Equal(t, it.ErrorMessage, evs[1].Message)
}

func TestRunOnce_InferenceFailure(t *testing.T) {
	t.Run("untagged file errors with the message", func(t *testing.T) {
		f := newFixture(t, nil)
		f.infer.fn = func(string, string) (inference.Result, error) {
			return inference.Result{}, errors.New("quota exceeded")
		}
		f.file(t, "a###b.mp3", nil)

		f.run(t)

		it := f.only(t)
		assert.Equal(t, pending.StatusError, it.Status)
		assert.Contains(t, it.ErrorMessage, "quota exceeded")
	})

	t.Run("complete embedded tags still infer", func(t *testing.T) {
		f := newFixture(t, nil)
		f.infer.fn = func(string, string) (inference.Result, error) {
			return inference.Result{}, errors.New("quota exceeded")
		}
		f.file(t, "a###b.mp3", &tags.Tag{Title: "T", Artist: "A"})

		f.run(t)

		it := f.only(t)
		assert.Equal(t, pending.StatusInferred, it.Status)
		assert.Empty(t, it.ErrorMessage)
		assert.Empty(t, it.InferredTitle)
	})

	t.Run("timeout is a failure, not a stall", func(t *testing.T) {
		f := newFixture(t, nil)
		f.scanner = New(Config{Root: f.root, InferenceTimeout: 50 * time.Millisecond},
			f.store, &fakeInferrer{fn: func(string, string) (inference.Result, error) {
				time.Sleep(time.Second)
				return inference.Result{Title: "late", Artist: "late"}, nil
			}}, f.art, f.notifier, nil, nil, nil)
		f.file(t, "a###b.mp3", nil)

		start := time.Now()
		f.run(t)
		assert.Less(t, time.Since(start), 900*time.Millisecond)

		it := f.only(t)
		assert.Equal(t, pending.StatusError, it.Status)
		assert.Contains(t, it.ErrorMessage, "timed out")
	})
}

func TestRunOnce_IncompleteNeedsManual(t *testing.T) {
	f := newFixture(t, nil)
	f.infer.fn = func(videoTitle, _ string) (inference.Result, error) {
		return inference.Result{Title: videoTitle}, nil
	}
	f.file(t, "a###b.mp3", nil)

	f.run(t)

	it := f.only(t)
	assert.Equal(t, pending.StatusNeedsManual, it.Status)
	assert.Equal(t, "a", it.CurrentTitle)
	assert.Empty(t, it.CurrentArtist)
}

func TestRunOnce_NoBackend(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner = New(Config{Root: f.root}, f.store, nil, f.art, f.notifier, nil, nil, nil)
	f.file(t, "a###b.mp3", nil)

	f.run(t)

	it := f.only(t)
	assert.Equal(t, pending.StatusError, it.Status)
	assert.Contains(t, it.ErrorMessage, "no inference backend")
}

func TestRunOnce_SkipsPublishedAndIgnoredFiles(t *testing.T) {
	f := newFixture(t, fakeIndex{})
	path := f.file(t, "a###b.mp3", nil)
	f.scanner.index = fakeIndex{path: true}
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "cover.jpg"), []byte("x"), 0o644))
	f.file(t, ".hidden###x.mp3", nil)

	s := f.run(t)

	assert.Equal(t, 1, s.Seen)
	assert.Zero(t, s.Created)
	items, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRunOnce_SkipsNestedLibraryRoot(t *testing.T) {
	f := newFixture(t, nil)
	lib := filepath.Join(f.root, "library")
	f.scanner.cfg.LibraryRoot = lib
	testutil.WriteMP3(t, filepath.Join(lib, "A", "T", "T.mp3"), nil)
	f.file(t, "a###b.mp3", nil)

	s := f.run(t)
	assert.Equal(t, 1, s.Seen)
}

func TestRunOnce_ReconcilesVanishedFiles(t *testing.T) {
	f := newFixture(t, nil)
	path := f.file(t, "a###b.mp3", &tags.Tag{Title: "T", Artist: "A", CoverArt: testutil.PNG(t, 2, 2)})
	f.run(t)
	it := f.only(t)
	f.drain()

	require.NoError(t, os.Remove(path))
	s := f.run(t)

	assert.Equal(t, 1, s.Removed)
	_, err := f.store.Get(context.Background(), it.ID)
	require.ErrorIs(t, err, pending.ErrNotFound)
	assert.False(t, f.art.Has(it.ID))

	evs := f.drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.ItemDeleted, evs[0].Type)
	assert.Equal(t, it.ID, evs[0].ItemID)
}

func TestRunOnce_Busy(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner.cycle.Lock()
	defer f.scanner.cycle.Unlock()

	_, err := f.scanner.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrBusy)
}

func TestRunOnce_MissingRoot(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(f.root))

	_, err := f.scanner.RunOnce(context.Background())
	require.Error(t, err)
}

func TestRunOnce_ManyFilesInParallel(t *testing.T) {
	f := newFixture(t, nil)
	for i := range 12 {
		f.file(t, "title "+string(rune('a'+i))+"###ch.mp3", nil)
	}

	s := f.run(t)

	assert.Equal(t, 12, s.Created)
	items, err := f.store.List(context.Background(), pending.StatusInferred)
	require.NoError(t, err)
	assert.Len(t, items, 12)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.scanner.cfg.Interval = 10 * time.Millisecond
	f.file(t, "a###b.mp3", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scanner.Run(ctx) }()

	require.Eventually(t, func() bool { return f.infer.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_TriggersOnNewAudioFile(t *testing.T) {
	root := t.TempDir()
	var fired atomic.Int32
	w, err := newWatcher(root, 20*time.Millisecond, zap.NewNop(), func() { fired.Add(1) })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	testutil.WriteMP3(t, filepath.Join(root, "a###b.mp3"), nil)

	require.Eventually(t, func() bool { return fired.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
