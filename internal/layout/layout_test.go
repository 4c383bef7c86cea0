package layout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSanitizeComponent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Normal Name", "Normal Name"},
		{"AC/DC", "ACDC"},
		{`a<b>c:d"e\f|g?h*i`, "abcdefghi"},
		{"  padded  ", "padded"},
		{"...dots...", "dots"},
		{"Mr. ", "Mr"},
		{"tab\tand\nnewline", "tab and newline"},
		{"", Fallback},
		{"///", Fallback},
		{". .", Fallback},
		{"زواج الغالي", "زواج الغالي"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeComponent(tt.input))
		})
	}
}

func TestSanitizeComponent_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ع", 200) // 400 bytes
	got := SanitizeComponent(long)

	assert.LessOrEqual(t, len(got), maxComponentBytes)
	assert.True(t, utf8.ValidString(got))
}

func TestRelPath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("ملا حاتم العبدالله", "زواج الغالي", "زواج الغالي.mp3"),
		RelPath("ملا حاتم العبدالله", "زواج الغالي", "MP3"))
	assert.Equal(t, filepath.Join("ACDC", "Back", "Back.flac"), RelPath("AC/DC", "Back?", ".flac"))
	assert.Equal(t, "/lib/A/T/T.ogg", Destination("/lib", "A", "T", "ogg"))
}

func TestSuffixed(t *testing.T) {
	assert.Equal(t, "T", Suffixed("T", 0))
	assert.Equal(t, "T (1)", Suffixed("T", 1))
	assert.Equal(t, "T (12)", Suffixed("T", 12))
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestNextFree(t *testing.T) {
	root := t.TempDir()

	dest, err := NextFree(root, "A", "T", "mp3", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "A", "T", "T.mp3"), dest)

	touch(t, dest)
	dest, err = NextFree(root, "A", "T", "mp3", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "A", "T (1)", "T (1).mp3"), dest)

	touch(t, dest)
	dest, err = NextFree(root, "A", "T", "mp3", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "A", "T (2)", "T (2).mp3"), dest)

	// Another extension does not collide.
	dest, err = NextFree(root, "A", "T", "flac", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "A", "T", "T.flac"), dest)
}

func TestNextFree_Self(t *testing.T) {
	root := t.TempDir()
	self := filepath.Join(root, "A", "T", "T.mp3")
	touch(t, self)

	dest, err := NextFree(root, "A", "T", "mp3", self)
	require.NoError(t, err)
	assert.Equal(t, self, dest)
}

func TestRemoveEmptyDirs(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "A", "T")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	touch(t, filepath.Join(root, "B", "keep.mp3"))

	RemoveEmptyDirs(deep, root)

	_, err := os.Stat(filepath.Join(root, "A"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(root)
	assert.NoError(t, err, "stop dir must survive")

	RemoveEmptyDirs(filepath.Join(root, "B"), root)
	_, err = os.Stat(filepath.Join(root, "B", "keep.mp3"))
	assert.NoError(t, err)
}

func TestWritable(t *testing.T) {
	root := t.TempDir()

	assert.NoError(t, Writable(root))
	assert.NoError(t, Writable(filepath.Join(root, "not", "yet", "created")))

	file := filepath.Join(root, "file")
	touch(t, file)
	assert.ErrorIs(t, Writable(filepath.Join(file, "child")), ErrNotWritable)
}

func TestWritable_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission checks")
	}
	ro := filepath.Join(t.TempDir(), "ro")
	require.NoError(t, os.MkdirAll(ro, 0o555))
	t.Cleanup(func() { os.Chmod(ro, 0o755) })

	assert.ErrorIs(t, Writable(ro), ErrNotWritable)
	assert.ErrorIs(t, Writable(filepath.Join(ro, "sub")), ErrNotWritable)
}

func TestMove(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "in", "a.mp3")
	touch(t, src)
	dst := filepath.Join(root, "lib", "A", "T", "T.mp3")

	require.NoError(t, Move(context.Background(), src, dst))

	_, err := os.Stat(src)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestMove_MissingSourceFailsFast(t *testing.T) {
	root := t.TempDir()
	start := time.Now()
	err := Move(context.Background(), filepath.Join(root, "missing"), filepath.Join(root, "out", "x"))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), initialBackoff, "non-retryable errors must not back off")
}

func TestCopyFile_RefusesOverwrite(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	touch(t, src)
	require.NoError(t, os.WriteFile(dst, []byte("keep"), 0o644))

	assert.Error(t, copyFile(src, dst))
	data, _ := os.ReadFile(dst)
	assert.Equal(t, "keep", string(data))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(&os.PathError{Op: "rename", Path: "x", Err: unix.EBUSY}))
	assert.True(t, isRetryableError(os.ErrDeadlineExceeded))
	assert.False(t, isRetryableError(&os.PathError{Op: "rename", Path: "x", Err: unix.EACCES}))
	assert.False(t, isRetryableError(os.ErrNotExist))
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), "op", func() error {
		attempts++
		if attempts < 2 {
			return unix.EBUSY
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoff_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryWithBackoff(ctx, "op", func() error {
		attempts++
		cancel()
		return unix.EBUSY
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_CancelDuringAttemptKeepsResult(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src.mp3")
	dst := filepath.Join(root, "dst.mp3")
	touch(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	err := retryWithBackoff(ctx, "move file", func() error {
		cancel()
		return os.Rename(src, dst)
	})

	require.NoError(t, err, "a completed attempt is reported as success")
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}

func TestRetryWithBackoff_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := retryWithBackoff(ctx, "op", func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMove_CancelledContextLeavesSource(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "in", "a.mp3")
	touch(t, src)
	dst := filepath.Join(root, "lib", "A", "T", "T.mp3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, Move(ctx, src, dst))

	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)
}

func TestClaimer_SerializesSameArtist(t *testing.T) {
	root := t.TempDir()
	c := NewClaimer(root)

	release, err := c.Claim(context.Background(), "A")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := c.Claim(context.Background(), "A")
		if err == nil {
			r()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second claim on the same artist should block")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second claim never acquired")
	}

	_, err = os.Stat(filepath.Join(root, LockFileName))
	assert.NoError(t, err)
}

func TestClaimer_OtherArtistsProceed(t *testing.T) {
	c := NewClaimer(t.TempDir())
	release, err := c.Claim(context.Background(), "A")
	require.NoError(t, err)
	defer release()

	done := make(chan error, 1)
	go func() {
		r, err := c.Claim(context.Background(), "B")
		if err == nil {
			r()
		}
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("claim on another artist blocked")
	}
}

func TestClaimer_ConcurrentCollisions(t *testing.T) {
	root := t.TempDir()
	c := NewClaimer(root)
	in := t.TempDir()

	const n = 5
	var wg sync.WaitGroup
	dests := make([]string, n)
	for i := range n {
		src := filepath.Join(in, "f"+string(rune('a'+i))+".mp3")
		touch(t, src)
		wg.Go(func() {
			release, err := c.Claim(context.Background(), "A")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()
			dest, err := NextFree(root, "A", "T", "mp3", "")
			if err != nil {
				t.Error(err)
				return
			}
			if err := Move(context.Background(), src, dest); err != nil {
				t.Error(err)
				return
			}
			dests[i] = dest
		})
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, d := range dests {
		assert.False(t, seen[d], "duplicate destination %s", d)
		seen[d] = true
	}
	assert.True(t, seen[filepath.Join(root, "A", "T", "T.mp3")])
	assert.True(t, seen[filepath.Join(root, "A", "T (4)", "T (4).mp3")])
}
