package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llehouerou/shelf/internal/pending"
	"github.com/llehouerou/shelf/internal/tags"
	"github.com/llehouerou/shelf/internal/testutil"
)

type env struct {
	incoming string
	library  string
	data     string
}

// newEnv points the configuration at fresh temp directories.
func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		incoming: filepath.Join(dir, "incoming"),
		library:  filepath.Join(dir, "library"),
		data:     filepath.Join(dir, "data"),
	}
	t.Setenv("HOME", dir)
	t.Setenv("INCOMING_ROOT", e.incoming)
	t.Setenv("LIBRARY_ROOT", e.library)
	t.Setenv("DATA_DIR", e.data)
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("LOG_FILE", "")
	return e
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScanThenPending(t *testing.T) {
	e := newEnv(t)
	testutil.WriteMP3(t, filepath.Join(e.incoming, "Song###Chan.mp3"), nil)

	out, err := run(t, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATED")

	out, err = run(t, "pending", "--json")
	require.NoError(t, err)
	var items []pending.Item
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Song", items[0].VideoTitle)
	assert.Equal(t, "Chan", items[0].Channel)

	out, err = run(t, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "Song###Chan.mp3")

	out, err = run(t, "pending", "--status", "inferred")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending items")
}

func TestPending_UnknownStatus(t *testing.T) {
	newEnv(t)
	_, err := run(t, "pending", "--status", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestRescan(t *testing.T) {
	e := newEnv(t)
	testutil.WriteMP3(t, filepath.Join(e.library, "A", "T", "T.mp3"), &tags.Tag{Title: "T", Artist: "A"})
	testutil.WriteMP3(t, filepath.Join(e.library, "B", "U", "U.mp3"), &tags.Tag{Title: "U", Artist: "B"})

	out, err := run(t, "rescan")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, out)
	assert.Contains(t, lines[1], "INDEXED")
	cells := strings.Split(lines[3], "│")
	require.Len(t, cells, 8, lines[3])
	assert.Equal(t, "2", strings.TrimSpace(cells[1]))
	assert.Equal(t, "2", strings.TrimSpace(cells[2]))

	out, err = run(t, "rescan")
	require.NoError(t, err)
	cells = strings.Split(strings.Split(strings.TrimSpace(out), "\n")[3], "│")
	assert.Equal(t, "0", strings.TrimSpace(cells[2]))
	assert.Equal(t, "2", strings.TrimSpace(cells[3]))

	out, err = run(t, "rescan", "--full")
	require.NoError(t, err)
	cells = strings.Split(strings.Split(strings.TrimSpace(out), "\n")[3], "│")
	assert.Equal(t, "2", strings.TrimSpace(cells[2]))
	assert.Equal(t, "0", strings.TrimSpace(cells[3]))
}

func TestConfigFlag_Missing(t *testing.T) {
	newEnv(t)
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "pending")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestInvalidConfig(t *testing.T) {
	e := newEnv(t)
	t.Setenv("LIBRARY_ROOT", e.incoming)
	_, err := run(t, "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Name", "Count"}, [][]string{{"a", "1"}, {"bb"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "COUNT")
	assert.Contains(t, out, "bb")
	assert.Empty(t, renderTable(nil, nil, nil))
}
