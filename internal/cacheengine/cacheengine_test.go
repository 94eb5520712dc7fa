package cacheengine

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonrepo/pipeline-core/internal/config"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

func newTestEngine(t *testing.T, mode config.CacheMode) *Engine {
	t.Helper()
	dir := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	e, err := New(dir, mode)
	require.NoError(t, err)
	return e
}

func TestNewCreatesStandardSubdirs(t *testing.T) {
	e := newTestEngine(t, config.CacheReadWrite)
	for _, sub := range []string{"hashes", "outputs", "states", "temp"} {
		info, err := os.Stat(e.Root.UntypedJoin(sub).ToString())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	e := newTestEngine(t, config.CacheReadWrite)

	type lastRun struct {
		Hash     string `json:"hash"`
		ExitCode int    `json:"exitCode"`
	}
	want := lastRun{Hash: "abc123", ExitCode: 0}
	require.NoError(t, e.SaveState("proj/build/lastRun.json", want))

	var got lastRun
	ok, err := e.LoadState("proj/build/lastRun.json", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestLoadStateMissingFileIsNotError(t *testing.T) {
	e := newTestEngine(t, config.CacheReadWrite)
	var dst map[string]string
	ok, err := e.LoadState("nothing/here.json", &dst)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveStateNoopWhenReadOnly(t *testing.T) {
	e := newTestEngine(t, config.CacheReadOnly)
	require.NoError(t, e.SaveState("k.json", map[string]string{"a": "b"}))
	_, err := os.Stat(e.StatesDir().UntypedJoin("k.json").ToString())
	assert.True(t, os.IsNotExist(err), "ReadOnly mode must never write state")
}

func TestExecuteIfChangedRunsOnceForUnchangedInput(t *testing.T) {
	e := newTestEngine(t, config.CacheReadWrite)

	calls := 0
	input := map[string]string{"command": "build"}
	run := func() error { calls++; return nil }

	require.NoError(t, e.ExecuteIfChanged("key", input, run))
	require.NoError(t, e.ExecuteIfChanged("key", input, run))
	assert.Equal(t, 1, calls, "unchanged hash input must not re-run f")
}

func TestExecuteIfChangedRerunsWhenInputChanges(t *testing.T) {
	e := newTestEngine(t, config.CacheReadWrite)

	calls := 0
	run := func() error { calls++; return nil }

	require.NoError(t, e.ExecuteIfChanged("key", map[string]string{"v": "1"}, run))
	require.NoError(t, e.ExecuteIfChanged("key", map[string]string{"v": "2"}, run))
	assert.Equal(t, 2, calls)
}

func TestCleanStaleDeletesOldFilesOnly(t *testing.T) {
	e := newTestEngine(t, config.CacheReadWrite)

	oldFile := e.OutputsDir().UntypedJoin("old.tar.zst")
	newFile := e.OutputsDir().UntypedJoin("new.tar.zst")
	require.NoError(t, os.WriteFile(oldFile.ToString(), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(newFile.ToString(), []byte("y"), 0o644))

	oldTime := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile.ToString(), oldTime, oldTime))

	deleted, _, err := e.CleanStale(7*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = os.Stat(oldFile.ToString())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile.ToString())
	assert.NoError(t, err)
}

func TestCleanStaleSkippedWhenCacheOffAndNotForced(t *testing.T) {
	e := newTestEngine(t, config.CacheOff)
	oldFile := e.OutputsDir().UntypedJoin("old.tar.zst")
	require.NoError(t, os.WriteFile(oldFile.ToString(), []byte("x"), 0o644))
	oldTime := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile.ToString(), oldTime, oldTime))

	deleted, _, err := e.CleanStale(7*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}
