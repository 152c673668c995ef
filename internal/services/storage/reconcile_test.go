package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrphans(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	kept := PathFor(root, ts, true, "kept", "jpg")
	orphan := PathFor(root, ts, false, "orphan", "jpg")
	for _, p := range []string{kept, orphan} {
		require.NoError(t, FileWriter{}.WriteImage(p, []byte("x")))
	}
	tmp := filepath.Join(filepath.Dir(kept), ".tmp-123")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0644))
	missing := PathFor(root, ts, true, "missing", "jpg")

	o, err := FindOrphans(context.Background(), root, []string{kept, missing}, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, o.Scanned)
	assert.Equal(t, []string{orphan}, o.Files)
	assert.Equal(t, []string{tmp}, o.Temp)
	assert.Equal(t, []string{absPath(missing)}, o.Missing)

	removed, err := RemoveOrphans(o)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, orphan)
	assert.NoFileExists(t, tmp)
	assert.FileExists(t, kept)
}

func TestFindOrphans_MissingRoot(t *testing.T) {
	o, err := FindOrphans(context.Background(), filepath.Join(t.TempDir(), "nope"), nil, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, o.Scanned)
	assert.Empty(t, o.Files)
}

func TestFindOrphans_FreshFilesSurviveRemoval(t *testing.T) {
	root := t.TempDir()
	ts := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	// Written moments ago; its record insert may still be pending.
	fresh := PathFor(root, ts, true, "fresh", "jpg")
	require.NoError(t, FileWriter{}.WriteImage(fresh, []byte("x")))
	freshTmp := filepath.Join(filepath.Dir(fresh), ".tmp-fresh")
	require.NoError(t, os.WriteFile(freshTmp, []byte("partial"), 0644))

	stale := PathFor(root, ts, false, "stale", "jpg")
	require.NoError(t, FileWriter{}.WriteImage(stale, []byte("x")))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	o, err := FindOrphans(context.Background(), root, nil, 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 2, o.Scanned)
	assert.Equal(t, []string{stale}, o.Files)
	assert.Empty(t, o.Temp)
	assert.ElementsMatch(t, []string{fresh, freshTmp}, o.Recent)

	removed, err := RemoveOrphans(o)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, freshTmp)
}
