package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inspector/internal/export"
	"inspector/internal/models"
)

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DB_PATH", filepath.Join(dir, "data", "records.db"))
	t.Setenv("STORAGE_ROOT", filepath.Join(dir, "images"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("TARGET_WIDTH", "32")
	t.Setenv("TARGET_HEIGHT", "32")
	t.Setenv("MODEL_BACKEND", "fake")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulateCommand(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "simulate", "--frames", "10", "--rate", "0.75", "--width", "64", "--height", "48")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Records:  10")
	assert.Contains(t, out, "Defects:  8")
}

func TestExportCommand(t *testing.T) {
	dir := testEnv(t)

	_, err := execute(t, "simulate", "--frames", "4", "--rate", "0.5", "--width", "64", "--height", "48")
	require.NoError(t, err)

	all := filepath.Join(dir, "all.parquet")
	out, err := execute(t, "export", "--out", all)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 4 record(s)")

	defects := filepath.Join(dir, "defects.parquet")
	_, err = execute(t, "export", "--out", defects, "--defect-only")
	require.NoError(t, err)

	rows, err := export.ReadFile(defects)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.True(t, r.DefectDetected)
	}

	_, err = execute(t, "export", "--out", all, "--since", "yesterday")
	assert.Error(t, err)
}

func TestReconcileCommand(t *testing.T) {
	dir := testEnv(t)

	_, err := execute(t, "simulate", "--frames", "3", "--width", "64", "--height", "48")
	require.NoError(t, err)

	stray := filepath.Join(dir, "images", "stray.jpg")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0644))

	// A fresh stray may belong to an in-flight write and must survive --delete.
	out, err := execute(t, "reconcile", "--delete")
	require.NoError(t, err)
	assert.Contains(t, out, "Scanned 4 image(s)")
	assert.Contains(t, out, "0 orphan(s), 0 partial write(s), 0 record(s) without image")
	assert.Contains(t, out, "Skipped 1 file(s) newer than 5m0s")
	assert.Contains(t, out, "Removed 0 file(s)")
	assert.FileExists(t, stray)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stray, old, old))

	out, err = execute(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "1 orphan(s), 0 partial write(s), 0 record(s) without image")
	assert.FileExists(t, stray)

	out, err = execute(t, "reconcile", "--delete")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 file(s)")
	assert.NoFileExists(t, stray)
}

func TestRunCommand_FatalSourceExitsDistinctly(t *testing.T) {
	dir := testEnv(t)
	t.Setenv("SOURCE_URI", "dir://"+filepath.Join(dir, "no-such-dir"))
	t.Setenv("RECONNECT_MAX_RETRIES", "0")
	t.Setenv("PORT", "0")

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, "run")
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after the source gave up")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Equal(t, ExitFatal, ExitCode(err))

	logged, readErr := os.ReadFile(filepath.Join(dir, "logs", "error.log"))
	require.NoError(t, readErr)
	assert.Contains(t, string(logged), "Pipeline stopped on fatal error")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("bad flag")))
	assert.Equal(t, ExitFatal, ExitCode(models.ErrModelLoad))
}
