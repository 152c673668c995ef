package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fake", cfg.ModelBackend)
	assert.Equal(t, 300, cfg.TargetWidth)
	assert.Equal(t, "jpg", cfg.ImageFormat)
	assert.True(t, cfg.AbandonStale)
	assert.Zero(t, cfg.MotionThreshold)
	assert.Equal(t, 5*time.Second, cfg.FlushTimeout)
	assert.Len(t, cfg.NormMean, 3)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("FAKE_DEFECT_RATE", "0.75")
	t.Setenv("FAKE_SEED", "42")
	t.Setenv("MODEL_CLASSES", "scratch, dent ,,crack")
	t.Setenv("FLUSH_TIMEOUT", "250ms")
	t.Setenv("ABANDON_STALE", "false")
	t.Setenv("MOTION_THRESHOLD", "500")
	t.Setenv("PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.75, cfg.FakeDefectRate)
	assert.Equal(t, int64(42), cfg.FakeSeed)
	assert.Equal(t, []string{"scratch", "dent", "crack"}, cfg.ModelClasses)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushTimeout)
	assert.False(t, cfg.AbandonStale)
	assert.Equal(t, 500, cfg.MotionThreshold)
	// unparsable values fall back to the default
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inspector.yaml")
	body := `
model:
  name: surface-v2
  classes: [chip, burr]
preprocess:
  transforms: [hflip, clamp]
  mean: [0.5, 0.5, 0.5]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "surface-v2", cfg.ModelName)
	assert.Equal(t, []string{"chip", "burr"}, cfg.ModelClasses)
	assert.Equal(t, []string{"hflip", "clamp"}, cfg.PreprocessTransforms)
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, cfg.NormMean)
}

func TestLoad_MissingOverlay(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	base, err := Load()
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"threshold above one": func(c *Config) { c.ConfidenceThreshold = 1.5 },
		"negative rate":       func(c *Config) { c.FakeDefectRate = -0.1 },
		"zero target":         func(c *Config) { c.TargetWidth = 0 },
		"bad format":          func(c *Config) { c.ImageFormat = "gif" },
		"bad backend":         func(c *Config) { c.ModelBackend = "onnx" },
		"zero std":            func(c *Config) { c.NormStd = []float64{1, 0, 1} },
		"empty queue":         func(c *Config) { c.LogQueueDepth = 0 },
		"negative motion":     func(c *Config) { c.MotionThreshold = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
