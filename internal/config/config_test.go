package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, int64(100), cfg.Overlay.ThresholdMs)
	require.Equal(t, int32(DefaultMaxLabels), cfg.Overlay.MaxLabels)
	require.Equal(t, 5*time.Second, cfg.Poll.InitialInterval)
	require.Equal(t, 30*time.Minute, cfg.Poll.Timeout)
	require.Equal(t, "file", cfg.Storage.Driver)
	require.Equal(t, MaxWorkers, cfg.Workers)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "labelvision.yaml")
	yaml := `
bucket: image-labels-generator
overlay:
  threshold_ms: 250
  captions: true
poll:
  initial_interval: 1s
  max_interval: 4s
storage:
  driver: postgres
  postgres:
    user: vision
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("LABELVISION_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "image-labels-generator", cfg.Bucket)
	require.Equal(t, int64(250), cfg.Overlay.ThresholdMs)
	require.True(t, cfg.Overlay.Captions)
	require.Equal(t, time.Second, cfg.Poll.InitialInterval)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, "postgres://vision:@localhost:5432/labelvision", cfg.Storage.Postgres.ConnString())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	bad := *cfg
	bad.Overlay.ThresholdMs = -1
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Storage.Driver = "redis"
	require.Error(t, bad.Validate())

	bad = *cfg
	bad.Poll.MaxInterval = time.Millisecond
	require.Error(t, bad.Validate())
}

// chdir switches the working directory for the duration of the test,
// restoring it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
