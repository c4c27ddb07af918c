package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bdougie/labelvision/internal/models"
	"github.com/stretchr/testify/require"
)

func sampleDetections() []models.LabelDetection {
	return []models.LabelDetection{
		{LabelName: "Person", Confidence: 97.2, TimestampMs: 0, Instances: []models.BoundingBoxInstance{{Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.4}}},
		{LabelName: "Dinner", Confidence: 81.0, TimestampMs: 533},
	}
}

func TestVideoName(t *testing.T) {
	require.Equal(t, "dinner", VideoName("videos/2024/dinner.mp4"))
	require.Equal(t, "clip", VideoName("clip"))
}

func TestFileStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStorage(dir)
	defer store.Close()

	_, ok, err := store.LoadDetections(ctx, "dinner.mp4")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveDetections(ctx, "dinner.mp4", "job-1", sampleDetections()))
	require.FileExists(t, filepath.Join(dir, "dinner", resultsFileName))

	got, ok, err := store.LoadDetections(ctx, "dinner.mp4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleDetections(), got)
}

func TestFileStorageKeyMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewFileStorage(t.TempDir())

	require.NoError(t, store.SaveDetections(ctx, "a/dinner.mp4", "job-1", sampleDetections()))
	_, ok, err := store.LoadDetections(ctx, "b/dinner.mp4")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStorageCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dinner"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dinner", resultsFileName), []byte("{"), 0644))

	_, _, err := NewFileStorage(dir).LoadDetections(context.Background(), "dinner.mp4")
	require.Error(t, err)
}

func TestNopStorage(t *testing.T) {
	store := NewNopStorage()
	require.NoError(t, store.SaveDetections(context.Background(), "x.mp4", "job", sampleDetections()))
	_, ok, err := store.LoadDetections(context.Background(), "x.mp4")
	require.NoError(t, err)
	require.False(t, ok)
}
