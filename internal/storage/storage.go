package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bdougie/labelvision/internal/models"
)

const resultsFileName = "labels.json"

// Storage caches the label detections of a video so a rerun does not need
// to start another recognition job
type Storage interface {
	// LoadDetections returns the cached detections for a video, if any
	LoadDetections(ctx context.Context, videoKey string) ([]models.LabelDetection, bool, error)

	// SaveDetections replaces the cached detections for a video
	SaveDetections(ctx context.Context, videoKey, jobID string, detections []models.LabelDetection) error

	Close() error
}

// VideoName turns an object key into a directory-safe video name
func VideoName(videoKey string) string {
	base := filepath.Base(videoKey)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type cachedResult struct {
	VideoKey   string                  `json:"videoKey"`
	JobID      string                  `json:"jobId"`
	SavedAt    time.Time               `json:"savedAt"`
	Detections []models.LabelDetection `json:"detections"`
}

// fileStorage keeps one JSON file per video under baseDir
type fileStorage struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStorage creates a JSON file cache rooted at baseDir
func NewFileStorage(baseDir string) Storage {
	return &fileStorage{baseDir: baseDir}
}

func (s *fileStorage) path(videoKey string) string {
	return filepath.Join(s.baseDir, VideoName(videoKey), resultsFileName)
}

// LoadDetections reads the cached result file. A cache written for a
// different key with the same base name is ignored.
func (s *fileStorage) LoadDetections(ctx context.Context, videoKey string) ([]models.LabelDetection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(videoKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read results file: %w", err)
	}

	var cached cachedResult
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal results: %w", err)
	}
	if cached.VideoKey != videoKey {
		return nil, false, nil
	}
	return cached.Detections, true, nil
}

// SaveDetections writes the results file atomically
func (s *fileStorage) SaveDetections(ctx context.Context, videoKey, jobID string, detections []models.LabelDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resultsFilePath := s.path(videoKey)
	if err := os.MkdirAll(filepath.Dir(resultsFilePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for results: %w", err)
	}

	tmp := resultsFilePath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	err = encoder.Encode(cachedResult{
		VideoKey:   videoKey,
		JobID:      jobID,
		SavedAt:    time.Now().UTC(),
		Detections: detections,
	})
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return os.Rename(tmp, resultsFilePath)
}

func (s *fileStorage) Close() error {
	return nil
}

// nopStorage never caches
type nopStorage struct{}

// NewNopStorage returns a Storage that caches nothing
func NewNopStorage() Storage {
	return nopStorage{}
}

func (nopStorage) LoadDetections(context.Context, string) ([]models.LabelDetection, bool, error) {
	return nil, false, nil
}

func (nopStorage) SaveDetections(context.Context, string, string, []models.LabelDetection) error {
	return nil
}

func (nopStorage) Close() error {
	return nil
}
