package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bdougie/labelvision/internal/config"
	"github.com/bdougie/labelvision/internal/metrics"
	"github.com/bdougie/labelvision/internal/models"
	"github.com/bdougie/labelvision/internal/render"
	"github.com/bdougie/labelvision/internal/storage"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Recognizer labels media stored in a bucket
type Recognizer interface {
	DetectImageLabels(ctx context.Context, bucket, key string) ([]models.LabelDetection, error)
	DetectVideoLabels(ctx context.Context, bucket, key string) (string, []models.LabelDetection, error)
}

// ObjectStore moves media between the bucket and local files
type ObjectStore interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Download(ctx context.Context, bucket, key, destPath string) error
	Upload(ctx context.Context, bucket, key, srcPath, contentType string) error
}

type VideoSource interface {
	FrameSource
	FPS() float64
	Size() (int, int)
	Close() error
}

type VideoSink interface {
	FrameSink
	Close() error
}

// VideoBackend opens video files for decoding and encoding
type VideoBackend interface {
	OpenSource(path string) (VideoSource, error)
	CreateSink(path string, fps float64, width, height int) (VideoSink, error)
}

type Transcoder interface {
	ToH264(ctx context.Context, inPath, outPath string) error
}

// Deps are the collaborators of a Processor. Metrics may be nil.
type Deps struct {
	Recognizer Recognizer
	Objects    ObjectStore
	Storage    storage.Storage
	Video      VideoBackend
	Transcoder Transcoder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Processor struct {
	cfg  *config.Config
	deps Deps
}

func NewProcessor(cfg *config.Config, deps Deps) *Processor {
	if deps.Storage == nil {
		deps.Storage = storage.NewNopStorage()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Processor{cfg: cfg, deps: deps}
}

type workItem struct {
	key     string
	relPath string
	index   int
	total   int
}

// ProcessImages labels every image key with a pool of workers and writes
// <output dir>/<key dir>/<name>-labeled.<ext> for each. Results keep the
// order of keys and only include images that succeeded. A key whose output
// path is already taken by an earlier key in the batch fails without being
// processed.
func (p *Processor) ProcessImages(ctx context.Context, bucket string, keys []string) ([]models.ImageResult, error) {
	logger := p.deps.Logger.With("run", uuid.NewString())
	logger.Info("Processing images", "bucket", bucket, "count", len(keys))

	workers := p.cfg.Workers
	if workers <= 0 {
		workers = config.MaxWorkers
	}

	workChan := make(chan workItem, len(keys))
	results := make([]*models.ImageResult, len(keys))
	errorsChan := make(chan error, len(keys))

	var wg sync.WaitGroup

	remaining := atomic.Int64{}
	remaining.Store(int64(len(keys)))

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workChan {
				res, err := p.processImage(ctx, logger, bucket, work.key, work.relPath)
				if err != nil {
					errorsChan <- fmt.Errorf("image %d/%d (%s) failed: %w", work.index+1, work.total, work.key, err)
					continue
				}
				results[work.index] = &res

				left := remaining.Add(-1)
				logger.Debug("Image labeled", "key", work.key, "remaining", left)
			}
		}()
	}

	claimed := make(map[string]string, len(keys))
	for i, key := range keys {
		rel := labeledPath(key)
		if first, ok := claimed[rel]; ok {
			errorsChan <- fmt.Errorf("image %d/%d (%s) failed: output '%s' already used by '%s'", i+1, len(keys), key, rel, first)
			continue
		}
		claimed[rel] = key
		workChan <- workItem{key: key, relPath: rel, index: i, total: len(keys)}
	}
	close(workChan)

	wg.Wait()
	close(errorsChan)

	var done []models.ImageResult
	for _, r := range results {
		if r != nil {
			done = append(done, *r)
		}
	}

	var errorMessages []string
	for err := range errorsChan {
		errorMessages = append(errorMessages, err.Error())
	}
	if len(errorMessages) > 0 {
		return done, fmt.Errorf("encountered errors during processing: %v", strings.Join(errorMessages, "; "))
	}

	return done, nil
}

// labeledPath maps an object key to its output path relative to the output
// directory, keeping the key's directories so equal base names do not clash
func labeledPath(key string) string {
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	dir, base := path.Split(clean)
	ext := path.Ext(base)
	return filepath.FromSlash(dir + strings.TrimSuffix(base, ext) + "-labeled" + ext)
}

func (p *Processor) processImage(ctx context.Context, logger *slog.Logger, bucket, key, relPath string) (models.ImageResult, error) {
	outPath := filepath.Join(p.cfg.Output.Dir, relPath)
	format, err := imaging.FormatFromFilename(outPath)
	if err != nil {
		return models.ImageResult{}, fmt.Errorf("unsupported output format for '%s': %w", key, err)
	}

	labels, err := p.deps.Recognizer.DetectImageLabels(ctx, bucket, key)
	if err != nil {
		return models.ImageResult{}, err
	}

	logger.Info("Detected labels", "key", key, "count", len(labels))
	for _, l := range labels {
		logger.Info("Label", "key", key, "name", l.LabelName, "confidence", fmt.Sprintf("%.2f", l.Confidence), "instances", len(l.Instances))
	}

	body, err := p.deps.Objects.Open(ctx, bucket, key)
	if err != nil {
		return models.ImageResult{}, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return models.ImageResult{}, fmt.Errorf("failed to create output directory for '%s': %w", outPath, err)
	}
	file, err := os.Create(outPath)
	if err != nil {
		return models.ImageResult{}, fmt.Errorf("failed to create '%s': %w", outPath, err)
	}

	res, err := render.Image(body, file, format, labels, render.Options{Captions: p.cfg.Overlay.Captions})
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		return models.ImageResult{}, err
	}

	if err := p.upload(ctx, bucket, outPath, relPath); err != nil {
		return models.ImageResult{}, err
	}

	if m := p.deps.Metrics; m != nil {
		m.ImagesLabeled.Inc()
		m.BoxesDrawn.Add(float64(res.Boxes))
	}
	logger.Info("Labeled image saved", "key", key, "path", outPath, "boxes", res.Boxes)

	return models.ImageResult{
		Key:        key,
		OutputPath: outPath,
		LabelCount: len(labels),
		BoxCount:   res.Boxes,
	}, nil
}

// ProcessVideo labels a video, reusing stored detections when present, and
// writes <output dir>/<name>-output.mp4 with the boxes drawn on every frame
func (p *Processor) ProcessVideo(ctx context.Context, bucket, key string) (models.VideoResult, error) {
	logger := p.deps.Logger.With("run", uuid.NewString(), "key", key)
	result := models.VideoResult{Key: key}

	detections, cached, err := p.deps.Storage.LoadDetections(ctx, key)
	if err != nil {
		logger.Warn("Ignoring unreadable cached detections", "err", err)
		cached = false
	}

	if cached {
		logger.Info("Using stored detections", "labels", len(detections))
		result.Cached = true
	} else {
		jobID, found, err := p.deps.Recognizer.DetectVideoLabels(ctx, bucket, key)
		if err != nil {
			return result, err
		}
		detections = found
		result.JobID = jobID

		if err := p.deps.Storage.SaveDetections(ctx, key, jobID, detections); err != nil {
			logger.Warn("Failed to store detections", "err", err)
		}
	}
	result.Labels = len(detections)

	localPath := filepath.Join(p.cfg.Output.Dir, filepath.Base(key))
	if err := p.deps.Objects.Download(ctx, bucket, key, localPath); err != nil {
		return result, err
	}

	loop, outPath, err := p.renderVideo(ctx, localPath, storage.VideoName(key), detections)
	result.Frames = loop.Frames
	result.Boxes = loop.Boxes
	if err != nil {
		return result, err
	}

	if m := p.deps.Metrics; m != nil {
		m.FramesProcessed.Add(float64(loop.Frames))
		m.BoxesDrawn.Add(float64(loop.Boxes))
	}

	if p.cfg.Output.Transcode {
		if p.deps.Transcoder == nil {
			return result, fmt.Errorf("transcoding enabled without a transcoder")
		}
		if err := p.deps.Transcoder.ToH264(ctx, outPath, outPath); err != nil {
			return result, err
		}
		logger.Debug("Transcoded output", "path", outPath)
	}

	if err := p.upload(ctx, bucket, outPath, filepath.Base(outPath)); err != nil {
		return result, err
	}

	result.OutputPath = outPath
	logger.Info("Labeled video saved", "path", outPath, "frames", loop.Frames, "boxes", loop.Boxes)
	return result, nil
}

func (p *Processor) renderVideo(ctx context.Context, localPath, name string, detections []models.LabelDetection) (LoopResult, string, error) {
	src, err := p.deps.Video.OpenSource(localPath)
	if err != nil {
		return LoopResult{}, "", err
	}
	defer src.Close()

	width, height := src.Size()
	outPath := filepath.Join(p.cfg.Output.Dir, name+"-output.mp4")
	sink, err := p.deps.Video.CreateSink(outPath, src.FPS(), width, height)
	if err != nil {
		return LoopResult{}, "", err
	}

	loop, err := RunOverlayLoop(ctx, src, sink, detections, p.cfg.Overlay.ThresholdMs, p.cfg.Overlay.Captions)
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to finalize '%s': %w", outPath, cerr)
	}
	return loop, outPath, err
}

// upload copies a rendered file to <output.upload_prefix>/<relPath> when a
// prefix is set
func (p *Processor) upload(ctx context.Context, bucket, localPath, relPath string) error {
	prefix := p.cfg.Output.UploadPrefix
	if prefix == "" {
		return nil
	}
	key := path.Join(prefix, filepath.ToSlash(relPath))
	return p.deps.Objects.Upload(ctx, bucket, key, localPath, mime.TypeByExtension(filepath.Ext(localPath)))
}
