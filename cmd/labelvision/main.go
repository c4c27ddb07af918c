package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/akamensky/argparse"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bdougie/labelvision/internal/config"
	"github.com/bdougie/labelvision/internal/logging"
	"github.com/bdougie/labelvision/internal/metrics"
	"github.com/bdougie/labelvision/internal/models"
	"github.com/bdougie/labelvision/internal/objectstore"
	"github.com/bdougie/labelvision/internal/pipeline"
	"github.com/bdougie/labelvision/internal/recognition"
	"github.com/bdougie/labelvision/internal/storage"
	"github.com/bdougie/labelvision/internal/transcode"
)

func main() {
	parser := argparse.NewParser("labelvision", "Draw Amazon Rekognition labels onto images and videos stored in S3")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (yaml, toml or json)", Default: ""})
	bucket := parser.String("b", "bucket", &argparse.Options{Help: "S3 bucket holding the media", Default: ""})
	outputDir := parser.String("o", "output", &argparse.Options{Help: "Directory for rendered output", Default: ""})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "debug, info, warn or error", Default: ""})
	captions := parser.Flag("", "captions", &argparse.Options{Help: "List labels without a bounding box in the top-left corner", Default: false})
	uploadPrefix := parser.String("", "upload", &argparse.Options{Help: "Upload rendered output under this key prefix", Default: ""})

	imageCmd := parser.NewCommand("image", "Label still images")
	imageKeys := imageCmd.StringList("k", "key", &argparse.Options{Help: "Image object key, repeat for more images", Required: true})
	workers := imageCmd.Int("w", "workers", &argparse.Options{Help: "Images labeled concurrently", Default: 0})

	videoCmd := parser.NewCommand("video", "Label a video and write it with boxes drawn on every frame")
	videoKey := videoCmd.String("k", "key", &argparse.Options{Help: "Video object key", Required: true})
	threshold := videoCmd.Int("t", "threshold", &argparse.Options{Help: "Max distance in ms between a label and a frame", Default: -1})
	transcodeOut := videoCmd.Flag("", "transcode", &argparse.Options{Help: "Re-encode the output to H.264 with ffmpeg", Default: false})

	searchCmd := parser.NewCommand("search", "Find stored instances with a box similar to the given one (postgres storage)")
	searchBox := searchCmd.String("", "box", &argparse.Options{Help: "Box as left,top,width,height fractions", Required: true})
	searchLimit := searchCmd.Int("n", "limit", &argparse.Options{Help: "Max results", Default: 10})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags win over the config file and environment
	if *bucket != "" {
		cfg.Bucket = *bucket
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *captions {
		cfg.Overlay.Captions = true
	}
	if *uploadPrefix != "" {
		cfg.Output.UploadPrefix = *uploadPrefix
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *threshold >= 0 {
		cfg.Overlay.ThresholdMs = int64(*threshold)
	}
	if *transcodeOut {
		cfg.Output.Transcode = true
	}

	logger := logging.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	switch {
	case imageCmd.Happened():
		err = runImages(ctx, cfg, logger, m, *imageKeys)
	case videoCmd.Happened():
		err = runVideo(ctx, cfg, logger, m, *videoKey)
	case searchCmd.Happened():
		err = runSearch(ctx, cfg, *searchBox, *searchLimit)
	}

	if cfg.Metrics.File != "" {
		if werr := m.WriteFile(cfg.Metrics.File); werr != nil {
			logger.Warn("Failed to write metrics", "file", cfg.Metrics.File, "err", werr)
		}
	}

	if err != nil {
		logger.Error("labelvision failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func newProcessor(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, store storage.Storage) (*pipeline.Processor, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no bucket configured, pass --bucket or set LABELVISION_BUCKET")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	if cfg.AWS.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	rec := recognition.NewClient(rekognition.NewFromConfig(awsCfg), recognition.Options{
		MaxLabels:     cfg.Overlay.MaxLabels,
		MinConfidence: cfg.Overlay.MinConfidence,
		Poll: recognition.PollOptions{
			InitialInterval: cfg.Poll.InitialInterval,
			MaxInterval:     cfg.Poll.MaxInterval,
			Timeout:         cfg.Poll.Timeout,
		},
	}, logger, m)

	return pipeline.NewProcessor(cfg, pipeline.Deps{
		Recognizer: rec,
		Objects:    objectstore.New(s3.NewFromConfig(awsCfg), logger),
		Storage:    store,
		Video:      gocvBackend{},
		Transcoder: transcode.New(),
		Metrics:    m,
		Logger:     logger,
	}), nil
}

func runImages(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, keys []string) error {
	processor, err := newProcessor(ctx, cfg, logger, m, storage.NewNopStorage())
	if err != nil {
		return err
	}

	results, err := processor.ProcessImages(ctx, cfg.Bucket, keys)
	for _, r := range results {
		fmt.Printf("%s: %d labels detected, %d boxes drawn, saved to %s\n", r.Key, r.LabelCount, r.BoxCount, r.OutputPath)
	}
	return err
}

func runVideo(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, key string) error {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	processor, err := newProcessor(ctx, cfg, logger, m, store)
	if err != nil {
		return err
	}

	res, err := processor.ProcessVideo(ctx, cfg.Bucket, key)
	if err != nil {
		return err
	}

	fmt.Printf("Labeled video saved to: %s (%d labels, %d frames, %d boxes)\n", res.OutputPath, res.Labels, res.Frames, res.Boxes)
	return nil
}

func runSearch(ctx context.Context, cfg *config.Config, boxArg string, limit int) error {
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("search needs storage.driver postgres, got '%s'", cfg.Storage.Driver)
	}
	box, err := parseBox(boxArg)
	if err != nil {
		return err
	}

	store, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	matches, err := store.SearchSimilarBoxes(ctx, box, limit)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No stored boxes found")
		return nil
	}
	for _, match := range matches {
		fmt.Printf("%-24s %8dms  %-20s  [%.3f %.3f %.3f %.3f]  distance %.4f\n",
			match.VideoName, match.TimestampMs, match.LabelName,
			match.Box.Left, match.Box.Top, match.Box.Width, match.Box.Height, match.Distance)
	}
	return nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "none":
		return storage.NewNopStorage(), nil
	case "postgres":
		store, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return storage.NewFileStorage(cfg.Storage.Dir), nil
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*storage.PostgresStorage, error) {
	connString := cfg.Storage.Postgres.ConnString()
	if err := storage.InitSchema(ctx, connString); err != nil {
		return nil, err
	}
	return storage.NewPostgresStorage(ctx, connString)
}

// parseBox reads "left,top,width,height"
func parseBox(s string) (models.BoundingBoxInstance, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return models.BoundingBoxInstance{}, models.Invalid("box", "want left,top,width,height, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.BoundingBoxInstance{}, models.Invalid("box", "%q is not a number", p)
		}
		v[i] = f
	}
	return models.BoundingBoxInstance{Left: v[0], Top: v[1], Width: v[2], Height: v[3]}, nil
}
