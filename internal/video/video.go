// Package video reads frames from and writes frames to video files with
// OpenCV, drawing overlay plans onto the frames in between.
package video

import (
	"context"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/bdougie/labelvision/internal/models"
	"github.com/bdougie/labelvision/internal/overlay"
	"gocv.io/x/gocv"
)

const (
	// Codec is the FourCC of the output container
	Codec = "mp4v"

	defaultFPS    = 30
	captionOffset = 10
	lineThickness = 2
	fontScale     = 0.5
)

var boxColor = color.RGBA{0, 255, 0, 0}

// Source hands out decoded frames in order. Pixels of every frame point to a
// Mat that is reused by the next call to Next.
type Source struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	fps     float64
	width   int
	height  int
}

// OpenSource opens a video file for reading
func OpenSource(path string) (*Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file does not exist at path: '%s'", path)
	}

	capture, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video '%s': %w", path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("failed to open video '%s'", path)
	}

	return &Source{
		capture: capture,
		mat:     gocv.NewMat(),
		fps:     capture.Get(gocv.VideoCaptureFPS),
		width:   int(capture.Get(gocv.VideoCaptureFrameWidth)),
		height:  int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}

// FPS is the frame rate reported by the container, or 30 when it reports
// nothing usable
func (s *Source) FPS() float64 {
	if s.fps <= 0 {
		return defaultFPS
	}
	return s.fps
}

// Size is the frame size reported by the container
func (s *Source) Size() (int, int) {
	return s.width, s.height
}

// Next reads the following frame. It returns false at the end of the stream.
func (s *Source) Next(ctx context.Context) (models.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Frame{}, false, err
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return models.Frame{}, false, nil
	}

	return models.Frame{
		TimestampMs: int64(s.capture.Get(gocv.VideoCapturePosMsec)),
		PixelWidth:  s.mat.Cols(),
		PixelHeight: s.mat.Rows(),
		Pixels:      &s.mat,
	}, true, nil
}

func (s *Source) Close() error {
	s.mat.Close()
	return s.capture.Close()
}

// Sink encodes frames into an mp4 file
type Sink struct {
	writer *gocv.VideoWriter
	path   string
}

// CreateSink opens path for writing, creating parent directories
func CreateSink(path string, fps float64, width, height int) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory for '%s': %w", path, err)
	}

	writer, err := gocv.VideoWriterFile(path, Codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer '%s': %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("failed to create video writer '%s'", path)
	}

	return &Sink{writer: writer, path: path}, nil
}

// Write draws plan and captions on the frame and appends it to the file
func (s *Sink) Write(frame models.Frame, plan models.OverlayPlan, captions []string) error {
	mat, ok := frame.Pixels.(*gocv.Mat)
	if !ok {
		return fmt.Errorf("frame at %dms does not carry a Mat", frame.TimestampMs)
	}

	Draw(mat, plan, captions)
	if err := s.writer.Write(*mat); err != nil {
		return fmt.Errorf("failed to write frame at %dms to '%s': %w", frame.TimestampMs, s.path, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.writer.Close()
}

// Draw outlines every box in green with its caption 10px above it. Pixel
// coordinates are truncated toward zero.
func Draw(mat *gocv.Mat, plan models.OverlayPlan, captions []string) {
	for _, b := range plan.Boxes {
		gocv.Rectangle(mat, overlay.PixelRect(b), boxColor, lineThickness)
		gocv.PutText(mat, b.Text, overlay.CaptionOrigin(b, captionOffset), gocv.FontHersheySimplex, fontScale, boxColor, lineThickness)
	}

	for i, text := range captions {
		gocv.PutText(mat, text, overlay.CornerCaptionOrigin(i, captionOffset), gocv.FontHersheySimplex, fontScale, boxColor, lineThickness)
	}
}
