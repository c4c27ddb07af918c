package pipeline

import (
	"context"
	"fmt"

	"github.com/bdougie/labelvision/internal/models"
	"github.com/bdougie/labelvision/internal/overlay"
)

// FrameSource yields decoded frames in presentation order. Next returns false
// once the stream is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (models.Frame, bool, error)
}

// FrameSink draws a plan on a frame and persists the frame
type FrameSink interface {
	Write(frame models.Frame, plan models.OverlayPlan, captions []string) error
}

// LoopResult counts what RunOverlayLoop did
type LoopResult struct {
	Frames int
	Boxes  int
}

// RunOverlayLoop reads every frame from src, draws the detections near the
// frame timestamp and writes the frame to sink. It stops at the end of the
// stream, on the first error or when ctx is done.
func RunOverlayLoop(ctx context.Context, src FrameSource, sink FrameSink, detections []models.LabelDetection, thresholdMs int64, captions bool) (LoopResult, error) {
	var res LoopResult
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		frame, ok, err := src.Next(ctx)
		if err != nil {
			return res, fmt.Errorf("failed to read frame %d: %w", res.Frames, err)
		}
		if !ok {
			return res, nil
		}

		relevant, err := overlay.SelectRelevantLabels(frame.TimestampMs, detections, thresholdMs)
		if err != nil {
			return res, fmt.Errorf("frame %d at %dms: %w", res.Frames, frame.TimestampMs, err)
		}
		plan, err := overlay.ComputeOverlayPlan(relevant, frame.PixelWidth, frame.PixelHeight)
		if err != nil {
			return res, fmt.Errorf("frame %d at %dms: %w", res.Frames, frame.TimestampMs, err)
		}

		var lines []string
		if captions {
			lines = overlay.Captions(relevant)
		}
		if err := sink.Write(frame, plan, lines); err != nil {
			return res, fmt.Errorf("failed to write frame %d: %w", res.Frames, err)
		}

		res.Frames++
		res.Boxes += len(plan.Boxes)
	}
}
