// Package overlay decides which label detections belong to a video frame and
// turns them into pixel-space rectangles with captions.
package overlay

import (
	"fmt"
	"math"

	"github.com/bdougie/labelvision/internal/models"
)

// DefaultThresholdMs is how far a detection timestamp may sit from a frame
// timestamp and still be drawn on that frame.
const DefaultThresholdMs = 100

// SelectRelevantLabels returns the detections whose timestamp is within
// thresholdMs of frameTimestampMs (inclusive), in input order.
func SelectRelevantLabels(frameTimestampMs int64, detections []models.LabelDetection, thresholdMs int64) ([]models.LabelDetection, error) {
	if frameTimestampMs < 0 {
		return nil, models.Invalid("frameTimestampMs", "must be >= 0, got %d", frameTimestampMs)
	}
	if thresholdMs < 0 {
		return nil, models.Invalid("thresholdMs", "must be >= 0, got %d", thresholdMs)
	}
	for i := range detections {
		if detections[i].TimestampMs < 0 {
			return nil, models.Invalid(fmt.Sprintf("detections[%d].timestampMs", i), "must be >= 0, got %d", detections[i].TimestampMs)
		}
	}

	relevant := []models.LabelDetection{}
	for _, d := range detections {
		delta := d.TimestampMs - frameTimestampMs
		if delta < 0 {
			delta = -delta
		}
		if delta <= thresholdMs {
			relevant = append(relevant, d)
		}
	}
	return relevant, nil
}

// ComputeOverlayPlan scales every bounding box of every detection to the
// frame size. Detections without instances contribute nothing. Coordinates
// are not clamped.
func ComputeOverlayPlan(relevant []models.LabelDetection, frameWidth, frameHeight int) (models.OverlayPlan, error) {
	if frameWidth <= 0 || frameHeight <= 0 {
		return models.OverlayPlan{}, models.Invalid("frame", "dimensions must be positive, got %dx%d", frameWidth, frameHeight)
	}
	n := 0
	for i, d := range relevant {
		for j, box := range d.Instances {
			if err := validateBox(box); err != nil {
				return models.OverlayPlan{}, models.Invalid(fmt.Sprintf("detections[%d].instances[%d]", i, j), "%v", err)
			}
		}
		n += len(d.Instances)
	}

	w := float64(frameWidth)
	h := float64(frameHeight)
	plan := models.OverlayPlan{Boxes: make([]models.OverlayBox, 0, n)}
	for _, d := range relevant {
		text := LabelText(d.LabelName, d.Confidence)
		for _, box := range d.Instances {
			plan.Boxes = append(plan.Boxes, models.OverlayBox{
				Left:   box.Left * w,
				Top:    box.Top * h,
				Width:  box.Width * w,
				Height: box.Height * h,
				Text:   text,
			})
		}
	}
	return plan, nil
}

// Captions lists the label text of detections that have no bounding box.
// These whole-frame labels are left out of ComputeOverlayPlan.
func Captions(relevant []models.LabelDetection) []string {
	var captions []string
	for _, d := range relevant {
		if len(d.Instances) == 0 {
			captions = append(captions, LabelText(d.LabelName, d.Confidence))
		}
	}
	return captions
}

// LabelText formats a caption as "Name (87.5%)"
func LabelText(name string, confidence float64) string {
	return fmt.Sprintf("%s (%.1f%%)", name, confidence)
}

func validateBox(b models.BoundingBoxInstance) error {
	for _, v := range [...]float64{b.Left, b.Top, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("coordinate is not finite")
		}
	}
	return nil
}
