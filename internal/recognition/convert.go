package recognition

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/bdougie/labelvision/internal/models"
)

// fromLabel converts a service label seen at timestampMs. Instances without
// a bounding box are skipped; boxes with missing fields are rejected.
func fromLabel(l *types.Label, timestampMs int64) (models.LabelDetection, error) {
	if l == nil || l.Name == nil || *l.Name == "" {
		return models.LabelDetection{}, models.Invalid("label.name", "missing")
	}
	d := models.LabelDetection{
		LabelName:   *l.Name,
		TimestampMs: timestampMs,
	}
	if l.Confidence != nil {
		d.Confidence = float64(*l.Confidence)
	}
	for i, inst := range l.Instances {
		if inst.BoundingBox == nil {
			continue
		}
		box, err := fromBoundingBox(inst.BoundingBox)
		if err != nil {
			return models.LabelDetection{}, models.Invalid(fmt.Sprintf("%s.instances[%d]", d.LabelName, i), "%v", err)
		}
		d.Instances = append(d.Instances, box)
	}
	return d, nil
}

func fromBoundingBox(b *types.BoundingBox) (models.BoundingBoxInstance, error) {
	if b.Left == nil || b.Top == nil || b.Width == nil || b.Height == nil {
		return models.BoundingBoxInstance{}, fmt.Errorf("bounding box is missing a field")
	}
	return models.BoundingBoxInstance{
		Left:   float64(*b.Left),
		Top:    float64(*b.Top),
		Width:  float64(*b.Width),
		Height: float64(*b.Height),
	}, nil
}

func fromLabelDetections(in []types.LabelDetection) ([]models.LabelDetection, error) {
	out := make([]models.LabelDetection, 0, len(in))
	for _, ld := range in {
		if ld.Timestamp < 0 {
			return nil, models.Invalid("timestamp", "must be >= 0, got %d", ld.Timestamp)
		}
		d, err := fromLabel(ld.Label, ld.Timestamp)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
