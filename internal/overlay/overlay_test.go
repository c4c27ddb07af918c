package overlay

import (
	"errors"
	"math"
	"testing"

	"github.com/bdougie/labelvision/internal/models"
	"github.com/stretchr/testify/require"
)

func detectionsAt(timestamps ...int64) []models.LabelDetection {
	var ds []models.LabelDetection
	for _, ts := range timestamps {
		ds = append(ds, models.LabelDetection{LabelName: "x", Confidence: 90, TimestampMs: ts})
	}
	return ds
}

func TestSelectRelevantLabelsRange(t *testing.T) {
	all := detectionsAt(0, 400, 450, 500, 550, 600, 601, 1000)
	for _, threshold := range []int64{0, 1, 50, 100, 500} {
		for _, frameTs := range []int64{0, 450, 500, 999} {
			got, err := SelectRelevantLabels(frameTs, all, threshold)
			require.NoError(t, err)

			var want []int64
			for _, d := range all {
				delta := d.TimestampMs - frameTs
				if delta < 0 {
					delta = -delta
				}
				if delta <= threshold {
					want = append(want, d.TimestampMs)
				}
			}
			var gotTs []int64
			for _, d := range got {
				gotTs = append(gotTs, d.TimestampMs)
			}
			require.Equal(t, want, gotTs, "frame=%d threshold=%d", frameTs, threshold)
		}
	}
}

func TestSelectRelevantLabelsBoundary(t *testing.T) {
	all := detectionsAt(399, 400, 600, 601)
	got, err := SelectRelevantLabels(500, all, DefaultThresholdMs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(400), got[0].TimestampMs)
	require.Equal(t, int64(600), got[1].TimestampMs)
}

func TestSelectRelevantLabelsEmpty(t *testing.T) {
	got, err := SelectRelevantLabels(5000, detectionsAt(0, 100), DefaultThresholdMs)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	got, err = SelectRelevantLabels(0, nil, DefaultThresholdMs)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSelectRelevantLabelsInvalid(t *testing.T) {
	var invalid *models.InvalidInputError

	_, err := SelectRelevantLabels(-1, detectionsAt(0), DefaultThresholdMs)
	require.True(t, errors.As(err, &invalid))
	require.Equal(t, "frameTimestampMs", invalid.Field)

	_, err = SelectRelevantLabels(0, detectionsAt(0), -5)
	require.True(t, errors.As(err, &invalid))

	_, err = SelectRelevantLabels(0, detectionsAt(0, -10), DefaultThresholdMs)
	require.True(t, errors.As(err, &invalid))
}

func TestComputeOverlayPlanScaling(t *testing.T) {
	labels := []models.LabelDetection{{
		LabelName:  "Plate",
		Confidence: 87.456,
		Instances:  []models.BoundingBoxInstance{{Left: 0.5, Top: 0.25, Width: 0.2, Height: 0.1}},
	}}
	plan, err := ComputeOverlayPlan(labels, 1000, 500)
	require.NoError(t, err)
	require.Len(t, plan.Boxes, 1)

	b := plan.Boxes[0]
	require.InDelta(t, 500, b.Left, 1e-9)
	require.InDelta(t, 125, b.Top, 1e-9)
	require.InDelta(t, 200, b.Width, 1e-9)
	require.InDelta(t, 50, b.Height, 1e-9)
	require.Equal(t, "Plate (87.5%)", b.Text)
}

func TestComputeOverlayPlanZeroInstances(t *testing.T) {
	labels := []models.LabelDetection{{LabelName: "Food", Confidence: 99}}
	plan, err := ComputeOverlayPlan(labels, 640, 480)
	require.NoError(t, err)
	require.Empty(t, plan.Boxes)
}

func TestComputeOverlayPlanOrder(t *testing.T) {
	labels := []models.LabelDetection{
		{LabelName: "A", Confidence: 10, Instances: []models.BoundingBoxInstance{{Left: 0.1}}},
		{LabelName: "B", Confidence: 20, Instances: []models.BoundingBoxInstance{{Left: 0.2}, {Left: 0.3}}},
	}
	plan, err := ComputeOverlayPlan(labels, 100, 100)
	require.NoError(t, err)
	require.Len(t, plan.Boxes, 3)
	require.Equal(t, "A (10.0%)", plan.Boxes[0].Text)
	require.InDelta(t, 10, plan.Boxes[0].Left, 1e-9)
	require.Equal(t, "B (20.0%)", plan.Boxes[1].Text)
	require.InDelta(t, 20, plan.Boxes[1].Left, 1e-9)
	require.Equal(t, "B (20.0%)", plan.Boxes[2].Text)
	require.InDelta(t, 30, plan.Boxes[2].Left, 1e-9)
}

func TestComputeOverlayPlanIdempotent(t *testing.T) {
	labels := []models.LabelDetection{
		{LabelName: "Cup", Confidence: 55.55, Instances: []models.BoundingBoxInstance{{Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.4}}},
	}
	a, err := ComputeOverlayPlan(labels, 1920, 1080)
	require.NoError(t, err)
	b, err := ComputeOverlayPlan(labels, 1920, 1080)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestComputeOverlayPlanOutOfRangePropagates(t *testing.T) {
	labels := []models.LabelDetection{
		{LabelName: "Edge", Confidence: 1, Instances: []models.BoundingBoxInstance{{Left: -0.1, Top: 1.2, Width: 0.5, Height: 0.5}}},
	}
	plan, err := ComputeOverlayPlan(labels, 100, 100)
	require.NoError(t, err)
	require.InDelta(t, -10, plan.Boxes[0].Left, 1e-9)
	require.InDelta(t, 120, plan.Boxes[0].Top, 1e-9)
}

func TestComputeOverlayPlanInvalid(t *testing.T) {
	var invalid *models.InvalidInputError

	_, err := ComputeOverlayPlan(nil, 0, 100)
	require.True(t, errors.As(err, &invalid))

	_, err = ComputeOverlayPlan(nil, 100, -1)
	require.True(t, errors.As(err, &invalid))

	labels := []models.LabelDetection{
		{LabelName: "Ok", Instances: []models.BoundingBoxInstance{{Left: 0.1}}},
		{LabelName: "Bad", Instances: []models.BoundingBoxInstance{{Left: math.NaN()}}},
	}
	plan, err := ComputeOverlayPlan(labels, 100, 100)
	require.True(t, errors.As(err, &invalid))
	require.Empty(t, plan.Boxes)
}

func TestCaptions(t *testing.T) {
	labels := []models.LabelDetection{
		{LabelName: "Food", Confidence: 98.04},
		{LabelName: "Person", Confidence: 70, Instances: []models.BoundingBoxInstance{{}}},
		{LabelName: "Dinner", Confidence: 60.14},
	}
	require.Equal(t, []string{"Food (98.0%)", "Dinner (60.1%)"}, Captions(labels))
	require.Empty(t, Captions(nil))
}
