package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/bdougie/labelvision/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	frames []models.Frame
	next   int
	err    error
	closed bool
	fps    float64
}

func (s *fakeSource) Next(ctx context.Context) (models.Frame, bool, error) {
	if s.next >= len(s.frames) {
		return models.Frame{}, false, s.err
	}
	f := s.frames[s.next]
	s.next++
	return f, true, nil
}

func (s *fakeSource) FPS() float64     { return s.fps }
func (s *fakeSource) Size() (int, int) { return 1000, 500 }
func (s *fakeSource) Close() error     { s.closed = true; return nil }

type written struct {
	timestampMs int64
	plan        models.OverlayPlan
	captions    []string
}

type fakeSink struct {
	writes []written
	err    error
	closed bool
	cancel context.CancelFunc // called after the first write when set
}

func (s *fakeSink) Write(frame models.Frame, plan models.OverlayPlan, captions []string) error {
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, written{frame.TimestampMs, plan, captions})
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *fakeSink) Close() error { s.closed = true; return nil }

func frames(timestamps ...int64) []models.Frame {
	out := make([]models.Frame, len(timestamps))
	for i, ts := range timestamps {
		out[i] = models.Frame{TimestampMs: ts, PixelWidth: 1000, PixelHeight: 500}
	}
	return out
}

func dinnerDetections() []models.LabelDetection {
	return []models.LabelDetection{
		{LabelName: "Person", Confidence: 99.1, TimestampMs: 0, Instances: []models.BoundingBoxInstance{
			{Left: 0.5, Top: 0.25, Width: 0.2, Height: 0.1},
		}},
		{LabelName: "Dinner", Confidence: 60.14, TimestampMs: 0},
		{LabelName: "Plate", Confidence: 87.456, TimestampMs: 500, Instances: []models.BoundingBoxInstance{
			{Left: 0.1, Top: 0.1, Width: 0.1, Height: 0.1},
			{Left: 0.3, Top: 0.3, Width: 0.1, Height: 0.1},
		}},
	}
}

func TestRunOverlayLoop(t *testing.T) {
	src := &fakeSource{frames: frames(0, 33, 250, 400, 600, 601)}
	sink := &fakeSink{}

	res, err := RunOverlayLoop(context.Background(), src, sink, dinnerDetections(), 100, false)
	require.NoError(t, err)
	require.Equal(t, LoopResult{Frames: 6, Boxes: 1 + 1 + 0 + 2 + 2 + 0}, res)
	require.Len(t, sink.writes, 6)

	first := sink.writes[0].plan.Boxes[0]
	require.Equal(t, models.OverlayBox{Left: 500, Top: 125, Width: 200, Height: 50, Text: "Person (99.1%)"}, first)
	require.Empty(t, sink.writes[2].plan.Boxes)
	require.Equal(t, "Plate (87.5%)", sink.writes[3].plan.Boxes[1].Text)
	require.Nil(t, sink.writes[0].captions)
}

func TestRunOverlayLoopCaptions(t *testing.T) {
	src := &fakeSource{frames: frames(50)}
	sink := &fakeSink{}

	_, err := RunOverlayLoop(context.Background(), src, sink, dinnerDetections(), 100, true)
	require.NoError(t, err)
	require.Equal(t, []string{"Dinner (60.1%)"}, sink.writes[0].captions)
}

func TestRunOverlayLoopEmptyStream(t *testing.T) {
	res, err := RunOverlayLoop(context.Background(), &fakeSource{}, &fakeSink{}, dinnerDetections(), 100, false)
	require.NoError(t, err)
	require.Zero(t, res.Frames)
}

func TestRunOverlayLoopSourceError(t *testing.T) {
	src := &fakeSource{frames: frames(0), err: errors.New("corrupt packet")}
	res, err := RunOverlayLoop(context.Background(), src, &fakeSink{}, nil, 100, false)
	require.ErrorContains(t, err, "corrupt packet")
	require.Equal(t, 1, res.Frames)
}

func TestRunOverlayLoopSinkError(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	_, err := RunOverlayLoop(context.Background(), &fakeSource{frames: frames(0)}, sink, nil, 100, false)
	require.ErrorContains(t, err, "disk full")
}

func TestRunOverlayLoopInvalidDetections(t *testing.T) {
	bad := []models.LabelDetection{{LabelName: "Cup", TimestampMs: -1}}
	_, err := RunOverlayLoop(context.Background(), &fakeSource{frames: frames(0)}, &fakeSink{}, bad, 100, false)
	var invalid *models.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestRunOverlayLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &fakeSink{cancel: cancel}

	res, err := RunOverlayLoop(ctx, &fakeSource{frames: frames(0, 33, 66)}, sink, nil, 100, false)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, res.Frames)
}
