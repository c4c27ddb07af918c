package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks pipeline progress on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	FramesProcessed prometheus.Counter
	BoxesDrawn      prometheus.Counter
	ImagesLabeled   prometheus.Counter
	PollAttempts    prometheus.Counter
	JobWaitSeconds  prometheus.Histogram
}

// New registers every collector on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		FramesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "labelvision_frames_processed_total",
			Help: "Video frames read, overlaid and written.",
		}),
		BoxesDrawn: f.NewCounter(prometheus.CounterOpts{
			Name: "labelvision_overlay_boxes_total",
			Help: "Bounding boxes drawn on images and frames.",
		}),
		ImagesLabeled: f.NewCounter(prometheus.CounterOpts{
			Name: "labelvision_images_labeled_total",
			Help: "Still images labeled and rendered.",
		}),
		PollAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "labelvision_job_poll_attempts_total",
			Help: "GetLabelDetection status checks.",
		}),
		JobWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "labelvision_job_wait_seconds",
			Help:    "Time from job start until the video labels were available.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}

// WriteFile dumps the registry in the text exposition format
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
