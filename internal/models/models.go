package models

// BoundingBoxInstance is one located occurrence of a label. All fields are
// fractions of the frame dimensions.
type BoundingBoxInstance struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// LabelDetection is a single label reported by the recognition service
type LabelDetection struct {
	LabelName   string                `json:"labelName"`
	Confidence  float64               `json:"confidence"` // 0 to 100
	TimestampMs int64                 `json:"timestampMs"`
	Instances   []BoundingBoxInstance `json:"instances,omitempty"`
}

// Frame is a decoded video frame handed out by a frame source
type Frame struct {
	TimestampMs int64
	PixelWidth  int
	PixelHeight int
	Pixels      any // owned by the frame source
}

// OverlayBox is a rectangle in pixel space plus its caption
type OverlayBox struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
	Text   string
}

// OverlayPlan is everything to draw on one frame
type OverlayPlan struct {
	Boxes []OverlayBox
}

// ImageResult summarizes one labeled still image
type ImageResult struct {
	Key        string `json:"key"`
	OutputPath string `json:"outputPath"`
	LabelCount int    `json:"labelCount"`
	BoxCount   int    `json:"boxCount"`
}

// VideoResult summarizes one labeled video
type VideoResult struct {
	Key        string `json:"key"`
	JobID      string `json:"jobId"`
	OutputPath string `json:"outputPath"`
	Labels     int    `json:"labels"`
	Frames     int    `json:"frames"`
	Boxes      int    `json:"boxes"`
	Cached     bool   `json:"cached"`
}

// BoxMatch is a stored instance found by box similarity search
type BoxMatch struct {
	VideoName   string              `json:"videoName"`
	LabelName   string              `json:"labelName"`
	TimestampMs int64               `json:"timestampMs"`
	Box         BoundingBoxInstance `json:"box"`
	Distance    float64             `json:"distance"`
}
