package render

import (
	"fmt"
	"image"
	"io"

	"github.com/bdougie/labelvision/internal/models"
	"github.com/bdougie/labelvision/internal/overlay"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

const captionPadding = 2

// Result describes a rendered image
type Result struct {
	Width  int
	Height int
	Boxes  int
}

// Options controls what is drawn besides the boxes
type Options struct {
	Captions    bool // list labels without instances in the top-left corner
	JPEGQuality int
}

// Image decodes src honoring EXIF orientation, draws every located label and
// encodes the result to dst in format
func Image(src io.Reader, dst io.Writer, format imaging.Format, labels []models.LabelDetection, opts Options) (Result, error) {
	img, err := imaging.Decode(src, imaging.AutoOrientation(true))
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	plan, err := overlay.ComputeOverlayPlan(labels, bounds.Dx(), bounds.Dy())
	if err != nil {
		return Result{}, err
	}

	var captions []string
	if opts.Captions {
		captions = overlay.Captions(labels)
	}
	out := DrawPlan(img, plan, captions)

	var encodeOpts []imaging.EncodeOption
	if opts.JPEGQuality > 0 {
		encodeOpts = append(encodeOpts, imaging.JPEGQuality(opts.JPEGQuality))
	}
	if err := imaging.Encode(dst, out, format, encodeOpts...); err != nil {
		return Result{}, fmt.Errorf("failed to encode image: %w", err)
	}

	return Result{Width: bounds.Dx(), Height: bounds.Dy(), Boxes: len(plan.Boxes)}, nil
}

// DrawPlan returns a copy of img with every box outlined in red and captioned
func DrawPlan(img image.Image, plan models.OverlayPlan, captions []string) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(1)

	for _, b := range plan.Boxes {
		dc.SetRGB(1, 0, 0)
		dc.DrawRectangle(b.Left, b.Top, b.Width, b.Height)
		dc.Stroke()
		drawCaption(dc, b.Text, b.Left, b.Top)
	}

	y := float64(captionPadding)
	for _, text := range captions {
		_, h := dc.MeasureString(text)
		drawLabel(dc, text, captionPadding, y)
		y += h + 2*captionPadding
	}

	return dc.Image()
}

// drawCaption puts text just above (x, top), or inside the box when there is
// no room above it
func drawCaption(dc *gg.Context, text string, x, top float64) {
	_, h := dc.MeasureString(text)
	y := top - h - 2*captionPadding
	if y < 0 {
		y = top
	}
	drawLabel(dc, text, x, y)
}

func drawLabel(dc *gg.Context, text string, x, y float64) {
	w, h := dc.MeasureString(text)

	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(x, y, w+2*captionPadding, h+2*captionPadding)
	dc.Fill()

	dc.SetRGB(1, 0, 0)
	dc.DrawStringAnchored(text, x+captionPadding, y+captionPadding, 0, 1)
}
