package overlay

import (
	"image"

	"github.com/bdougie/labelvision/internal/models"
)

// PixelRect is the integer rectangle covering b, with every coordinate
// truncated toward zero
func PixelRect(b models.OverlayBox) image.Rectangle {
	left, top := int(b.Left), int(b.Top)
	return image.Rect(left, top, left+int(b.Width), top+int(b.Height))
}

// CaptionOrigin is where the caption of b starts, offset pixels above its top
// left corner
func CaptionOrigin(b models.OverlayBox, offset int) image.Point {
	return image.Pt(int(b.Left), int(b.Top)-offset)
}

// CornerCaptionOrigin places the i-th whole-frame caption in a column at the
// top left of the frame, one line every 2*step pixels
func CornerCaptionOrigin(i, step int) image.Point {
	return image.Pt(step, 2*step*(i+1))
}
