package media

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
)

// Fit returns img scaled to size as an *image.RGBA anchored at the origin.
// A zero size keeps the input dimensions. The result never aliases img unless
// img already is a zero-origin RGBA of the right size.
func Fit(img image.Image, size Size) *image.RGBA {
	b := img.Bounds()
	if size.Width > 0 && size.Height > 0 && (b.Dx() != size.Width || b.Dy() != size.Height) {
		img = resize.Resize(uint(size.Width), uint(size.Height), img, resize.Bilinear)
		b = img.Bounds()
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
