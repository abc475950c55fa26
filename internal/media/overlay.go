package media

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TimestampLayout is the rendering of capture times burnt into frames.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	stampMargin  = 10
	stampPadding = 3
)

var stampBackground = image.NewUniform(color.RGBA{A: 160})

// Stamp draws t in the given corner of img, white text on a translucent box.
func Stamp(img *image.RGBA, t time.Time, corner Corner) {
	face := basicfont.Face7x13
	text := t.Format(TimestampLayout)

	width := font.MeasureString(face, text).Ceil()
	ascent := face.Metrics().Ascent.Ceil()
	descent := face.Metrics().Descent.Ceil()

	b := img.Bounds()
	x := b.Min.X + stampMargin
	if corner == BottomRight || corner == TopRight {
		x = b.Max.X - stampMargin - width
	}
	y := b.Min.Y + stampMargin + ascent
	if corner == BottomRight || corner == BottomLeft {
		y = b.Max.Y - stampMargin - descent
	}

	box := image.Rect(x-stampPadding, y-ascent-stampPadding, x+width+stampPadding, y+descent+stampPadding).Intersect(b)
	draw.Draw(img, box, stampBackground, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
