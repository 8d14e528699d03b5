package crop

import (
	"image"
	"math"
)

const minSide = 1.0

// Region is a selection in percent of the displayed image.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// DefaultRegion is the selection shown when an image is first opened.
func DefaultRegion() Region {
	return Region{X: 5, Y: 5, Width: 90, Height: 90}
}

// Clamp returns r clipped to the image: sizes first, to [1,100], then
// positions, to [0, 100-size]. Out-of-range input is clipped, never rejected.
func (r Region) Clamp() Region {
	r.Width = clamp(r.Width, minSide, 100)
	r.Height = clamp(r.Height, minSide, 100)
	r.X = clamp(r.X, 0, 100-r.Width)
	r.Y = clamp(r.Y, 0, 100-r.Height)
	return r
}

// LockAspect adjusts the height so the region covers aspect (width/height)
// in displayed pixels, shrinking both sides when the height would overflow.
func (r Region) LockAspect(aspect float64, displayed image.Point) Region {
	if aspect <= 0 || displayed.X <= 0 || displayed.Y <= 0 {
		return r.Clamp()
	}
	ratio := float64(displayed.X) / float64(displayed.Y) / aspect

	r.Width = clamp(r.Width, minSide, 100)
	r.Height = r.Width * ratio
	if r.Height > 100 {
		r.Height = 100
		r.Width = r.Height / ratio
	}
	return r.Clamp()
}

// Resize changes the size of r by dw and dh while its top-left corner stays
// put. The new size is clipped to the space right of and below the corner.
// With a positive aspect the larger of the two changes drives both sides.
func (r Region) Resize(dw, dh, aspect float64, displayed image.Point) Region {
	r = r.Clamp()
	maxW, maxH := 100-r.X, 100-r.Y
	if aspect <= 0 || displayed.X <= 0 || displayed.Y <= 0 {
		r.Width = clamp(r.Width+dw, minSide, maxW)
		r.Height = clamp(r.Height+dh, minSide, maxH)
		return r
	}

	// height = width * ratio in percent units
	ratio := float64(displayed.X) / float64(displayed.Y) / aspect
	delta := dw
	if byHeight := dh / ratio; math.Abs(byHeight) > math.Abs(dw) {
		delta = byHeight
	}
	r.Width = clamp(r.Width+delta, math.Max(minSide, minSide/ratio), math.Min(maxW, maxH/ratio))
	r.Height = r.Width * ratio
	return r
}

// PixelRect translates a region on the displayed image into source pixels
// using scaleX = natural.X/displayed.X and scaleY = natural.Y/displayed.Y.
// The result lies inside the natural bounds and is never empty.
func PixelRect(r Region, natural, displayed image.Point) image.Rectangle {
	if natural.X <= 0 || natural.Y <= 0 || displayed.X <= 0 || displayed.Y <= 0 {
		return image.Rectangle{}
	}
	r = r.Clamp()
	scaleX := float64(natural.X) / float64(displayed.X)
	scaleY := float64(natural.Y) / float64(displayed.Y)

	x0 := int(math.Round(r.X / 100 * float64(displayed.X) * scaleX))
	y0 := int(math.Round(r.Y / 100 * float64(displayed.Y) * scaleY))
	w := int(math.Round(r.Width / 100 * float64(displayed.X) * scaleX))
	h := int(math.Round(r.Height / 100 * float64(displayed.Y) * scaleY))

	x0 = min(max(0, x0), natural.X-1)
	y0 = min(max(0, y0), natural.Y-1)
	w = min(max(1, w), natural.X-x0)
	h = min(max(1, h), natural.Y-y0)
	return image.Rect(x0, y0, x0+w, y0+h)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
