package pipeline

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// DefaultMaxSurfacePixels mirrors the largest canvas area browsers allocate.
const DefaultMaxSurfacePixels = 16384 * 16384

type Resampler struct {
	Interpolator     draw.Interpolator
	MaxSurfacePixels int
}

func NewResampler() Resampler {
	return Resampler{
		Interpolator:     draw.CatmullRom,
		MaxSurfacePixels: DefaultMaxSurfacePixels,
	}
}

// FitDimensions computes the output size. With keepAspect the width clamp is
// applied first and the height clamp second, each on the previous result.
// Without it each axis is clamped on its own and the image may distort.
func FitDimensions(naturalWidth, naturalHeight, maxWidth, maxHeight int, keepAspect bool) (float64, float64) {
	width := float64(naturalWidth)
	height := float64(naturalHeight)

	if !keepAspect {
		return math.Min(width, float64(maxWidth)), math.Min(height, float64(maxHeight))
	}

	aspectRatio := width / height
	if width > float64(maxWidth) {
		width = float64(maxWidth)
		height = width / aspectRatio
	}
	if height > float64(maxHeight) {
		height = float64(maxHeight)
		width = height * aspectRatio
	}
	return width, height
}

// SurfaceSize rounds fitted dimensions to whole pixels, never below one.
func SurfaceSize(width, height float64) (int, int) {
	return max(1, int(math.Round(width))), max(1, int(math.Round(height)))
}

func (r Resampler) Resample(decoded *Decoded, maxWidth, maxHeight int, keepAspect bool) (*image.RGBA, error) {
	if decoded == nil || decoded.Image == nil {
		return nil, newError(CodeCanvasCreationFailed, "no decoded image to draw", nil)
	}
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, newError(
			CodeCanvasCreationFailed,
			fmt.Sprintf("invalid target bounds %dx%d", maxWidth, maxHeight),
			nil,
		)
	}

	width, height := SurfaceSize(FitDimensions(decoded.Width, decoded.Height, maxWidth, maxHeight, keepAspect))
	dst, err := r.newSurface(width, height)
	if err != nil {
		return nil, err
	}

	interpolator := r.Interpolator
	if interpolator == nil {
		interpolator = draw.CatmullRom
	}
	src := decoded.Image
	interpolator.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

func (r Resampler) newSurface(width, height int) (*image.RGBA, error) {
	if err := r.checkSurface(width, height); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

func (r Resampler) checkSurface(width, height int) error {
	limit := r.MaxSurfacePixels
	if limit <= 0 {
		limit = DefaultMaxSurfacePixels
	}
	if width <= 0 || height <= 0 || int64(width)*int64(height) > int64(limit) {
		return newError(
			CodeCanvasCreationFailed,
			fmt.Sprintf("cannot allocate %dx%d drawing surface", width, height),
			nil,
		)
	}
	return nil
}
