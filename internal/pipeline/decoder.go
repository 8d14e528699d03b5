package pipeline

import (
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"sync"

	"github.com/h2non/filetype"
)

var ErrNotImage = errors.New("payload is not a recognised image")

// Decoder turns encoded bytes into a raster. Implementations return raw
// errors; the Loader classifies them.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*Decoded, error)
}

// Decoded is a raster owned by the operation that decoded it.
type Decoded struct {
	Image  image.Image
	Width  int
	Height int
	Format string

	once    sync.Once
	onClose func()
}

func newDecoded(img image.Image, format string, onClose func()) *Decoded {
	b := img.Bounds()
	return &Decoded{
		Image:   img,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Format:  format,
		onClose: onClose,
	}
}

// Release drops the raster. Safe to call more than once and on nil.
func (d *Decoded) Release() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		if d.onClose != nil {
			d.onClose()
		}
		d.Image = nil
	})
}

// sniffImage returns the MIME type detected from magic bytes.
func sniffImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotImage
	}
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown || !filetype.IsImage(data) {
		return "", ErrNotImage
	}
	return kind.MIME.Value, nil
}

func isFormatError(err error) bool {
	if errors.Is(err, ErrNotImage) || errors.Is(err, image.ErrFormat) {
		return true
	}
	var (
		jpegFormat      jpeg.FormatError
		jpegUnsupported jpeg.UnsupportedError
		pngFormat       png.FormatError
		pngUnsupported  png.UnsupportedError
	)
	return errors.As(err, &jpegFormat) ||
		errors.As(err, &jpegUnsupported) ||
		errors.As(err, &pngFormat) ||
		errors.As(err, &pngUnsupported)
}
