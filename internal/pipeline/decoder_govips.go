//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsDecoder adds HEIF support and EXIF auto-rotation through libvips.
type govipsDecoder struct{}

func (govipsDecoder) Decode(ctx context.Context, data []byte) (*Decoded, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	mimeType, err := sniffImage(data)
	if err != nil {
		return nil, err
	}
	if vips.DetermineImageType(data) == vips.ImageTypeUnknown {
		return nil, fmt.Errorf("%w: libvips cannot load %s", ErrNotImage, mimeType)
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("vips autorotate: %w", err)
	}

	img, err := ref.ToImage(vips.NewDefaultPNGExportParams())
	if err != nil {
		return nil, fmt.Errorf("vips to image: %w", err)
	}
	return newDecoded(img, mimeType, nil), nil
}
