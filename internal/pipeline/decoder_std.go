package pipeline

import (
	"bytes"
	"context"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

type stdlibDecoder struct{}

func (stdlibDecoder) Decode(ctx context.Context, data []byte) (*Decoded, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	mimeType, err := sniffImage(data)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return newDecoded(img, mimeType, nil), nil
}
