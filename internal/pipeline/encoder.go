package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/dunamismax/wardrobeflow/internal/retry"
)

const (
	DefaultQuality = 0.8
	// browsers fall back to 0.92 when toBlob gets an out-of-range quality
	fallbackQuality = 0.92
)

var errEmptyPayload = errors.New("encoder produced no data")

type BlobEncoder interface {
	Encode(ctx context.Context, img image.Image, mimeType string, quality float64) ([]byte, error)
}

type stdlibEncoder struct{}

func (stdlibEncoder) Encode(ctx context.Context, img image.Image, mimeType string, quality float64) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	switch normalizeMIME(mimeType) {
	case MIMEJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case MIMEPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case MIMEGIF:
		if err := gif.Encode(&buf, img, &gif.Options{NumColors: 256}); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	default:
		return nil, newError(CodeUnsupportedType, fmt.Sprintf("cannot encode %q", mimeType), nil)
	}
	return buf.Bytes(), nil
}

func jpegQuality(quality float64) int {
	if quality <= 0 || quality > 1 {
		quality = fallbackQuality
	}
	return min(100, max(1, int(math.Round(quality*100))))
}

// encodeBlob runs the encoder under policy, retrying BLOB_CREATION_FAILED.
func encodeBlob(ctx context.Context, encoder BlobEncoder, img image.Image, mimeType string, quality float64, policy retry.Policy) ([]byte, error) {
	policy.ShouldRetry = IsRetryable
	return retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		data, err := encoder.Encode(ctx, img, mimeType, quality)
		if err != nil {
			if _, ok := CodeOf(err); ok {
				return nil, err
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, newError(CodeBlobCreationFailed, "failed to create blob", err)
		}
		if len(data) == 0 {
			return nil, newError(CodeBlobCreationFailed, "failed to create blob", errEmptyPayload)
		}
		return data, nil
	})
}
