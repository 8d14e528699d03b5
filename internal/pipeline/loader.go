package pipeline

import (
	"context"
	"errors"

	"github.com/dunamismax/wardrobeflow/internal/retry"
)

// Loader decodes the payload behind a handle, retrying transient failures.
type Loader struct {
	decoder Decoder
}

func NewLoader(decoder Decoder) *Loader {
	if decoder == nil {
		decoder = newDecoder()
	}
	return &Loader{decoder: decoder}
}

// Load retries only LOAD_FAILED; INVALID_FORMAT fails on the first attempt.
func (l *Loader) Load(ctx context.Context, registry *Registry, url string, policy retry.Policy) (*Decoded, error) {
	policy.ShouldRetry = IsRetryable
	return retry.Do(ctx, policy, func(ctx context.Context) (*Decoded, error) {
		return l.loadOnce(ctx, registry, url)
	})
}

func (l *Loader) loadOnce(ctx context.Context, registry *Registry, url string) (*Decoded, error) {
	data, _, err := registry.Open(url)
	if err != nil {
		return nil, newError(CodeLoadFailed, "failed to open image source", err)
	}

	decoded, err := l.decoder.Decode(ctx, data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if isFormatError(err) {
			return nil, newError(CodeInvalidFormat, "image data is corrupt or in an unsupported encoding", err)
		}
		return nil, newError(CodeLoadFailed, "failed to load image", err)
	}
	if decoded == nil || decoded.Image == nil || decoded.Width <= 0 || decoded.Height <= 0 {
		decoded.Release()
		return nil, newError(CodeInvalidFormat, "decoded image has no pixels", nil)
	}
	return decoded, nil
}
