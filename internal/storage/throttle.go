package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/wardrobeflow/internal/ratelimit"
)

type Uploader interface {
	Upload(ctx context.Context, objectKey string, payload []byte, contentType string) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

type Limiter interface {
	AllowN(ctx context.Context, subject string, n int) (ratelimit.Decision, error)
	Capacity() int
}

// ThrottledUploader charges subject one token per started bytesPerToken of
// payload before every upload, capped at the bucket capacity, and waits out
// RetryAfter while the bucket is short. A non-positive bytesPerToken charges
// one token per upload.
type ThrottledUploader struct {
	next          Uploader
	limiter       Limiter
	subject       string
	bytesPerToken int64
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewThrottledUploader(next Uploader, limiter Limiter, subject string, bytesPerToken int64) *ThrottledUploader {
	return &ThrottledUploader{
		next:          next,
		limiter:       limiter,
		subject:       subject,
		bytesPerToken: bytesPerToken,
		sleep:         sleepContext,
	}
}

func (u *ThrottledUploader) Upload(ctx context.Context, objectKey string, payload []byte, contentType string) (string, error) {
	if err := u.wait(ctx, len(payload)); err != nil {
		return "", err
	}
	return u.next.Upload(ctx, objectKey, payload, contentType)
}

func (u *ThrottledUploader) Delete(ctx context.Context, objectKey string) error {
	return u.next.Delete(ctx, objectKey)
}

func (u *ThrottledUploader) tokensFor(size int) int {
	n := 1
	if u.bytesPerToken > 0 {
		n = int((int64(size) + u.bytesPerToken - 1) / u.bytesPerToken)
	}
	n = max(1, n)
	if capacity := u.limiter.Capacity(); capacity > 0 {
		n = min(n, capacity)
	}
	return n
}

func (u *ThrottledUploader) wait(ctx context.Context, size int) error {
	if u.limiter == nil {
		return nil
	}
	tokens := u.tokensFor(size)
	for {
		decision, err := u.limiter.AllowN(ctx, u.subject, tokens)
		if err != nil {
			return fmt.Errorf("upload throttle: %w", err)
		}
		if decision.Allowed {
			return nil
		}

		delay := decision.RetryAfter
		if delay <= 0 {
			delay = time.Second
		}
		if err := u.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
