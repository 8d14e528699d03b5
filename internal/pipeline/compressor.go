package pipeline

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/wardrobeflow/internal/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultAvatarMaxBytes = 1 << 20
	defaultMinQuality     = 0.4
	qualityStep           = 10
)

type CompressOptions struct {
	// MaxWidthOrHeight bounds the longer side; zero keeps the size.
	MaxWidthOrHeight int
	Quality          float64
	// MaxBytes, when positive, lowers quality step by step until the payload
	// fits or MinQuality is reached.
	MaxBytes   int64
	MinQuality float64
	MIMEType   string
	MaxRetries int
	OnRetry    func(err error, attempt int)
	OnProgress func(percent int)
}

func AvatarCompressOptions() CompressOptions {
	return CompressOptions{
		MaxWidthOrHeight: AvatarThumbnailSize,
		Quality:          DefaultQuality,
		MaxBytes:         DefaultAvatarMaxBytes,
	}
}

func (o CompressOptions) withDefaults() CompressOptions {
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	if o.MinQuality <= 0 || o.MinQuality > o.Quality {
		o.MinQuality = math.Min(defaultMinQuality, o.Quality)
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = retry.DefaultMaxAttempts
	}
	if o.MIMEType == "" {
		o.MIMEType = MIMEJPEG
	}
	return o
}

func (o CompressOptions) progress(percent int) {
	if o.OnProgress != nil {
		o.OnProgress(min(100, max(0, percent)))
	}
}

// Compressor is the single-shot path for surfaces the caller already holds,
// such as a committed crop, and for avatar files that skip cropping.
type Compressor struct {
	engine
}

func NewCompressor(registry *Registry, opts ...Option) *Compressor {
	return &Compressor{engine: newEngine(registry, AvatarLimits(), opts)}
}

func (c *Compressor) Compress(ctx context.Context, img image.Image, opts CompressOptions) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.compress")
	defer span.End()

	result, err := c.compress(ctx, img, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compress failed")
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("compressed.width", result.Width),
		attribute.Int("compressed.height", result.Height),
		attribute.Int64("compressed.size", result.Size),
	)
	return result, nil
}

// CompressFile validates and decodes file, then compresses it.
func (c *Compressor) CompressFile(ctx context.Context, file File, opts CompressOptions) (Result, error) {
	if err := c.Validate(ctx, file); err != nil {
		return Result{}, err
	}
	opts = opts.withDefaults()

	decoded, err := c.decodeFile(ctx, file, c.stepPolicy(StepLoad, opts.MaxRetries, opts.OnRetry))
	if err != nil {
		return Result{}, err
	}
	defer decoded.Release()

	return c.Compress(ctx, decoded.Image, opts)
}

func (c *Compressor) compress(ctx context.Context, img image.Image, opts CompressOptions) (Result, error) {
	opts = opts.withDefaults()
	if img == nil || img.Bounds().Empty() {
		return Result{}, newError(CodeCanvasCreationFailed, "no surface to compress", nil)
	}
	opts.progress(0)

	surface, err := runStep(ctx, &c.engine, StepResample, func(context.Context) (image.Image, error) {
		return c.fit(img, opts.MaxWidthOrHeight)
	})
	if err != nil {
		return Result{}, err
	}
	opts.progress(20)

	policy := c.stepPolicy(StepEncode, opts.MaxRetries, opts.OnRetry)
	quality := int(math.Round(opts.Quality * 100))
	floor := int(math.Round(opts.MinQuality * 100))
	passes := max(1, (quality-floor)/qualityStep+1)

	var payload []byte
	for pass := 1; ; pass++ {
		payload, err = c.encode(ctx, surface, opts.MIMEType, float64(quality)/100, policy)
		if err != nil {
			return Result{}, err
		}
		opts.progress(20 + 80*pass/passes)

		if opts.MaxBytes <= 0 || int64(len(payload)) <= opts.MaxBytes || quality-qualityStep < floor {
			break
		}
		quality -= qualityStep
	}
	opts.progress(100)

	return c.newResult(payload, normalizeMIME(opts.MIMEType), surface.Bounds()), nil
}

func (c *Compressor) fit(img image.Image, maxSide int) (image.Image, error) {
	b := img.Bounds()
	if maxSide <= 0 || (b.Dx() <= maxSide && b.Dy() <= maxSide) {
		return img, nil
	}
	width, height := SurfaceSize(FitDimensions(b.Dx(), b.Dy(), maxSide, maxSide, true))
	if err := c.resampler.checkSurface(width, height); err != nil {
		return nil, err
	}
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}
