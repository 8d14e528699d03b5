package pipeline

import (
	"context"
	"image"

	"github.com/dunamismax/wardrobeflow/internal/retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Default bounds for derived assets.
const (
	GalleryThumbnailSize = 800
	AvatarThumbnailSize  = 400
)

type Options struct {
	MaxWidth  int
	MaxHeight int
	// Quality is in (0,1]; zero means DefaultQuality.
	Quality float64
	// IgnoreAspectRatio clamps each axis independently and may distort.
	IgnoreAspectRatio bool
	// MaxRetries is the attempt budget per step; zero means three.
	MaxRetries int
	// MIMEType of the output; empty means image/jpeg.
	MIMEType string
	OnRetry  func(err error, attempt int)
}

func GalleryOptions() Options {
	return Options{
		MaxWidth:  GalleryThumbnailSize,
		MaxHeight: GalleryThumbnailSize,
		Quality:   DefaultQuality,
	}
}

func (o Options) withDefaults() Options {
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = DefaultQuality
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = retry.DefaultMaxAttempts
	}
	if o.MIMEType == "" {
		o.MIMEType = MIMEJPEG
	}
	return o
}

// Result describes a derived image. Its payload lives behind URL in the
// registry that produced it until Release is called.
type Result struct {
	URL      string
	Width    int
	Height   int
	Size     int64
	MIMEType string

	registry *Registry
}

func (r Result) Bytes() ([]byte, error) {
	if r.registry == nil {
		return nil, ErrHandleNotFound
	}
	data, _, err := r.registry.Open(r.URL)
	return data, err
}

// Release frees the payload. Calling it again is a no-op.
func (r Result) Release() {
	if r.registry == nil || r.URL == "" {
		return
	}
	r.registry.Release(r.URL)
}

func (e *engine) newResult(payload []byte, mimeType string, bounds image.Rectangle) Result {
	return Result{
		URL:      e.registry.Create(payload, mimeType),
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Size:     int64(len(payload)),
		MIMEType: mimeType,
		registry: e.registry,
	}
}

// Generator turns an uploaded file into a thumbnail: validate, load,
// resample, encode.
type Generator struct {
	engine
}

func NewGenerator(registry *Registry, opts ...Option) *Generator {
	return &Generator{engine: newEngine(registry, WardrobeLimits(), opts)}
}

func (g *Generator) CreateThumbnail(ctx context.Context, file File, opts Options) (Result, error) {
	ctx, span := g.tracer.Start(ctx, "pipeline.create_thumbnail")
	defer span.End()
	span.SetAttributes(
		attribute.String("file.name", file.Name),
		attribute.String("file.type", file.Type),
		attribute.Int64("file.size", file.Size()),
	)

	result, err := g.createThumbnail(ctx, file, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "thumbnail failed")
		return Result{}, err
	}

	span.SetAttributes(
		attribute.Int("thumbnail.width", result.Width),
		attribute.Int("thumbnail.height", result.Height),
		attribute.Int64("thumbnail.size", result.Size),
	)
	return result, nil
}

func (g *Generator) createThumbnail(ctx context.Context, file File, opts Options) (Result, error) {
	if err := g.Validate(ctx, file); err != nil {
		return Result{}, err
	}
	opts = opts.withDefaults()

	decoded, err := g.decodeFile(ctx, file, g.stepPolicy(StepLoad, opts.MaxRetries, opts.OnRetry))
	if err != nil {
		return Result{}, err
	}
	defer decoded.Release()

	resamplePolicy := g.stepPolicy(StepResample, opts.MaxRetries, opts.OnRetry)
	resamplePolicy.ShouldRetry = IsRetryable
	surface, err := runStep(ctx, &g.engine, StepResample, func(ctx context.Context) (*image.RGBA, error) {
		return retry.Do(ctx, resamplePolicy, func(context.Context) (*image.RGBA, error) {
			return g.resampler.Resample(decoded, opts.MaxWidth, opts.MaxHeight, !opts.IgnoreAspectRatio)
		})
	})
	if err != nil {
		return Result{}, err
	}

	payload, err := g.encode(ctx, surface, opts.MIMEType, opts.Quality, g.stepPolicy(StepEncode, opts.MaxRetries, opts.OnRetry))
	if err != nil {
		return Result{}, err
	}

	return g.newResult(payload, normalizeMIME(opts.MIMEType), surface.Bounds()), nil
}
