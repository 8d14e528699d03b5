package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/wardrobeflow/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
)

const (
	StepValidate = "validate"
	StepLoad     = "load"
	StepResample = "resample"
	StepCrop     = "crop"
	StepEncode   = "encode"
)

// Observer receives step timings and retries, typically for metrics.
type Observer interface {
	ObserveStep(step string, elapsed time.Duration, err error)
	ObserveRetry(step string, err error, attempt int)
}

type noopObserver struct{}

func (noopObserver) ObserveStep(string, time.Duration, error) {}
func (noopObserver) ObserveRetry(string, error, int)          {}

// engine is the shared plumbing behind Generator and Compressor.
type engine struct {
	registry  *Registry
	limits    Limits
	loader    *Loader
	encoder   BlobEncoder
	resampler Resampler
	policy    retry.Policy
	observer  Observer
	tracer    trace.Tracer
}

type Option func(*engine)

func WithLimits(limits Limits) Option {
	return func(e *engine) { e.limits = limits }
}

func WithDecoder(decoder Decoder) Option {
	return func(e *engine) { e.loader = NewLoader(decoder) }
}

func WithEncoder(encoder BlobEncoder) Option {
	return func(e *engine) { e.encoder = encoder }
}

// WithRetryPolicy sets delays and jitter; ShouldRetry is always overridden
// per step.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(e *engine) { e.policy = policy }
}

func WithObserver(observer Observer) Option {
	return func(e *engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

func WithInterpolator(interpolator draw.Interpolator) Option {
	return func(e *engine) { e.resampler.Interpolator = interpolator }
}

func WithMaxSurfacePixels(pixels int) Option {
	return func(e *engine) { e.resampler.MaxSurfacePixels = pixels }
}

func newEngine(registry *Registry, defaultLimits Limits, opts []Option) engine {
	if registry == nil {
		registry = NewRegistry("local")
	}
	e := engine{
		registry:  registry,
		limits:    defaultLimits,
		encoder:   stdlibEncoder{},
		resampler: NewResampler(),
		policy:    retry.DefaultPolicy(),
		observer:  noopObserver{},
		tracer:    otel.Tracer("wardrobeflow/pipeline"),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.loader == nil {
		e.loader = NewLoader(nil)
	}
	return e
}

func (e *engine) Registry() *Registry {
	return e.registry
}

// stepPolicy builds the per-step retry policy for one call.
func (e *engine) stepPolicy(step string, maxRetries int, onRetry func(error, int)) retry.Policy {
	p := e.policy
	if maxRetries > 0 {
		p.MaxAttempts = maxRetries
	}
	p.OnRetry = func(err error, attempt int) {
		e.observer.ObserveRetry(step, err, attempt)
		if onRetry != nil {
			onRetry(err, attempt)
		}
	}
	return p
}

// runStep wraps fn in a child span and reports its timing.
func runStep[T any](ctx context.Context, e *engine, step string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := e.tracer.Start(ctx, "pipeline."+step)
	defer span.End()

	start := time.Now()
	out, err := fn(ctx)
	e.observer.ObserveStep(step, time.Since(start), err)

	if err != nil {
		if code, ok := CodeOf(err); ok {
			span.SetAttributes(attribute.String("image.error_code", string(code)))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, step+" failed")
	}
	return out, err
}

// Validate applies the size and type limits without touching pixel data.
func (e *engine) Validate(ctx context.Context, file File) error {
	_, err := runStep(ctx, e, StepValidate, func(context.Context) (struct{}, error) {
		return struct{}{}, e.limits.Validate(file)
	})
	return err
}

// decodeFile registers file under a temporary handle, decodes it and releases
// the handle before returning, whatever the outcome.
func (e *engine) decodeFile(ctx context.Context, file File, policy retry.Policy) (*Decoded, error) {
	sourceURL := e.registry.Create(file.Data, normalizeMIME(file.Type))
	defer e.registry.Release(sourceURL)

	return e.decodeHandle(ctx, sourceURL, policy)
}

// DecodeHandle decodes the payload behind a live handle owned by the caller.
// The returned raster must be released by the caller.
func (e *engine) DecodeHandle(ctx context.Context, url string, maxRetries int, onRetry func(error, int)) (*Decoded, error) {
	return e.decodeHandle(ctx, url, e.stepPolicy(StepLoad, maxRetries, onRetry))
}

func (e *engine) decodeHandle(ctx context.Context, url string, policy retry.Policy) (*Decoded, error) {
	return runStep(ctx, e, StepLoad, func(ctx context.Context) (*Decoded, error) {
		return e.loader.Load(ctx, e.registry, url, policy)
	})
}

// Crop extracts rect from img at full resolution into a new surface.
func (e *engine) Crop(ctx context.Context, img image.Image, rect image.Rectangle) (image.Image, error) {
	return runStep(ctx, e, StepCrop, func(context.Context) (image.Image, error) {
		if img == nil {
			return nil, newError(CodeCanvasCreationFailed, "no image to crop", nil)
		}
		rect = rect.Intersect(img.Bounds())
		if err := e.resampler.checkSurface(rect.Dx(), rect.Dy()); err != nil {
			return nil, err
		}
		return imaging.Crop(img, rect), nil
	})
}

func (e *engine) encode(ctx context.Context, img image.Image, mimeType string, quality float64, policy retry.Policy) ([]byte, error) {
	return runStep(ctx, e, StepEncode, func(ctx context.Context) ([]byte, error) {
		return encodeBlob(ctx, e.encoder, img, mimeType, quality, policy)
	})
}
