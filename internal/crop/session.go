package crop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/dunamismax/wardrobeflow/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type State string

const (
	StateNoSelection State = "no_selection"
	StatePreviewing  State = "previewing"
	StateAdjusting   State = "adjusting"
	StateCommitting  State = "committing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// CommitQuality is the encode quality for a committed crop before any
// byte-target step-down.
const CommitQuality = 0.95

var (
	ErrInvalidState   = errors.New("crop: operation not allowed in current state")
	ErrCommitInFlight = errors.New("crop: commit in progress")
	ErrInvalidDisplay = errors.New("crop: displayed size must be positive")
)

type Options struct {
	// Aspect locks the selection to width/height in pixels; zero is free.
	Aspect   float64
	Compress pipeline.CompressOptions
}

// DefaultOptions match the avatar flow: square selection, 400px, 1MB.
func DefaultOptions() Options {
	compress := pipeline.AvatarCompressOptions()
	compress.Quality = CommitQuality
	return Options{Aspect: 1, Compress: compress}
}

// Session walks one image through selection and commit:
// NoSelection → Previewing ⇄ Adjusting → Committing → Done|Failed.
type Session struct {
	compressor *pipeline.Compressor
	opts       Options
	tracer     trace.Tracer

	mu         sync.Mutex
	state      State
	previewURL string
	decoded    *pipeline.Decoded
	natural    image.Point
	displayed  image.Point
	region     Region
	result     pipeline.Result
	err        error
}

func NewSession(compressor *pipeline.Compressor, opts Options) *Session {
	if compressor == nil {
		compressor = pipeline.NewCompressor(nil)
	}
	return &Session{
		compressor: compressor,
		opts:       opts,
		tracer:     otel.Tracer("wardrobeflow/crop"),
		state:      StateNoSelection,
	}
}

// Open validates file, registers the preview handle and decodes the natural
// size. displayW and displayH are the on-screen size the region refers to;
// both zero means the image is shown at its natural size.
func (s *Session) Open(ctx context.Context, file pipeline.File, displayW, displayH int) error {
	natural := displayW == 0 && displayH == 0
	if !natural && (displayW <= 0 || displayH <= 0) {
		return ErrInvalidDisplay
	}
	if err := s.compressor.Validate(ctx, file); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateNoSelection, StateDone, StateFailed:
	default:
		return fmt.Errorf("open in %s: %w", s.state, ErrInvalidState)
	}
	s.releaseLocked()

	registry := s.compressor.Registry()
	previewURL := registry.Create(file.Data, file.Type)
	decoded, err := s.compressor.DecodeHandle(ctx, previewURL, s.opts.Compress.MaxRetries, s.opts.Compress.OnRetry)
	if err != nil {
		registry.Release(previewURL)
		return err
	}

	s.previewURL = previewURL
	s.decoded = decoded
	s.natural = image.Pt(decoded.Width, decoded.Height)
	s.displayed = image.Pt(displayW, displayH)
	if natural {
		s.displayed = s.natural
	}
	s.result = pipeline.Result{}
	s.err = nil
	s.region = s.fit(DefaultRegion())
	s.state = StatePreviewing
	return nil
}

func (s *Session) BeginAdjust() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePreviewing {
		return fmt.Errorf("begin adjust in %s: %w", s.state, ErrInvalidState)
	}
	s.state = StateAdjusting
	return nil
}

func (s *Session) EndAdjust() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAdjusting {
		return fmt.Errorf("end adjust in %s: %w", s.state, ErrInvalidState)
	}
	s.state = StatePreviewing
	return nil
}

// SetRegion replaces the selection. The stored region is clipped.
func (s *Session) SetRegion(r Region) (Region, error) {
	return s.update("set region", func(Region) Region { return s.fit(r) })
}

func (s *Session) Move(dx, dy float64) (Region, error) {
	return s.update("move", func(cur Region) Region {
		cur.X += dx
		cur.Y += dy
		return s.fit(cur)
	})
}

// ResizeBy grows or shrinks the selection from its top-left corner. The size
// is clipped at the right and bottom edges; the corner never moves.
func (s *Session) ResizeBy(dw, dh float64) (Region, error) {
	return s.update("resize", func(cur Region) Region {
		return cur.Resize(dw, dh, s.opts.Aspect, s.displayed)
	})
}

// update applies fn to the selection; fn runs with s.mu held.
func (s *Session) update(op string, fn func(Region) Region) (Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePreviewing && s.state != StateAdjusting {
		return Region{}, fmt.Errorf("%s in %s: %w", op, s.state, ErrInvalidState)
	}
	s.region = fn(s.region)
	return s.region, nil
}

func (s *Session) fit(r Region) Region {
	if s.opts.Aspect > 0 {
		return r.LockAspect(s.opts.Aspect, s.displayed)
	}
	return r.Clamp()
}

// Commit extracts the selection at full resolution and compresses it. The
// preview handle and raster are released whatever the outcome.
func (s *Session) Commit(ctx context.Context) (pipeline.Result, error) {
	s.mu.Lock()
	if s.state != StatePreviewing && s.state != StateAdjusting {
		state := s.state
		s.mu.Unlock()
		return pipeline.Result{}, fmt.Errorf("commit in %s: %w", state, ErrInvalidState)
	}
	s.state = StateCommitting
	decoded := s.decoded
	rect := PixelRect(s.region, s.natural, s.displayed)
	s.mu.Unlock()

	result, err := s.commit(ctx, decoded, rect)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
	if err != nil {
		s.err = err
		s.state = StateFailed
		return pipeline.Result{}, err
	}
	s.result = result
	s.state = StateDone
	return result, nil
}

func (s *Session) commit(ctx context.Context, decoded *pipeline.Decoded, rect image.Rectangle) (pipeline.Result, error) {
	ctx, span := s.tracer.Start(ctx, "crop.commit")
	defer span.End()
	span.SetAttributes(
		attribute.Int("crop.x", rect.Min.X),
		attribute.Int("crop.y", rect.Min.Y),
		attribute.Int("crop.width", rect.Dx()),
		attribute.Int("crop.height", rect.Dy()),
	)

	extracted, err := s.compressor.Crop(ctx, decoded.Image, rect)
	if err == nil {
		var result pipeline.Result
		result, err = s.compressor.Compress(ctx, extracted, s.opts.Compress)
		if err == nil {
			return result, nil
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "crop commit failed")
	return pipeline.Result{}, err
}

// Cancel abandons the selection and releases the preview. It fails with
// ErrCommitInFlight while a commit is running.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCommitting {
		return ErrCommitInFlight
	}
	s.releaseLocked()
	if s.state == StatePreviewing || s.state == StateAdjusting {
		s.state = StateNoSelection
	}
	return nil
}

func (s *Session) releaseLocked() {
	if s.decoded != nil {
		s.decoded.Release()
		s.decoded = nil
	}
	if s.previewURL != "" {
		s.compressor.Registry().Release(s.previewURL)
		s.previewURL = ""
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Region() Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// PreviewURL is the handle of the image being cropped, empty when none.
func (s *Session) PreviewURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewURL
}

// Err is the failure of the last commit, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Result is the committed asset once the session is Done. The caller that
// received it from Commit owns its release.
func (s *Session) Result() (pipeline.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.state == StateDone
}
