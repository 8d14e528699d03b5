package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dunamismax/wardrobeflow/internal/domain"
	"github.com/dunamismax/wardrobeflow/internal/id"
	"github.com/dunamismax/wardrobeflow/internal/pipeline"
	"github.com/dunamismax/wardrobeflow/internal/store"
	"github.com/dunamismax/wardrobeflow/internal/upload"
	"github.com/dunamismax/wardrobeflow/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// uploadFailedMessage is reported for storage and ledger failures; the cause
// only goes to the log.
const uploadFailedMessage = "Failed to upload image"

const (
	OutcomeUploaded = "uploaded"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

type Uploader interface {
	Upload(ctx context.Context, objectKey string, payload []byte, contentType string) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type uploadObserver interface {
	ObserveUpload(kind, outcome string, bytes int64)
}

type Deps struct {
	Generator  *pipeline.Generator
	Compressor *pipeline.Compressor
	Uploader   Uploader
	Assets     store.AssetStore
	Webhook    webhookSender
	Metrics    uploadObserver
}

type Options struct {
	MaxImages   int
	Concurrency int
	Thumbnail   pipeline.Options
	// RetryFailed re-runs each failed entry once before uploading.
	RetryFailed bool
	WebhookURL  string
}

// Service takes local image files through the pipeline and hands the derived
// assets to the upload collaborator.
type Service struct {
	logger     *log.Logger
	generator  *pipeline.Generator
	compressor *pipeline.Compressor
	uploader   Uploader
	assets     store.AssetStore
	webhook    webhookSender
	metrics    uploadObserver
	opts       Options
	tracer     trace.Tracer
	now        func() time.Time
}

func NewService(logger *log.Logger, deps Deps, opts Options) (*Service, error) {
	if deps.Uploader == nil {
		return nil, fmt.Errorf("uploader is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Generator == nil {
		deps.Generator = pipeline.NewGenerator(nil)
	}
	if deps.Compressor == nil {
		deps.Compressor = pipeline.NewCompressor(deps.Generator.Registry())
	}
	if deps.Assets == nil {
		deps.Assets = store.NewMemoryAssetStore()
	}

	return &Service{
		logger:     logger,
		generator:  deps.Generator,
		compressor: deps.Compressor,
		uploader:   deps.Uploader,
		assets:     deps.Assets,
		webhook:    deps.Webhook,
		metrics:    deps.Metrics,
		opts:       opts,
		tracer:     otel.Tracer("wardrobeflow/ingest"),
		now:        time.Now,
	}, nil
}

// IngestFiles creates wardrobe thumbnails for files and uploads them. Sources
// already in the ledger are skipped; per-file failures end up in the report
// and do not fail the batch.
func (s *Service) IngestFiles(ctx context.Context, files []pipeline.File) (domain.BatchReport, error) {
	report := domain.BatchReport{BatchID: id.New(), Kind: domain.KindWardrobe}

	ctx, span := s.tracer.Start(ctx, "ingest.batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", report.BatchID),
		attribute.Int("batch.files", len(files)),
	)

	pending := make([]pipeline.File, 0, len(files))
	for _, file := range files {
		existing, ok, err := s.assets.FindBySource(ctx, domain.KindWardrobe, domain.HashSource(file.Data))
		if err != nil {
			return report, fmt.Errorf("lookup source %s: %w", file.Name, err)
		}
		if ok {
			s.logger.Printf("skip name=%s reason=already_uploaded url=%s", file.Name, existing.URL)
			report.Skipped++
			s.observe(domain.KindWardrobe, OutcomeSkipped, 0)
			continue
		}
		pending = append(pending, file)
	}

	coord := upload.NewCoordinator(s.generator, upload.Config{
		MaxImages:   s.opts.MaxImages,
		Concurrency: s.opts.Concurrency,
		Options:     s.opts.Thumbnail,
		OnProgress: func(p upload.BatchProgress) {
			s.logger.Printf("processing batch_id=%s done=%d/%d progress=%d%%", report.BatchID, p.Completed, p.Total, p.Percent)
		},
	})
	defer coord.Close()

	batch, err := coord.UploadMany(ctx, pending)
	report.Dropped = batch.Dropped
	report.Attempted = len(batch.Entries)
	if batch.Dropped > 0 {
		s.logger.Printf("dropped batch_id=%s files=%d max_images=%d", report.BatchID, batch.Dropped, s.opts.MaxImages)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch interrupted")
		return report, err
	}

	if s.opts.RetryFailed {
		for i, entry := range coord.Entries() {
			if entry.Status != upload.StatusError {
				continue
			}
			s.logger.Printf("retrying name=%s reason=%q", entry.File.Name, entry.Message)
			if _, err := coord.Retry(ctx, i); err != nil {
				s.logger.Printf("retry failed name=%s err=%v", entry.File.Name, err)
			}
		}
	}

	for _, entry := range coord.Entries() {
		if entry.Status != upload.StatusSuccess {
			report.Failed++
			report.Failures = append(report.Failures, failureFor(entry.File.Name, entry.Err))
			s.logger.Printf("failed name=%s message=%q err=%v", entry.File.Name, entry.Message, entry.Err)
			s.observe(domain.KindWardrobe, OutcomeFailed, 0)
			continue
		}

		asset, err := s.store(ctx, domain.KindWardrobe, entry.File, entry.Thumbnail)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			report.Failures = append(report.Failures, domain.Failure{Name: entry.File.Name, Message: uploadFailedMessage})
			s.logger.Printf("upload failed name=%s err=%v", entry.File.Name, err)
			s.observe(domain.KindWardrobe, OutcomeFailed, 0)
			continue
		}

		report.Uploaded++
		report.Assets = append(report.Assets, domain.Item{
			Name:   asset.SourceName,
			URL:    asset.URL,
			Width:  asset.Width,
			Height: asset.Height,
			Bytes:  asset.Bytes,
		})
		s.logger.Printf("uploaded name=%s key=%s size=%dx%d bytes=%d", asset.SourceName, asset.ObjectKey, asset.Width, asset.Height, asset.Bytes)
		s.observe(domain.KindWardrobe, OutcomeUploaded, asset.Bytes)
	}

	report.CompletedAt = s.now().UTC()
	span.SetAttributes(
		attribute.Int("batch.uploaded", report.Uploaded),
		attribute.Int("batch.failed", report.Failed),
		attribute.Int("batch.skipped", report.Skipped),
	)

	if err := s.notify(ctx, webhook.EventIngestCompleted, report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return report, err
	}
	return report, nil
}

// store uploads a derived asset and records it in the ledger.
func (s *Service) store(ctx context.Context, kind string, source pipeline.File, derived pipeline.Result) (domain.Asset, error) {
	payload, err := derived.Bytes()
	if err != nil {
		return domain.Asset{}, fmt.Errorf("read derived payload: %w", err)
	}

	hash := domain.HashSource(source.Data)
	key := domain.ObjectKey(kind, hash, derived.MIMEType)
	url, err := s.uploader.Upload(ctx, key, payload, derived.MIMEType)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("upload %s: %w", key, err)
	}

	asset := domain.Asset{
		ID:         id.New(),
		Kind:       kind,
		SourceName: source.Name,
		SourceHash: hash,
		ObjectKey:  key,
		URL:        url,
		MIMEType:   derived.MIMEType,
		Width:      derived.Width,
		Height:     derived.Height,
		Bytes:      derived.Size,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.assets.Record(ctx, asset); err != nil {
		return domain.Asset{}, fmt.Errorf("record asset %s: %w", key, err)
	}
	return asset, nil
}

func (s *Service) notify(ctx context.Context, event string, payload any) error {
	if s.opts.WebhookURL == "" || s.webhook == nil {
		return nil
	}
	if err := s.webhook.Send(ctx, s.opts.WebhookURL, event, payload); err != nil {
		s.logger.Printf("webhook delivery failed event=%s err=%v", event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Service) observe(kind, outcome string, bytes int64) {
	if s.metrics != nil {
		s.metrics.ObserveUpload(kind, outcome, bytes)
	}
}

func failureFor(name string, err error) domain.Failure {
	failure := domain.Failure{Name: name, Message: pipeline.UserMessageFor(err)}
	if code, ok := pipeline.CodeOf(err); ok {
		failure.Code = string(code)
	}
	if errors.Is(err, context.Canceled) {
		failure.Message = "Upload cancelled"
	}
	return failure
}
