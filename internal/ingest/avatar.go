package ingest

import (
	"context"
	"fmt"
	"image"

	"github.com/dunamismax/wardrobeflow/internal/crop"
	"github.com/dunamismax/wardrobeflow/internal/domain"
	"github.com/dunamismax/wardrobeflow/internal/pipeline"
	"github.com/dunamismax/wardrobeflow/internal/upload"
	"github.com/dunamismax/wardrobeflow/internal/webhook"
)

type AvatarRequest struct {
	File pipeline.File
	// Region, when set, is cropped from the image before compression. It is
	// expressed in percent of Display.
	Region  *crop.Region
	Display image.Point
	// Compress overrides the avatar defaults (square, 400px, 1MB).
	Compress *pipeline.CompressOptions
}

// UpdateAvatar compresses (and optionally crops) the new avatar, uploads it
// and then removes any previous avatar. tracker may be nil.
func (s *Service) UpdateAvatar(ctx context.Context, req AvatarRequest, tracker *upload.Tracker) (domain.Asset, error) {
	if tracker == nil {
		tracker = upload.NewTracker(nil)
	}
	ctx, span := s.tracer.Start(ctx, "ingest.avatar")
	defer span.End()

	var derived pipeline.Result
	err := tracker.Track(upload.PhaseCompressing, func(report func(int)) error {
		var err error
		derived, err = s.deriveAvatar(ctx, req, report)
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.observe(domain.KindAvatar, OutcomeFailed, 0)
		return domain.Asset{}, err
	}
	defer derived.Release()

	previous, err := s.assets.List(ctx, domain.KindAvatar)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("list avatars: %w", err)
	}

	var asset domain.Asset
	err = tracker.Track(upload.PhaseUploading, func(report func(int)) error {
		var err error
		asset, err = s.store(ctx, domain.KindAvatar, req.File, derived)
		if err == nil {
			report(100)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.observe(domain.KindAvatar, OutcomeFailed, 0)
		return domain.Asset{}, err
	}
	s.observe(domain.KindAvatar, OutcomeUploaded, asset.Bytes)
	s.logger.Printf("avatar uploaded key=%s size=%dx%d bytes=%d", asset.ObjectKey, asset.Width, asset.Height, asset.Bytes)

	var stale []domain.Asset
	for _, old := range previous {
		if old.ObjectKey != asset.ObjectKey {
			stale = append(stale, old)
		}
	}
	if len(stale) > 0 {
		if err := tracker.Track(upload.PhaseDeleting, func(report func(int)) error {
			return s.deleteAssets(ctx, stale, report)
		}); err != nil {
			s.logger.Printf("stale avatar cleanup failed err=%v", err)
		}
	}

	if err := s.notify(ctx, webhook.EventAvatarUpdated, asset); err != nil {
		return asset, err
	}
	return asset, nil
}

// DeleteAvatar removes every stored avatar and reports how many were removed.
func (s *Service) DeleteAvatar(ctx context.Context, tracker *upload.Tracker) (int, error) {
	if tracker == nil {
		tracker = upload.NewTracker(nil)
	}

	avatars, err := s.assets.List(ctx, domain.KindAvatar)
	if err != nil {
		return 0, fmt.Errorf("list avatars: %w", err)
	}
	if len(avatars) == 0 {
		return 0, nil
	}

	if err := tracker.Track(upload.PhaseDeleting, func(report func(int)) error {
		return s.deleteAssets(ctx, avatars, report)
	}); err != nil {
		return 0, err
	}
	s.logger.Printf("avatar deleted count=%d", len(avatars))

	if err := s.notify(ctx, webhook.EventAvatarDeleted, map[string]any{"deleted": len(avatars)}); err != nil {
		return len(avatars), err
	}
	return len(avatars), nil
}

func (s *Service) deriveAvatar(ctx context.Context, req AvatarRequest, report func(int)) (pipeline.Result, error) {
	opts := crop.DefaultOptions()
	if req.Compress != nil {
		opts.Compress = *req.Compress
	}
	opts.Compress.OnProgress = report

	if req.Region == nil {
		return s.compressor.CompressFile(ctx, req.File, opts.Compress)
	}

	session := crop.NewSession(s.compressor, opts)
	if err := session.Open(ctx, req.File, req.Display.X, req.Display.Y); err != nil {
		return pipeline.Result{}, err
	}
	if _, err := session.SetRegion(*req.Region); err != nil {
		_ = session.Cancel()
		return pipeline.Result{}, err
	}
	return session.Commit(ctx)
}

func (s *Service) deleteAssets(ctx context.Context, assets []domain.Asset, report func(int)) error {
	for i, asset := range assets {
		if err := s.uploader.Delete(ctx, asset.ObjectKey); err != nil {
			return fmt.Errorf("delete %s: %w", asset.ObjectKey, err)
		}
		if err := s.assets.Delete(ctx, asset.ID); err != nil {
			return fmt.Errorf("forget %s: %w", asset.ID, err)
		}
		report((i + 1) * 100 / len(assets))
	}
	return nil
}
