package crop

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/wardrobeflow/internal/pipeline"
)

func TestSession_OpenAdjustCommit(t *testing.T) {
	registry := pipeline.NewRegistry("avatar")
	session := NewSession(pipeline.NewCompressor(registry), DefaultOptions())

	file := pipeline.File{Name: "me.png", Type: "image/png", Data: buildTestPNG(t, 1000, 1000)}
	if err := session.Open(context.Background(), file, 500, 500); err != nil {
		t.Fatalf("open: %v", err)
	}
	if session.State() != StatePreviewing {
		t.Fatalf("expected previewing, got %s", session.State())
	}
	if got := session.Region(); got != DefaultRegion() {
		t.Fatalf("expected default region, got %+v", got)
	}
	if registry.Live() != 1 {
		t.Fatalf("expected preview handle, got %d live", registry.Live())
	}

	if err := session.BeginAdjust(); err != nil {
		t.Fatalf("begin adjust: %v", err)
	}
	if _, err := session.SetRegion(Region{X: 25, Y: 25, Width: 50, Height: 50}); err != nil {
		t.Fatalf("set region: %v", err)
	}
	region, err := session.Move(-40, 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if region.X != 0 {
		t.Fatalf("expected x clipped to 0, got %+v", region)
	}
	if err := session.EndAdjust(); err != nil {
		t.Fatalf("end adjust: %v", err)
	}

	result, err := session.Commit(context.Background())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	defer result.Release()

	if session.State() != StateDone {
		t.Fatalf("expected done, got %s", session.State())
	}
	// 500x500 source pixels fitted to 400
	if result.Width != 400 || result.Height != 400 {
		t.Fatalf("expected 400x400, got %dx%d", result.Width, result.Height)
	}
	data, err := result.Bytes()
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if _, err := jpeg.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("result is not a jpeg: %v", err)
	}
	if session.PreviewURL() != "" || registry.Live() != 1 {
		t.Fatalf("preview handle not released: %d live", registry.Live())
	}
}

func TestSession_ResizeByAnchorsCorner(t *testing.T) {
	session := NewSession(pipeline.NewCompressor(nil), DefaultOptions())

	file := pipeline.File{Name: "me.png", Type: "image/png", Data: buildTestPNG(t, 400, 400)}
	if err := session.Open(context.Background(), file, 200, 200); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer session.Cancel()

	start := Region{X: 50, Y: 10, Width: 40, Height: 40}
	if _, err := session.SetRegion(start); err != nil {
		t.Fatalf("set region: %v", err)
	}

	region, err := session.ResizeBy(0, 20)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if want := (Region{X: 50, Y: 10, Width: 50, Height: 50}); region != want {
		t.Fatalf("height-only resize under aspect lock: expected %+v, got %+v", want, region)
	}

	if _, err := session.SetRegion(start); err != nil {
		t.Fatalf("set region: %v", err)
	}
	region, err = session.ResizeBy(30, 30)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if want := (Region{X: 50, Y: 10, Width: 50, Height: 50}); region != want {
		t.Fatalf("growth past the right edge: expected %+v, got %+v", want, region)
	}

	region, err = session.ResizeBy(-20, 0)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if want := (Region{X: 50, Y: 10, Width: 30, Height: 30}); region != want {
		t.Fatalf("shrink: expected %+v, got %+v", want, region)
	}
	if session.Region() != region {
		t.Fatalf("stored region %+v differs from returned %+v", session.Region(), region)
	}
}

func TestSession_SmallCropKeepsResolution(t *testing.T) {
	session := NewSession(pipeline.NewCompressor(nil), Options{Compress: pipeline.AvatarCompressOptions()})

	file := pipeline.File{Name: "me.png", Type: "image/png", Data: buildTestPNG(t, 600, 300)}
	if err := session.Open(context.Background(), file, 300, 150); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := session.SetRegion(Region{X: 10, Y: 10, Width: 20, Height: 40}); err != nil {
		t.Fatalf("set region: %v", err)
	}

	result, err := session.Commit(context.Background())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	defer result.Release()

	if result.Width != 120 || result.Height != 120 {
		t.Fatalf("expected 120x120, got %dx%d", result.Width, result.Height)
	}
}

func TestSession_OpenRejectsLargeFile(t *testing.T) {
	registry := pipeline.NewRegistry("avatar")
	session := NewSession(pipeline.NewCompressor(registry), DefaultOptions())

	file := pipeline.File{Name: "big.png", Type: "image/png", Data: make([]byte, 6<<20)}
	err := session.Open(context.Background(), file, 100, 100)
	if code, _ := pipeline.CodeOf(err); code != pipeline.CodeFileTooLarge {
		t.Fatalf("expected FILE_TOO_LARGE, got %v", err)
	}
	if session.State() != StateNoSelection || registry.Live() != 0 {
		t.Fatalf("unexpected state %s with %d live handles", session.State(), registry.Live())
	}
}

func TestSession_OpenInvalidImageReleasesPreview(t *testing.T) {
	registry := pipeline.NewRegistry("avatar")
	session := NewSession(pipeline.NewCompressor(registry), DefaultOptions())

	err := session.Open(context.Background(), pipeline.File{Name: "x.png", Type: "image/png", Data: []byte("nope")}, 100, 100)
	if code, _ := pipeline.CodeOf(err); code != pipeline.CodeInvalidFormat {
		t.Fatalf("expected INVALID_FORMAT, got %v", err)
	}
	if registry.Live() != 0 {
		t.Fatalf("preview handle leaked: %d live", registry.Live())
	}
}

func TestSession_CancelReleasesPreview(t *testing.T) {
	registry := pipeline.NewRegistry("avatar")
	session := NewSession(pipeline.NewCompressor(registry), DefaultOptions())

	file := pipeline.File{Name: "me.png", Type: "image/png", Data: buildTestPNG(t, 50, 50)}
	if err := session.Open(context.Background(), file, 50, 50); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := session.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if session.State() != StateNoSelection || registry.Live() != 0 {
		t.Fatalf("unexpected state %s with %d live handles", session.State(), registry.Live())
	}
	if err := session.Cancel(); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestSession_CancelDuringCommit(t *testing.T) {
	session := NewSession(pipeline.NewCompressor(nil), DefaultOptions())
	session.state = StateCommitting

	if err := session.Cancel(); !errors.Is(err, ErrCommitInFlight) {
		t.Fatalf("expected ErrCommitInFlight, got %v", err)
	}
}

func TestSession_InvalidTransitions(t *testing.T) {
	session := NewSession(pipeline.NewCompressor(nil), DefaultOptions())

	if _, err := session.Commit(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("commit without image: expected ErrInvalidState, got %v", err)
	}
	if err := session.BeginAdjust(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("adjust without image: expected ErrInvalidState, got %v", err)
	}
	if _, err := session.Move(1, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("move without image: expected ErrInvalidState, got %v", err)
	}
	if _, err := session.ResizeBy(1, 1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("resize without image: expected ErrInvalidState, got %v", err)
	}
	if err := session.Open(context.Background(), pipeline.File{}, -1, 10); !errors.Is(err, ErrInvalidDisplay) {
		t.Fatalf("expected ErrInvalidDisplay, got %v", err)
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}
