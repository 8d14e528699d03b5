package pipeline

import (
	"image"
	"testing"
)

func TestFitDimensions(t *testing.T) {
	tests := []struct {
		name         string
		naturalW     int
		naturalH     int
		maxW, maxH   int
		keepAspect   bool
		wantW, wantH float64
	}{
		{name: "wide keeps aspect", naturalW: 2000, naturalH: 1000, maxW: 800, maxH: 800, keepAspect: true, wantW: 800, wantH: 400},
		{name: "tall keeps aspect", naturalW: 1000, naturalH: 2000, maxW: 800, maxH: 800, keepAspect: true, wantW: 400, wantH: 800},
		{name: "within bounds", naturalW: 300, naturalH: 200, maxW: 800, maxH: 800, keepAspect: true, wantW: 300, wantH: 200},
		{name: "height clamp after width", naturalW: 2000, naturalH: 1000, maxW: 1200, maxH: 300, keepAspect: true, wantW: 600, wantH: 300},
		{name: "ignore aspect", naturalW: 2000, naturalH: 1000, maxW: 800, maxH: 800, keepAspect: false, wantW: 800, wantH: 800},
		{name: "ignore aspect small axis", naturalW: 2000, naturalH: 300, maxW: 800, maxH: 800, keepAspect: false, wantW: 800, wantH: 300},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotW, gotH := FitDimensions(tc.naturalW, tc.naturalH, tc.maxW, tc.maxH, tc.keepAspect)
			if gotW != tc.wantW || gotH != tc.wantH {
				t.Fatalf("expected %vx%v, got %vx%v", tc.wantW, tc.wantH, gotW, gotH)
			}
		})
	}
}

func TestSurfaceSize(t *testing.T) {
	w, h := SurfaceSize(533.3333, 0.2)
	if w != 533 || h != 1 {
		t.Fatalf("expected 533x1, got %dx%d", w, h)
	}
}

func TestResampler_RejectsOversizedSurface(t *testing.T) {
	r := NewResampler()
	r.MaxSurfacePixels = 100

	decoded := newDecoded(image.NewRGBA(image.Rect(0, 0, 50, 50)), "image/png", nil)
	_, err := r.Resample(decoded, 50, 50, true)
	if code, _ := CodeOf(err); code != CodeCanvasCreationFailed {
		t.Fatalf("expected CANVAS_CREATION_FAILED, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("canvas failures must not be retried")
	}
}

func TestResampler_RejectsReleasedImage(t *testing.T) {
	decoded := newDecoded(image.NewRGBA(image.Rect(0, 0, 10, 10)), "image/png", nil)
	decoded.Release()

	if _, err := NewResampler().Resample(decoded, 5, 5, true); err == nil {
		t.Fatal("expected error for released image")
	}
}

func TestResampler_ScalesToFittedSize(t *testing.T) {
	decoded := newDecoded(gradient(300, 150), "image/png", nil)

	out, err := NewResampler().Resample(decoded, 100, 100, true)
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("expected 100x50, got %dx%d", b.Dx(), b.Dy())
	}
}
