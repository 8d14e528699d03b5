package crop

import (
	"image"
	"testing"
)

func TestRegion_Clamp(t *testing.T) {
	tests := []struct {
		name string
		in   Region
		want Region
	}{
		{name: "negative x", in: Region{X: -10, Y: 5, Width: 50, Height: 50}, want: Region{X: 0, Y: 5, Width: 50, Height: 50}},
		{name: "oversized width", in: Region{X: 20, Y: 0, Width: 150, Height: 40}, want: Region{X: 0, Y: 0, Width: 100, Height: 40}},
		{name: "overflowing right edge", in: Region{X: 80, Y: 70, Width: 40, Height: 40}, want: Region{X: 60, Y: 60, Width: 40, Height: 40}},
		{name: "zero area", in: Region{X: 50, Y: 50, Width: 0, Height: -5}, want: Region{X: 50, Y: 50, Width: 1, Height: 1}},
		{name: "in range", in: DefaultRegion(), want: Region{X: 5, Y: 5, Width: 90, Height: 90}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.Clamp(); got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestRegion_LockAspect(t *testing.T) {
	got := Region{X: 0, Y: 0, Width: 50, Height: 10}.LockAspect(1, image.Pt(400, 200))
	if got.Width != 50 || got.Height != 100 {
		t.Fatalf("expected 50x100 percent, got %+v", got)
	}

	got = DefaultRegion().LockAspect(1, image.Pt(400, 200))
	if got.Height != 100 || got.Width != 50 || got.Y != 0 {
		t.Fatalf("expected height capped at 100, got %+v", got)
	}
}

func TestRegion_Resize(t *testing.T) {
	tests := []struct {
		name    string
		in      Region
		dw, dh  float64
		aspect  float64
		display image.Point
		want    Region
	}{
		{name: "free grow clipped at edges", in: Region{X: 60, Y: 20, Width: 30, Height: 30}, dw: 30, dh: 10, want: Region{X: 60, Y: 20, Width: 40, Height: 40}},
		{name: "free shrink to minimum", in: Region{X: 10, Y: 10, Width: 20, Height: 20}, dw: -50, dh: -5, want: Region{X: 10, Y: 10, Width: 1, Height: 15}},
		{name: "locked height only", in: Region{X: 50, Y: 10, Width: 20, Height: 20}, dh: 10, aspect: 1, display: image.Pt(300, 300), want: Region{X: 50, Y: 10, Width: 30, Height: 30}},
		{name: "locked larger delta wins", in: Region{X: 0, Y: 0, Width: 20, Height: 20}, dw: 5, dh: -10, aspect: 1, display: image.Pt(300, 300), want: Region{X: 0, Y: 0, Width: 10, Height: 10}},
		{name: "locked clipped by bottom edge", in: Region{X: 0, Y: 60, Width: 20, Height: 20}, dw: 50, aspect: 1, display: image.Pt(300, 300), want: Region{X: 0, Y: 60, Width: 40, Height: 40}},
		{name: "locked wide display", in: Region{X: 0, Y: 0, Width: 20, Height: 40}, dw: 10, aspect: 1, display: image.Pt(400, 200), want: Region{X: 0, Y: 0, Width: 30, Height: 60}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.Resize(tc.dw, tc.dh, tc.aspect, tc.display); got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestPixelRect(t *testing.T) {
	rect := PixelRect(Region{X: 25, Y: 25, Width: 50, Height: 50}, image.Pt(1000, 1000), image.Pt(500, 500))
	want := image.Rect(250, 250, 750, 750)
	if rect != want {
		t.Fatalf("expected %v, got %v", want, rect)
	}
}

func TestPixelRect_StaysInsideSource(t *testing.T) {
	rect := PixelRect(Region{X: 99, Y: 99, Width: 1, Height: 1}, image.Pt(30, 30), image.Pt(600, 600))
	if !rect.In(image.Rect(0, 0, 30, 30)) || rect.Empty() {
		t.Fatalf("rect %v escapes source bounds", rect)
	}
}

func TestPixelRect_NonSquareScale(t *testing.T) {
	rect := PixelRect(Region{X: 10, Y: 20, Width: 50, Height: 50}, image.Pt(2000, 1000), image.Pt(400, 400))
	want := image.Rect(200, 200, 1200, 700)
	if rect != want {
		t.Fatalf("expected %v, got %v", want, rect)
	}
}
