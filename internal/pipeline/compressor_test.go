package pipeline

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"testing"
)

func TestCompressor_FitsLongerSide(t *testing.T) {
	c := NewCompressor(nil, WithRetryPolicy(fastPolicy()))

	result, err := c.Compress(context.Background(), gradient(1200, 600), AvatarCompressOptions())
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	defer result.Release()

	if result.Width != 400 || result.Height != 200 {
		t.Fatalf("expected 400x200, got %dx%d", result.Width, result.Height)
	}
}

func TestCompressor_StepsQualityDownToFit(t *testing.T) {
	encoder := &recordingEncoder{}
	c := NewCompressor(nil, WithEncoder(encoder), WithRetryPolicy(fastPolicy()))

	opts := CompressOptions{Quality: 0.9, MinQuality: 0.5, MaxBytes: 1}
	result, err := c.Compress(context.Background(), noise(128, 128), opts)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	defer result.Release()

	want := []float64{0.9, 0.8, 0.7, 0.6, 0.5}
	if len(encoder.qualities) != len(want) {
		t.Fatalf("expected qualities %v, got %v", want, encoder.qualities)
	}
	for i := range want {
		if encoder.qualities[i] != want[i] {
			t.Fatalf("expected qualities %v, got %v", want, encoder.qualities)
		}
	}
	// unreachable budget still yields the smallest attempt
	if result.Size == 0 {
		t.Fatal("expected best-effort payload")
	}
}

func TestCompressor_ReportsProgress(t *testing.T) {
	c := NewCompressor(nil, WithRetryPolicy(fastPolicy()))

	var seen []int
	opts := AvatarCompressOptions()
	opts.OnProgress = func(p int) { seen = append(seen, p) }

	result, err := c.Compress(context.Background(), gradient(64, 64), opts)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	result.Release()

	if len(seen) < 2 || seen[0] != 0 || seen[len(seen)-1] != 100 {
		t.Fatalf("unexpected progress sequence %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
}

func TestCompressor_CompressFileValidatesFirst(t *testing.T) {
	decoder := &countingDecoder{err: errors.New("unused")}
	c := NewCompressor(nil, WithDecoder(decoder))

	_, err := c.CompressFile(context.Background(), File{Name: "a.webp", Type: "image/webp", Data: []byte{1}}, AvatarCompressOptions())
	if code, _ := CodeOf(err); code != CodeUnsupportedType {
		t.Fatalf("expected UNSUPPORTED_TYPE, got %v", err)
	}
	if decoder.calls.Load() != 0 {
		t.Fatal("decoder must not run for rejected files")
	}
}

func TestCompressor_EncodeFailureIsRetried(t *testing.T) {
	encoder := &recordingEncoder{failures: 2}
	c := NewCompressor(nil, WithEncoder(encoder), WithRetryPolicy(fastPolicy()))

	result, err := c.Compress(context.Background(), gradient(20, 20), CompressOptions{})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	defer result.Release()

	if encoder.calls != 3 {
		t.Fatalf("expected 3 encode calls, got %d", encoder.calls)
	}
}

func TestCompressor_EncodeFailureExhausts(t *testing.T) {
	encoder := &recordingEncoder{failures: 10}
	c := NewCompressor(nil, WithEncoder(encoder), WithRetryPolicy(fastPolicy()))

	_, err := c.Compress(context.Background(), gradient(20, 20), CompressOptions{})
	if code, _ := CodeOf(err); code != CodeBlobCreationFailed {
		t.Fatalf("expected BLOB_CREATION_FAILED, got %v", err)
	}
	if encoder.calls != 3 {
		t.Fatalf("expected 3 encode calls, got %d", encoder.calls)
	}
}

func TestCompressor_RejectsEmptySurface(t *testing.T) {
	_, err := NewCompressor(nil).Compress(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 0)), CompressOptions{})
	if code, _ := CodeOf(err); code != CodeCanvasCreationFailed {
		t.Fatalf("expected CANVAS_CREATION_FAILED, got %v", err)
	}
}

type recordingEncoder struct {
	calls     int
	failures  int
	qualities []float64
}

func (e *recordingEncoder) Encode(ctx context.Context, img image.Image, mimeType string, quality float64) ([]byte, error) {
	e.calls++
	if e.calls <= e.failures {
		return nil, nil
	}
	e.qualities = append(e.qualities, quality)
	return stdlibEncoder{}.Encode(ctx, img, mimeType, quality)
}

func noise(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r := rand.New(rand.NewSource(1))
	for i := range img.Pix {
		img.Pix[i] = uint8(r.Intn(256))
	}
	return img
}
