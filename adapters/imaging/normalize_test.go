package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/mi6Fsoc/reroom-prototype/domain"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	return img
}

func TestNormalizePNGPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(4, 3)); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}

	got, err := NewPNGCodec().Normalize(buf.Bytes())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.MIMEType != PNGMIMEType {
		t.Errorf("MIMEType = %q, want %q", got.MIMEType, PNGMIMEType)
	}
	if !bytes.Equal(got.Data, buf.Bytes()) {
		t.Error("PNG upload was re-encoded, want bytes unchanged")
	}
}

func TestNormalizeJPEGBecomesPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(8, 6), nil); err != nil {
		t.Fatalf("jpeg.Encode() error = %v", err)
	}

	got, err := NewPNGCodec().Normalize(buf.Bytes())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.MIMEType != PNGMIMEType {
		t.Errorf("MIMEType = %q, want %q", got.MIMEType, PNGMIMEType)
	}

	decoded, format, err := image.Decode(bytes.NewReader(got.Data))
	if err != nil {
		t.Fatalf("decoding normalized output: %v", err)
	}
	if format != "png" {
		t.Errorf("normalized format = %q, want png", format)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Errorf("normalized size = %dx%d, want 8x6", b.Dx(), b.Dy())
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "text", raw: []byte("definitely not an image")},
		{name: "truncated png header", raw: []byte("\x89PNG\r\n\x1a\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPNGCodec().Normalize(tt.raw)
			if !errors.Is(err, domain.ErrUnsupportedImage) {
				t.Errorf("Normalize() error = %v, want ErrUnsupportedImage", err)
			}
		})
	}
}

func TestNormalizeRejectsTruncatedPixelData(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(64, 64)); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()/2]

	if _, _, err := image.DecodeConfig(bytes.NewReader(truncated)); err != nil {
		t.Fatalf("truncated PNG header should still parse: %v", err)
	}
	if _, err := NewPNGCodec().Normalize(truncated); !errors.Is(err, domain.ErrUnsupportedImage) {
		t.Errorf("Normalize() error = %v, want ErrUnsupportedImage", err)
	}
}
