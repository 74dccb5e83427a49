package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/mi6Fsoc/reroom-prototype/domain"
)

const (
	PNGMIMEType = "image/png"

	// MaxImageDimension bounds width and height of accepted uploads.
	MaxImageDimension = 8192
)

// PNGCodec decodes any registered raster format and re-encodes it as PNG.
type PNGCodec struct{}

func NewPNGCodec() PNGCodec {
	return PNGCodec{}
}

// Normalize implements domain.ImageCodec.
func (PNGCodec) Normalize(raw []byte) (domain.Image, error) {
	if len(raw) == 0 {
		return domain.Image{}, fmt.Errorf("%w: empty payload", domain.ErrUnsupportedImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return domain.Image{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxImageDimension || cfg.Height > MaxImageDimension {
		return domain.Image{}, fmt.Errorf("%w: %s image is %dx%d", domain.ErrUnsupportedImage, format, cfg.Width, cfg.Height)
	}

	// A valid header says nothing about the pixel data, so every upload is
	// decoded in full.
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.Image{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedImage, err)
	}
	if format == "png" {
		return domain.Image{Data: raw, MIMEType: PNGMIMEType}, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.Image{}, fmt.Errorf("encode png: %w", err)
	}
	return domain.Image{Data: buf.Bytes(), MIMEType: PNGMIMEType}, nil
}
