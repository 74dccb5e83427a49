package domain

// Image is an encoded raster payload. The bytes are never modified in place;
// a new edit produces a new Image.
type Image struct {
	Data     []byte
	MIMEType string
}

func (i Image) IsZero() bool {
	return len(i.Data) == 0
}

// ImageCodec normalizes uploaded bytes into the single encoding used for
// display, download and remote transmission.
type ImageCodec interface {
	Normalize(raw []byte) (Image, error)
}
