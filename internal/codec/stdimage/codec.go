// Package stdimage implements manga.ImageCodec with the image package
// decoders (JPEG, PNG, GIF, WebP) and a JPEG page encoder.
package stdimage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	// Register decoders used by reader pages.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultQuality is the JPEG quality used for archived pages.
const DefaultQuality = 90

// Codec decodes image headers and re-encodes pages to JPEG.
type Codec struct {
	quality int
}

// New returns a Codec; quality outside 1..100 uses DefaultQuality.
func New(quality int) *Codec {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Codec{quality: quality}
}

// Decode returns the pixel dimensions of data.
func (c *Codec) Decode(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Reencode converts data to JPEG.
func (c *Codec) Reencode(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Ext returns the page file extension.
func (c *Codec) Ext() string {
	return "jpg"
}
