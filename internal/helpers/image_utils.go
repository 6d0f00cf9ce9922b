package helpers

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// IsJPEGData checks if the byte slice contains JPEG data by checking magic bytes
func IsJPEGData(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	// JPEG magic bytes: FF D8
	return data[0] == 0xFF && data[1] == 0xD8
}

// ImageDims decodes only the header of an encoded image and returns its
// dimensions. Used by the ingest link to reject malformed payloads without
// a full decode.
func ImageDims(payload []byte) (width, height int, err error) {
	if len(payload) == 0 {
		return 0, 0, fmt.Errorf("empty image payload")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid %s dimensions %dx%d", format, cfg.Width, cfg.Height)
	}

	return cfg.Width, cfg.Height, nil
}
