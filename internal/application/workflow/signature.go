package workflow

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

// DecodeSignatureImage turns a base64 payload, optionally wrapped in a
// data:image/...;base64, URL, into validated image bytes. An empty input
// returns nil so the caller can fall back to the stored signature.
func DecodeSignatureImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, nil
	}
	if strings.HasPrefix(encoded, "data:image") {
		idx := strings.Index(encoded, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data URL")
		}
		encoded = encoded[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if err := ValidateSignatureImage(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ValidateSignatureImage checks that b holds a png, jpeg or gif image
func ValidateSignatureImage(b []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("unsupported signature image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("empty %s signature image", format)
	}
	return nil
}
