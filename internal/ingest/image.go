package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	// decoders
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// encodeImage decodes any registered format and returns the base64 of a
// PNG re-encoding.
func encodeImage(data []byte) (string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode %s as png: %w", format, err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
