package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
)

const (
	// MaxDimension caps the longer side of a stored photo.
	MaxDimension = 1024

	jpegQuality = 88
)

// Decode parses raw upload bytes into an image. Format detection covers
// JPEG, PNG and GIF; anything else fails here, before any storage work.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("photo: decode failed: %w", err)
	}
	return img, nil
}

// Encode normalizes img to a JPEG buffer. Images whose longer side exceeds
// MaxDimension are downscaled to exactly MaxDimension on that side, keeping
// aspect ratio, with Lanczos resampling; smaller images keep their original
// resolution. Alpha and palette information is dropped by the JPEG encode.
func Encode(img image.Image) ([]byte, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w > MaxDimension || h > MaxDimension {
		if w >= h {
			img = imaging.Resize(img, MaxDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, MaxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("photo: jpeg encode failed: %w", err)
	}
	return buf.Bytes(), nil
}
