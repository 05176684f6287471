package vision

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	// Standard decoders
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// LoadImage decodes an image file
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	return DecodeImage(f)
}

// LoadImageFromBytes decodes an in-memory image
func LoadImageFromBytes(data []byte) (image.Image, error) {
	return DecodeImage(bytes.NewReader(data))
}

// DecodeImage decodes a JPEG, PNG or WebP stream
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Resize scales img to exactly width x height with the given interpolator
func Resize(img image.Image, width, height int, interp draw.Interpolator) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size: %dx%d", width, height)
	}
	if interp == nil {
		interp = draw.CatmullRom
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}
