package common

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeTexture decodes an encoded image into tightly packed RGBA pixel data.
// PNG, JPEG, BMP, TIFF and WebP are supported. When maxSize is positive and either
// dimension exceeds it, the image is scaled down to fit while keeping its aspect ratio.
//
// Parameters:
//   - r: the encoded image stream
//   - maxSize: the largest allowed width or height in pixels, or 0 for no limit
//
// Returns:
//   - TextureStagingData: the decoded pixels and dimensions
//   - error: error if decoding fails
func DecodeTexture(r io.Reader, maxSize int) (TextureStagingData, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return TextureStagingData{}, fmt.Errorf("failed to decode image: %w", err)
	}

	src := img.Bounds()
	dst := image.Rect(0, 0, src.Dx(), src.Dy())
	if maxSize > 0 && (dst.Dx() > maxSize || dst.Dy() > maxSize) {
		dst = fitWithin(dst.Dx(), dst.Dy(), maxSize)
	}

	rgba := image.NewRGBA(dst)
	if dst.Dx() == src.Dx() && dst.Dy() == src.Dy() {
		draw.Copy(rgba, image.Point{}, img, src, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(rgba, dst, img, src, draw.Src, nil)
	}

	return TextureStagingData{
		Pixels: rgba.Pix,
		Width:  uint32(dst.Dx()),
		Height: uint32(dst.Dy()),
	}, nil
}

// LoadTexture opens the image at path and decodes it with DecodeTexture.
//
// Parameters:
//   - path: the image file path
//   - maxSize: the largest allowed width or height in pixels, or 0 for no limit
//
// Returns:
//   - TextureStagingData: the decoded pixels and dimensions
//   - error: error if the file cannot be opened or decoded
func LoadTexture(path string, maxSize int) (TextureStagingData, error) {
	file, err := os.Open(path)
	if err != nil {
		return TextureStagingData{}, fmt.Errorf("failed to open texture file %s: %w", path, err)
	}
	defer file.Close()

	data, err := DecodeTexture(file, maxSize)
	if err != nil {
		return TextureStagingData{}, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

func fitWithin(width, height, maxSize int) image.Rectangle {
	if width >= height {
		h := max(height*maxSize/width, 1)
		return image.Rect(0, 0, maxSize, h)
	}
	w := max(width*maxSize/height, 1)
	return image.Rect(0, 0, w, maxSize)
}
