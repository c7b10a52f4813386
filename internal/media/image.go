package media

import (
	"fmt"
	"image"
	"math"
	"os"

	// Image format decoders
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // WebP posters

	"framegrab/internal/logging"
)

const (
	// MaxImageDimension caps the width or height of a decoded image.
	MaxImageDimension = 4096

	// MaxImagePixels caps width*height; ~20MP is ~80MB as RGBA.
	MaxImagePixels = 20_000_000
)

// ImageDimensions holds image width and height
type ImageDimensions struct {
	Width  int
	Height int
}

// GetImageDimensions reads the dimensions from the image header.
func GetImageDimensions(path string) (*ImageDimensions, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, err
	}
	return &ImageDimensions{Width: config.Width, Height: config.Height}, nil
}

// constrain scales w x h down to fit maxDimension and maxPixels, keeping
// the aspect ratio.
func constrain(w, h, maxDimension, maxPixels int) (int, int) {
	if w > maxDimension || h > maxDimension {
		if w > h {
			w, h = maxDimension, h*maxDimension/w
		} else {
			w, h = w*maxDimension/h, maxDimension
		}
	}
	if px := w * h; px > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(px))
		w, h = int(float64(w)*scale), int(float64(h)*scale)
	}
	return max(w, 1), max(h, 1)
}

// LoadImageConstrained decodes an image, downscaling it when it exceeds the
// given limits.
func LoadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	tw, th := constrain(w, h, maxDimension, maxPixels)
	if tw == w && th == h {
		return img, nil
	}

	logging.Info("Constraining large image %s from %dx%d to %dx%d", path, w, h, tw, th)
	return imaging.Resize(img, tw, th, imaging.Lanczos), nil
}
