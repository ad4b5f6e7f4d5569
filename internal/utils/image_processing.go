package utils

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// ImageConstraints bounds the size of images sent to remote recognizers.
type ImageConstraints struct {
	MaxSide int
	MinSide int
}

// DefaultImageConstraints returns the constraints used for whole-page uploads.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MaxSide: 2048,
		MinSide: 8,
	}
}

// FitImage scales img down so its longer side is at most MaxSide, keeping
// the aspect ratio. Smaller images are returned unchanged.
func FitImage(img image.Image, c ImageConstraints) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if b.Dx() < c.MinSide || b.Dy() < c.MinSide {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("image too small")}
	}
	if c.MaxSide <= 0 || (b.Dx() <= c.MaxSide && b.Dy() <= c.MaxSide) {
		return img, nil
	}
	return imaging.Fit(img, c.MaxSide, c.MaxSide, imaging.Lanczos), nil
}

// PrepareUpload decodes data, fits it to c and returns bytes a remote
// vision model accepts along with their MIME type. PNG and JPEG inputs that
// already fit are passed through untouched; everything else is re-encoded
// as PNG.
func PrepareUpload(data []byte, c ImageConstraints) ([]byte, string, error) {
	img, format, err := DecodeImage(data)
	if err != nil {
		return nil, "", err
	}
	b := img.Bounds()
	fits := c.MaxSide <= 0 || (b.Dx() <= c.MaxSide && b.Dy() <= c.MaxSide)
	if fits && (format == "png" || format == "jpeg") {
		return data, "image/" + format, nil
	}
	fitted, err := FitImage(img, c)
	if err != nil {
		return nil, "", err
	}
	out, err := EncodePNG(fitted)
	if err != nil {
		return nil, "", err
	}
	return out, "image/png", nil
}
