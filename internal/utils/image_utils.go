package utils

import (
	"image"
	"image/png"
	"math"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/mempool"
	"github.com/disintegration/imaging"
)

// BoxToRect converts a Box to an image.Rectangle, clamped to image bounds.
func BoxToRect(b invoice.Box, bounds image.Rectangle) image.Rectangle {
	x1 := clampInt(int(math.Floor(math.Min(b.X1, b.X2))), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Floor(math.Min(b.Y1, b.Y2))), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Ceil(math.Max(b.X1, b.X2))), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Ceil(math.Max(b.Y1, b.Y2))), bounds.Min.Y, bounds.Max.Y)
	return image.Rect(x1, y1, x2, y2)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CropImageRect crops an image to the given rectangle. Rectangles outside
// the image yield nil.
func CropImageRect(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	return imaging.Crop(img, rect)
}

// CropCellPNG crops the cell region out of img and encodes it as PNG.
func CropCellPNG(img image.Image, box invoice.Box) ([]byte, error) {
	crop := CropImageRect(img, BoxToRect(box, img.Bounds()))
	if crop == nil {
		return nil, nil
	}
	return EncodePNG(crop)
}

var pngEncoder = png.Encoder{BufferPool: mempool.PNGEncoderPool{}}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	b := img.Bounds()
	buf := mempool.GetBuffer(b.Dx() * b.Dy())
	defer mempool.PutBuffer(buf)

	if err := pngEncoder.Encode(buf, img); err != nil {
		return nil, &ImageProcessingError{Operation: "encode", Err: err}
	}
	return append([]byte(nil), buf.Bytes()...), nil
}
