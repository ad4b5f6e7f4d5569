package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// InvoiceImageConfig describes a synthetic ruled table image.
type InvoiceImageConfig struct {
	Width     int
	Height    int
	Rows      int
	Cols      int
	LineColor color.Color
	Paper     color.Color
}

// DefaultInvoiceImageConfig returns a 400x300 image with a 4x5 grid.
func DefaultInvoiceImageConfig() InvoiceImageConfig {
	return InvoiceImageConfig{
		Width:     400,
		Height:    300,
		Rows:      4,
		Cols:      5,
		LineColor: color.Black,
		Paper:     color.White,
	}
}

// GenerateInvoiceImage draws a white page with grid lines.
func GenerateInvoiceImage(cfg InvoiceImageConfig) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
	for y := range cfg.Height {
		for x := range cfg.Width {
			img.Set(x, y, cfg.Paper)
		}
	}
	if cfg.Rows > 0 {
		step := cfg.Height / cfg.Rows
		for r := 0; r <= cfg.Rows && step > 0; r++ {
			y := min(r*step, cfg.Height-1)
			for x := range cfg.Width {
				img.Set(x, y, cfg.LineColor)
			}
		}
	}
	if cfg.Cols > 0 {
		step := cfg.Width / cfg.Cols
		for c := 0; c <= cfg.Cols && step > 0; c++ {
			x := min(c*step, cfg.Width-1)
			for y := range cfg.Height {
				img.Set(x, y, cfg.LineColor)
			}
		}
	}
	return img
}

// InvoicePNG returns the default synthetic invoice encoded as PNG.
func InvoicePNG(t *testing.T) []byte {
	t.Helper()
	return EncodePNG(t, GenerateInvoiceImage(DefaultInvoiceImageConfig()))
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
