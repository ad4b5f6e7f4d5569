// Package recognizer turns cell and page images into text using a fast
// OCR tier and a slower, more accurate vision-language tier.
package recognizer

import (
	"context"
	"net/http"
	"strings"

	"github.com/MeKo-Tech/invocr/internal/invoice"
)

// Recognition is the text a recognizer read from one image.
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// CellRecognizer reads the text of a single table cell.
type CellRecognizer interface {
	RecognizeCell(ctx context.Context, img []byte) (Recognition, error)
}

// DocumentRecognizer reads all line items from a whole invoice page.
type DocumentRecognizer interface {
	RecognizeDocument(ctx context.Context, img []byte) ([]invoice.LineRecord, error)
}

// SlowRecognizer is the high-accuracy tier: it handles escalated cells and
// whole-page fallback.
type SlowRecognizer interface {
	CellRecognizer
	DocumentRecognizer
}

// CellRecognizerFunc adapts a function to CellRecognizer.
type CellRecognizerFunc func(ctx context.Context, img []byte) (Recognition, error)

// RecognizeCell calls f.
func (f CellRecognizerFunc) RecognizeCell(ctx context.Context, img []byte) (Recognition, error) {
	return f(ctx, img)
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// imageFormat sniffs the short format name ("png", "jpeg", ...) of img.
func imageFormat(img []byte) string {
	ct := http.DetectContentType(img)
	if f, ok := strings.CutPrefix(ct, "image/"); ok {
		return f
	}
	return "png"
}
