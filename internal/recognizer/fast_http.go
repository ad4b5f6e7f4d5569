package recognizer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/invocr/internal/httpjson"
	"github.com/MeKo-Tech/invocr/internal/retry"
)

// HTTPCellRecognizer is the fast tier: a local OCR service that accepts
// {"image": "<base64>"} and answers {"text": "...", "confidence": 0.93}.
type HTTPCellRecognizer struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPCellRecognizer creates a fast-tier client for url.
func NewHTTPCellRecognizer(url string, client *http.Client) *HTTPCellRecognizer {
	return &HTTPCellRecognizer{URL: url, Client: client}
}

type cellRequest struct {
	Image string `json:"image"`
}

// RecognizeCell implements CellRecognizer.
func (h *HTTPCellRecognizer) RecognizeCell(ctx context.Context, img []byte) (Recognition, error) {
	raw, err := httpjson.Post(ctx, h.Client, h.URL,
		cellRequest{Image: base64.StdEncoding.EncodeToString(img)}, nil, h.Logger)
	if err != nil {
		return Recognition{}, fmt.Errorf("fast recognizer: %w", err)
	}
	var r Recognition
	if err := json.Unmarshal(raw, &r); err != nil {
		return Recognition{}, retry.Permanent(fmt.Errorf("decode fast recognizer response: %w", err))
	}
	r.Confidence = clampConfidence(r.Confidence)
	return r, nil
}
