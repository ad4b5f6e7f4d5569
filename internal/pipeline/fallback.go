package pipeline

import (
	"context"
	"fmt"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/retry"
	"github.com/MeKo-Tech/invocr/internal/utils"
)

// recognizeDocument sends the whole image to the slow tier and returns the
// lines it reports, bypassing cell detection.
func (p *Pipeline) recognizeDocument(ctx context.Context, img []byte) ([]invoice.LineRecord, error) {
	if p.document == nil {
		return nil, fmt.Errorf("%w: no whole-image recognizer configured", ErrRecognitionUnavailable)
	}

	upload, mime, err := utils.PrepareUpload(img, p.cfg.Upload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", invoice.ErrInvalidImage, err)
	}
	p.logger.Debug("Whole-image recognition", "bytes", len(upload), "mime", mime)

	var lines []invoice.LineRecord
	err = retry.Do(ctx, p.cfg.DetectRetry, "recognize.document", func(ctx context.Context) error {
		var err error
		lines, err = p.document.RecognizeDocument(ctx, upload)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognitionUnavailable, err)
	}
	for i := range lines {
		lines[i].Row = i
	}
	return lines, nil
}
