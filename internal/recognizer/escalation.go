package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/retry"
)

// EscalationConfig controls when a cell goes to the slow tier.
type EscalationConfig struct {
	// ConfidenceThreshold below which a fast result is escalated.
	ConfidenceThreshold float64
	// MinCellArea in square pixels; smaller cells are not recognized at all.
	MinCellArea float64
	Retry       retry.Policy
}

// DefaultEscalationConfig returns the default escalation settings.
func DefaultEscalationConfig() EscalationConfig {
	return EscalationConfig{
		ConfidenceThreshold: 0.75,
		MinCellArea:         100,
		Retry:               retry.DefaultPolicy(),
	}
}

// NeedsEscalation reports whether a fast-tier result should be re-read by
// the slow tier: low confidence, or no text at all.
func NeedsEscalation(r Recognition, threshold float64) bool {
	return r.Confidence < threshold || r.Text == ""
}

// TooSmall reports whether a cell is below the minimum readable area.
func TooSmall(b invoice.Box, minArea float64) bool {
	return b.Area() < minArea
}

// Escalator recognizes cells with the fast tier and escalates uncertain
// results to the slow tier. Each cell is decided independently.
type Escalator struct {
	Fast   CellRecognizer
	Slow   CellRecognizer
	Config EscalationConfig
	Logger *slog.Logger
}

// NewEscalator creates an Escalator. Either tier may be nil but not both.
func NewEscalator(fast, slow CellRecognizer, cfg EscalationConfig) (*Escalator, error) {
	if fast == nil && slow == nil {
		return nil, errors.New("escalator needs at least one recognizer tier")
	}
	return &Escalator{Fast: fast, Slow: slow, Config: cfg}, nil
}

func (e *Escalator) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Recognize reads one cell. Cells below the minimum area yield empty text
// with confidence 0 without calling either tier. An error is returned only
// when every consulted tier failed or ctx was cancelled.
func (e *Escalator) Recognize(ctx context.Context, cell invoice.Cell) (invoice.RecognizedCell, error) {
	out := invoice.RecognizedCell{Cell: cell, Tier: invoice.TierNone}
	if TooSmall(cell.Box, e.Config.MinCellArea) || len(cell.Image) == 0 {
		return out, nil
	}

	if e.Fast == nil {
		slow, err := e.call(ctx, e.Slow, "recognize.slow", cell.Image)
		if err != nil {
			return out, err
		}
		return fill(out, slow, invoice.TierSlow), nil
	}

	fast, fastErr := e.call(ctx, e.Fast, "recognize.fast", cell.Image)
	if fastErr == nil && !NeedsEscalation(fast, e.Config.ConfidenceThreshold) {
		return fill(out, fast, invoice.TierFast), nil
	}
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("recognize cell r%d c%d: %w", cell.Row, cell.Col, err)
	}
	if e.Slow == nil {
		if fastErr != nil {
			return out, fastErr
		}
		return fill(out, fast, invoice.TierFast), nil
	}

	slow, slowErr := e.call(ctx, e.Slow, "recognize.slow", cell.Image)
	switch {
	case slowErr != nil && fastErr != nil:
		return out, errors.Join(fastErr, slowErr)
	case slowErr != nil:
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("recognize cell r%d c%d: %w", cell.Row, cell.Col, err)
		}
		e.logger().Warn("Slow tier failed, keeping fast result",
			"row", cell.Row, "col", cell.Col, "error", slowErr)
		out = fill(out, fast, invoice.TierFast)
		out.Escalated = true
		out.FastConfidence = fast.Confidence
		return out, nil
	}

	if slow.Text == "" && fastErr == nil && fast.Text != "" {
		out = fill(out, fast, invoice.TierFast)
	} else {
		out = fill(out, slow, invoice.TierSlow)
	}
	out.Escalated = true
	if fastErr == nil {
		out.FastConfidence = fast.Confidence
	}
	e.logger().Debug("Cell escalated", "row", cell.Row, "col", cell.Col,
		"fast_confidence", fast.Confidence, "fast_error", fastErr, "tier", out.Tier)
	return out, nil
}

func (e *Escalator) call(ctx context.Context, r CellRecognizer, op string, img []byte) (Recognition, error) {
	var res Recognition
	err := retry.Do(ctx, e.Config.Retry, op, func(ctx context.Context) error {
		var err error
		res, err = r.RecognizeCell(ctx, img)
		return err
	})
	if err != nil {
		return Recognition{}, err
	}
	res.Text = CleanText(res.Text)
	res.Confidence = clampConfidence(res.Confidence)
	return res, nil
}

func fill(out invoice.RecognizedCell, r Recognition, tier invoice.Tier) invoice.RecognizedCell {
	out.Text = r.Text
	out.Confidence = r.Confidence
	out.Tier = tier
	return out
}
