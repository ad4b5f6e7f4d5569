// Package invoice holds the data model shared by every stage of the invoice
// extraction pipeline.
package invoice

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyImage is returned when a caller passes no image bytes.
	ErrEmptyImage = errors.New("empty image")
	// ErrInvalidImage is returned when the image bytes cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
)

// Box is an axis-aligned bounding box in image pixel coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Cell is one detected table region.
type Cell struct {
	Box   Box    `json:"bbox"`
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Image []byte `json:"-"`
}

// Tier identifies which recognizer produced a cell's text.
type Tier string

const (
	TierNone Tier = "none"
	TierFast Tier = "fast"
	TierSlow Tier = "slow"
)

// RecognizedCell is a Cell plus the recognition outcome.
type RecognizedCell struct {
	Cell
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Tier       Tier    `json:"tier"`
	// Escalated is set when the slow tier was consulted.
	Escalated bool `json:"escalated,omitempty"`
	// FastConfidence keeps the fast-tier score after escalation.
	FastConfidence float64 `json:"fast_confidence,omitempty"`
	Err            string  `json:"error,omitempty"`
}

// LineRecord is one reconstructed invoice row.
type LineRecord struct {
	Name  string              `json:"name,omitempty"`
	Qty   decimal.NullDecimal `json:"qty"`
	Unit  string              `json:"unit,omitempty"`
	Price decimal.NullDecimal `json:"price"`
	Total decimal.NullDecimal `json:"total"`
	Row   int                 `json:"row"`
}

// HasName reports whether the line carries a non-empty name.
func (l LineRecord) HasName() bool { return l.Name != "" }

// IssueKind classifies a data-quality finding.
type IssueKind string

const (
	IssuePriceZeroLost      IssueKind = "price_zero_lost"
	IssuePriceExtraZero     IssueKind = "price_extra_zero"
	IssueQtyDecimalMissed   IssueKind = "qty_decimal_missed"
	IssueUnitMismatch       IssueKind = "unit_mismatch"
	IssueArithmeticMismatch IssueKind = "arithmetic_mismatch"
	IssueDomainOutOfRange   IssueKind = "domain_out_of_range"
	IssueUnrecognizedName   IssueKind = "unrecognized_name"
)

// Issue is a recorded data-quality finding, optionally auto-fixed.
type Issue struct {
	Kind      IssueKind `json:"kind"`
	Line      int       `json:"line"`
	Message   string    `json:"message"`
	AutoFixed bool      `json:"auto_fixed"`
}

// MatchStatus is the outcome of matching one line against the catalog.
type MatchStatus string

const (
	MatchOK           MatchStatus = "ok"
	MatchUnitMismatch MatchStatus = "unit_mismatch"
	MatchUnknown      MatchStatus = "unknown"
)

// Suggestion is a candidate product offered for an unknown line.
type Suggestion struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
}

// MatchResult links a line to at most one catalog product.
type MatchResult struct {
	Line        int          `json:"line"`
	ProductID   string       `json:"product_id,omitempty"`
	Status      MatchStatus  `json:"status"`
	Score       float64      `json:"score"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// CatalogProduct is a read-only catalog entry.
type CatalogProduct struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Aliases      []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	UnitCategory string   `json:"unit_category,omitempty" yaml:"unit_category,omitempty"`
}

// Stats carries processing counters for one invoice.
type Stats struct {
	CellsTotal     int                `json:"cells_total"`
	CellsEscalated int                `json:"cells_escalated"`
	CellsSkipped   int                `json:"cells_skipped"`
	CellsFailed    int                `json:"cells_failed"`
	Fallback       bool               `json:"fallback"`
	Partial        bool               `json:"partial"`
	Cached         bool               `json:"cached"`
	TimingMs       map[string]float64 `json:"timing_ms,omitempty"`
}

// Result is the output contract of the pipeline.
type Result struct {
	Lines    []LineRecord  `json:"lines"`
	Issues   []Issue       `json:"issues"`
	Matches  []MatchResult `json:"matches"`
	Accuracy float64       `json:"accuracy"`
	Stats    Stats         `json:"stats"`
}

// Dec wraps d as a valid nullable decimal.
func Dec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}
