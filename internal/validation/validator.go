// Package validation checks reconstructed invoice lines for arithmetic
// consistency and domain plausibility.
package validation

import (
	"log/slog"
	"sort"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/shopspring/decimal"
)

// Config holds validation settings.
type Config struct {
	// Tolerance is the accepted relative error of qty*price against total.
	Tolerance float64
	AutoFix   bool
	// Guards for the arithmetic corrections; the zero value uses
	// DefaultGuards.
	Guards Guards
	// Rules for the sanity checks; nil uses the built-in set.
	Rules  *Rules
	Logger *slog.Logger
}

// DefaultConfig returns 1% tolerance with auto-fix enabled.
func DefaultConfig() Config {
	return Config{Tolerance: 0.01, AutoFix: true, Guards: DefaultGuards()}
}

// Validator runs the arithmetic check and then the sanity check on every
// line.
type Validator struct {
	tolerance decimal.Decimal
	autoFix   bool
	guards    Guards
	rules     *Rules
	logger    *slog.Logger
}

// New creates a Validator.
func New(cfg Config) *Validator {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	guards := cfg.Guards
	if guards == (Guards{}) {
		guards = DefaultGuards()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		tolerance: decimal.NewFromFloat(cfg.Tolerance),
		autoFix:   cfg.AutoFix,
		guards:    guards,
		rules:     rules,
		logger:    logger,
	}
}

// Report is the outcome of validating one invoice.
type Report struct {
	Lines    []invoice.LineRecord
	Issues   []invoice.Issue
	Accuracy float64
}

// Validate checks lines and returns corrected copies with their issues,
// ordered by line index. The input slice is not modified.
func (v *Validator) Validate(lines []invoice.LineRecord) Report {
	out := make([]invoice.LineRecord, len(lines))
	copy(out, lines)

	issues := []invoice.Issue{}
	for i := range out {
		issues = append(issues, v.guards.Check(&out[i], i, v.tolerance, v.autoFix)...)
		issues = append(issues, CheckSanity(out[i], i, v.rules)...)
	}
	sort.SliceStable(issues, func(a, b int) bool { return issues[a].Line < issues[b].Line })

	fixed := 0
	for _, is := range issues {
		if is.AutoFixed {
			fixed++
		}
	}
	acc := Accuracy(len(out), issues)
	v.logger.Debug("Validation completed", "lines", len(out), "issues", len(issues),
		"auto_fixed", fixed, "accuracy", acc)

	return Report{Lines: out, Issues: issues, Accuracy: acc}
}

// Accuracy is the share of lines without unresolved issues; 0 when there
// are no lines.
func Accuracy(lines int, issues []invoice.Issue) float64 {
	if lines == 0 {
		return 0
	}
	bad := map[int]bool{}
	for _, is := range issues {
		if !is.AutoFixed && is.Line >= 0 && is.Line < lines {
			bad[is.Line] = true
		}
	}
	return float64(lines-len(bad)) / float64(lines)
}
