package validation

import (
	"testing"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	v := New(DefaultConfig())
	lines := []invoice.LineRecord{
		withUnit(mkLine("2", "50000", "100000"), "Mozzarella", "kg"),
		withUnit(mkLine("2", "5000", "100000"), "Bacon", "kg"),
		withUnit(mkLine("5", "2000", "10000"), "Telur", "kg"),
		withUnit(mkLine("2", "5000", "12345"), "Bacon", "kg"),
	}

	report := v.Validate(lines)
	require.Len(t, report.Lines, 4)
	assert.Equal(t, []invoice.IssueKind{
		invoice.IssuePriceZeroLost,
		invoice.IssueUnitMismatch,
		invoice.IssueArithmeticMismatch,
	}, kinds(report.Issues))
	assert.Equal(t, []int{1, 2, 3}, []int{report.Issues[0].Line, report.Issues[1].Line, report.Issues[2].Line})

	assert.True(t, report.Lines[1].Price.Decimal.Equal(d("50000")))
	assert.True(t, lines[1].Price.Decimal.Equal(d("5000")), "input is not mutated")

	// Lines 0 and 1 are clean (1 was auto-fixed); 2 and 3 carry unresolved issues.
	assert.InDelta(t, 0.5, report.Accuracy, 1e-9)
}

func TestValidator_IssueOrderWithinLine(t *testing.T) {
	v := New(DefaultConfig())
	// Arithmetic issue first, then sanity issues, for the same line.
	report := v.Validate([]invoice.LineRecord{
		withUnit(mkLine("2", "5000", "12345"), "Telur", "kg"),
	})
	assert.Equal(t, []invoice.IssueKind{
		invoice.IssueArithmeticMismatch,
		invoice.IssueUnitMismatch,
		invoice.IssueDomainOutOfRange,
	}, kinds(report.Issues))
}

func TestValidator_Empty(t *testing.T) {
	report := New(DefaultConfig()).Validate(nil)
	assert.Empty(t, report.Lines)
	assert.NotNil(t, report.Issues)
	assert.Zero(t, report.Accuracy)
}

func TestValidator_AutoFixDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoFix = false
	report := New(cfg).Validate([]invoice.LineRecord{mkLine("2", "5000", "100000")})
	require.Len(t, report.Issues, 1)
	assert.Equal(t, invoice.IssueArithmeticMismatch, report.Issues[0].Kind)
	assert.Zero(t, report.Accuracy)
}

func TestAccuracy(t *testing.T) {
	issues := []invoice.Issue{
		{Kind: invoice.IssuePriceZeroLost, Line: 0, AutoFixed: true},
		{Kind: invoice.IssueUnitMismatch, Line: 1},
		{Kind: invoice.IssueDomainOutOfRange, Line: 1},
	}
	assert.InDelta(t, 2.0/3.0, Accuracy(3, issues), 1e-9)
	assert.InDelta(t, 1.0, Accuracy(2, nil), 1e-9)
	assert.Zero(t, Accuracy(0, issues))
}
