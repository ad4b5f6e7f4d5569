package validation

import (
	"testing"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tol = decimal.RequireFromString("0.01")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mkLine(qty, price, total string) invoice.LineRecord {
	l := invoice.LineRecord{Name: "item"}
	if qty != "" {
		l.Qty = invoice.Dec(d(qty))
	}
	if price != "" {
		l.Price = invoice.Dec(d(price))
	}
	if total != "" {
		l.Total = invoice.Dec(d(total))
	}
	return l
}

func TestConsistent(t *testing.T) {
	assert.True(t, Consistent(d("2"), d("50000"), d("100000"), tol))
	assert.True(t, Consistent(d("3"), d("333.33"), d("1000"), tol))
	assert.False(t, Consistent(d("2"), d("5000"), d("100000"), tol))
	// Small totals are compared against 1, not against themselves.
	assert.True(t, Consistent(d("0"), d("5"), d("0.005"), tol))
}

func TestCheckArithmetic(t *testing.T) {
	tests := []struct {
		name      string
		line      invoice.LineRecord
		wantKind  invoice.IssueKind
		wantFixed bool
		wantQty   string
		wantPrice string
	}{
		{
			name: "consistent line", line: mkLine("2", "50000", "100000"),
			wantQty: "2", wantPrice: "50000",
		},
		{
			name: "lost zero in price", line: mkLine("2", "5000", "100000"),
			wantKind: invoice.IssuePriceZeroLost, wantFixed: true, wantQty: "2", wantPrice: "50000",
		},
		{
			name: "extra zero in price", line: mkLine("3", "150000", "45000"),
			wantKind: invoice.IssuePriceExtraZero, wantFixed: true, wantQty: "3", wantPrice: "15000",
		},
		{
			name: "missed qty decimal", line: mkLine("15", "800", "1200"),
			wantKind: invoice.IssueQtyDecimalMissed, wantFixed: true, wantQty: "1.5", wantPrice: "800",
		},
		{
			name: "price fix wins over qty fix", line: mkLine("15", "20000", "30000"),
			wantKind: invoice.IssuePriceExtraZero, wantFixed: true, wantQty: "15", wantPrice: "2000",
		},
		{
			name: "unfixable mismatch", line: mkLine("2", "5000", "12345"),
			wantKind: invoice.IssueArithmeticMismatch, wantQty: "2", wantPrice: "5000",
		},
		{
			name: "zero qty skips price guards", line: mkLine("0", "5000", "100000"),
			wantKind: invoice.IssueArithmeticMismatch, wantQty: "0", wantPrice: "5000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := tt.line
			issues := CheckArithmetic(&line, 4, tol, true)
			if tt.wantKind == "" {
				assert.Empty(t, issues)
			} else {
				require.Len(t, issues, 1)
				assert.Equal(t, tt.wantKind, issues[0].Kind)
				assert.Equal(t, tt.wantFixed, issues[0].AutoFixed)
				assert.Equal(t, 4, issues[0].Line)
				assert.NotEmpty(t, issues[0].Message)
			}
			assert.True(t, line.Qty.Decimal.Equal(d(tt.wantQty)), "qty %s", line.Qty.Decimal)
			assert.True(t, line.Price.Decimal.Equal(d(tt.wantPrice)), "price %s", line.Price.Decimal)
		})
	}
}

func TestCheckArithmetic_MissingValues(t *testing.T) {
	for _, line := range []invoice.LineRecord{
		mkLine("", "5000", "100000"),
		mkLine("2", "", "100000"),
		mkLine("2", "5000", ""),
	} {
		l := line
		assert.Empty(t, CheckArithmetic(&l, 0, tol, true))
	}
}

func TestCheckArithmetic_AutoFixDisabled(t *testing.T) {
	line := mkLine("2", "5000", "100000")
	issues := CheckArithmetic(&line, 0, tol, false)
	require.Len(t, issues, 1)
	assert.Equal(t, invoice.IssueArithmeticMismatch, issues[0].Kind)
	assert.False(t, issues[0].AutoFixed)
	assert.Contains(t, issues[0].Message, "price_zero_lost")
	assert.True(t, line.Price.Decimal.Equal(d("5000")), "values stay untouched")
}

func TestGuards_Check(t *testing.T) {
	guards := DefaultGuards()
	guards.MaxLostZeroPrice = 1000

	line := mkLine("2", "5000", "100000")
	issues := guards.Check(&line, 0, tol, true)
	require.Len(t, issues, 1)
	assert.Equal(t, invoice.IssueArithmeticMismatch, issues[0].Kind, "price above the cap is not multiplied")
	assert.True(t, line.Price.Decimal.Equal(d("5000")))

	guards = DefaultGuards()
	guards.MinMissedDecimalQty = 20
	line = mkLine("15", "800", "1200")
	issues = guards.Check(&line, 0, tol, true)
	require.Len(t, issues, 1)
	assert.Equal(t, invoice.IssueArithmeticMismatch, issues[0].Kind)
}

func TestValidator_UsesConfiguredGuards(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Guards.MaxLostZeroPrice = 1000
	report := New(cfg).Validate([]invoice.LineRecord{mkLine("2", "5000", "100000")})
	require.Len(t, report.Issues, 1)
	assert.Equal(t, invoice.IssueArithmeticMismatch, report.Issues[0].Kind)

	// Zero guards fall back to the defaults.
	report = New(Config{Tolerance: 0.01, AutoFix: true}).Validate([]invoice.LineRecord{mkLine("2", "5000", "100000")})
	require.Len(t, report.Issues, 1)
	assert.Equal(t, invoice.IssuePriceZeroLost, report.Issues[0].Kind)
}
