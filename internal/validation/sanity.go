package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/numeric"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var thousand = decimal.NewFromInt(1000)

// nameTokens splits a product name into lower-case word tokens.
func nameTokens(name string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(norm.NFKC.String(name)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

func hasAny(tokens map[string]bool, keywords []string) string {
	for _, k := range keywords {
		if tokens[k] {
			return k
		}
	}
	return ""
}

func firstRange(tokens map[string]bool, ranges []Range) *Range {
	for i := range ranges {
		if hasAny(tokens, ranges[i].Keywords) != "" {
			return &ranges[i]
		}
	}
	return nil
}

// CheckSanity applies unit-category and range rules to one line. It only
// reports; values are never changed.
func CheckSanity(line invoice.LineRecord, idx int, rules *Rules) []invoice.Issue {
	if rules == nil {
		return nil
	}
	var issues []invoice.Issue
	tokens := nameTokens(line.Name)
	unit := invoice.NormalizeUnit(line.Unit)

	if invoice.IsWeightUnit(unit) {
		for _, pu := range rules.PieceUnits {
			if kw := hasAny(tokens, pu.Keywords); kw != "" {
				issues = append(issues, invoice.Issue{
					Kind:    invoice.IssueUnitMismatch,
					Line:    idx,
					Message: fmt.Sprintf("%q is counted in %s, not %s", line.Name, pu.Unit, unit),
				})
				break
			}
		}
	}

	if line.Price.Valid {
		if rg := firstRange(tokens, rules.PriceRanges); rg != nil {
			p := line.Price.Decimal
			if p.LessThan(rg.min) || p.GreaterThan(rg.max) {
				issues = append(issues, invoice.Issue{
					Kind: invoice.IssueDomainOutOfRange,
					Line: idx,
					Message: fmt.Sprintf("price %s outside %s range [%s, %s]",
						numeric.Format(p), rg.Category, numeric.Format(rg.min), numeric.Format(rg.max)),
				})
			}
		}
	}

	if line.Qty.Valid && invoice.IsWeightUnit(unit) {
		kg := line.Qty.Decimal
		if unit == invoice.UnitG {
			kg = kg.Div(thousand)
		}
		if rg := firstRange(tokens, rules.WeightRanges); rg != nil {
			if kg.LessThan(rg.min) || kg.GreaterThan(rg.max) {
				issues = append(issues, invoice.Issue{
					Kind: invoice.IssueDomainOutOfRange,
					Line: idx,
					Message: fmt.Sprintf("weight %s kg outside %s range [%s, %s]",
						numeric.Format(kg), rg.Category, numeric.Format(rg.min), numeric.Format(rg.max)),
				})
			}
		}
	}

	if line.Qty.Valid && rules.MaxQty > 0 && line.Qty.Decimal.GreaterThan(rules.maxQty) {
		issues = append(issues, invoice.Issue{
			Kind:    invoice.IssueDomainOutOfRange,
			Line:    idx,
			Message: fmt.Sprintf("qty %s above maximum %s", numeric.Format(line.Qty.Decimal), numeric.Format(rules.maxQty)),
		})
	}
	return issues
}
