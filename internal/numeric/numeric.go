// Package numeric parses locale-ambiguous numbers as they appear on
// photographed invoices.
package numeric

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// currencyTokens are removed before parsing. Longer tokens come first so a
// prefix never shadows its longer form.
var currencyTokens = []string{
	"rp.", "rp", "idr", "usd", "eur", "rub", "руб.", "руб", "р.",
	"$", "€", "£", "¥", "₽", "₹",
}

var thousand = decimal.NewFromInt(1000)

// Parse converts s into a decimal. It never panics; ok is false when s holds
// no usable number.
func Parse(s string) (d decimal.Decimal, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, false
	}
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, " ")
	}

	runes := []rune(s)
	start := findStart(runes)
	if start < 0 {
		return decimal.Zero, false
	}
	negative := start > 0 && (runes[start-1] == '-' || runes[start-1] == '−')

	core, end := scanCore(runes, start)
	if core == "" {
		return decimal.Zero, false
	}

	canonical, ok := resolveSeparators(core)
	if !ok {
		return decimal.Zero, false
	}

	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, false
	}
	if hasThousandSuffix(runes, end) {
		d = d.Mul(thousand)
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// ParseNull is Parse returning a nullable decimal.
func ParseNull(s string) decimal.NullDecimal {
	d, ok := Parse(s)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Format renders d so that Parse reads it back to the same value. Exactly
// three fractional digits would read as a thousands group, so such values
// get a trailing zero.
func Format(d decimal.Decimal) string {
	s := d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 == 3 {
		s += "0"
	}
	return s
}

func findStart(runes []rune) int {
	for i, r := range runes {
		if isDigit(r) {
			return i
		}
		if (r == '.' || r == ',') && i+1 < len(runes) && isDigit(runes[i+1]) {
			return i
		}
	}
	return -1
}

// scanCore collects digits and separators from start. A space continues the
// number only when it is followed by a group of exactly three digits.
func scanCore(runes []rune, start int) (string, int) {
	var b strings.Builder
	i := start
	for i < len(runes) {
		r := runes[i]
		switch {
		case isDigit(r), r == '.', r == ',':
			b.WriteRune(r)
			i++
		case r == '\'' || r == '’':
			i++
		case isSpace(r):
			if !spaceGroupFollows(runes, i) {
				return strings.TrimRight(b.String(), ".,"), i
			}
			i++
		default:
			return strings.TrimRight(b.String(), ".,"), i
		}
	}
	return strings.TrimRight(b.String(), ".,"), i
}

func spaceGroupFollows(runes []rune, i int) bool {
	j := i
	for j < len(runes) && isSpace(runes[j]) {
		j++
	}
	n := 0
	for j+n < len(runes) && isDigit(runes[j+n]) {
		n++
	}
	if n != 3 {
		return false
	}
	next := j + n
	return next == len(runes) || !isDigit(runes[next])
}

func hasThousandSuffix(runes []rune, end int) bool {
	j := end
	for j < len(runes) && isSpace(runes[j]) {
		j++
	}
	if j >= len(runes) || runes[j] != 'k' {
		return false
	}
	return j+1 == len(runes) || !unicode.IsLetter(runes[j+1])
}

// resolveSeparators turns a core of digits, dots and commas into a plain
// "123.45" string.
func resolveSeparators(core string) (string, bool) {
	dots := strings.Count(core, ".")
	commas := strings.Count(core, ",")

	var thousands, decimalSep byte
	switch {
	case dots > 1 && commas > 1:
		return "", false
	case dots > 1:
		thousands = '.'
		if commas == 1 {
			decimalSep = ','
		}
	case commas > 1:
		thousands = ','
		if dots == 1 {
			decimalSep = '.'
		}
	case dots == 1 && commas == 1:
		if strings.LastIndexByte(core, '.') > strings.LastIndexByte(core, ',') {
			thousands, decimalSep = ',', '.'
		} else {
			thousands, decimalSep = '.', ','
		}
	case dots == 1 || commas == 1:
		sep := byte('.')
		if commas == 1 {
			sep = ','
		}
		if len(core)-strings.IndexByte(core, sep)-1 == 3 {
			thousands = sep
		} else {
			decimalSep = sep
		}
	}

	intPart, fracPart := core, ""
	if decimalSep != 0 {
		i := strings.LastIndexByte(core, decimalSep)
		intPart, fracPart = core[:i], core[i+1:]
		if strings.ContainsAny(fracPart, ".,") {
			return "", false
		}
	}
	if thousands != 0 {
		groups := strings.Split(intPart, string(thousands))
		for k, g := range groups {
			if k > 0 && len(g) != 3 {
				return "", false
			}
		}
		intPart = strings.Join(groups, "")
	}
	if strings.ContainsAny(intPart, ".,") {
		return "", false
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		return intPart, true
	}
	return intPart + "." + fracPart, true
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isSpace(r rune) bool { return r == ' ' || r == '\u00a0' || r == '\u202f' || r == '\t' }
