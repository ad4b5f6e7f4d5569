package matcher

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
)

const (
	containmentFloor = 0.85
	pluralBonus      = 0.15
	prefixPenalty    = 0.8
)

// indel scores insertions and deletions only; a substitution costs both.
var indel = levenshtein.NewParams().SubCost(2)

// Similarity scores two product names in [0, 1] after normalizing both.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	score := 0.2*ratio(na, nb) + 0.2*partialRatio(na, nb) + 0.3*tokenSortRatio(na, nb) + 0.3*tokenSetRatio(na, nb)

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		score = max(score, containmentFloor)
	}
	if pluralOf(na, nb) || pluralOf(nb, na) {
		score = min(score+pluralBonus, 1)
	}
	if strings.HasPrefix(na, nb) || strings.HasPrefix(nb, na) {
		score *= prefixPenalty
	}
	return score
}

func ratio(a, b string) float64 {
	return levenshtein.Similarity(a, b, indel)
}

// partialRatio is the best ratio of the shorter string against every
// equally long window of the longer one.
func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}
	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 1 {
				break
			}
		}
	}
	return best
}

func sortedTokens(s string) []string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return tokens
}

func tokenSortRatio(a, b string) float64 {
	return ratio(strings.Join(sortedTokens(a), " "), strings.Join(sortedTokens(b), " "))
}

// tokenSetRatio compares the shared tokens with each side's full token set.
func tokenSetRatio(a, b string) float64 {
	ta, tb := uniqueTokens(a), uniqueTokens(b)
	var common, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}
	if len(common) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 1
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	combA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	combB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := ratio(combA, combB)
	if sect != "" {
		best = max(best, ratio(sect, combA), ratio(sect, combB))
	}
	return best
}

func uniqueTokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		set[t] = true
	}
	return set
}

// pluralOf reports whether p is a plural spelling of s.
func pluralOf(p, s string) bool {
	if p == s+"s" || p == s+"es" {
		return true
	}
	return strings.HasSuffix(s, "y") && p == s[:len(s)-1]+"ies"
}
