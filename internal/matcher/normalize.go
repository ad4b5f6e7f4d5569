package matcher

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	unitPattern  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*((?:kg|g|l|ml|oz|lb|pcs|pack|box|ctn|each|unit|bunch)s?)\b`)
	spacePattern = regexp.MustCompile(`\s+`)
)

var fillerWords = map[string]bool{
	"fresh": true, "organic": true, "premium": true, "quality": true, "natural": true, "extra": true,
}

// productVariants maps a base product name to the spellings that mean it.
var productVariants = map[string][]string{
	"romaine":         {"romana", "romaine lettuce", "romaine salad"},
	"chickpeas":       {"chick peas", "chickpea", "chick pea", "garbanzo", "garbanzo beans"},
	"green bean":      {"green beans", "french beans", "string beans"},
	"english spinach": {"english spinach", "spinach", "baby spinach"},
	"tomato":          {"cherry tomato", "cherry tomatoes", "roma tomato", "roma tomatoes"},
	"eggplant":        {"aubergine", "purple eggplant"},
	"watermelon":      {"water melon", "watermelons", "seedless watermelon"},
	"chili":           {"chilli", "chilies", "chillies", "red chili", "green chili"},
	"mango":           {"mangoes", "champagne mango", "ataulfo mango"},
	"lettuce":         {"iceberg", "iceberg lettuce", "lettuce heads"},
	"potato":          {"potatoes", "white potato", "russet potato"},
	"onion":           {"onions", "white onion", "red onion", "yellow onion"},
}

var variantIndex = func() map[string]string {
	idx := make(map[string]string)
	for base, variants := range productVariants {
		idx[base] = base
		for _, v := range variants {
			idx[v] = base
		}
	}
	return idx
}()

// NormalizeName prepares a product name for comparison: it folds case and
// compatibility forms, drops quantities with units and filler adjectives,
// maps known variants to their base name and singularizes plurals.
func NormalizeName(name string) string {
	s := strings.ToLower(norm.NFKC.String(name))
	s = unitPattern.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if !fillerWords[w] {
			kept = append(kept, w)
		}
	}
	s = spacePattern.ReplaceAllString(strings.Join(kept, " "), " ")
	if s == "" {
		return ""
	}

	if base, ok := variantIndex[s]; ok {
		return base
	}
	if single := singularize(s); single != s {
		if base, ok := variantIndex[single]; ok {
			return base
		}
		return single
	}
	return s
}

func singularize(s string) string {
	if len(s) <= 3 || !strings.HasSuffix(s, "s") {
		return s
	}
	switch {
	case strings.HasSuffix(s, "ies"):
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "es") && strings.ContainsRune("sxzh", rune(s[len(s)-3])):
		return s[:len(s)-2]
	default:
		return s[:len(s)-1]
	}
}

// exactKey is the comparison key for the exact-match pass.
func exactKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFKC.String(name))), " ")
}
