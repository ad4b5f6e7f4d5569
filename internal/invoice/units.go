package invoice

import "strings"

// Canonical unit codes.
const (
	UnitKg  = "kg"
	UnitG   = "g"
	UnitL   = "l"
	UnitMl  = "ml"
	UnitPcs = "pcs"
	UnitBtl = "btl"
	UnitBox = "box"
)

var unitAliases = map[string]string{
	"kg": UnitKg, "kgs": UnitKg, "kilo": UnitKg, "kilogram": UnitKg, "kilograms": UnitKg,
	"кг": UnitKg, "килограмм": UnitKg, "килограммы": UnitKg,
	"g": UnitG, "gr": UnitG, "gram": UnitG, "grams": UnitG, "г": UnitG, "гр": UnitG, "грамм": UnitG, "граммы": UnitG,
	"l": UnitL, "lt": UnitL, "ltr": UnitL, "liter": UnitL, "liters": UnitL, "litre": UnitL, "litres": UnitL,
	"л": UnitL, "литр": UnitL, "литры": UnitL,
	"ml": UnitMl, "мл": UnitMl,
	"pcs": UnitPcs, "pc": UnitPcs, "piece": UnitPcs, "pieces": UnitPcs, "each": UnitPcs, "ea": UnitPcs,
	"unit": UnitPcs, "units": UnitPcs, "шт": UnitPcs, "штука": UnitPcs, "штуки": UnitPcs, "штук": UnitPcs,
	"buah": UnitPcs, "biji": UnitPcs,
	"btl": UnitBtl, "bottle": UnitBtl, "bottles": UnitBtl, "botol": UnitBtl, "бут": UnitBtl,
	"box": UnitBox, "boxes": UnitBox, "ctn": UnitBox, "carton": UnitBox, "kotak": UnitBox, "karton": UnitBox,
}

// NormalizeUnit maps a recognized unit string to its canonical code.
// Unknown units are returned lower-cased and trimmed.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.TrimSuffix(u, ".")
	if canon, ok := unitAliases[u]; ok {
		return canon
	}
	return u
}

// IsWeightUnit reports whether unit measures mass.
func IsWeightUnit(unit string) bool {
	switch NormalizeUnit(unit) {
	case UnitKg, UnitG:
		return true
	}
	return false
}

// Unit categories used to compare line units with catalog products.
const (
	CategoryWeight = "weight"
	CategoryVolume = "volume"
	CategoryCount  = "count"
)

// UnitCategory returns the measure a unit belongs to. Category names are
// accepted as well, so catalogs may store either "kg" or "weight".
func UnitCategory(unit string) string {
	switch u := NormalizeUnit(unit); u {
	case UnitKg, UnitG, CategoryWeight:
		return CategoryWeight
	case UnitL, UnitMl, CategoryVolume:
		return CategoryVolume
	case UnitPcs, UnitBtl, UnitBox, "krat", "pack", "bunch", CategoryCount:
		return CategoryCount
	default:
		return u
	}
}

// UnitsCompatible reports whether two units describe the same kind of
// measure. An empty side is compatible with anything.
func UnitsCompatible(a, b string) bool {
	ca, cb := UnitCategory(a), UnitCategory(b)
	if ca == "" || cb == "" {
		return true
	}
	return ca == cb
}
