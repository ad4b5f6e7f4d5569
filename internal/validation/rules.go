package validation

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// PieceUnit lists name keywords of goods counted in Unit rather than weighed.
type PieceUnit struct {
	Unit     string   `yaml:"unit"`
	Keywords []string `yaml:"keywords"`
}

// Range is a plausible [Min, Max] for goods whose names carry a keyword.
type Range struct {
	Category string   `yaml:"category"`
	Min      float64  `yaml:"min"`
	Max      float64  `yaml:"max"`
	Keywords []string `yaml:"keywords"`

	min, max decimal.Decimal
}

// Rules are the domain plausibility rules used by the sanity checks.
type Rules struct {
	MaxQty       float64     `yaml:"max_qty"`
	PieceUnits   []PieceUnit `yaml:"piece_units"`
	PriceRanges  []Range     `yaml:"price_ranges"`
	WeightRanges []Range     `yaml:"weight_ranges"`

	maxQty decimal.Decimal
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rules: %v", err))
	}
	return r
}

// LoadRules reads a rule file from disk.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: rule file path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and checks a YAML rule set.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if err := r.compile(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) compile() error {
	if r.MaxQty < 0 {
		return errors.New("max_qty must not be negative")
	}
	r.maxQty = decimal.NewFromFloat(r.MaxQty)
	for i := range r.PieceUnits {
		pu := &r.PieceUnits[i]
		if pu.Unit == "" {
			return fmt.Errorf("piece_units[%d]: unit is required", i)
		}
		pu.Keywords = lowerAll(pu.Keywords)
	}
	for _, ranges := range [][]Range{r.PriceRanges, r.WeightRanges} {
		for i := range ranges {
			rg := &ranges[i]
			if rg.Min > rg.Max {
				return fmt.Errorf("range %q: min %.2f above max %.2f", rg.Category, rg.Min, rg.Max)
			}
			if len(rg.Keywords) == 0 {
				return fmt.Errorf("range %q: keywords are required", rg.Category)
			}
			rg.Keywords = lowerAll(rg.Keywords)
			rg.min = decimal.NewFromFloat(rg.Min)
			rg.max = decimal.NewFromFloat(rg.Max)
		}
	}
	return nil
}

func lowerAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(strings.TrimSpace(w))
	}
	return out
}
