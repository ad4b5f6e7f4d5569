// Package matcher links invoice lines to catalog products. Every product is
// used by at most one line and the outcome does not depend on map order or
// scheduling.
package matcher

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/MeKo-Tech/invocr/internal/invoice"
)

// Config holds the score thresholds of the assignment passes.
type Config struct {
	// Threshold is the minimum score of a regular fuzzy match.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	// Outright assigns a fuzzy match without further checks.
	Outright float64 `mapstructure:"outright" yaml:"outright" json:"outright"`
	// Rescue is the score a deferred line needs against the remaining products.
	Rescue float64 `mapstructure:"rescue" yaml:"rescue" json:"rescue"`
	// Greedy is the floor of the final pass.
	Greedy float64 `mapstructure:"greedy" yaml:"greedy" json:"greedy"`
	// SuggestionFloor is the lowest score offered as a suggestion.
	SuggestionFloor float64 `mapstructure:"suggestion_floor" yaml:"suggestion_floor" json:"suggestion_floor"`
	MaxSuggestions  int     `mapstructure:"max_suggestions" yaml:"max_suggestions" json:"max_suggestions"`
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.75,
		Outright:        0.98,
		Rescue:          0.9,
		Greedy:          0.5,
		SuggestionFloor: 0.3,
		MaxSuggestions:  5,
	}
}

// Matcher assigns catalog products to invoice lines.
type Matcher struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Matcher. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = DefaultConfig().MaxSuggestions
	}
	return &Matcher{cfg: cfg, logger: logger}
}

// assignment tracks which product each line holds and which products are
// still free.
type assignment struct {
	product []int // per line, -1 when unassigned
	score   []float64
	status  []invoice.MatchStatus
	taken   []bool
}

func newAssignment(lines, products int) *assignment {
	a := &assignment{
		product: make([]int, lines),
		score:   make([]float64, lines),
		status:  make([]invoice.MatchStatus, lines),
		taken:   make([]bool, products),
	}
	for i := range a.product {
		a.product[i] = -1
		a.status[i] = invoice.MatchUnknown
	}
	return a
}

func (a *assignment) assign(line, product int, score float64, status invoice.MatchStatus) {
	a.product[line] = product
	a.score[line] = score
	a.status[line] = status
	a.taken[product] = true
}

// Match returns one result per line, in line order.
func (m *Matcher) Match(lines []invoice.LineRecord, catalog []invoice.CatalogProduct) []invoice.MatchResult {
	start := time.Now()
	products := sortProducts(catalog)
	scores := scoreMatrix(lines, products)
	a := m.runPasses(lines, products, scores)

	results := make([]invoice.MatchResult, len(lines))
	matched := 0
	for i := range lines {
		r := invoice.MatchResult{Line: i, Status: a.status[i], Score: a.score[i]}
		if p := a.product[i]; p >= 0 {
			r.ProductID = products[p].ID
			matched++
		} else {
			r.Status = invoice.MatchUnknown
			r.Score = 0
			r.Suggestions = m.suggestions(scores[i], products)
		}
		results[i] = r
	}

	m.logger.Debug("Matching completed", "lines", len(lines), "products", len(products),
		"matched", matched, "duration_ms", time.Since(start).Milliseconds())
	return results
}

// runPasses applies the exact, fuzzy, rescue and greedy passes in order.
// Lines are visited in index order within each pass, so a line deferred by
// the fuzzy pass competes for free products only after every later line
// has had its fuzzy turn.
func (m *Matcher) runPasses(lines []invoice.LineRecord, products []invoice.CatalogProduct,
	scores [][]float64,
) *assignment {
	a := newAssignment(len(lines), len(products))
	m.exactPass(lines, products, a)
	m.fuzzyPass(lines, products, scores, a)
	m.remainingPass(lines, products, scores, a, m.cfg.Rescue)
	m.remainingPass(lines, products, scores, a, m.cfg.Greedy)
	return a
}

// exactPass assigns lines whose name equals a product name or alias.
func (m *Matcher) exactPass(lines []invoice.LineRecord, products []invoice.CatalogProduct, a *assignment) {
	for i, line := range lines {
		key := exactKey(line.Name)
		if key == "" {
			continue
		}
		for j, p := range products {
			if !a.taken[j] && hasExactName(p, key) {
				a.assign(i, j, 1, invoice.MatchOK)
				break
			}
		}
	}
}

// fuzzyPass assigns each line its best product unless another line already
// holds it; such lines are deferred to the later passes.
func (m *Matcher) fuzzyPass(lines []invoice.LineRecord, products []invoice.CatalogProduct, scores [][]float64,
	a *assignment,
) {
	for i := range lines {
		if a.product[i] >= 0 {
			continue
		}
		best := bestProduct(scores[i], nil)
		if best < 0 || a.taken[best] {
			continue
		}
		s := scores[i][best]
		switch {
		case s >= m.cfg.Outright:
			a.assign(i, best, s, invoice.MatchOK)
		case s >= m.cfg.Threshold:
			a.assign(i, best, s, unitStatus(lines[i], products[best]))
		}
	}
}

// remainingPass offers each unassigned line its best free product when the
// score reaches floor.
func (m *Matcher) remainingPass(lines []invoice.LineRecord, products []invoice.CatalogProduct, scores [][]float64,
	a *assignment, floor float64,
) {
	for i := range lines {
		if a.product[i] >= 0 {
			continue
		}
		best := bestProduct(scores[i], a.taken)
		if best < 0 {
			continue
		}
		if s := scores[i][best]; s >= floor && s > 0 {
			a.assign(i, best, s, unitStatus(lines[i], products[best]))
		}
	}
}

func (m *Matcher) suggestions(row []float64, products []invoice.CatalogProduct) []invoice.Suggestion {
	var out []invoice.Suggestion
	for j, s := range row {
		if s >= m.cfg.SuggestionFloor && s > 0 {
			out = append(out, invoice.Suggestion{ProductID: products[j].ID, Name: products[j].Name, Score: s})
		}
	}
	// products are already in id order, so a stable sort keeps ties by id
	sort.SliceStable(out, func(x, y int) bool { return out[x].Score > out[y].Score })
	if len(out) > m.cfg.MaxSuggestions {
		out = out[:m.cfg.MaxSuggestions]
	}
	return out
}

// bestProduct returns the highest-scoring product index, skipping taken
// ones when taken is non-nil. Ties go to the lower index.
func bestProduct(row []float64, taken []bool) int {
	best := -1
	for j, s := range row {
		if taken != nil && taken[j] {
			continue
		}
		if best < 0 || s > row[best] {
			best = j
		}
	}
	return best
}

func unitStatus(line invoice.LineRecord, p invoice.CatalogProduct) invoice.MatchStatus {
	if invoice.UnitsCompatible(line.Unit, p.UnitCategory) {
		return invoice.MatchOK
	}
	return invoice.MatchUnitMismatch
}

func hasExactName(p invoice.CatalogProduct, key string) bool {
	if exactKey(p.Name) == key {
		return true
	}
	for _, alias := range p.Aliases {
		if exactKey(alias) == key {
			return true
		}
	}
	return false
}

// scoreMatrix holds the similarity of every line to every product, taking
// the best of the product name and its aliases.
func scoreMatrix(lines []invoice.LineRecord, products []invoice.CatalogProduct) [][]float64 {
	scores := make([][]float64, len(lines))
	for i, line := range lines {
		row := make([]float64, len(products))
		if line.Name != "" {
			for j, p := range products {
				s := Similarity(line.Name, p.Name)
				for _, alias := range p.Aliases {
					s = max(s, Similarity(line.Name, alias))
				}
				row[j] = s
			}
		}
		scores[i] = row
	}
	return scores
}

// sortProducts returns a copy of the catalog ordered by id, numerically
// when both ids are integers.
func sortProducts(catalog []invoice.CatalogProduct) []invoice.CatalogProduct {
	products := append([]invoice.CatalogProduct(nil), catalog...)
	sort.SliceStable(products, func(i, j int) bool { return lessID(products[i].ID, products[j].ID) })
	return products
}

func lessID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
