// Package table hands invoice images to a table structure detector and
// returns the detected cell grid.
package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MeKo-Tech/invocr/internal/invoice"
)

// ErrTableNotFound is returned when no table could be located in the image.
var ErrTableNotFound = errors.New("table not found")

// ColumnRole is the semantic meaning of a table column.
type ColumnRole string

const (
	RoleName   ColumnRole = "name"
	RoleQty    ColumnRole = "qty"
	RoleUnit   ColumnRole = "unit"
	RolePrice  ColumnRole = "price"
	RoleTotal  ColumnRole = "total"
	RoleIgnore ColumnRole = "ignore"
)

// ParseRole maps a provider-supplied role string to a ColumnRole.
func ParseRole(s string) (ColumnRole, error) {
	switch r := ColumnRole(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleName, RoleQty, RoleUnit, RolePrice, RoleTotal, RoleIgnore:
		return r, nil
	case "":
		return RoleIgnore, nil
	default:
		return "", fmt.Errorf("unknown column role %q", s)
	}
}

// Layout is a detected table: its cells plus whatever column semantics the
// detector could infer.
type Layout struct {
	Cells []invoice.Cell
	// Columns maps a column index to its role. Empty when the detector does
	// not report semantics.
	Columns map[int]ColumnRole
	// HeaderRows lists row indexes the detector classified as headers.
	HeaderRows []int
}

// IsHeader reports whether row was marked as a header row.
func (l *Layout) IsHeader(row int) bool {
	for _, r := range l.HeaderRows {
		if r == row {
			return true
		}
	}
	return false
}

// Sort orders cells by row, then column.
func (l *Layout) Sort() {
	sort.SliceStable(l.Cells, func(i, j int) bool {
		if l.Cells[i].Row != l.Cells[j].Row {
			return l.Cells[i].Row < l.Cells[j].Row
		}
		return l.Cells[i].Col < l.Cells[j].Col
	})
}

// Provider locates a table and its cells in an image.
type Provider interface {
	Detect(ctx context.Context, img []byte) (*Layout, error)
}

// None is a Provider that never finds a table, forcing the whole-image path.
type None struct{}

// Detect always returns ErrTableNotFound.
func (None) Detect(context.Context, []byte) (*Layout, error) {
	return nil, ErrTableNotFound
}

// Static returns a fixed layout. It is used for pre-segmented inputs.
type Static struct {
	Layout *Layout
}

// Detect returns a copy of the configured layout.
func (s Static) Detect(context.Context, []byte) (*Layout, error) {
	if s.Layout == nil || len(s.Layout.Cells) == 0 {
		return nil, ErrTableNotFound
	}
	out := &Layout{
		Cells:      append([]invoice.Cell(nil), s.Layout.Cells...),
		Columns:    make(map[int]ColumnRole, len(s.Layout.Columns)),
		HeaderRows: append([]int(nil), s.Layout.HeaderRows...),
	}
	for k, v := range s.Layout.Columns {
		out.Columns[k] = v
	}
	out.Sort()
	return out, nil
}
