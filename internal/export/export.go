// Package export renders pipeline results as JSON, CSV or XLSX.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/numeric"
	"github.com/shopspring/decimal"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a user-supplied format name ("" means JSON).
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json, csv or xlsx)", s)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Document is one processed invoice, or page of a PDF invoice.
type Document struct {
	Source string          `json:"source,omitempty"`
	Page   int             `json:"page,omitempty"`
	Result *invoice.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Write encodes docs to w. A single document without a source is written
// as the bare result in JSON.
func Write(w io.Writer, f Format, docs ...Document) error {
	switch f {
	case FormatJSON, "":
		return writeJSON(w, docs)
	case FormatCSV:
		return writeCSV(w, docs)
	case FormatXLSX:
		return writeXLSX(w, docs)
	default:
		return fmt.Errorf("unsupported format %q", f)
	}
}

// WriteResult encodes a single result.
func WriteResult(w io.Writer, f Format, res *invoice.Result) error {
	return Write(w, f, Document{Result: res})
}

func writeJSON(w io.Writer, docs []Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(docs) == 1 && docs[0].Source == "" && docs[0].Error == "" {
		return enc.Encode(docs[0].Result)
	}
	return enc.Encode(docs)
}

// lineRow flattens one line with its match and issues.
type lineRow struct {
	source string
	page   int
	index  int
	line   invoice.LineRecord
	match  *invoice.MatchResult
	issues []string
}

func lineRows(docs []Document) []lineRow {
	var rows []lineRow
	for _, d := range docs {
		if d.Result == nil {
			continue
		}
		matches := make(map[int]*invoice.MatchResult, len(d.Result.Matches))
		for i := range d.Result.Matches {
			matches[d.Result.Matches[i].Line] = &d.Result.Matches[i]
		}
		issues := make(map[int][]string)
		for _, is := range d.Result.Issues {
			issues[is.Line] = append(issues[is.Line], string(is.Kind))
		}
		for i, l := range d.Result.Lines {
			rows = append(rows, lineRow{
				source: d.Source, page: d.Page, index: i, line: l,
				match: matches[i], issues: issues[i],
			})
		}
	}
	return rows
}

var lineHeader = []string{
	"source", "page", "line", "name", "qty", "unit", "price", "total",
	"product_id", "match_status", "match_score", "issues",
}

func (r lineRow) strings() []string {
	var productID, status, score string
	if r.match != nil {
		productID = r.match.ProductID
		status = string(r.match.Status)
		score = fmt.Sprintf("%.3f", r.match.Score)
	}
	page := ""
	if r.page > 0 {
		page = fmt.Sprint(r.page)
	}
	return []string{
		r.source, page, fmt.Sprint(r.index), r.line.Name,
		formatNull(r.line.Qty), r.line.Unit, formatNull(r.line.Price), formatNull(r.line.Total),
		productID, status, score, strings.Join(r.issues, ";"),
	}
}

func formatNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return numeric.Format(d.Decimal)
}
