package recognizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/numeric"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

// ErrMalformedDocument is returned when a whole-page response cannot be
// read as a list of line items.
var ErrMalformedDocument = errors.New("malformed document response")

const cellPrompt = `You are reading one cell cut out of a supplier invoice table.
Reply with the exact text of the cell and nothing else. Keep digits, separators and units as printed.
If the cell is blank, reply with an empty string.`

const documentPrompt = `You are an OCR system for restaurant supply invoices.
Extract EVERY product line of the invoice table, from top to bottom, even if the text is unclear.
For each line return: name (as written), qty (number), unit (kg, g, l, ml, pcs, btl, box), price (unit price), total (line total).
Use null for values you cannot determine. Do not convert currencies.
Return only JSON of the form {"positions": [{"name": "...", "qty": 1, "unit": "kg", "price": 1000, "total": 1000}]}, no markdown.`

const documentSchema = `{
  "$defs": {
    "num": {"type": ["number", "string", "null"]},
    "text": {"type": ["string", "null"]},
    "item": {
      "type": "object",
      "properties": {
        "name": {"$ref": "#/$defs/text"},
        "qty": {"$ref": "#/$defs/num"},
        "unit": {"$ref": "#/$defs/text"},
        "price": {"$ref": "#/$defs/num"},
        "total": {"$ref": "#/$defs/num"},
        "total_price": {"$ref": "#/$defs/num"}
      },
      "required": ["name"]
    },
    "items": {"type": "array", "items": {"$ref": "#/$defs/item"}}
  },
  "oneOf": [
    {"$ref": "#/$defs/items"},
    {"type": "object", "properties": {"positions": {"$ref": "#/$defs/items"}}, "required": ["positions"]}
  ]
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("document.json", strings.NewReader(documentSchema)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("document.json")
})

type documentItem struct {
	Name       *string `json:"name"`
	Qty        any     `json:"qty"`
	Unit       *string `json:"unit"`
	Price      any     `json:"price"`
	Total      any     `json:"total"`
	TotalPrice any     `json:"total_price"`
}

// ParseDocument reads line items out of a vision model's whole-page answer.
// Markdown fences and prose around the JSON are tolerated; the JSON itself
// must be an array of items or an object with a "positions" array.
func ParseDocument(text string) ([]invoice.LineRecord, error) {
	payload, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	var items []documentItem
	if obj, ok := doc.(map[string]any); ok {
		payload, _ = json.Marshal(obj["positions"])
	}
	dec = json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	lines := make([]invoice.LineRecord, 0, len(items))
	for i, it := range items {
		line := invoice.LineRecord{Row: i}
		if it.Name != nil {
			line.Name = CleanText(*it.Name)
		}
		if it.Unit != nil {
			line.Unit = invoice.NormalizeUnit(*it.Unit)
		}
		line.Qty = toDecimal(it.Qty)
		line.Price = toDecimal(it.Price)
		line.Total = toDecimal(it.Total)
		if !line.Total.Valid {
			line.Total = toDecimal(it.TotalPrice)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func extractJSON(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return nil, fmt.Errorf("%w: no JSON found", ErrMalformedDocument)
	}
	closer := "]"
	if text[start] == '{' {
		closer = "}"
	}
	end := strings.LastIndex(text, closer)
	if end < start {
		return nil, fmt.Errorf("%w: unterminated JSON", ErrMalformedDocument)
	}
	return []byte(text[start : end+1]), nil
}

func toDecimal(v any) decimal.NullDecimal {
	switch x := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.NullDecimal{}
		}
		return invoice.Dec(d)
	case string:
		return numeric.ParseNull(x)
	}
	return decimal.NullDecimal{}
}
