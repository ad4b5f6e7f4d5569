// Package catalog loads the product catalog the matcher reconciles invoice
// lines against.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"gopkg.in/yaml.v3"
)

// ErrMalformedCatalog is returned for catalogs that cannot be used.
var ErrMalformedCatalog = errors.New("malformed catalog")

// Source provides the read-only product list for one run.
type Source interface {
	Load(ctx context.Context) ([]invoice.CatalogProduct, error)
}

// Static serves a fixed product list.
type Static []invoice.CatalogProduct

// Load implements Source.
func (s Static) Load(context.Context) ([]invoice.CatalogProduct, error) {
	return append([]invoice.CatalogProduct(nil), s...), nil
}

// FileSource reads a YAML or JSON catalog file on every Load.
type FileSource struct {
	Path string
}

// Load implements Source.
func (f FileSource) Load(ctx context.Context) ([]invoice.CatalogProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path) //nolint:gosec // G304: catalog path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", f.Path, err)
	}
	products, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path, err)
	}
	return products, nil
}

type catalogDoc struct {
	Products []invoice.CatalogProduct `yaml:"products"`
}

// Parse decodes a catalog document. Both a top-level product list and a
// mapping with a products key are accepted; JSON parses as YAML.
func Parse(data []byte) ([]invoice.CatalogProduct, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedCatalog)
	}

	var products []invoice.CatalogProduct
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedCatalog)
	}

	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&products); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
		}
	case yaml.MappingNode:
		var doc catalogDoc
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCatalog, err)
		}
		products = doc.Products
	default:
		return nil, fmt.Errorf("%w: expected a list of products", ErrMalformedCatalog)
	}

	if err := Validate(products); err != nil {
		return nil, err
	}
	return products, nil
}

// Validate checks that every product has an id and a name and that ids are
// unique. Names and aliases are trimmed in place.
func Validate(products []invoice.CatalogProduct) error {
	seen := make(map[string]bool, len(products))
	for i := range products {
		p := &products[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		p.UnitCategory = strings.TrimSpace(p.UnitCategory)
		if p.ID == "" {
			return fmt.Errorf("%w: product %d has no id", ErrMalformedCatalog, i)
		}
		if p.Name == "" {
			return fmt.Errorf("%w: product %s has no name", ErrMalformedCatalog, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate product id %s", ErrMalformedCatalog, p.ID)
		}
		seen[p.ID] = true

		aliases := p.Aliases[:0]
		for _, a := range p.Aliases {
			if a = strings.TrimSpace(a); a != "" {
				aliases = append(aliases, a)
			}
		}
		p.Aliases = aliases
	}
	return nil
}
