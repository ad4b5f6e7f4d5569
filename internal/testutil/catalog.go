package testutil

import (
	"testing"
)

// SampleCatalogYAML is a small catalog used across tests.
const SampleCatalogYAML = `products:
  - id: "1"
    name: Mozzarella
    aliases: [mozzarella cheese]
    unit_category: kg
  - id: "2"
    name: Bacon
    unit_category: kg
  - id: "3"
    name: Telur Ayam
    aliases: [eggs]
    unit_category: pcs
  - id: "4"
    name: Beras
    aliases: [rice]
    unit_category: kg
`

// WriteSampleCatalog writes SampleCatalogYAML into dir and returns its path.
func WriteSampleCatalog(t *testing.T, dir string) string {
	t.Helper()
	return WriteFile(t, dir, "catalog.yaml", []byte(SampleCatalogYAML))
}
