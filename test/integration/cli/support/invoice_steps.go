package support

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/invocr/internal/testutil"
	"github.com/MeKo-Tech/invocr/internal/utils"
	"github.com/cucumber/godog"
)

// writeTempFile writes data below the scenario temp directory.
func (testCtx *TestContext) writeTempFile(name string, data []byte) (string, error) {
	path := testCtx.TempPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return path, nil
}

func (testCtx *TestContext) anInvoiceImage(name string) error {
	data, err := utils.EncodePNG(testutil.GenerateInvoiceImage(testutil.DefaultInvoiceImageConfig()))
	if err != nil {
		return err
	}
	_, err = testCtx.writeTempFile(name, data)
	return err
}

func (testCtx *TestContext) aCorruptFile(name string) error {
	_, err := testCtx.writeTempFile(name, []byte("not an invoice"))
	return err
}

func (testCtx *TestContext) theSampleCatalog(name string) error {
	path, err := testCtx.writeTempFile(name, []byte(testutil.SampleCatalogYAML))
	if err != nil {
		return err
	}
	testCtx.CatalogFile = path
	return nil
}

// parsePositions turns a | name | qty | unit | price | total | table into
// the positions a vision model would return.
func parsePositions(table *godog.Table) ([]map[string]any, error) {
	if len(table.Rows) < 2 {
		return nil, fmt.Errorf("line item table needs a header and at least one row")
	}
	var header []string
	for _, c := range table.Rows[0].Cells {
		header = append(header, strings.TrimSpace(c.Value))
	}

	var positions []map[string]any
	for _, row := range table.Rows[1:] {
		pos := make(map[string]any, len(header))
		for i, c := range row.Cells {
			if i >= len(header) {
				break
			}
			v := strings.TrimSpace(c.Value)
			switch header[i] {
			case "qty", "price", "total":
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("column %s: %w", header[i], err)
				}
				pos[header[i]] = f
			default:
				pos[header[i]] = v
			}
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// aVisionModelReturning starts an OpenAI-compatible chat/completions fake
// that answers every request with the given line items.
func (testCtx *TestContext) aVisionModelReturning(table *godog.Table) error {
	positions, err := parsePositions(table)
	if err != nil {
		return err
	}
	content, err := json.Marshal(map[string]any{"positions": positions})
	if err != nil {
		return err
	}

	testCtx.VisionModel = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": string(content)}}},
		})
	}))
	return nil
}

func (testCtx *TestContext) anUnavailableVisionModel() error {
	testCtx.VisionModel = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	return nil
}

// RegisterInvoiceSteps registers fixture and collaborator steps.
func (testCtx *TestContext) RegisterInvoiceSteps(sc *godog.ScenarioContext) {
	sc.Step(`^an invoice image "([^"]*)"$`, testCtx.anInvoiceImage)
	sc.Step(`^a corrupt file "([^"]*)"$`, testCtx.aCorruptFile)
	sc.Step(`^the sample catalog "([^"]*)"$`, testCtx.theSampleCatalog)
	sc.Step(`^a vision model returning:$`, testCtx.aVisionModelReturning)
	sc.Step(`^an unavailable vision model$`, testCtx.anUnavailableVisionModel)
}
