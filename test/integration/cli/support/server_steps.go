package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/invocr/internal/catalog"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"github.com/MeKo-Tech/invocr/internal/recognizer"
	"github.com/MeKo-Tech/invocr/internal/server"
	"github.com/cucumber/godog"
)

// theInvoiceServerIsRunning starts the HTTP API in-process, backed by a
// pipeline that uses the scenario's vision model and catalog.
func (testCtx *TestContext) theInvoiceServerIsRunning() error {
	if testCtx.VisionModel == nil {
		return errors.New("a vision model must be configured before starting the server")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b := pipeline.NewBuilder().
		WithLogger(logger).
		WithSlowRecognizer(recognizer.NewOpenAI(recognizer.OpenAIConfig{
			APIKey:  "test",
			BaseURL: testCtx.VisionModel.URL,
			Timeout: 5 * time.Second,
		}, logger))
	if testCtx.CatalogFile != "" {
		b.WithCatalog(catalog.FileSource{Path: testCtx.CatalogFile})
	}
	p, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	srv, err := server.NewServer(server.Config{MaxUploadMB: 5, TimeoutSec: 10, Logger: logger}, p)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.InvoiceServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) iGET(path string) error {
	if testCtx.InvoiceServer == nil {
		return errors.New("server is not running")
	}
	resp, err := testCtx.InvoiceServer.Client().Get(testCtx.InvoiceServer.URL + path)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

// iUploadTo posts a scenario file as the "image" or "pdf" form field.
func (testCtx *TestContext) iUploadTo(name, path string) error {
	if testCtx.InvoiceServer == nil {
		return errors.New("server is not running")
	}
	data, err := os.ReadFile(testCtx.TempPath(name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	field := "image"
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		field = "pdf"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := testCtx.InvoiceServer.Client().Post(testCtx.InvoiceServer.URL+path, mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("POST %s failed: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("expected response to contain %q, got:\n%s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseShouldHaveLines checks the lines of a single-image response,
// which is encoded as a bare result object.
func (testCtx *TestContext) theResponseShouldHaveLines(n int) error {
	var res map[string]any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &res); err != nil {
		return fmt.Errorf("response is not a JSON result object: %w", err)
	}
	lines, _ := res["lines"].([]any)
	if len(lines) != n {
		return fmt.Errorf("expected %d lines, got %d", n, len(lines))
	}
	return nil
}

// RegisterServerSteps registers HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the invoice server is running$`, testCtx.theInvoiceServerIsRunning)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response should have (\d+) lines?$`, testCtx.theResponseShouldHaveLines)
}
