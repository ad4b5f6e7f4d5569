package support

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand    string
	LastOutput     string
	LastStdout     string
	LastError      error
	LastExitCode   int
	LastDuration   time.Duration
	LastOutputFile string

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string

	// Collaborators
	VisionModel   *httptest.Server
	CatalogFile   string
	InvoiceServer *httptest.Server

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context rooted at the module directory.
func NewTestContext() (*TestContext, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	// Tests run inside the package directory; commands run from the module root.
	currentDir := workingDir
	for {
		if _, err := os.Stat(filepath.Join(currentDir, "go.mod")); err == nil {
			workingDir = currentDir
			break
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	tempDir, err := os.MkdirTemp("", "invocr-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		WorkingDir: workingDir,
		TempDir:    tempDir,
		// Isolate from any config file or environment of the developer.
		EnvVars: []string{
			"HOME=" + tempDir,
			"XDG_CONFIG_HOME=" + filepath.Join(tempDir, ".config"),
			"INVOCR_CACHE_BACKEND=none",
			"INVOCR_PIPELINE_MAX_RETRIES=0",
		},
		LastHTTPHeaders: map[string]string{},
	}, nil
}

// Cleanup stops collaborators and removes temporary files.
func (testCtx *TestContext) Cleanup() error {
	if testCtx.InvoiceServer != nil {
		testCtx.InvoiceServer.Close()
		testCtx.InvoiceServer = nil
	}
	if testCtx.VisionModel != nil {
		testCtx.VisionModel.Close()
		testCtx.VisionModel = nil
	}

	var errs []error
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// TempPath returns the path of name inside the scenario temp directory.
func (testCtx *TestContext) TempPath(name string) string {
	return filepath.Join(testCtx.TempDir, filepath.FromSlash(name))
}

// substituteCommandVariables expands the {tmp}, {vision_url} and
// {catalog} placeholders used in feature files.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	replacements := []string{"{tmp}", testCtx.TempDir}
	if testCtx.VisionModel != nil {
		replacements = append(replacements, "{vision_url}", testCtx.VisionModel.URL)
	}
	if testCtx.CatalogFile != "" {
		replacements = append(replacements, "{catalog}", testCtx.CatalogFile)
	}
	return strings.NewReplacer(replacements...).Replace(command)
}
