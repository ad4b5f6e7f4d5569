package support

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

const commandTimeout = 30 * time.Second

// iRunCommand executes a CLI command. The first word "invocr" resolves to
// the binary built by TestMain.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...) //nolint:gosec // G204: commands come from feature files
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	testCtx.LastDuration = time.Since(start)
	testCtx.LastStdout = stdout.String()
	testCtx.LastOutput = stdout.String() + stderr.String()
	testCtx.LastError = err
	testCtx.LastExitCode = 0

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		testCtx.LastExitCode = exitErr.ExitCode()
	default:
		testCtx.LastExitCode = -1
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command %q failed with exit code %d\nOutput: %s",
			testCtx.LastCommand, testCtx.LastExitCode, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("expected command %q to fail, but it succeeded\nOutput: %s",
			testCtx.LastCommand, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastOutput, expected) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", expected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(unexpected string) error {
	if strings.Contains(testCtx.LastOutput, unexpected) {
		return fmt.Errorf("expected output not to contain %q, got:\n%s", unexpected, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldMention(expected string) error {
	if err := testCtx.theCommandShouldFail(); err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(testCtx.LastOutput), strings.ToLower(expected)) {
		return fmt.Errorf("expected error output to mention %q, got:\n%s", expected, testCtx.LastOutput)
	}
	return nil
}

// decodeStdout parses stdout as JSON; logs go to stderr and are ignored.
func (testCtx *TestContext) decodeStdout() (any, error) {
	var v any
	if err := json.Unmarshal([]byte(testCtx.LastStdout), &v); err != nil {
		return nil, fmt.Errorf("stdout is not valid JSON: %w\nStdout: %s", err, testCtx.LastStdout)
	}
	return v, nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.decodeStdout()
	return err
}

// theJSONShouldHaveDocuments checks the number of exported documents.
func (testCtx *TestContext) theJSONShouldHaveDocuments(n int) error {
	v, err := testCtx.decodeStdout()
	if err != nil {
		return err
	}
	docs, ok := v.([]any)
	if !ok {
		return fmt.Errorf("expected a JSON array of documents, got %T", v)
	}
	if len(docs) != n {
		return fmt.Errorf("expected %d documents, got %d", n, len(docs))
	}
	return nil
}

// documentResult returns the "result" object of document i.
func documentResult(v any, i int) (map[string]any, error) {
	docs, ok := v.([]any)
	if !ok || i >= len(docs) {
		return nil, fmt.Errorf("document %d not found", i)
	}
	doc, _ := docs[i].(map[string]any)
	res, ok := doc["result"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document %d has no result (error: %v)", i, doc["error"])
	}
	return res, nil
}

func (testCtx *TestContext) theDocumentShouldHaveLines(i, n int) error {
	v, err := testCtx.decodeStdout()
	if err != nil {
		return err
	}
	res, err := documentResult(v, i-1)
	if err != nil {
		return err
	}
	lines, _ := res["lines"].([]any)
	if len(lines) != n {
		return fmt.Errorf("expected %d lines in document %d, got %d", n, i, len(lines))
	}
	return nil
}

func (testCtx *TestContext) theDocumentShouldFailWith(i int, expected string) error {
	v, err := testCtx.decodeStdout()
	if err != nil {
		return err
	}
	docs, _ := v.([]any)
	if i-1 >= len(docs) {
		return fmt.Errorf("document %d not found", i)
	}
	doc, _ := docs[i-1].(map[string]any)
	msg, _ := doc["error"].(string)
	if !strings.Contains(msg, expected) {
		return fmt.Errorf("expected document %d error to contain %q, got %q", i, expected, msg)
	}
	return nil
}

func (testCtx *TestContext) lineShouldMatchProduct(line int, productID string) error {
	v, err := testCtx.decodeStdout()
	if err != nil {
		return err
	}
	res, err := documentResult(v, 0)
	if err != nil {
		return err
	}
	matches, _ := res["matches"].([]any)
	for _, m := range matches {
		mm, _ := m.(map[string]any)
		if idx, _ := mm["line"].(float64); int(idx) == line-1 {
			if got, _ := mm["product_id"].(string); got != productID {
				return fmt.Errorf("line %d matched %q, want %q", line, got, productID)
			}
			return nil
		}
	}
	return fmt.Errorf("no match reported for line %d", line)
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	path := testCtx.TempPath(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("expected file %s to exist: %w", path, err)
	}
	testCtx.LastOutputFile = path
	return nil
}

func (testCtx *TestContext) theFileShouldBeValidCSVWithRows(name string, rows int) error {
	if err := testCtx.theFileShouldExist(name); err != nil {
		return err
	}
	f, err := os.Open(testCtx.LastOutputFile)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("file %s is not valid CSV: %w", name, err)
	}
	if len(records) != rows {
		return fmt.Errorf("expected %d CSV rows in %s, got %d", rows, name, len(records))
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, expected string) error {
	if err := testCtx.theFileShouldExist(name); err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.LastOutputFile)
	if err != nil {
		return err
	}
	if !strings.Contains(string(data), expected) {
		return fmt.Errorf("expected %s to contain %q", name, expected)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSet(name, value string) error {
	testCtx.AddEnvVar(name, value)
	return nil
}

// RegisterCommonSteps registers command execution and output steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSet)

	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)

	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON should contain (\d+) documents?$`, testCtx.theJSONShouldHaveDocuments)
	sc.Step(`^document (\d+) should have (\d+) lines?$`, testCtx.theDocumentShouldHaveLines)
	sc.Step(`^document (\d+) should fail with "([^"]*)"$`, testCtx.theDocumentShouldFailWith)
	sc.Step(`^line (\d+) should match product "([^"]*)"$`, testCtx.lineShouldMatchProduct)

	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should be valid CSV with (\d+) rows$`, testCtx.theFileShouldBeValidCSVWithRows)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}
