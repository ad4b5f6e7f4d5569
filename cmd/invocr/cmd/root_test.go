package cmd

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/invocr/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "invocr", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Same(t, rootCmd, GetRootCommand())
}

func TestRootCommandHelp(t *testing.T) {
	out, _, err := executeCommand(t, "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "structured line items")
	assert.Contains(t, out, "Available Commands:")
	for _, sub := range []string{"process", "serve", "catalog"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCommandVersion(t *testing.T) {
	out, _, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version.String())
}

func TestRootCommandInvalidFlag(t *testing.T) {
	_, _, err := executeCommand(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"process", "serve", "catalog"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCommandBadConfigFile(t *testing.T) {
	_, _, err := executeCommand(t, "--config", "/nonexistent/invocr.yaml", "catalog", "list", "--db", "x.db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading configuration")
}

func TestGetConfigReturnsCopy(t *testing.T) {
	globalConfig = nil
	a := GetConfig()
	a.LogLevel = "error"
	b := GetConfig()
	assert.NotEqual(t, "error", b.LogLevel)
}

func TestLogsGoToStderr(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)

	prev := slog.Default()
	resetCommandState(rootCmd)
	cfgFile = ""
	globalConfig = nil
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	t.Cleanup(func() {
		slog.SetDefault(prev)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	require.NoError(t, rootCmd.PersistentPreRunE(processCmd, nil))
	slog.Info("pipeline ready", "workers", 2)

	assert.Empty(t, stdout.String(), "stdout is reserved for results")
	assert.Contains(t, stderr.String(), `"msg":"pipeline ready"`)
}
