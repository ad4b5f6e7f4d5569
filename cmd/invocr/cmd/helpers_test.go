package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetCommandState restores every flag to its default so that commands can
// be executed repeatedly within one test binary.
func resetCommandState(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetCommandState(sub)
	}
}

// executeCommand runs the root command with args and returns stdout and
// stderr separately.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	resetCommandState(rootCmd)
	cfgFile = ""
	globalConfig = nil
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

// fakeVisionModel serves an OpenAI-compatible chat/completions endpoint that
// answers every request with the given line items.
func fakeVisionModel(t *testing.T, positions []map[string]any) *httptest.Server {
	t.Helper()
	content, err := json.Marshal(map[string]any{"positions": positions})
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": string(content)}}},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func sampleLines() []map[string]any {
	return []map[string]any{
		{"name": "Mozzarella", "qty": 2, "unit": "kg", "price": 85000, "total": 170000},
		{"name": "Tomatoes", "qty": 3, "unit": "kg", "price": 12000, "total": 36000},
	}
}
