package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/invocr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverInvoiceFiles(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	sub := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	for _, p := range []string{"jan.png", "feb.pdf", "scan_draft.jpg", "readme.txt", "archive/old.png"} {
		testutil.WriteFile(t, dir, p, []byte("x"))
	}

	tests := []struct {
		name      string
		recursive bool
		include   []string
		exclude   []string
		want      []string
	}{
		{"flat", false, nil, nil, []string{"jan.png", "feb.pdf", "scan_draft.jpg"}},
		{"recursive", true, nil, nil, []string{"jan.png", "feb.pdf", "scan_draft.jpg", "archive/old.png"}},
		{"include pdf only", true, []string{"*.pdf"}, nil, []string{"feb.pdf"}},
		{"exclude drafts", false, nil, []string{"*_draft.*"}, []string{"jan.png", "feb.pdf"}},
		{"exclude wins", false, []string{"*.png"}, []string{"jan.*"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := discoverInvoiceFiles([]string{dir}, tt.recursive, tt.include, tt.exclude)
			require.NoError(t, err)

			want := make([]string, len(tt.want))
			for i, w := range tt.want {
				want[i] = filepath.Join(dir, filepath.FromSlash(w))
			}
			assert.ElementsMatch(t, want, files)
		})
	}
}

func TestShouldIncludeFile(t *testing.T) {
	tests := []struct {
		path    string
		include []string
		exclude []string
		want    bool
	}{
		{"/x/a.png", nil, nil, true},
		{"/x/a.png", []string{"*.jpg"}, nil, false},
		{"/x/a.png", []string{"*.jpg", "*.png"}, nil, true},
		{"/x/a.png", nil, []string{"a.*"}, false},
		{"/x/a.png", []string{"[", "*.png"}, nil, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldIncludeFile(tt.path, tt.include, tt.exclude), tt.path)
	}
}
