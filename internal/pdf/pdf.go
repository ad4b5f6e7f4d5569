// Package pdf turns PDF invoices into page images the pipeline can process.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrNoPageImages is returned when a PDF holds no decodable page image.
var ErrNoPageImages = errors.New("pdf contains no decodable page images")

// Page is the scanned image of one PDF page.
type Page struct {
	Number int
	Image  []byte
	Format string
}

// ExtractPages extracts the scan of every selected page. Pages with several
// embedded images keep the largest one, which is the scan on typical
// invoice PDFs. pageRange uses "1-3,5" syntax; empty selects all pages.
func ExtractPages(filename, pageRange string) ([]Page, error) {
	pageNumbers, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "invocr-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var selected []string
	for _, n := range pageNumbers {
		selected = append(selected, strconv.Itoa(n))
	}

	if err := api.ExtractImagesFile(filename, tempDir, selected, nil); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	pages, err := collectPages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	if len(pages) == 0 {
		return nil, ErrNoPageImages
	}
	return pages, nil
}

// ExtractPagesFromBytes is ExtractPages for an in-memory PDF.
func ExtractPagesFromBytes(data []byte, pageRange string) ([]Page, error) {
	if len(data) == 0 {
		return nil, errors.New("empty pdf")
	}
	f, err := os.CreateTemp("", "invocr-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return ExtractPages(f.Name(), pageRange)
}

type candidate struct {
	data   []byte
	format string
	area   int
}

// collectPages walks dir for pdfcpu output (page_<num>_image_<idx>.<ext>)
// and keeps the largest decodable image per page, ordered by page number.
func collectPages(dir string) ([]Page, error) {
	best := make(map[int]candidate)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil {
			return nil
		}
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from our own temp dir
		if err != nil {
			return nil
		}
		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil
		}
		c := candidate{data: data, format: format, area: cfg.Width * cfg.Height}
		if cur, ok := best[pageNum]; !ok || c.area > cur.area {
			best[pageNum] = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(best))
	for n, c := range best {
		pages = append(pages, Page{Number: n, Image: c.data, Format: c.format})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

// parsePageFromFilename extracts the page number from a pdfcpu image name.
func parsePageFromFilename(filename string) (int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, errors.New("not a page file")
	}
	parts := strings.Split(filename, "_")
	if len(parts) < 2 {
		return 0, errors.New("invalid filename format")
	}
	pageNum, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	if !strings.Contains(part, "-") {
		page, err := strconv.Atoi(part)
		if err != nil || page < 1 {
			return nil, fmt.Errorf("invalid page number: %s", part)
		}
		return []int{page}, nil
	}
	bounds := strings.Split(part, "-")
	if len(bounds) != 2 {
		return nil, fmt.Errorf("invalid range format: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
	if err != nil || start < 1 {
		return nil, fmt.Errorf("invalid start page: %s", bounds[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid end page: %s", bounds[1])
	}
	if start > end {
		return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}
