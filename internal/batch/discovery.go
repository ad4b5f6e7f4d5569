package batch

import (
	"fmt"
	"path/filepath"

	"github.com/MeKo-Tech/invocr/internal/utils"
)

// discoverInvoiceFiles expands args into the invoice images and PDFs to
// process, filtered by the include and exclude glob patterns.
func discoverInvoiceFiles(args []string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	found, err := utils.DiscoverFiles(args, recursive)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, path := range found {
		if !utils.IsSupportedImage(path) && !utils.IsPDF(path) {
			return nil, fmt.Errorf("unsupported invoice file: %s", path)
		}
		if shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}
	}
	return files, nil
}

// shouldIncludeFile determines if a file should be included based on include/exclude patterns.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	// If no include patterns, include all (that aren't excluded)
	if len(includePatterns) == 0 {
		return true
	}
	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern checks if the base name of path matches any of the patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
