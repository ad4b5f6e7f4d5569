package batch

import (
	"io"
	"runtime"
	"time"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Parallel processing settings
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// PageRange selects PDF pages ("1-3,5"); empty means every page.
	PageRange string

	// ContinueOnError records a failed invoice in the result instead of
	// aborting the whole batch.
	ContinueOnError bool

	// Progress settings
	ShowProgress bool
	Quiet        bool
	ProgressOut  io.Writer
}

// DefaultConfig returns the batch defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		ContinueOnError: true,
	}
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// Stats summarizes a finished batch.
type Stats struct {
	Files            int
	Documents        int
	Processed        int
	Failed           int
	Lines            int
	Issues           int
	Unmatched        int
	Partial          int
	Cached           int
	Workers          int
	TotalDuration    time.Duration
	AveragePerDoc    time.Duration
	ThroughputPerSec float64
}
