// Package report renders coverage results as Markdown and JSON.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "github.com/PentesterFlow/apimap/internal/errors"
)

// Format selects a report encoding.
type Format string

// Supported formats.
const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Writer renders a report.
type Writer interface {
	// Write renders the complete report
	Write(r *Report) error
}

// Config holds output configuration.
type Config struct {
	Format Format
	Pretty bool
}

// NewWriter creates a writer for the configured format.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case FormatMarkdown:
		return NewMarkdownWriter(w)
	default:
		return NewJSONWriter(w, config.Pretty)
	}
}

// WriteFile renders r to path. Any failure is fatal and names the path.
func WriteFile(path string, config Config, r *Report) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return apperrors.NewIOError(path, "write report", mkErr, true)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return apperrors.NewIOError(path, "write report", err, true)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = apperrors.NewIOError(path, "write report", cerr, true)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := NewWriter(bw, config).Write(r); err != nil {
		return apperrors.NewIOError(path, "write report", err, true)
	}
	if err := bw.Flush(); err != nil {
		return apperrors.NewIOError(path, "write report", err, true)
	}
	return nil
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
