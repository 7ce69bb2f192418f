package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/PentesterFlow/apimap/internal/endpoint"
)

// MarkdownWriter writes one table per match status.
type MarkdownWriter struct {
	writer io.Writer
	err    error
}

// NewMarkdownWriter creates a new Markdown writer.
func NewMarkdownWriter(w io.Writer) *MarkdownWriter {
	return &MarkdownWriter{writer: w}
}

// Write implements Writer.
func (m *MarkdownWriter) Write(r *Report) error {
	m.err = nil
	s := r.Summary

	m.printf("# API Coverage Report\n\n")
	m.printf("| Metric | Value |\n|---|---|\n")
	m.printf("| Definitions | %d |\n", s.Total)
	m.printf("| Matched | %d (%d exact, %d structural) |\n", s.Matched, s.Exact, s.Structural)
	m.printf("| Orphaned | %d |\n", s.Orphaned)
	m.printf("| Missing | %d of %d |\n", s.Missing, s.CanonicalTotal)
	m.printf("| Match rate | %s |\n", percent(s.MatchRate))
	m.printf("| Coverage | %s |\n", percent(s.Coverage))
	m.printf("| Files visited | %d |\n", s.FilesVisited)
	m.printf("| Files skipped | %d |\n", s.FilesSkipped)

	matched := r.MatchedRecords()
	m.printf("\n## Matched (%d)\n\n", len(matched))
	if len(matched) == 0 {
		m.printf("_None._\n")
	} else {
		m.printf("| Method | Path | Source | Match | Confidence |\n|---|---|---|---|---|\n")
		for _, rec := range matched {
			m.printf("| %s | %s | %s | %s | %.2f |\n",
				cell(rec.MatchedMethod), code(rec.MatchedPath), cell(source(rec)), matchLabel(rec), rec.Confidence)
		}
	}

	m.printf("\n## Missing (%d)\n\n", len(r.Missing))
	if len(r.Missing) == 0 {
		m.printf("_None._\n")
	} else {
		m.printf("| Method | Path | Doc Reference |\n|---|---|---|\n")
		for _, rec := range r.Missing {
			m.printf("| %s | %s | %s |\n", cell(rec.Method), code(rec.Path), cell(rec.DocReference))
		}
	}

	orphaned := r.OrphanedRecords()
	m.printf("\n## Orphaned (%d)\n\n", len(orphaned))
	if len(orphaned) == 0 {
		m.printf("_None._\n")
	} else {
		m.printf("| Method | Path | Source |\n|---|---|---|\n")
		for _, rec := range orphaned {
			m.printf("| %s | %s | %s |\n", cell(rec.Method), code(rec.Path), cell(source(rec)))
		}
	}

	return m.err
}

// printf writes until the first error, which Write then returns.
func (m *MarkdownWriter) printf(format string, args ...interface{}) {
	if m.err != nil {
		return
	}
	_, m.err = fmt.Fprintf(m.writer, format, args...)
}

func source(rec Record) string {
	return fmt.Sprintf("%s:%d", rec.File, rec.Line)
}

// matchLabel keeps structural matches visibly apart from exact ones.
func matchLabel(rec Record) string {
	if rec.Reason == string(endpoint.ReasonStructural) {
		return "structural (method unconfirmed)"
	}
	return rec.Reason
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\n", " ", "\r", "")

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return cellEscaper.Replace(s)
}

func code(s string) string {
	if s == "" {
		return "-"
	}
	return "`" + cellEscaper.Replace(s) + "`"
}
