package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PentesterFlow/apimap/internal/endpoint"
	apperrors "github.com/PentesterFlow/apimap/internal/errors"
)

// Format is the encoding of a canonical list.
type Format string

// Supported formats.
const (
	FormatCSV     Format = "csv"
	FormatOpenAPI Format = "openapi"
)

// DetectFormat picks a format from the file extension, falling back to the
// content for unknown extensions.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".yaml", ".yml", ".json":
		return FormatOpenAPI
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.Contains(head, []byte("openapi")) || bytes.Contains(head, []byte("swagger")) {
		return FormatOpenAPI
	}
	return FormatCSV
}

// Load reads and indexes the canonical list at path.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewLoadError(path, 0, "cannot read canonical list", err)
	}

	var entries []endpoint.Canonical
	switch DetectFormat(path, data) {
	case FormatOpenAPI:
		entries, err = ParseOpenAPI(path, data)
	default:
		entries, err = ParseCSV(path, bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}
	return NewIndex(path, entries)
}

// ParseCSV reads rows of method,path[,doc_reference]. A header row, blank
// lines and lines starting with # are skipped.
func ParseCSV(source string, r io.Reader) ([]endpoint.Canonical, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entries []endpoint.Canonical
	first := true
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.Line
			}
			return nil, apperrors.NewLoadError(source, line, "malformed CSV row", err)
		}
		line, _ := cr.FieldPos(0)

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) < 2 || len(record) > 3 {
			return nil, apperrors.NewLoadError(source, line,
				fmt.Sprintf("expected 2 or 3 columns (method, path, doc_reference), got %d", len(record)), nil)
		}

		method, ok := endpoint.ParseMethod(record[0])
		if !ok {
			return nil, apperrors.NewLoadError(source, line, fmt.Sprintf("unknown method %q", record[0]), nil)
		}
		if record[1] == "" {
			return nil, apperrors.NewLoadError(source, line, "empty path", nil)
		}

		e := endpoint.Canonical{
			Method:       method,
			PathTemplate: record[1],
			Line:         line,
		}
		if len(record) == 3 {
			e.DocReference = record[2]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func isHeader(record []string) bool {
	return len(record) >= 2 &&
		strings.EqualFold(record[0], "method") &&
		strings.EqualFold(record[1], "path")
}
