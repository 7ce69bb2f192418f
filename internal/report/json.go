package report

import (
	"encoding/json"
	"io"
)

// JSONWriter writes the report as a single JSON document.
type JSONWriter struct {
	writer io.Writer
	pretty bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty bool) *JSONWriter {
	return &JSONWriter{writer: w, pretty: pretty}
}

// Write implements Writer.
func (j *JSONWriter) Write(r *Report) error {
	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(r, "", "  ")
	} else {
		data, err = json.Marshal(r)
	}
	if err != nil {
		return err
	}

	if _, err = j.writer.Write(data); err != nil {
		return err
	}

	// Add newline
	_, err = j.writer.Write([]byte("\n"))
	return err
}
