// Package endpoint defines the records that flow through the coverage pipeline.
package endpoint

import (
	"fmt"
	"strings"
)

// Method is an HTTP verb as inferred from source or declared in the canonical list.
type Method string

// Known methods.
const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodUnknown Method = "UNKNOWN"
)

// Methods lists the concrete verbs in their canonical declaration order.
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete}

// ParseMethod parses a verb case-insensitively. Anything that is not a
// concrete verb yields MethodUnknown and false.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, true
		}
	}
	return MethodUnknown, false
}

// IsKnown reports whether m is one of the concrete verbs.
func (m Method) IsKnown() bool {
	_, ok := ParseMethod(string(m))
	return ok
}

// SourceLocation identifies a call site inside the scanned tree.
type SourceLocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Column    int    `json:"column"`
}

// String renders file:line, the form used in reports.
func (l SourceLocation) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.StartLine)
}

// Definition is one discovered call site. Once built by the scanner it is
// never modified.
type Definition struct {
	Location     SourceLocation `json:"location"`
	RawTemplate  string         `json:"raw_template"`
	Placeholders []string       `json:"placeholders,omitempty"`
	Method       Method         `json:"method"`
	Confidence   float64        `json:"confidence"`
	Rule         string         `json:"rule,omitempty"`
}

// Key identifies the call site; two definitions with the same key describe
// the same place in the same file. The column separates identical
// expressions sharing a line.
func (d Definition) Key() string {
	l := d.Location
	return fmt.Sprintf("%s:%d:%d:%d:%s", l.File, l.StartLine, l.Column, l.EndLine, d.RawTemplate)
}

// Canonical is one row of the authoritative endpoint list.
type Canonical struct {
	Method       Method `json:"method" yaml:"method"`
	PathTemplate string `json:"path" yaml:"path"`
	DocReference string `json:"doc_reference,omitempty" yaml:"doc_reference,omitempty"`

	// Order is the row's position in the declared list. Ties during
	// matching are broken by it.
	Order int `json:"-" yaml:"-"`
	// Line is the 1-based source line of the row when known.
	Line int `json:"-" yaml:"-"`
}

// Reason explains how a MatchResult was produced.
type Reason string

// Match reasons.
const (
	ReasonExact      Reason = "exact"
	ReasonStructural Reason = "structural"
	ReasonUnmatched  Reason = "unmatched"
)

// Confidence values attached to each reason.
const (
	ConfidenceExact      = 1.0
	ConfidenceStructural = 0.5
	ConfidenceUnmatched  = 0.0
)

// MatchResult pairs one Definition with at most one canonical entry.
type MatchResult struct {
	Definition    Definition `json:"definition"`
	Matched       *Canonical `json:"matched,omitempty"`
	CanonicalPath string     `json:"canonical_path"`
	Confidence    float64    `json:"confidence"`
	Reason        Reason     `json:"reason"`
}

// IsMatched reports whether the result references a canonical entry.
func (r MatchResult) IsMatched() bool {
	return r.Matched != nil
}
