package report

import (
	"sort"

	"github.com/PentesterFlow/apimap/internal/endpoint"
	"github.com/PentesterFlow/apimap/internal/matcher"
)

// Report is the rendered-independent view of one run. Everything in it is
// sorted, so writing the same Report twice yields identical bytes.
type Report struct {
	Summary   Summary         `json:"summary"`
	Endpoints []Record        `json:"endpoints"`
	Missing   []MissingRecord `json:"missing"`
}

// Summary holds the run totals.
type Summary struct {
	Total          int     `json:"total"`
	Matched        int     `json:"matched"`
	Missing        int     `json:"missing"`
	Orphaned       int     `json:"orphaned"`
	MatchRate      float64 `json:"match_rate"`
	Exact          int     `json:"exact"`
	Structural     int     `json:"structural"`
	CanonicalTotal int     `json:"canonical_total"`
	Coverage       float64 `json:"coverage"`
	FilesVisited   int     `json:"files_visited"`
	FilesSkipped   int     `json:"files_skipped"`
}

// Record is one discovered definition and its match. Implementations counts
// the definitions matched to the same canonical entry, this one included.
type Record struct {
	Path             string   `json:"path"`
	Method           string   `json:"method"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason"`
	File             string   `json:"file"`
	Line             int      `json:"line"`
	EndLine          int      `json:"end_line"`
	Column           int      `json:"column,omitempty"`
	MatchedPath      string   `json:"matched_path"`
	MatchedMethod    string   `json:"matched_method,omitempty"`
	DocReference     string   `json:"doc_reference,omitempty"`
	Implementations  int      `json:"implementations,omitempty"`
	RawTemplate      string   `json:"raw_template"`
	Placeholders     []string `json:"placeholders,omitempty"`
	MethodConfidence float64  `json:"method_confidence"`
	MethodRule       string   `json:"method_rule,omitempty"`

	order int
}

// Matched reports whether the record has a canonical entry.
func (r Record) Matched() bool {
	return r.MatchedPath != ""
}

// MissingRecord is a canonical entry nothing in the source implements.
type MissingRecord struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	DocReference string `json:"doc_reference,omitempty"`
}

// Stats carries scan counters that are not part of the match outcome.
type Stats struct {
	FilesVisited int
	FilesSkipped int
}

// Build assembles a Report. Records are ordered by the canonical list's
// declared order, unmatched records last, then by file and line.
func Build(out *matcher.Outcome, stats Stats) *Report {
	r := &Report{
		Summary: Summary{
			Total:          len(out.Results),
			Matched:        out.Matched,
			Missing:        len(out.Missing),
			Orphaned:       out.Orphaned,
			MatchRate:      out.MatchRate(),
			Exact:          out.Exact,
			Structural:     out.Structural,
			CanonicalTotal: out.CanonicalTotal,
			Coverage:       out.Coverage(),
			FilesVisited:   stats.FilesVisited,
			FilesSkipped:   stats.FilesSkipped,
		},
		Endpoints: make([]Record, 0, len(out.Results)),
		Missing:   make([]MissingRecord, 0, len(out.Missing)),
	}

	for _, res := range out.MatchedResults() {
		rec := newRecord(res)
		rec.Implementations = out.References(res.Matched.Order)
		r.Endpoints = append(r.Endpoints, rec)
	}
	for _, res := range out.OrphanedResults() {
		r.Endpoints = append(r.Endpoints, newRecord(res))
	}
	sortRecords(r.Endpoints)

	for _, c := range out.Missing {
		r.Missing = append(r.Missing, MissingRecord{
			Method:       string(c.Method),
			Path:         c.PathTemplate,
			DocReference: c.DocReference,
		})
	}
	return r
}

// MatchedRecords returns the matched records in report order.
func (r *Report) MatchedRecords() []Record {
	return r.filter(true)
}

// OrphanedRecords returns the unmatched records ordered by file and line.
func (r *Report) OrphanedRecords() []Record {
	return r.filter(false)
}

func (r *Report) filter(matched bool) []Record {
	var out []Record
	for _, rec := range r.Endpoints {
		if rec.Matched() == matched {
			out = append(out, rec)
		}
	}
	return out
}

func newRecord(res endpoint.MatchResult) Record {
	d := res.Definition
	rec := Record{
		Path:             res.CanonicalPath,
		Method:           string(d.Method),
		Confidence:       res.Confidence,
		Reason:           string(res.Reason),
		File:             d.Location.File,
		Line:             d.Location.StartLine,
		EndLine:          d.Location.EndLine,
		Column:           d.Location.Column,
		RawTemplate:      d.RawTemplate,
		Placeholders:     d.Placeholders,
		MethodConfidence: d.Confidence,
		MethodRule:       d.Rule,
		order:            -1,
	}
	if res.Matched != nil {
		rec.MatchedPath = res.Matched.PathTemplate
		rec.MatchedMethod = string(res.Matched.Method)
		rec.DocReference = res.Matched.DocReference
		rec.order = res.Matched.Order
	}
	return rec
}

func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Matched() != b.Matched() {
			return a.Matched()
		}
		if a.order != b.order {
			return a.order < b.order
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.RawTemplate < b.RawTemplate
	})
}
