package parser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PentesterFlow/apimap/internal/endpoint"
)

// DefaultRadius is the number of lines examined on each side of a call site.
const DefaultRadius = 5

// RuleKind tags an inference rule. Rules are evaluated in the order of
// their kinds.
type RuleKind string

// Rule kinds in priority order.
const (
	RuleExplicitAssignment RuleKind = "explicit_assignment"
	RuleNamingConvention   RuleKind = "naming_convention"
	RuleDefault            RuleKind = "default"
)

// Confidence returns the score attached to a verb found by this rule.
func (k RuleKind) Confidence() float64 {
	switch k {
	case RuleExplicitAssignment:
		return 1.0
	case RuleNamingConvention:
		return 0.7
	default:
		return 0.0
	}
}

// Window is the slice of a file a rule may look at. StartLine and EndLine
// are the 1-based span of the call site.
type Window struct {
	Lines     []string
	StartLine int
	EndLine   int
	Radius    int
}

// bounds returns the first and last 1-based line inside the window.
func (w Window) bounds() (int, int) {
	lo := w.StartLine - w.Radius
	if lo < 1 {
		lo = 1
	}
	hi := w.EndLine + w.Radius
	if hi > len(w.Lines) {
		hi = len(w.Lines)
	}
	return lo, hi
}

// distance from a line to the call site span.
func (w Window) distance(line int) int {
	switch {
	case line < w.StartLine:
		return w.StartLine - line
	case line > w.EndLine:
		return line - w.EndLine
	default:
		return 0
	}
}

// Inference is the verb chosen for one call site.
type Inference struct {
	Method     endpoint.Method
	Confidence float64
	Rule       RuleKind
	Line       int // line of the deciding statement, 0 for the default rule
}

// Rule finds a verb signal in a window.
type Rule interface {
	Kind() RuleKind
	Apply(w Window) (Inference, bool)
}

// candidate is one signal seen by a rule.
type candidate struct {
	method endpoint.Method
	line   int
}

// nearest picks the candidate closest to the call site; equal distances go
// to the earlier line.
func nearest(w Window, cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(cands, func(i, j int) bool {
		di, dj := w.distance(cands[i].line), w.distance(cands[j].line)
		if di != dj {
			return di < dj
		}
		return cands[i].line < cands[j].line
	})
	return cands[0], true
}

// =============================================================================
// ExplicitAssignment
// =============================================================================

var assignRe = regexp.MustCompile(
	`(?i)\b(?:http_)?method["']?\s*(?::\s*[\w.\[\]]+\s*)?[=:]\s*(?:[A-Za-z_]\w*\.)*["']?(GET|POST|PUT|PATCH|DELETE)\b`)

// ExplicitAssignment matches statements assigning a verb constant, such as
// `http_method = HttpMethod.POST` or `method="GET"`.
type ExplicitAssignment struct{}

// Kind implements Rule.
func (ExplicitAssignment) Kind() RuleKind { return RuleExplicitAssignment }

// Apply implements Rule.
func (r ExplicitAssignment) Apply(w Window) (Inference, bool) {
	lo, hi := w.bounds()
	var cands []candidate
	for n := lo; n <= hi; n++ {
		text := stripLineComment(w.Lines[n-1])
		for _, m := range assignRe.FindAllStringSubmatch(text, -1) {
			method, ok := endpoint.ParseMethod(m[1])
			if ok {
				cands = append(cands, candidate{method: method, line: n})
			}
		}
	}
	c, ok := nearest(w, cands)
	if !ok {
		return Inference{}, false
	}
	return Inference{Method: c.method, Confidence: r.Kind().Confidence(), Rule: r.Kind(), Line: c.line}, true
}

// =============================================================================
// NamingConvention
// =============================================================================

var funcHeaderRe = regexp.MustCompile(`^(\s*)(?:async\s+)?(?:def|func)\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`)

// DefaultNamePrefixes maps function name prefixes to verbs.
func DefaultNamePrefixes() map[string]endpoint.Method {
	return map[string]endpoint.Method{
		"get_":    endpoint.MethodGet,
		"post_":   endpoint.MethodPost,
		"put_":    endpoint.MethodPut,
		"patch_":  endpoint.MethodPatch,
		"delete_": endpoint.MethodDelete,
	}
}

// NamingConvention infers the verb from the name of the function enclosing
// the call site.
type NamingConvention struct {
	prefixes []string
	methods  map[string]endpoint.Method
}

// NewNamingConvention creates the rule. Longer prefixes are tried first.
func NewNamingConvention(prefixes map[string]endpoint.Method) *NamingConvention {
	if len(prefixes) == 0 {
		prefixes = DefaultNamePrefixes()
	}
	r := &NamingConvention{methods: make(map[string]endpoint.Method, len(prefixes))}
	for p, m := range prefixes {
		p = strings.ToLower(p)
		r.prefixes = append(r.prefixes, p)
		r.methods[p] = m
	}
	sort.Slice(r.prefixes, func(i, j int) bool {
		if len(r.prefixes[i]) != len(r.prefixes[j]) {
			return len(r.prefixes[i]) > len(r.prefixes[j])
		}
		return r.prefixes[i] < r.prefixes[j]
	})
	return r
}

// Kind implements Rule.
func (r *NamingConvention) Kind() RuleKind { return RuleNamingConvention }

// Apply implements Rule.
func (r *NamingConvention) Apply(w Window) (Inference, bool) {
	if w.StartLine < 1 || w.StartLine > len(w.Lines) {
		return Inference{}, false
	}
	indent := indentOf(w.Lines[w.StartLine-1])

	for n := w.StartLine; n >= 1; n-- {
		m := funcHeaderRe.FindStringSubmatch(w.Lines[n-1])
		if m == nil {
			continue
		}
		if n != w.StartLine && len(m[1]) >= indent {
			// a sibling or nested definition, not the enclosing one
			continue
		}
		name := strings.ToLower(m[2])
		for _, p := range r.prefixes {
			if strings.HasPrefix(name, p) {
				return Inference{
					Method:     r.methods[p],
					Confidence: r.Kind().Confidence(),
					Rule:       r.Kind(),
					Line:       n,
				}, true
			}
		}
		return Inference{}, false
	}
	return Inference{}, false
}

// =============================================================================
// Default
// =============================================================================

// Default always yields UNKNOWN.
type Default struct{}

// Kind implements Rule.
func (Default) Kind() RuleKind { return RuleDefault }

// Apply implements Rule.
func (r Default) Apply(Window) (Inference, bool) {
	return Inference{Method: endpoint.MethodUnknown, Confidence: r.Kind().Confidence(), Rule: r.Kind()}, true
}

// =============================================================================
// MethodInferencer
// =============================================================================

// MethodInferencer runs rules in priority order; the first rule with a
// signal decides. It keeps no state between calls.
type MethodInferencer struct {
	rules  []Rule
	radius int
}

// InferencerOption configures a MethodInferencer.
type InferencerOption func(*MethodInferencer)

// WithRadius sets the window radius. Negative values are ignored.
func WithRadius(radius int) InferencerOption {
	return func(m *MethodInferencer) {
		if radius >= 0 {
			m.radius = radius
		}
	}
}

// WithNamePrefixes replaces the naming convention prefixes.
func WithNamePrefixes(prefixes map[string]endpoint.Method) InferencerOption {
	return func(m *MethodInferencer) {
		for i, r := range m.rules {
			if r.Kind() == RuleNamingConvention {
				m.rules[i] = NewNamingConvention(prefixes)
			}
		}
	}
}

// WithRules replaces the rule list.
func WithRules(rules ...Rule) InferencerOption {
	return func(m *MethodInferencer) {
		m.rules = rules
	}
}

// NewMethodInferencer creates an inferencer with the standard rules.
func NewMethodInferencer(opts ...InferencerOption) *MethodInferencer {
	m := &MethodInferencer{
		rules: []Rule{
			ExplicitAssignment{},
			NewNamingConvention(nil),
			Default{},
		},
		radius: DefaultRadius,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Radius returns the configured window radius.
func (m *MethodInferencer) Radius() int {
	return m.radius
}

// Infer returns the verb for the call site spanning startLine..endLine.
func (m *MethodInferencer) Infer(lines []string, startLine, endLine int) Inference {
	if endLine < startLine {
		endLine = startLine
	}
	w := Window{Lines: lines, StartLine: startLine, EndLine: endLine, Radius: m.radius}
	for _, r := range m.rules {
		if inf, ok := r.Apply(w); ok {
			return inf
		}
	}
	inf, _ := Default{}.Apply(w)
	return inf
}

func stripLineComment(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") || strings.HasPrefix(strings.TrimSpace(line), "//") {
		return ""
	}
	return line
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}
