// Package normalize rewrites path templates into a canonical form so that
// different placeholder notations compare equal.
package normalize

import (
	"regexp"
	"strings"
)

// Placeholder is the canonical symbol every placeholder segment becomes.
// It is itself a recognised notation, so normalizing twice is a no-op.
const Placeholder = "{}"

var (
	// whole-segment notations
	colonSegmentRe = regexp.MustCompile(`^:[A-Za-z_][A-Za-z0-9_]*$`)
	angleSegmentRe = regexp.MustCompile(`^<[A-Za-z_][A-Za-z0-9_:]*>$`)

	// notations that may also sit inside a larger segment
	dollarBraceRe = regexp.MustCompile(`\$\{[^{}/]*\}`)
	braceRe       = regexp.MustCompile(`\{[^{}/]*\}`)
	printfRe      = regexp.MustCompile(`%[sdvqx]`)

	// token scan used by Placeholders, in source order
	tokenRe = regexp.MustCompile(`\$\{[^{}/]*\}|\{[^{}/]*\}|%[sdvqx]|(?:^|/):[A-Za-z_][A-Za-z0-9_]*|<[A-Za-z_][A-Za-z0-9_:]*>`)
)

const (
	escOpen  = "\x00\x00"
	escClose = "\x01\x01"
)

// Normalize maps a raw template plus its placeholder list to a canonical path.
// The placeholder list carries markers that only a replace chain identifies;
// built-in notations are recognised without it. Anything before the first
// slash is taken to be the interpolated base URL and dropped. Any input
// yields a string, and Normalize(Normalize(t)) == Normalize(t).
func Normalize(raw string, placeholders []string) string {
	return normalize(raw, placeholders, true)
}

// Canonical normalizes a path from the canonical list. Only a scheme://host
// prefix is dropped; a path without a leading slash keeps its first segment.
func Canonical(path string) string {
	return normalize(path, nil, false)
}

func normalize(raw string, markers []string, base bool) string {
	out := rewrite(raw, markers, base)
	// a rewrite can expose a new notation ("$%s" becomes "${}"), so repeat
	// until the path is stable
	for i := 0; i <= 2*len(out); i++ {
		next := rewrite(out, markers, base)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func rewrite(raw string, markers []string, base bool) string {
	s := protectEscapes(raw)
	s = strings.TrimSpace(stripQuery(s))
	if base {
		s = stripBase(s)
	} else {
		s = stripScheme(s)
	}

	parts := strings.Split(s, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segments = append(segments, normalizeSegment(part, markers))
	}

	return restoreEscapes("/" + strings.Join(segments, "/"))
}

// IsPlaceholder reports whether a whole path segment is a placeholder in any
// recognised notation, or one of the extra markers.
func IsPlaceholder(segment string, markers []string) bool {
	if segment == "" {
		return false
	}
	for _, m := range markers {
		if m != "" && segment == m {
			return true
		}
	}
	switch {
	case colonSegmentRe.MatchString(segment),
		angleSegmentRe.MatchString(segment):
		return true
	case isWhole(dollarBraceRe, segment),
		isWhole(braceRe, segment),
		isWhole(printfRe, segment):
		return true
	}
	return false
}

// Span is a placeholder token and its byte offset in the raw template.
type Span struct {
	Token  string
	Offset int
}

// Placeholders returns the placeholder tokens of a raw template in the order
// they appear. Escaped braces are not placeholders.
func Placeholders(raw string) []string {
	spans := PlaceholderSpans(raw)
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, sp.Token)
	}
	return out
}

// PlaceholderSpans is Placeholders with offsets. Escapes are protected with
// sentinels of the same width, so offsets stay valid for raw.
func PlaceholderSpans(raw string) []Span {
	s := protectEscapes(raw)
	locs := tokenRe.FindAllStringIndex(s, -1)
	out := make([]Span, 0, len(locs))
	for _, loc := range locs {
		tok := s[loc[0]:loc[1]]
		off := loc[0]
		if strings.HasPrefix(tok, "/") {
			tok = tok[1:]
			off++
		}
		out = append(out, Span{Token: tok, Offset: off})
	}
	return out
}

// Segments splits a canonical path into its non-empty segments.
func Segments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func normalizeSegment(seg string, markers []string) string {
	if IsPlaceholder(seg, markers) {
		return Placeholder
	}
	for _, m := range markers {
		if inlineMarker(m) {
			seg = strings.ReplaceAll(seg, m, Placeholder)
		}
	}
	seg = dollarBraceRe.ReplaceAllString(seg, Placeholder)
	seg = braceRe.ReplaceAllString(seg, Placeholder)
	seg = printfRe.ReplaceAllString(seg, Placeholder)
	return seg
}

// inlineMarker reports whether a replace marker may be substituted inside a
// segment. Markers overlapping the placeholder symbol, the path separator or
// the escape sentinels would rewrite their own output.
func inlineMarker(m string) bool {
	return m != "" && !strings.ContainsAny(m, "/{}"+escOpen[:1]+escClose[:1])
}

// stripScheme removes a leading scheme://host.
func stripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 && !strings.Contains(s[:i], "/") {
		rest := s[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return s
}

// stripBase is stripScheme plus dropping anything before the first slash
// when the template does not start with one (the interpolated base URL).
func stripBase(s string) string {
	if t := stripScheme(s); t != s || strings.HasPrefix(s, "/") {
		return t
	}
	if j := strings.Index(s, "/"); j >= 0 {
		return s[j:]
	}
	return s
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}

func protectEscapes(s string) string {
	s = strings.ReplaceAll(s, "{{", escOpen)
	return strings.ReplaceAll(s, "}}", escClose)
}

func restoreEscapes(s string) string {
	s = strings.ReplaceAll(s, escOpen, "{{")
	return strings.ReplaceAll(s, escClose, "}}")
}

func isWhole(re *regexp.Regexp, s string) bool {
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}
