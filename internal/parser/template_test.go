package parser

import (
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/PentesterFlow/apimap/internal/errors"
)

func parseSource(t *testing.T, src string) ([]CallSite, []error) {
	t.Helper()
	p := NewTemplateParser(DefaultSyntax())
	return p.Parse("service/test.py", strings.Split(src, "\n"))
}

// =============================================================================
// Builder Call Tests
// =============================================================================

func TestTemplateParser_Builder(t *testing.T) {
	src := `def create(self):
    return build_path("{base}/open-apis/test/v1/resource")`

	sites, drops := parseSource(t, src)
	if len(drops) != 0 {
		t.Fatalf("unexpected drops: %v", drops)
	}
	if len(sites) != 1 {
		t.Fatalf("got %d sites, want 1", len(sites))
	}

	got := sites[0]
	if got.Raw != "{base}/open-apis/test/v1/resource" {
		t.Errorf("Raw = %q", got.Raw)
	}
	if !reflect.DeepEqual(got.Placeholders, []string{"{base}"}) {
		t.Errorf("Placeholders = %v", got.Placeholders)
	}
	if got.StartLine != 2 || got.EndLine != 2 {
		t.Errorf("lines = %d-%d, want 2-2", got.StartLine, got.EndLine)
	}
	if got.Kind != KindBuilder {
		t.Errorf("Kind = %s, want builder", got.Kind)
	}
}

func TestTemplateParser_SameLineSites(t *testing.T) {
	src := `def pick(self, a):
    return build_path("{base}/open-apis/x/v1/y") if a else build_path("{base}/open-apis/x/v1/y")`

	sites, drops := parseSource(t, src)
	if len(drops) != 0 {
		t.Fatalf("unexpected drops: %v", drops)
	}
	if len(sites) != 2 {
		t.Fatalf("got %d sites, want 2", len(sites))
	}
	for i, col := range []int{12, 60} {
		if sites[i].StartLine != 2 || sites[i].Column != col {
			t.Errorf("site %d at %d:%d, want 2:%d", i, sites[i].StartLine, sites[i].Column, col)
		}
	}
}

func TestTemplateParser_MultiLineBuilder(t *testing.T) {
	src := `    path = build_path(
        "{base}/open-apis/im/v1/chats/{chat_id}"
        "/members",
        base=self.base,
    )`

	sites, drops := parseSource(t, src)
	if len(drops) != 0 || len(sites) != 1 {
		t.Fatalf("sites=%d drops=%v, want 1 site", len(sites), drops)
	}

	got := sites[0]
	if got.Raw != "{base}/open-apis/im/v1/chats/{chat_id}/members" {
		t.Errorf("Raw = %q", got.Raw)
	}
	if !reflect.DeepEqual(got.Placeholders, []string{"{base}", "{chat_id}"}) {
		t.Errorf("Placeholders = %v", got.Placeholders)
	}
	if got.StartLine != 1 || got.EndLine != 5 {
		t.Errorf("lines = %d-%d, want 1-5", got.StartLine, got.EndLine)
	}
}

func TestTemplateParser_BuilderVariants(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		raw   string
		holds []string
	}{
		{
			name:  "method call",
			src:   `uri = self.build_path("{base}/open-apis/x")`,
			raw:   "{base}/open-apis/x",
			holds: []string{"{base}"},
		},
		{
			name:  "space before paren",
			src:   `uri = build_path ("{base}/open-apis/x")`,
			raw:   "{base}/open-apis/x",
			holds: []string{"{base}"},
		},
		{
			name:  "percent formatting",
			src:   `uri = build_path("%s/open-apis/a/%s" % (base, item_id))`,
			raw:   "%s/open-apis/a/%s",
			holds: []string{"%s", "%s"},
		},
		{
			name:  "f-string argument",
			src:   `uri = build_path(f"{self.base}/open-apis/a/{item_id}")`,
			raw:   "{self.base}/open-apis/a/{item_id}",
			holds: []string{"{self.base}", "{item_id}"},
		},
		{
			name:  "escaped braces",
			src:   `uri = build_path("{base}/a/{{literal}}/{id}")`,
			raw:   "{base}/a/{{literal}}/{id}",
			holds: []string{"{base}", "{id}"},
		},
		{
			name:  "replace inside argument",
			src:   `uri = build_path("{base}/open-apis/files/FILE_TOKEN".replace("FILE_TOKEN", token))`,
			raw:   "{base}/open-apis/files/FILE_TOKEN",
			holds: []string{"{base}", "FILE_TOKEN"},
		},
		{
			name:  "single quotes",
			src:   `uri = build_path('{base}/open-apis/x/:id')`,
			raw:   "{base}/open-apis/x/:id",
			holds: []string{"{base}", ":id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sites, drops := parseSource(t, tt.src)
			if len(drops) != 0 || len(sites) != 1 {
				t.Fatalf("sites=%d drops=%v, want 1 site", len(sites), drops)
			}
			if sites[0].Raw != tt.raw {
				t.Errorf("Raw = %q, want %q", sites[0].Raw, tt.raw)
			}
			if !reflect.DeepEqual(sites[0].Placeholders, tt.holds) {
				t.Errorf("Placeholders = %v, want %v", sites[0].Placeholders, tt.holds)
			}
		})
	}
}

func TestTemplateParser_DynamicFirstArgumentIgnored(t *testing.T) {
	src := `def build_path(self, path):
    return self.base + path

uri = build_path(self.url)
uri = build_path(prefix, "{base}/open-apis/x")`

	sites, drops := parseSource(t, src)
	if len(sites) != 0 {
		t.Errorf("got %d sites, want 0: %+v", len(sites), sites)
	}
	if len(drops) != 0 {
		t.Errorf("dynamic arguments must not be reported: %v", drops)
	}
}

// =============================================================================
// Nested / Outermost Tests
// =============================================================================

func TestTemplateParser_NestedOnlyOutermost(t *testing.T) {
	src := `uri = build_path("{base}/outer/{x}".format(x=build_path("{base}/inner")))
other = "{}/open-apis/a/{}".format(base, build_path("/inner/two"))`

	sites, drops := parseSource(t, src)
	if len(drops) != 0 {
		t.Fatalf("unexpected drops: %v", drops)
	}
	if len(sites) != 2 {
		t.Fatalf("got %d sites, want 2: %+v", len(sites), sites)
	}
	if sites[0].Raw != "{base}/outer/{x}" || sites[0].Kind != KindBuilder {
		t.Errorf("site 0 = %+v", sites[0])
	}
	if sites[1].Raw != "{}/open-apis/a/{}" || sites[1].Kind != KindFormat {
		t.Errorf("site 1 = %+v", sites[1])
	}
	for _, s := range sites {
		if strings.Contains(s.Raw, "inner") {
			t.Errorf("inner call extracted: %+v", s)
		}
	}
}

// =============================================================================
// Format / Replace / f-string Tests
// =============================================================================

func TestTemplateParser_ReplaceChain(t *testing.T) {
	src := `url = "%s/open-apis/drive/v1/files/FILE_TOKEN/copy/TARGET".replace("FILE_TOKEN", token).replace("TARGET", target)`

	sites, drops := parseSource(t, src)
	if len(drops) != 0 || len(sites) != 1 {
		t.Fatalf("sites=%d drops=%v, want 1 site", len(sites), drops)
	}
	got := sites[0]
	if got.Kind != KindReplace {
		t.Errorf("Kind = %s, want replace", got.Kind)
	}
	want := []string{"%s", "FILE_TOKEN", "TARGET"}
	if !reflect.DeepEqual(got.Placeholders, want) {
		t.Errorf("Placeholders = %v, want %v", got.Placeholders, want)
	}
}

func TestTemplateParser_ReplaceChainAcrossLines(t *testing.T) {
	src := `url = (
    "{base}/open-apis/a/ID"
    .replace("ID", item_id)
)`

	sites, drops := parseSource(t, src)
	if len(drops) != 0 || len(sites) != 1 {
		t.Fatalf("sites=%d drops=%v, want 1 site", len(sites), drops)
	}
	if sites[0].StartLine != 2 || sites[0].EndLine != 3 {
		t.Errorf("lines = %d-%d, want 2-3", sites[0].StartLine, sites[0].EndLine)
	}
}

func TestTemplateParser_FString(t *testing.T) {
	src := `url = f"{self.base}/open-apis/im/v1/messages/{message_id}"
log.info(f"sending {count} messages to /dev/null")`

	sites, _ := parseSource(t, src)
	if len(sites) != 1 {
		t.Fatalf("got %d sites, want 1: %+v", len(sites), sites)
	}
	if sites[0].Kind != KindFString {
		t.Errorf("Kind = %s, want fstring", sites[0].Kind)
	}
}

func TestTemplateParser_IgnoresNonPaths(t *testing.T) {
	src := `greeting = "hello {}".format(name)
key = "{}".format(x)
plain = "/open-apis/not/a/template"
# uri = build_path("{base}/commented/out")
msg = "call build_path(\"{base}/x\") later"
doc = """
build_path("{base}/in/docstring")
"""`

	sites, drops := parseSource(t, src)
	if len(sites) != 0 {
		t.Errorf("got %d sites, want 0: %+v", len(sites), sites)
	}
	if len(drops) != 0 {
		t.Errorf("unexpected drops: %v", drops)
	}
}

// =============================================================================
// Drop Tests
// =============================================================================

func TestTemplateParser_Drops(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		line   int
		reason string
	}{
		{
			name:   "concatenation",
			src:    `uri = build_path("{base}/open-apis/a/" + chat_id)`,
			line:   1,
			reason: "concatenated",
		},
		{
			name:   "unterminated literal",
			src:    "x = 1\nuri = build_path(\"{base}/open-apis/a\n)",
			line:   2,
			reason: "unterminated string literal",
		},
		{
			name:   "dynamic replace marker",
			src:    `url = "{base}/open-apis/a/X".replace(marker, value)`,
			line:   1,
			reason: "replace marker",
		},
		{
			name:   "unterminated call",
			src:    `uri = build_path("{base}/open-apis/a", (`,
			line:   1,
			reason: "unterminated call",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sites, drops := parseSource(t, tt.src)
			if len(sites) != 0 {
				t.Errorf("dropped site must not be emitted: %+v", sites)
			}
			if len(drops) != 1 {
				t.Fatalf("got %d drops, want 1: %v", len(drops), drops)
			}
			var mapErr *apperrors.MapError
			if !asMapError(drops[0], &mapErr) {
				t.Fatalf("drop is not a MapError: %T", drops[0])
			}
			if mapErr.Type != apperrors.Parse {
				t.Errorf("Type = %v, want parse", mapErr.Type)
			}
			if mapErr.Line != tt.line {
				t.Errorf("Line = %d, want %d", mapErr.Line, tt.line)
			}
			if !strings.Contains(mapErr.Message, tt.reason) {
				t.Errorf("Message = %q, want it to contain %q", mapErr.Message, tt.reason)
			}
		})
	}
}

func asMapError(err error, target **apperrors.MapError) bool {
	e, ok := err.(*apperrors.MapError)
	if ok {
		*target = e
	}
	return ok
}

// =============================================================================
// Syntax Tests
// =============================================================================

func TestSyntax_Keywords(t *testing.T) {
	kw := DefaultSyntax().Keywords()
	for _, want := range []string{"build_path", ".format(", ".replace(", `f"`} {
		found := false
		for _, k := range kw {
			if k == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Keywords() missing %q: %v", want, kw)
		}
	}

	if kw := (Syntax{Builders: []string{"make_url"}}).Keywords(); !reflect.DeepEqual(kw, []string{"make_url"}) {
		t.Errorf("Keywords() = %v, want [make_url]", kw)
	}
}

func TestTemplateParser_CustomBuilder(t *testing.T) {
	p := NewTemplateParser(Syntax{Builders: []string{"client.make_url"}})
	sites, _ := p.Parse("x.py", []string{
		`a = client.make_url("{base}/open-apis/x")`,
		`b = build_path("{base}/open-apis/y")`,
		`c = "{}/open-apis/z".format(base)`,
	})
	if len(sites) != 1 || sites[0].Raw != "{base}/open-apis/x" {
		t.Errorf("sites = %+v, want only the make_url site", sites)
	}
}
