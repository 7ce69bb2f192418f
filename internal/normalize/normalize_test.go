package normalize

import (
	"reflect"
	"strings"
	"testing"
)

// =============================================================================
// Normalize Tests
// =============================================================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		placeholders []string
		want         string
	}{
		{"plain", "/open-apis/test/v1/resource", nil, "/open-apis/test/v1/resource"},
		{"base placeholder", "{base}/open-apis/test/v1/resource", nil, "/open-apis/test/v1/resource"},
		{"printf base", "%s/open-apis/test/v1/resource", nil, "/open-apis/test/v1/resource"},
		{"absolute url", "https://open.feishu.cn/open-apis/im/v1/chats", nil, "/open-apis/im/v1/chats"},
		{"host only", "https://open.feishu.cn", nil, "/"},
		{"colon", "/open-apis/im/v1/chats/:chat_id", nil, "/open-apis/im/v1/chats/{}"},
		{"brace", "/open-apis/im/v1/chats/{chat_id}", nil, "/open-apis/im/v1/chats/{}"},
		{"positional brace", "{}/open-apis/im/v1/chats/{}", nil, "/open-apis/im/v1/chats/{}"},
		{"indexed brace", "{0}/open-apis/im/v1/chats/{1}", nil, "/open-apis/im/v1/chats/{}"},
		{"printf", "%s/open-apis/im/v1/chats/%s/members", nil, "/open-apis/im/v1/chats/{}/members"},
		{"dollar", "/open-apis/im/v1/chats/${chatId}", nil, "/open-apis/im/v1/chats/{}"},
		{"angle", "/open-apis/im/v1/chats/<chat_id>", nil, "/open-apis/im/v1/chats/{}"},
		{"replace marker", "{base}/open-apis/drive/v1/files/FILE_TOKEN/copy", []string{"FILE_TOKEN"}, "/open-apis/drive/v1/files/{}/copy"},
		{"embedded brace", "/open-apis/wiki/v2/spaces/{space_id}:batch", nil, "/open-apis/wiki/v2/spaces/{}:batch"},
		{"trailing slash", "/open-apis/a/b/", nil, "/open-apis/a/b"},
		{"duplicate slash", "{base}//open-apis//a", nil, "/open-apis/a"},
		{"query dropped", "/open-apis/a/b?page_size={size}", nil, "/open-apis/a/b"},
		{"case kept", "/open-apis/A/b", nil, "/open-apis/A/b"},
		{"literal colon inside segment", "/open-apis/spaces/nodes:move", nil, "/open-apis/spaces/nodes:move"},
		{"escaped braces", "/open-apis/a/{{literal}}", nil, "/open-apis/a/{{literal}}"},
		{"empty", "", nil, "/"},
		{"garbage", "not a path", nil, "/not a path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.raw, tt.placeholders); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func FuzzNormalize_Idempotent(f *testing.F) {
	seeds := []string{
		"{base}/open-apis/test/v1/resource",
		"/open-apis/im/v1/chats/:chat_id/members/{member_id}",
		"%s/open-apis/a/%d/b/",
		"https://host/open-apis/x/{}",
		"/open-apis/a/{{literal}}/{id}",
		"/open-apis/wiki/v2/spaces/{space_id}:batch",
		"",
		"{only_base}",
		"???",
		"/b/ #s",
		":dba #ax",
		"/a/ b /c",
		"a%s}}",
		"/a/$$%s",
		"{{%s}}",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		once := Normalize(raw, nil)
		if twice := Normalize(once, nil); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q then %q", raw, once, twice)
		}
		if !strings.HasPrefix(once, "/") {
			t.Errorf("Normalize(%q) = %q, want a leading slash", raw, once)
		}
		canon := Canonical(raw)
		if again := Canonical(canon); again != canon {
			t.Errorf("Canonical not idempotent for %q: %q then %q", raw, canon, again)
		}
	})
}

func TestNormalize_Whitespace(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"/b/ #s", "/b"},
		{":dba #ax", "/{}"},
		{" /open-apis/a/:id /b ?x=1", "/open-apis/a/{}/b"},
		{"/open-apis/ /a", "/open-apis/a"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.raw, nil); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalize_Markers(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		markers []string
		want    string
	}{
		{"inline", "/a/xTOKENy", []string{"TOKEN"}, "/a/x{}y"},
		{"brace marker ignored inline", "/a/x{}y", []string{"}"}, "/a/x{}y"},
		{"open brace marker ignored inline", "/a/x{}y", []string{"{"}, "/a/x{}y"},
		{"whole segment brace marker", "/a/}/b", []string{"}"}, "/a/{}/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw, tt.markers)
			if got != tt.want {
				t.Errorf("Normalize(%q, %q) = %q, want %q", tt.raw, tt.markers, got, tt.want)
			}
			if again := Normalize(got, tt.markers); again != got {
				t.Errorf("second pass changed %q to %q", got, again)
			}
		})
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"/open-apis/foo/v1/bar/{id}", "/open-apis/foo/v1/bar/{}"},
		{"open-apis/foo/v1/bar/{id}", "/open-apis/foo/v1/bar/{}"},
		{"https://open.feishu.cn/open-apis/im/v1/chats", "/open-apis/im/v1/chats"},
		{"open-apis/a/b/", "/open-apis/a/b"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.raw); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalize_NotationEquivalence(t *testing.T) {
	variants := []string{
		"/a/:id/b",
		"/a/{id}/b",
		"/a/{}/b",
		"/a/%s/b",
		"/a/${id}/b",
		"/a/<id>/b",
	}
	want := Normalize(variants[0], nil)
	for _, v := range variants[1:] {
		if got := Normalize(v, nil); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", v, got, want)
		}
	}
	if got := Normalize("/a/ID/b", []string{"ID"}); got != want {
		t.Errorf("replace marker: got %q, want %q", got, want)
	}
}

// =============================================================================
// Placeholder Tests
// =============================================================================

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"{base}/open-apis/im/v1/chats/{chat_id}", []string{"{base}", "{chat_id}"}},
		{"/open-apis/im/v1/chats/:chat_id/members", []string{":chat_id"}},
		{"%s/open-apis/a/%s", []string{"%s", "%s"}},
		{"/a/{{escaped}}/b", []string{}},
		{"/spaces/nodes:move", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Placeholders(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Placeholders(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPlaceholderSpans(t *testing.T) {
	raw := "{{x}}/a/:id/{b}"
	got := PlaceholderSpans(raw)
	want := []Span{{Token: ":id", Offset: 8}, {Token: "{b}", Offset: 12}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("PlaceholderSpans() = %+v, want %+v", got, want)
	}
	for _, sp := range got {
		if raw[sp.Offset:sp.Offset+len(sp.Token)] != sp.Token {
			t.Errorf("offset %d does not point at %q", sp.Offset, sp.Token)
		}
	}
}

func TestIsPlaceholder(t *testing.T) {
	yes := []string{":id", "{id}", "{}", "%s", "${id}", "<id>"}
	no := []string{"", "id", "v1", "nodes:move", "{{id}}"}

	for _, s := range yes {
		if !IsPlaceholder(s, nil) {
			t.Errorf("IsPlaceholder(%q) = false, want true", s)
		}
	}
	for _, s := range no {
		if IsPlaceholder(s, nil) {
			t.Errorf("IsPlaceholder(%q) = true, want false", s)
		}
	}
	if !IsPlaceholder("TOKEN", []string{"TOKEN"}) {
		t.Error("marker segment should be a placeholder")
	}
}

func TestSegments(t *testing.T) {
	got := Segments("/open-apis//a/{}/")
	want := []string{"open-apis", "a", "{}"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Segments() = %v, want %v", got, want)
	}
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestCache_Normalize(t *testing.T) {
	c, err := NewCache(2)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}

	got := c.Normalize("{base}/a/:id", nil)
	if got != "/a/{}" {
		t.Errorf("Normalize() = %q, want /a/{}", got)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}

	// Same raw with markers is a distinct key.
	if got := c.Normalize("/a/X", []string{"X"}); got != "/a/{}" {
		t.Errorf("Normalize() with marker = %q", got)
	}
	if got := c.Normalize("/a/X", nil); got != "/a/X" {
		t.Errorf("Normalize() without marker = %q", got)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (bounded)", c.Len())
	}
}

func TestCache_Nil(t *testing.T) {
	var c *Cache
	if got := c.Normalize("/a/{id}", nil); got != "/a/{}" {
		t.Errorf("nil cache Normalize() = %q", got)
	}
	if c.Len() != 0 {
		t.Error("nil cache Len() should be 0")
	}
}
