package coverage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/PentesterFlow/apimap/internal/errors"
	"github.com/PentesterFlow/apimap/internal/logger"
)

const messageModule = `class MessageService:
    def create(self, request):
        req = BaseRequest()
        req.http_method = HttpMethod.POST
        req.uri = build_path("{base}/open-apis/im/v1/messages")
        return req

    def _helper(self):
        return None

    def get_chat(self, chat_id):
        return build_path("{base}/open-apis/im/v1/chats/:chat_id")
`

const legacyModule = `def delete_legacy(self):
    return build_path("{base}/open-apis/legacy/v1/items/:item_id")
`

const canonicalCSV = `method,path,doc_reference
POST,/open-apis/im/v1/messages,msg-create
GET,/open-apis/im/v1/chats/{chat_id},chat-get
GET,/open-apis/drive/v1/files,files-list
`

type fixture struct {
	root     string
	service  string
	apiList  string
	markdown string
	json     string
}

func newFixture(t *testing.T, files map[string]string) fixture {
	t.Helper()
	root := t.TempDir()
	f := fixture{
		root:     root,
		service:  filepath.Join(root, "service"),
		apiList:  filepath.Join(root, "api_list.csv"),
		markdown: filepath.Join(root, "out", "coverage.md"),
		json:     filepath.Join(root, "out", "coverage.json"),
	}
	if err := os.WriteFile(f.apiList, []byte(canonicalCSV), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	for name, content := range files {
		path := filepath.Join(f.service, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return f
}

func (f fixture) options(extra ...Option) []Option {
	opts := []Option{
		WithServiceDir(f.service),
		WithAPIList(f.apiList),
		WithMarkdownOutput(f.markdown),
		WithJSONOutput(f.json),
		WithThreads(2),
		WithLogger(logger.Nop()),
	}
	return append(opts, extra...)
}

func runPipeline(t *testing.T, opts ...Option) (*Result, error) {
	t.Helper()
	p, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p.Run(context.Background())
}

// =============================================================================
// Option Tests
// =============================================================================

func TestNew_Options(t *testing.T) {
	var status bytes.Buffer
	p, err := New(
		WithServiceDir("svc"),
		WithAPIList("apis.yaml"),
		WithMarkdownOutput(""),
		WithJSONOutput("out.json"),
		WithThreads(-3),
		WithRadius(9),
		WithPathPrefix("/open-apis/im/"),
		WithCacheFile("cache.db"),
		WithVerbose(true),
		WithProfile(true),
		WithProgress(true),
		WithStatusOutput(&status),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	c := p.Config()
	if c.ServiceDir != "svc" || c.APIList != "apis.yaml" || c.Output.Markdown != "" || c.Output.JSON != "out.json" {
		t.Errorf("paths = %+v", c)
	}
	if c.Scan.Threads != 0 {
		t.Errorf("negative threads should clamp to 0, got %d", c.Scan.Threads)
	}
	if c.Inference.Radius != 9 || c.Scan.PathPrefix != "/open-apis/im/" || c.Scan.CacheFile != "cache.db" {
		t.Errorf("scan = %+v inference = %+v", c.Scan, c.Inference)
	}
	if !c.Verbose || !c.Profile || !p.showProgress || p.statusOut != &status {
		t.Error("flags not applied")
	}
	if p.logger == nil || p.Metrics() == nil {
		t.Error("logger and metrics should default")
	}
}

func TestNew_WithConfig(t *testing.T) {
	config := DefaultConfig()
	config.ServiceDir = "from-file"

	// later options override the file
	p, err := New(WithConfig(config), WithThreads(3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Config().ServiceDir != "from-file" || p.Config().Scan.Threads != 3 {
		t.Errorf("config = %+v", p.Config())
	}

	p, _ = New(WithConfig(nil))
	if p.Config() == nil {
		t.Error("nil config should keep defaults")
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun(t *testing.T) {
	f := newFixture(t, map[string]string{
		"im/v1/message.py": messageModule,
		"legacy/legacy.py": legacyModule,
		"im/v1/__init__.py": "",
	})

	res, err := runPipeline(t, f.options()...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	s := res.Report.Summary
	if s.Total != 3 || s.Matched != 2 || s.Orphaned != 1 || s.Missing != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.CanonicalTotal != 3 || res.Catalog.Len() != 3 {
		t.Errorf("canonical = %d", s.CanonicalTotal)
	}
	if res.Report.Missing[0].Path != "/open-apis/drive/v1/files" {
		t.Errorf("missing = %+v", res.Report.Missing)
	}

	md, err := os.ReadFile(f.markdown)
	if err != nil {
		t.Fatalf("markdown not written: %v", err)
	}
	for _, want := range []string{"## Matched (2)", "## Missing (1)", "## Orphaned (1)", "`/open-apis/legacy/v1/items/{}`"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	data, err := os.ReadFile(f.json)
	if err != nil {
		t.Fatalf("json not written: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON report: %v", err)
	}
	if _, ok := decoded["endpoints"]; !ok {
		t.Error("json report missing endpoints")
	}
}

func TestRun_Deterministic(t *testing.T) {
	f := newFixture(t, map[string]string{
		"im/v1/message.py": messageModule,
		"legacy/legacy.py": legacyModule,
	})

	if _, err := runPipeline(t, f.options(WithThreads(1))...); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	first, _ := os.ReadFile(f.json)
	firstMD, _ := os.ReadFile(f.markdown)

	if _, err := runPipeline(t, f.options(WithThreads(8))...); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	second, _ := os.ReadFile(f.json)
	secondMD, _ := os.ReadFile(f.markdown)

	if !bytes.Equal(first, second) || !bytes.Equal(firstMD, secondMD) {
		t.Error("reports differ between runs")
	}
}

func TestRun_UndecodableFile(t *testing.T) {
	f := newFixture(t, map[string]string{
		"im/v1/message.py": messageModule,
		"im/v1/broken.py":  "build_path(\"/open-apis/x\")\n\xff\xfe\n",
	})

	res, err := runPipeline(t, f.options()...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Report.Summary.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1", res.Report.Summary.FilesSkipped)
	}
	if res.Report.Summary.Matched != 2 {
		t.Errorf("Matched = %d, want 2", res.Report.Summary.Matched)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, f fixture) []Option
		wantType apperrors.ErrorType
		wantCode int
	}{
		{
			name: "missing service dir",
			setup: func(t *testing.T, f fixture) []Option {
				return f.options(WithServiceDir(filepath.Join(f.root, "nope")))
			},
			wantType: apperrors.IO,
			wantCode: 3,
		},
		{
			name: "missing api list",
			setup: func(t *testing.T, f fixture) []Option {
				return f.options(WithAPIList(filepath.Join(f.root, "nope.csv")))
			},
			wantType: apperrors.Load,
			wantCode: 4,
		},
		{
			name: "duplicate canonical entry",
			setup: func(t *testing.T, f fixture) []Option {
				path := filepath.Join(f.root, "dup.csv")
				os.WriteFile(path, []byte("GET,/a/{id}\nGET,/a/:x\n"), 0644)
				return f.options(WithAPIList(path))
			},
			wantType: apperrors.Load,
			wantCode: 4,
		},
		{
			name: "unwritable output",
			setup: func(t *testing.T, f fixture) []Option {
				blocker := filepath.Join(f.root, "blocker")
				os.WriteFile(blocker, []byte("x"), 0644)
				return f.options(WithJSONOutput(filepath.Join(blocker, "report.json")))
			},
			wantType: apperrors.IO,
			wantCode: 3,
		},
		{
			name: "no outputs",
			setup: func(t *testing.T, f fixture) []Option {
				return f.options(WithJSONOutput(""), WithMarkdownOutput(""))
			},
			wantType: apperrors.Config,
			wantCode: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{"im/v1/message.py": messageModule})
			_, err := runPipeline(t, tt.setup(t, f)...)
			if err == nil {
				t.Fatal("Run() expected error")
			}
			if got := apperrors.GetErrorType(err); got != tt.wantType {
				t.Errorf("error type = %v, want %v (%v)", got, tt.wantType, err)
			}
			if got := apperrors.ExitCode(err); got != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", got, tt.wantCode)
			}
		})
	}
}

func TestRun_PathPrefix(t *testing.T) {
	f := newFixture(t, map[string]string{
		"im/v1/message.py": messageModule,
		"legacy/legacy.py": legacyModule,
	})

	res, err := runPipeline(t, f.options(WithPathPrefix("/open-apis/im/"))...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Report.Summary.Total != 2 || res.Report.Summary.Orphaned != 0 {
		t.Errorf("summary = %+v", res.Report.Summary)
	}
	if res.Scan.Filtered != 1 {
		t.Errorf("Filtered = %d, want 1", res.Scan.Filtered)
	}
}

func TestRun_CacheFile(t *testing.T) {
	f := newFixture(t, map[string]string{
		"im/v1/message.py": messageModule,
		"legacy/legacy.py": legacyModule,
	})
	cache := filepath.Join(f.root, "cache", "extract.db")
	os.MkdirAll(filepath.Dir(cache), 0755)

	first, err := runPipeline(t, f.options(WithCacheFile(cache))...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.Scan.CacheHits != 0 {
		t.Errorf("first run CacheHits = %d", first.Scan.CacheHits)
	}
	firstJSON, _ := os.ReadFile(f.json)

	second, err := runPipeline(t, f.options(WithCacheFile(cache))...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if second.Scan.CacheHits != 2 {
		t.Errorf("second run CacheHits = %d, want 2", second.Scan.CacheHits)
	}
	secondJSON, _ := os.ReadFile(f.json)
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Error("cached run changed the report")
	}
}

func TestRun_UnusableCacheFile(t *testing.T) {
	f := newFixture(t, map[string]string{"im/v1/message.py": messageModule})
	blocker := filepath.Join(f.root, "blocker")
	os.WriteFile(blocker, []byte("x"), 0644)

	res, err := runPipeline(t, f.options(WithCacheFile(filepath.Join(blocker, "cache.db")))...)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Report.Summary.Matched != 2 {
		t.Errorf("Matched = %d, want 2", res.Report.Summary.Matched)
	}
}

func TestRun_Summary(t *testing.T) {
	f := newFixture(t, map[string]string{"im/v1/message.py": messageModule})

	var status bytes.Buffer
	if _, err := runPipeline(t, f.options(WithStatusOutput(&status), WithProfile(true))...); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	out := status.String()
	for _, want := range []string{"Coverage Complete", "Matched:             2", "Missing:             1 of 3", "Profile", "scan:"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, map[string]string{"im/v1/message.py": messageModule})
	p, err := New(f.options()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx); err == nil {
		t.Error("Run() should fail on a cancelled context")
	}
}

// =============================================================================
// CheckList Tests
// =============================================================================

func TestCheckList(t *testing.T) {
	f := newFixture(t, nil)

	index, err := CheckList(f.apiList)
	if err != nil {
		t.Fatalf("CheckList() error = %v", err)
	}
	if index.Len() != 3 {
		t.Errorf("Len() = %d, want 3", index.Len())
	}

	if _, err := CheckList(""); !apperrors.IsConfigError(err) {
		t.Errorf("empty path error = %v", err)
	}
}
