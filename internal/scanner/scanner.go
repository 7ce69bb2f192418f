// Package scanner walks a source tree and extracts endpoint definitions
// from every file that can build a request path.
package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/PentesterFlow/apimap/internal/endpoint"
	apperrors "github.com/PentesterFlow/apimap/internal/errors"
	"github.com/PentesterFlow/apimap/internal/logger"
	"github.com/PentesterFlow/apimap/internal/metrics"
	"github.com/PentesterFlow/apimap/internal/normalize"
	"github.com/PentesterFlow/apimap/internal/parser"
	"github.com/PentesterFlow/apimap/internal/state"
)

var (
	errNotDir      = errors.New("not a directory")
	errInvalidUTF8 = errors.New("file is not valid UTF-8")
)

// Skip reasons recorded for files that could not be processed.
const (
	SkipRead   = "read"
	SkipDecode = "decode"
)

// Config holds scanner settings.
type Config struct {
	// Extensions selects source files, e.g. ".py".
	Extensions []string
	// SkipDirs are directory names that are never traversed.
	SkipDirs []string
	// Threads is the worker pool size; 0 uses all cores.
	Threads int
	// Syntax decides which expressions build paths.
	Syntax parser.Syntax
	// Radius is the method inference window radius.
	Radius int
	// NamePrefixes overrides the naming convention verbs when non-empty.
	NamePrefixes map[string]endpoint.Method
	// PathPrefix drops definitions whose canonical path does not start with it.
	PathPrefix string
}

// DefaultConfig returns the settings used for the SDK's service tree.
func DefaultConfig() Config {
	return Config{
		Extensions: append([]string(nil), DefaultExtensions...),
		SkipDirs:   append([]string(nil), DefaultSkipDirs...),
		Syntax:     parser.DefaultSyntax(),
		Radius:     parser.DefaultRadius,
	}
}

// ProgressReporter receives the file count once the walk is done, then
// progress after each file finishes. Update is called from worker goroutines.
type ProgressReporter interface {
	Start(root string, total int)
	Update(filesDone, callSites, skipped int)
}

// Result is the outcome of one scan.
type Result struct {
	Definitions  []endpoint.Definition
	FilesVisited int
	FilesParsed  int
	Prefiltered  int
	CacheHits    int
	Skipped      []SkippedFile
	Dropped      int
	Duplicates   int
	Filtered     int
}

// FilesSkipped returns the number of files that could not be processed.
func (r *Result) FilesSkipped() int {
	return len(r.Skipped)
}

// SkippedFile records a file that was skipped with a warning.
type SkippedFile struct {
	Path   string
	Reason string
	Err    error
}

// Scanner extracts endpoint definitions from a source tree. Its
// configuration is fixed at construction, so scanners with different pool
// sizes can run side by side.
type Scanner struct {
	config     Config
	skipDirs   map[string]bool
	keywords   [][]byte
	templates  *parser.TemplateParser
	inferencer *parser.MethodInferencer

	logger   *logger.Logger
	metrics  *metrics.Collector
	store    state.Store
	progress ProgressReporter

	fingerprint string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scanner) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStore enables the extraction cache.
func WithStore(st state.Store) Option {
	return func(s *Scanner) {
		s.store = st
	}
}

// WithProgress sets a reporter notified as files complete.
func WithProgress(p ProgressReporter) Option {
	return func(s *Scanner) {
		s.progress = p
	}
}

// New creates a scanner.
func New(cfg Config, opts ...Option) *Scanner {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultExtensions
	}
	cfg.Extensions = normalizeExtensions(cfg.Extensions)
	if cfg.SkipDirs == nil {
		cfg.SkipDirs = DefaultSkipDirs
	}
	if cfg.Radius < 0 {
		cfg.Radius = parser.DefaultRadius
	}

	s := &Scanner{
		config:    cfg,
		skipDirs:  make(map[string]bool, len(cfg.SkipDirs)),
		templates: parser.NewTemplateParser(cfg.Syntax),
		logger:    logger.Nop(),
		metrics:   metrics.New(),
	}
	for _, d := range cfg.SkipDirs {
		s.skipDirs[d] = true
	}
	for _, kw := range cfg.Syntax.Keywords() {
		s.keywords = append(s.keywords, []byte(kw))
	}

	inferOpts := []parser.InferencerOption{parser.WithRadius(cfg.Radius)}
	if len(cfg.NamePrefixes) > 0 {
		inferOpts = append(inferOpts, parser.WithNamePrefixes(cfg.NamePrefixes))
	}
	s.inferencer = parser.NewMethodInferencer(inferOpts...)
	s.fingerprint = settingsFingerprint(cfg)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threads returns the effective worker pool size.
func (s *Scanner) Threads() int {
	if s.config.Threads > 0 {
		return s.config.Threads
	}
	return runtime.NumCPU()
}

// fileResult is one worker's output for one file.
type fileResult struct {
	path        string
	definitions []endpoint.Definition
	drops       []error
	dropped     int
	skipped     *SkippedFile
	prefiltered bool
	cacheHit    bool
	cacheErr    error
	entry       *state.Entry
}

// Scan walks root and extracts definitions. Only a root failure or
// cancellation returns an error; per-file problems are recorded in the Result.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	stopWalk := s.metrics.StartPhase(metrics.PhaseWalk)
	walked, err := s.walk(root)
	stopWalk()
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Found %d source files under %s", len(walked.files), root)
	if s.progress != nil {
		s.progress.Start(root, len(walked.files))
	}

	stopScan := s.metrics.StartPhase(metrics.PhaseScan)
	results, err := s.process(ctx, root, walked.files)
	stopScan()
	if err != nil {
		return nil, err
	}

	return s.aggregate(walked, results), nil
}

// process fans files out to the worker pool. Each worker writes only its
// own slots of results, so the pool shares no mutable state.
func (s *Scanner) process(ctx context.Context, root string, files []string) ([]fileResult, error) {
	results := make([]fileResult, len(files))
	if len(files) == 0 {
		return results, nil
	}

	workers := s.Threads()
	if workers > len(files) {
		workers = len(files)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var done, sites, skipped atomic.Int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				r := s.processFile(root, files[idx])
				results[idx] = r

				d := done.Add(1)
				n := sites.Add(int64(len(r.definitions)))
				k := skipped.Load()
				if r.skipped != nil {
					k = skipped.Add(1)
				}
				if s.progress != nil {
					s.progress.Update(int(d), int(n), int(k))
				}
			}
		}()
	}

feed:
	for i := range files {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}
	return results, nil
}

// processFile runs both extraction passes over one file. The file is read
// once and split into a line array shared by the two passes.
func (s *Scanner) processFile(root, rel string) fileResult {
	res := fileResult{path: rel}
	s.metrics.RecordFileVisited()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		res.skipped = &SkippedFile{Path: rel, Reason: SkipRead, Err: apperrors.NewIOError(rel, "read", err, false)}
		return res
	}
	s.metrics.RecordBytes(int64(len(data)))

	if !s.mayContainSites(data) {
		res.prefiltered = true
		return res
	}
	if !utf8.Valid(data) {
		res.skipped = &SkippedFile{Path: rel, Reason: SkipDecode, Err: apperrors.NewIOError(rel, "decode", errInvalidUTF8, false)}
		return res
	}

	var hash string
	if s.store != nil {
		hash = state.ContentHash(data)
		entry, ok, err := s.store.Get(rel, hash, s.fingerprint)
		if err != nil {
			res.cacheErr = err
		} else if ok {
			res.cacheHit = true
			res.definitions = entry.Definitions
			res.dropped = entry.Dropped
			return res
		}
	}

	lines := splitLines(string(data))

	// pass 1: templates
	sites, drops := s.templates.Parse(rel, lines)

	// pass 2: methods, over the same lines
	defs := make([]endpoint.Definition, 0, len(sites))
	for _, site := range sites {
		inf := s.inferencer.Infer(lines, site.StartLine, site.EndLine)
		defs = append(defs, endpoint.Definition{
			Location: endpoint.SourceLocation{
				File:      rel,
				StartLine: site.StartLine,
				EndLine:   site.EndLine,
				Column:    site.Column,
			},
			RawTemplate:  site.Raw,
			Placeholders: site.Placeholders,
			Method:       inf.Method,
			Confidence:   inf.Confidence,
			Rule:         string(inf.Rule),
		})
	}

	res.definitions = defs
	res.drops = drops
	res.dropped = len(drops)
	if s.store != nil {
		res.entry = &state.Entry{
			ContentHash: hash,
			Fingerprint: s.fingerprint,
			Definitions: defs,
			Dropped:     len(drops),
		}
	}
	return res
}

// mayContainSites is the keyword pre-filter.
func (s *Scanner) mayContainSites(data []byte) bool {
	for _, kw := range s.keywords {
		if bytes.Contains(data, kw) {
			return true
		}
	}
	return false
}

// aggregate merges worker output in file order. It runs on one goroutine
// after the pool has finished.
func (s *Scanner) aggregate(walked *walkResult, results []fileResult) *Result {
	out := &Result{
		FilesVisited: len(walked.files),
	}
	seen := state.NewCallSiteSet(len(results) * 4)
	writes := make(map[string]*state.Entry)

	for _, sk := range walked.unreadable {
		s.logger.SkipEvent(sk.Path, sk.Reason, sk.Err)
		s.metrics.RecordFileSkipped(sk.Reason)
		out.Skipped = append(out.Skipped, sk)
	}

	for _, r := range results {
		switch {
		case r.skipped != nil:
			s.logger.SkipEvent(r.skipped.Path, r.skipped.Reason, r.skipped.Err)
			s.metrics.RecordFileSkipped(r.skipped.Reason)
			out.Skipped = append(out.Skipped, *r.skipped)
			continue
		case r.prefiltered:
			s.metrics.RecordPrefiltered()
			out.Prefiltered++
			continue
		}

		if r.cacheErr != nil {
			s.logger.WithFile(r.path).WithError(r.cacheErr).Warn("Extraction cache read failed")
		}
		if r.cacheHit {
			s.metrics.RecordCacheHit()
			out.CacheHits++
		} else {
			s.metrics.RecordFileParsed()
		}
		out.FilesParsed++

		for _, d := range r.drops {
			line := 0
			var mapErr *apperrors.MapError
			if errors.As(d, &mapErr) {
				line = mapErr.Line
			}
			reason := d.Error()
			if mapErr != nil {
				reason = mapErr.Message
			}
			s.logger.DropEvent(r.path, line, reason)
		}
		s.metrics.RecordDropped(r.dropped)
		out.Dropped += r.dropped
		if r.entry != nil {
			writes[r.path] = r.entry
		}

		s.metrics.RecordCallSites(len(r.definitions))
		for _, def := range r.definitions {
			if !seen.Add(def) {
				s.metrics.RecordDuplicate()
				out.Duplicates++
				continue
			}
			if !s.withinPrefix(def) {
				s.metrics.RecordFiltered()
				out.Filtered++
				continue
			}
			out.Definitions = append(out.Definitions, def)
		}
	}

	if s.store != nil && len(writes) > 0 {
		if err := s.store.PutBatch(writes); err != nil {
			s.logger.WithError(err).Warn("Extraction cache write failed")
		}
	}

	sortDefinitions(out.Definitions)
	return out
}

func (s *Scanner) withinPrefix(def endpoint.Definition) bool {
	if s.config.PathPrefix == "" {
		return true
	}
	return strings.HasPrefix(normalize.Normalize(def.RawTemplate, def.Placeholders), s.config.PathPrefix)
}

// sortDefinitions orders by file, line, column, then raw template so the
// list does not depend on worker completion order.
func sortDefinitions(defs []endpoint.Definition) {
	sort.SliceStable(defs, func(i, j int) bool {
		a, b := defs[i].Location, defs[j].Location
		if a.File != b.File {
			return a.File < b.File
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return defs[i].RawTemplate < defs[j].RawTemplate
	})
}

// splitLines splits text into lines without their terminators.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// settingsFingerprint identifies the extraction settings in cached entries.
func settingsFingerprint(cfg Config) string {
	prefixes := make([]string, 0, len(cfg.NamePrefixes))
	for p, m := range cfg.NamePrefixes {
		prefixes = append(prefixes, p+"="+string(m))
	}
	sort.Strings(prefixes)

	return state.Fingerprint(
		strings.Join(cfg.Syntax.Builders, ","),
		fmt.Sprintf("format=%t fstrings=%t replace=%t", cfg.Syntax.Format, cfg.Syntax.FStrings, cfg.Syntax.Replace),
		fmt.Sprintf("radius=%d", cfg.Radius),
		strings.Join(prefixes, ","),
	)
}
