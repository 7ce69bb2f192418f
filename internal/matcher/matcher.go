// Package matcher pairs discovered endpoint definitions with the canonical
// list.
package matcher

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/PentesterFlow/apimap/internal/catalog"
	"github.com/PentesterFlow/apimap/internal/endpoint"
	"github.com/PentesterFlow/apimap/internal/logger"
	"github.com/PentesterFlow/apimap/internal/metrics"
	"github.com/PentesterFlow/apimap/internal/normalize"
)

// Matcher matches definitions against an immutable canonical index. The
// index is only read, so workers share it without locking.
type Matcher struct {
	index   *catalog.Index
	threads int
	cache   *normalize.Cache
	logger  *logger.Logger
	metrics *metrics.Collector
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithThreads sets the worker count; 0 uses all cores.
func WithThreads(n int) Option {
	return func(m *Matcher) {
		if n >= 0 {
			m.threads = n
		}
	}
}

// WithCache shares a normalization memo between workers.
func WithCache(c *normalize.Cache) Option {
	return func(m *Matcher) {
		m.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Matcher) {
		if c != nil {
			m.metrics = c
		}
	}
}

// New creates a matcher over index.
func New(index *catalog.Index, opts ...Option) *Matcher {
	m := &Matcher{
		index:   index,
		logger:  logger.Nop(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MatchOne pairs a single definition with at most one canonical entry.
// Exact (method, path) matches win; a definition whose method is unknown
// may fall back to the earliest declared entry with the same path.
func (m *Matcher) MatchOne(def endpoint.Definition) endpoint.MatchResult {
	path := m.cache.Normalize(def.RawTemplate, def.Placeholders)
	res := endpoint.MatchResult{
		Definition:    def,
		CanonicalPath: path,
		Confidence:    endpoint.ConfidenceUnmatched,
		Reason:        endpoint.ReasonUnmatched,
	}

	if i, ok := m.index.Exact(def.Method, path); ok {
		entry := m.index.Entry(i)
		res.Matched = &entry
		res.Confidence = endpoint.ConfidenceExact
		res.Reason = endpoint.ReasonExact
		return res
	}

	if def.Method == endpoint.MethodUnknown {
		if i, ok := m.index.Structural(path); ok {
			entry := m.index.Entry(i)
			res.Matched = &entry
			res.Confidence = endpoint.ConfidenceStructural
			res.Reason = endpoint.ReasonStructural
		}
	}
	return res
}

// Match produces one result per definition, in input order, and the
// canonical entries nothing matched.
func (m *Matcher) Match(ctx context.Context, defs []endpoint.Definition) (*Outcome, error) {
	defer m.metrics.StartPhase(metrics.PhaseMatch)()

	results := make([]endpoint.MatchResult, len(defs))
	if err := m.parallel(ctx, defs, results); err != nil {
		return nil, err
	}

	out := newOutcome(m.index, results)
	m.logger.Infof("Matched %d of %d definitions, %d canonical entries missing",
		out.Matched, len(results), len(out.Missing))
	return out, nil
}

// parallel splits defs into contiguous chunks; worker w writes only the
// slots of its own chunk.
func (m *Matcher) parallel(ctx context.Context, defs []endpoint.Definition, results []endpoint.MatchResult) error {
	workers := m.threads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(defs) {
		workers = len(defs)
	}
	if workers == 0 {
		return nil
	}

	chunk := (len(defs) + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < len(defs); lo += chunk {
		hi := lo + chunk
		if hi > len(defs) {
			hi = len(defs)
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if i%256 == 0 && ctx.Err() != nil {
					return
				}
				results[i] = m.MatchOne(defs[i])
			}
		}(lo, hi)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("matching interrupted: %w", err)
	}
	return nil
}

// Outcome holds the match results and the sets derived from them.
type Outcome struct {
	// Results has one entry per definition, in definition order.
	Results []endpoint.MatchResult
	// Missing lists canonical entries with no result, in declared order.
	Missing []endpoint.Canonical

	Matched          int
	Exact            int
	Structural       int
	Orphaned         int
	CanonicalTotal   int
	CanonicalMatched int

	// refs[i] counts results referencing canonical entry i.
	refs []int
}

func newOutcome(ix *catalog.Index, results []endpoint.MatchResult) *Outcome {
	out := &Outcome{
		Results:        results,
		CanonicalTotal: ix.Len(),
		refs:           make([]int, ix.Len()),
	}
	for _, r := range results {
		switch r.Reason {
		case endpoint.ReasonExact:
			out.Exact++
		case endpoint.ReasonStructural:
			out.Structural++
		}
		if !r.IsMatched() {
			out.Orphaned++
			continue
		}
		out.Matched++
		out.refs[r.Matched.Order]++
	}

	for i, n := range out.refs {
		if n > 0 {
			out.CanonicalMatched++
			continue
		}
		out.Missing = append(out.Missing, ix.Entry(i))
	}
	return out
}

// References returns how many results point at canonical entry order.
func (o *Outcome) References(order int) int {
	if order < 0 || order >= len(o.refs) {
		return 0
	}
	return o.refs[order]
}

// MatchedResults returns the matched results in definition order.
func (o *Outcome) MatchedResults() []endpoint.MatchResult {
	out := make([]endpoint.MatchResult, 0, o.Matched)
	for _, r := range o.Results {
		if r.IsMatched() {
			out = append(out, r)
		}
	}
	return out
}

// OrphanedResults returns the unmatched results in definition order.
func (o *Outcome) OrphanedResults() []endpoint.MatchResult {
	out := make([]endpoint.MatchResult, 0, o.Orphaned)
	for _, r := range o.Results {
		if !r.IsMatched() {
			out = append(out, r)
		}
	}
	return out
}

// MatchRate is matched definitions over all definitions.
func (o *Outcome) MatchRate() float64 {
	return ratio(o.Matched, len(o.Results))
}

// Coverage is matched canonical entries over all canonical entries.
func (o *Outcome) Coverage() float64 {
	return ratio(o.CanonicalMatched, o.CanonicalTotal)
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
