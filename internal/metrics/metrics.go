// Package metrics collects scan counters and phase timings for --profile.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Phase names used by the pipeline.
const (
	PhaseLoad   = "load"
	PhaseWalk   = "walk"
	PhaseScan   = "scan"
	PhaseMatch  = "match"
	PhaseReport = "report"
)

// Collector collects and aggregates metrics. All methods are safe for
// concurrent use by scanner workers.
type Collector struct {
	// Counters
	filesVisited     atomic.Int64
	filesPrefiltered atomic.Int64
	filesParsed      atomic.Int64
	filesSkipped     atomic.Int64
	cacheHits        atomic.Int64
	bytesRead        atomic.Int64
	callSites        atomic.Int64
	callSitesDropped atomic.Int64
	duplicates       atomic.Int64
	filtered         atomic.Int64

	// Skip reason breakdown
	skipReasons map[string]*atomic.Int64
	skipMu      sync.RWMutex

	// Phase timings
	phases  map[string]time.Duration
	phaseMu sync.Mutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		skipReasons: make(map[string]*atomic.Int64),
		phases:      make(map[string]time.Duration),
		startTime:   time.Now(),
	}
}

// RecordFileVisited counts a source file found by the walk.
func (c *Collector) RecordFileVisited() {
	c.filesVisited.Add(1)
}

// RecordPrefiltered counts a file rejected by the keyword pre-filter.
func (c *Collector) RecordPrefiltered() {
	c.filesPrefiltered.Add(1)
}

// RecordFileParsed counts a file that went through both passes.
func (c *Collector) RecordFileParsed() {
	c.filesParsed.Add(1)
}

// RecordFileSkipped counts an unreadable or undecodable file.
func (c *Collector) RecordFileSkipped(reason string) {
	c.filesSkipped.Add(1)

	c.skipMu.Lock()
	if c.skipReasons[reason] == nil {
		c.skipReasons[reason] = &atomic.Int64{}
	}
	c.skipReasons[reason].Add(1)
	c.skipMu.Unlock()
}

// RecordCacheHit counts a file served from the extraction cache.
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Add(1)
}

// RecordBytes records bytes read from source files.
func (c *Collector) RecordBytes(n int64) {
	c.bytesRead.Add(n)
}

// RecordCallSites counts extracted call sites.
func (c *Collector) RecordCallSites(n int) {
	c.callSites.Add(int64(n))
}

// RecordDropped counts call sites dropped as parse errors.
func (c *Collector) RecordDropped(n int) {
	c.callSitesDropped.Add(int64(n))
}

// RecordDuplicate counts a call site discarded during aggregation.
func (c *Collector) RecordDuplicate() {
	c.duplicates.Add(1)
}

// RecordFiltered counts a definition removed by the path prefix filter.
func (c *Collector) RecordFiltered() {
	c.filtered.Add(1)
}

// RecordPhase adds d to the named phase.
func (c *Collector) RecordPhase(name string, d time.Duration) {
	c.phaseMu.Lock()
	c.phases[name] += d
	c.phaseMu.Unlock()
}

// StartPhase starts timing a phase; call the returned func to stop it.
func (c *Collector) StartPhase(name string) func() {
	start := time.Now()
	return func() {
		c.RecordPhase(name, time.Since(start))
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Elapsed:          time.Since(c.startTime),
		FilesVisited:     c.filesVisited.Load(),
		FilesPrefiltered: c.filesPrefiltered.Load(),
		FilesParsed:      c.filesParsed.Load(),
		FilesSkipped:     c.filesSkipped.Load(),
		CacheHits:        c.cacheHits.Load(),
		BytesRead:        c.bytesRead.Load(),
		CallSites:        c.callSites.Load(),
		CallSitesDropped: c.callSitesDropped.Load(),
		Duplicates:       c.duplicates.Load(),
		Filtered:         c.filtered.Load(),
		SkipReasons:      make(map[string]int64),
		Phases:           make(map[string]time.Duration),
	}

	c.skipMu.RLock()
	for k, v := range c.skipReasons {
		s.SkipReasons[k] = v.Load()
	}
	c.skipMu.RUnlock()

	c.phaseMu.Lock()
	for k, v := range c.phases {
		s.Phases[k] = v
	}
	c.phaseMu.Unlock()

	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	c.filesVisited.Store(0)
	c.filesPrefiltered.Store(0)
	c.filesParsed.Store(0)
	c.filesSkipped.Store(0)
	c.cacheHits.Store(0)
	c.bytesRead.Store(0)
	c.callSites.Store(0)
	c.callSitesDropped.Store(0)
	c.duplicates.Store(0)
	c.filtered.Store(0)

	c.skipMu.Lock()
	c.skipReasons = make(map[string]*atomic.Int64)
	c.skipMu.Unlock()

	c.phaseMu.Lock()
	c.phases = make(map[string]time.Duration)
	c.phaseMu.Unlock()

	c.startTime = time.Now()
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Elapsed          time.Duration            `json:"elapsed"`
	FilesVisited     int64                    `json:"files_visited"`
	FilesPrefiltered int64                    `json:"files_prefiltered"`
	FilesParsed      int64                    `json:"files_parsed"`
	FilesSkipped     int64                    `json:"files_skipped"`
	CacheHits        int64                    `json:"cache_hits"`
	BytesRead        int64                    `json:"bytes_read"`
	CallSites        int64                    `json:"call_sites"`
	CallSitesDropped int64                    `json:"call_sites_dropped"`
	Duplicates       int64                    `json:"duplicates"`
	Filtered         int64                    `json:"filtered"`
	SkipReasons      map[string]int64         `json:"skip_reasons"`
	Phases           map[string]time.Duration `json:"phases"`
}

// FilesPerSecond returns the scan throughput.
func (s *Snapshot) FilesPerSecond() float64 {
	return perSecond(s.FilesVisited, s.Phases[PhaseScan])
}

// CallSitesPerSecond returns the extraction throughput.
func (s *Snapshot) CallSitesPerSecond() float64 {
	return perSecond(s.CallSites, s.Phases[PhaseScan])
}

// PhaseNames returns the recorded phases in pipeline order; unknown phases
// follow alphabetically.
func (s *Snapshot) PhaseNames() []string {
	order := map[string]int{PhaseLoad: 0, PhaseWalk: 1, PhaseScan: 2, PhaseMatch: 3, PhaseReport: 4}
	names := make([]string, 0, len(s.Phases))
	for name := range s.Phases {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		oi, iok := order[names[i]]
		oj, jok := order[names[j]]
		switch {
		case iok && jok:
			return oi < oj
		case iok != jok:
			return iok
		default:
			return names[i] < names[j]
		}
	})
	return names
}

// Summary returns the snapshot as log fields.
func (s *Snapshot) Summary() map[string]interface{} {
	m := map[string]interface{}{
		"elapsed":            s.Elapsed.String(),
		"files_visited":      s.FilesVisited,
		"files_prefiltered":  s.FilesPrefiltered,
		"files_parsed":       s.FilesParsed,
		"files_skipped":      s.FilesSkipped,
		"cache_hits":         s.CacheHits,
		"bytes_read":         s.BytesRead,
		"call_sites":         s.CallSites,
		"call_sites_dropped": s.CallSitesDropped,
		"duplicates":         s.Duplicates,
		"filtered":           s.Filtered,
		"files_per_second":   s.FilesPerSecond(),
		"call_sites_per_sec": s.CallSitesPerSecond(),
	}
	for name, d := range s.Phases {
		m["phase_"+name+"_ms"] = d.Milliseconds()
	}
	return m
}

func perSecond(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
