// Package progress renders the scan progress line and the end-of-run summary.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/PentesterFlow/apimap/internal/metrics"
)

// redrawInterval bounds how often the progress line is rewritten.
const redrawInterval = 100 * time.Millisecond

// Display manages the progress line while files are scanned.
type Display struct {
	mu      sync.Mutex
	out     io.Writer
	started bool
	stopped bool

	// Stats
	filesTotal atomic.Int64
	filesDone  atomic.Int64
	callSites  atomic.Int64
	skipped    atomic.Int64

	// Timing
	startTime time.Time
	root      string
	redraw    *rate.Sometimes

	// Display
	lastLine string
}

// New creates a progress display writing to out, or stderr when out is nil.
func New(out io.Writer) *Display {
	if out == nil {
		out = os.Stderr
	}
	return &Display{
		out:    out,
		redraw: &rate.Sometimes{First: 1, Interval: redrawInterval},
	}
}

// Start begins the display for a scan of total files under root.
func (d *Display) Start(root string, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true
	d.startTime = time.Now()
	d.root = root
	d.filesTotal.Store(int64(total))
}

// Update records progress. Redraws are throttled; the counters are always
// current.
func (d *Display) Update(filesDone, callSites, skipped int) {
	d.filesDone.Store(int64(filesDone))
	d.callSites.Store(int64(callSites))
	d.skipped.Store(int64(skipped))

	d.redraw.Do(d.draw)
}

func (d *Display) draw() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started || d.stopped {
		return
	}

	total := d.filesTotal.Load()
	done := d.filesDone.Load()

	progress := 100
	if total > 0 {
		progress = int(float64(done) / float64(total) * 100)
	}
	if progress > 100 {
		progress = 100
	}

	elapsed := time.Since(d.startTime)
	speed := float64(0)
	if elapsed.Seconds() > 0 {
		speed = float64(done) / elapsed.Seconds()
	}

	barWidth := 30
	filled := progress * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %3d%% | Files: %d/%d | Sites: %d | Skipped: %d | %.0f f/s | %s",
		bar, progress, done, total, d.callSites.Load(), d.skipped.Load(), speed, formatDuration(elapsed))

	if len(line) < len(d.lastLine) {
		fmt.Fprint(d.out, "\r"+strings.Repeat(" ", len(d.lastLine)))
	}
	fmt.Fprint(d.out, line)
	d.lastLine = line
}

// Stop draws the final state and ends the line.
func (d *Display) Stop() {
	d.draw()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || !d.started {
		return
	}

	d.stopped = true
	fmt.Fprintln(d.out)
}

// Stats returns the last reported counters.
func (d *Display) Stats() (filesDone, callSites, skipped int64) {
	return d.filesDone.Load(), d.callSites.Load(), d.skipped.Load()
}

// Summary is the data shown in the end-of-run box.
type Summary struct {
	ServiceDir  string
	Definitions int
	Matched     int
	Orphaned    int
	Missing     int
	Canonical   int
	MatchRate   float64
	Coverage    float64
	Profile     *metrics.Snapshot // nil unless profiling
}

// PrintSummary writes the end-of-run summary box to w.
func PrintSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                      Coverage Complete                       ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Service dir:         %s\n", truncatePath(s.ServiceDir, 50))
	fmt.Fprintf(w, "  Definitions:         %d\n", s.Definitions)
	fmt.Fprintf(w, "  Matched:             %d\n", s.Matched)
	fmt.Fprintf(w, "  Orphaned:            %d\n", s.Orphaned)
	fmt.Fprintf(w, "  Missing:             %d of %d\n", s.Missing, s.Canonical)
	fmt.Fprintf(w, "  Match rate:          %.1f%%\n", s.MatchRate*100)
	fmt.Fprintf(w, "  Coverage:            %.1f%%\n", s.Coverage*100)
	fmt.Fprintln(w)

	if s.Profile == nil {
		return
	}

	p := s.Profile
	fmt.Fprintln(w, "  Profile")
	for _, name := range p.PhaseNames() {
		fmt.Fprintf(w, "    %-18s %s\n", name+":", p.Phases[name].Round(time.Microsecond))
	}
	fmt.Fprintf(w, "    %-18s %s\n", "total:", p.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "    %-18s %d\n", "files visited:", p.FilesVisited)
	fmt.Fprintf(w, "    %-18s %d\n", "prefiltered out:", p.FilesPrefiltered)
	fmt.Fprintf(w, "    %-18s %d\n", "files skipped:", p.FilesSkipped)
	fmt.Fprintf(w, "    %-18s %d\n", "cache hits:", p.CacheHits)
	fmt.Fprintf(w, "    %-18s %d\n", "call sites:", p.CallSites)
	fmt.Fprintf(w, "    %-18s %d\n", "dropped:", p.CallSitesDropped)
	fmt.Fprintf(w, "    %-18s %d\n", "filtered:", p.Filtered)
	fmt.Fprintf(w, "    %-18s %.1f\n", "files/sec:", p.FilesPerSecond())
	fmt.Fprintf(w, "    %-18s %.1f\n", "call sites/sec:", p.CallSitesPerSecond())
	fmt.Fprintln(w)
}

// truncatePath shortens a path to maxLen characters, keeping its tail.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
