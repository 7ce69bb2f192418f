// Package coverage runs the API coverage pipeline: scan the source tree,
// match what it builds against the canonical list, and write the reports.
package coverage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/PentesterFlow/apimap/internal/catalog"
	apperrors "github.com/PentesterFlow/apimap/internal/errors"
	"github.com/PentesterFlow/apimap/internal/logger"
	"github.com/PentesterFlow/apimap/internal/matcher"
	"github.com/PentesterFlow/apimap/internal/metrics"
	"github.com/PentesterFlow/apimap/internal/normalize"
	"github.com/PentesterFlow/apimap/internal/progress"
	"github.com/PentesterFlow/apimap/internal/report"
	"github.com/PentesterFlow/apimap/internal/scanner"
	"github.com/PentesterFlow/apimap/internal/state"
)

// Pipeline is one configured coverage run.
type Pipeline struct {
	config  *Config
	logger  *logger.Logger
	metrics *metrics.Collector

	showProgress bool
	statusOut    io.Writer
}

// Result is everything a run produced.
type Result struct {
	Catalog  *catalog.Index
	Scan     *scanner.Result
	Outcome  *matcher.Outcome
	Report   *report.Report
	Profile  *metrics.Snapshot
	Duration time.Duration
}

// New creates a pipeline. Options apply in order on top of DefaultConfig.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.logger == nil {
		p.logger = logger.New(logger.Config{
			Level:  logger.LevelFor(p.config.Verbose, p.config.Debug),
			Pretty: true,
			Caller: p.config.Debug,
			Drops:  p.config.Verbose,
		})
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	return p, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() *Config {
	return p.config
}

// Metrics returns the metrics collector.
func (p *Pipeline) Metrics() *metrics.Collector {
	return p.metrics
}

// Run executes the pipeline. It returns an error only when the reports
// would be meaningless: bad configuration, a missing root, a corrupt
// canonical list or an unwritable output.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	log := p.logger.WithComponent("pipeline")

	if err := p.config.Validate(); err != nil {
		return nil, err
	}

	index, err := p.loadCatalog()
	if err != nil {
		return nil, err
	}

	store := p.openStore()
	if store != nil {
		defer store.Close()
	}

	scanRes, err := p.scan(ctx, store)
	if err != nil {
		return nil, err
	}

	cache, err := normalize.NewCache(normalize.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create normalization cache: %w", err)
	}
	m := matcher.New(index,
		matcher.WithThreads(p.config.Scan.Threads),
		matcher.WithCache(cache),
		matcher.WithLogger(p.logger.WithComponent("matcher")),
		matcher.WithMetrics(p.metrics),
	)
	outcome, err := m.Match(ctx, scanRes.Definitions)
	if err != nil {
		return nil, err
	}

	rep := report.Build(outcome, report.Stats{
		FilesVisited: scanRes.FilesVisited,
		FilesSkipped: scanRes.FilesSkipped(),
	})
	if err := p.writeReports(rep); err != nil {
		return nil, err
	}

	res := &Result{
		Catalog:  index,
		Scan:     scanRes,
		Outcome:  outcome,
		Report:   rep,
		Profile:  p.metrics.Snapshot(),
		Duration: time.Since(start),
	}

	log.StatsEvent("Coverage complete", map[string]interface{}{
		"definitions": rep.Summary.Total,
		"matched":     rep.Summary.Matched,
		"missing":     rep.Summary.Missing,
		"orphaned":    rep.Summary.Orphaned,
		"skipped":     rep.Summary.FilesSkipped,
	})
	if p.config.Profile {
		log.StatsEvent("Profile", res.Profile.Summary())
	}
	p.printSummary(res)

	return res, nil
}

func (p *Pipeline) loadCatalog() (*catalog.Index, error) {
	defer p.metrics.StartPhase(metrics.PhaseLoad)()

	index, err := catalog.Load(p.config.APIList)
	if err != nil {
		return nil, err
	}
	p.logger.WithComponent("catalog").Infof("Loaded %d canonical endpoints from %s", index.Len(), index.Source())
	return index, nil
}

// openStore opens the extraction cache. The cache never changes results,
// so a cache that cannot be opened only costs speed.
func (p *Pipeline) openStore() state.Store {
	if p.config.Scan.CacheFile == "" {
		return nil
	}
	store, err := state.NewBoltStore(p.config.Scan.CacheFile)
	if err != nil {
		p.logger.WithComponent("pipeline").WithError(err).
			Warnf("Extraction cache %s unavailable, scanning without it", p.config.Scan.CacheFile)
		return nil
	}
	return store
}

func (p *Pipeline) scan(ctx context.Context, store state.Store) (*scanner.Result, error) {
	opts := []scanner.Option{
		scanner.WithLogger(p.logger.WithComponent("scanner")),
		scanner.WithMetrics(p.metrics),
	}
	if store != nil {
		opts = append(opts, scanner.WithStore(store))
	}

	var display *progress.Display
	if p.showProgress && p.statusOut != nil {
		display = progress.New(p.statusOut)
		opts = append(opts, scanner.WithProgress(display))
	}

	res, err := scanner.New(p.config.ScannerConfig(), opts...).Scan(ctx, p.config.ServiceDir)
	if display != nil {
		display.Stop()
	}
	return res, err
}

func (p *Pipeline) writeReports(rep *report.Report) error {
	defer p.metrics.StartPhase(metrics.PhaseReport)()
	log := p.logger.WithComponent("report")

	if path := p.config.Output.Markdown; path != "" {
		if err := report.WriteFile(path, report.Config{Format: report.FormatMarkdown}, rep); err != nil {
			return err
		}
		log.Infof("Wrote Markdown report to %s", path)
	}
	if path := p.config.Output.JSON; path != "" {
		if err := report.WriteFile(path, report.Config{Format: report.FormatJSON, Pretty: p.config.Output.Pretty}, rep); err != nil {
			return err
		}
		log.Infof("Wrote JSON report to %s", path)
	}
	return nil
}

func (p *Pipeline) printSummary(res *Result) {
	if p.statusOut == nil {
		return
	}
	s := res.Report.Summary
	summary := progress.Summary{
		ServiceDir:  p.config.ServiceDir,
		Definitions: s.Total,
		Matched:     s.Matched,
		Orphaned:    s.Orphaned,
		Missing:     s.Missing,
		Canonical:   s.CanonicalTotal,
		MatchRate:   s.MatchRate,
		Coverage:    s.Coverage,
	}
	if p.config.Profile {
		summary.Profile = res.Profile
	}
	progress.PrintSummary(p.statusOut, summary)
}

// CheckList loads and validates a canonical list without scanning.
func CheckList(path string) (*catalog.Index, error) {
	if path == "" {
		return nil, apperrors.NewConfigError("api-list", "canonical API list is required")
	}
	return catalog.Load(path)
}
