package coverage

import (
	"io"

	"github.com/PentesterFlow/apimap/internal/logger"
	"github.com/PentesterFlow/apimap/internal/metrics"
)

// Option is a functional option for configuring the Pipeline.
type Option func(*Pipeline) error

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(p *Pipeline) error {
		if config != nil {
			p.config = config
		}
		return nil
	}
}

// WithServiceDir sets the root of the scanned tree.
func WithServiceDir(dir string) Option {
	return func(p *Pipeline) error {
		p.config.ServiceDir = dir
		return nil
	}
}

// WithAPIList sets the canonical list path.
func WithAPIList(path string) Option {
	return func(p *Pipeline) error {
		p.config.APIList = path
		return nil
	}
}

// WithMarkdownOutput sets the Markdown report path.
func WithMarkdownOutput(path string) Option {
	return func(p *Pipeline) error {
		p.config.Output.Markdown = path
		return nil
	}
}

// WithJSONOutput sets the JSON report path.
func WithJSONOutput(path string) Option {
	return func(p *Pipeline) error {
		p.config.Output.JSON = path
		return nil
	}
}

// WithThreads sets the worker pool size; 0 uses all cores.
func WithThreads(n int) Option {
	return func(p *Pipeline) error {
		if n < 0 {
			n = 0
		}
		p.config.Scan.Threads = n
		return nil
	}
}

// WithRadius sets the method inference window radius.
func WithRadius(radius int) Option {
	return func(p *Pipeline) error {
		p.config.Inference.Radius = radius
		return nil
	}
}

// WithPathPrefix keeps only definitions under prefix.
func WithPathPrefix(prefix string) Option {
	return func(p *Pipeline) error {
		p.config.Scan.PathPrefix = prefix
		return nil
	}
}

// WithCacheFile enables the extraction cache at path.
func WithCacheFile(path string) Option {
	return func(p *Pipeline) error {
		p.config.Scan.CacheFile = path
		return nil
	}
}

// WithVerbose enables/disables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(p *Pipeline) error {
		p.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables/disables debug mode.
func WithDebug(debug bool) Option {
	return func(p *Pipeline) error {
		p.config.Debug = debug
		return nil
	}
}

// WithProfile enables/disables the timing summary.
func WithProfile(profile bool) Option {
	return func(p *Pipeline) error {
		p.config.Profile = profile
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// WithProgress enables/disables the progress line.
func WithProgress(enabled bool) Option {
	return func(p *Pipeline) error {
		p.showProgress = enabled
		return nil
	}
}

// WithStatusOutput sets where the progress line and summary are written.
// A nil writer disables both.
func WithStatusOutput(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.statusOut = w
		return nil
	}
}
