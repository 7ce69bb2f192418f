// Package logger provides structured logging for the coverage pipeline.
package logger

import (
	"io"
	"os"
	"sort"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels.
const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

// Logger wraps zerolog for structured logging. DropEvent records go through
// drops, which shares zl's output and fields but may sit at a lower level.
type Logger struct {
	zl    zerolog.Logger
	drops zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  Level
	Pretty bool // console writer instead of JSON lines
	Output io.Writer
	Caller bool // annotate records with file:line of the call
	Drops  bool // write DEBUG drop records even when Level is higher
}

// LevelFor maps the CLI verbosity flags to a level: debug wins over
// verbose, and neither leaves only warnings and errors.
func LevelFor(verbose, debug bool) Level {
	switch {
	case debug:
		return DebugLevel
	case verbose:
		return InfoLevel
	default:
		return WarnLevel
	}
}

// New creates a logger. A nil Output writes to stderr.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = colorable.NewColorableStderr()
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    cfg.Output != nil || !StderrIsTerminal(),
		}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		// skip the wrapper method so the caller is pipeline code
		ctx = ctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 1)
	}
	base := ctx.Logger()

	dropLevel := cfg.Level
	if cfg.Drops && dropLevel > DebugLevel {
		dropLevel = DebugLevel
	}
	return &Logger{zl: base.Level(cfg.Level), drops: base.Level(dropLevel)}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), drops: zerolog.Nop()}
}

// StderrIsTerminal reports whether stderr is attached to a terminal.
func StderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// WithComponent tags records with the pipeline stage that wrote them.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithFile tags records with a repo-relative source path.
func (l *Logger) WithFile(path string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("file", path) })
}

// WithError attaches err to every record.
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

func (l *Logger) with(fields func(zerolog.Context) zerolog.Context) *Logger {
	return &Logger{
		zl:    fields(l.zl.With()).Logger(),
		drops: fields(l.drops.With()).Logger(),
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// SkipEvent logs a source file left out of the scan.
func (l *Logger) SkipEvent(path, reason string, err error) {
	l.zl.Warn().
		Err(err).
		Str("file", path).
		Str("reason", reason).
		Msg("Skipped source file")
}

// DropEvent logs a call site that matched the pre-filter but could not be
// decomposed into a template. The record is DEBUG level and is written when
// the logger runs at DEBUG or was created with Drops.
func (l *Logger) DropEvent(path string, line int, reason string) {
	l.drops.Debug().
		Str("file", path).
		Int("line", line).
		Str("reason", reason).
		Msg("Dropped call site")
}

// StatsEvent logs a set of counters. Keys are written in sorted order.
func (l *Logger) StatsEvent(msg string, stats map[string]interface{}) {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	event := l.zl.Info()
	for _, k := range keys {
		event = event.Interface(k, stats[k])
	}
	event.Msg(msg)
}
