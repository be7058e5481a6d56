package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"webcamd/internal/config"
)

// Logger is a zerolog logger that also appends to files in the log
// directory: every entry to webcamd.log and warnings and above to error.log.
type Logger struct {
	zerolog.Logger
	files []*os.File
}

// NewLogger builds the process logger and ensures the log directory exists.
// An empty directory disables file output.
func NewLogger(cfg config.LogConfig) (*Logger, error) {
	return NewLoggerTo(cfg, os.Stdout)
}

// NewLoggerTo is NewLogger with console output sent to out.
func NewLoggerTo(cfg config.LogConfig, out io.Writer) (*Logger, error) {
	l := &Logger{}

	console := out
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	writers := []io.Writer{console}

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		all, err := l.openLogFile(filepath.Join(cfg.Directory, "webcamd.log"))
		if err != nil {
			return nil, err
		}
		errs, err := l.openLogFile(filepath.Join(cfg.Directory, "error.log"))
		if err != nil {
			l.Close()
			return nil, err
		}
		writers = append(writers, all, &minLevelWriter{w: errs, min: zerolog.WarnLevel})
	}

	zerolog.TimeFieldFormat = time.RFC3339
	l.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Logger()
	return l, nil
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// New wraps an existing zerolog logger.
func New(zl zerolog.Logger) *Logger {
	return &Logger{Logger: zl}
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Close closes the log files.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

func (l *Logger) openLogFile(name string) (*os.File, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	l.files = append(l.files, f)
	return f, nil
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

type minLevelWriter struct {
	w   io.Writer
	min zerolog.Level
}

func (m *minLevelWriter) Write(p []byte) (int, error) {
	return m.w.Write(p)
}

func (m *minLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < m.min {
		return len(p), nil
	}
	return m.w.Write(p)
}
