package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

type Options struct {
	Dev     bool
	LogPath string
	// Console receives a copy of every record, e.g. the TUI debug view.
	Console io.Writer
	// Quiet drops the stderr sink. Used while a TUI owns the terminal.
	Quiet bool
}

type Logger struct {
	*slog.Logger
	tag     string
	logFile *os.File
}

// New builds the process logger. Production writes JSON, dev writes
// human readable text at debug level.
func New(opts Options) (*Logger, error) {
	var sinks []io.Writer
	if !opts.Quiet {
		sinks = append(sinks, os.Stderr)
	}
	if opts.Console != nil && opts.Dev {
		sinks = append(sinks, opts.Console)
	}

	var file *os.File
	if opts.LogPath != "" {
		fileName := fmt.Sprintf("mlserver_log_%s.log", time.Now().Format("20060102_150405"))
		f, err := os.OpenFile(filepath.Join(opts.LogPath, fileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		sinks = append(sinks, f)
	}

	return &Logger{
		Logger:  slog.New(newHandler(io.MultiWriter(sinks...), opts.Dev)),
		logFile: file,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newHandler(w io.Writer, dev bool) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}
	if dev {
		opts.Level = slog.LevelDebug
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// WithTag returns a child logger whose records carry tag.
func (l *Logger) WithTag(tag string) *Logger {
	return &Logger{
		Logger:  l.Logger.With("tag", tag),
		tag:     tag,
		logFile: l.logFile,
	}
}

func (l *Logger) Tag() string {
	return l.tag
}

func (l *Logger) Fatal(msg string, args ...any) {
	l.Error(msg, args...)
	l.Close()
	os.Exit(1)
}

// Close releases the log file. Child loggers share it, close it once.
func (l *Logger) Close() error {
	if l.logFile == nil {
		return nil
	}
	return l.logFile.Close()
}
