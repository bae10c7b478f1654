package prettylog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Format string

const (
	FormatAuto   Format = "auto"
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
)

// Options configures New.
type Options struct {
	Level  string
	Format Format
	// File additionally writes JSON lines to a rotating log file.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel accepts debug, info, warn/warning and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds the process logger writing to w (normally stderr). The pretty
// handler is used when Format is pretty, or auto and w is a terminal.
// The returned closer releases the log file, if any.
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var console slog.Handler
	switch opts.Format {
	case FormatPretty:
		console = NewHandler(w, &HandlerOptions{Level: level, NoColor: !isTerminal(w)})
	case FormatJSON:
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatAuto, "":
		if isTerminal(w) {
			console = NewHandler(w, &HandlerOptions{Level: level})
		} else {
			console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
		}
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	if opts.File == "" {
		return slog.New(console), nopCloser{}, nil
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	file := slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(console, file)), lj, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
