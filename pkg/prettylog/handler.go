// based on https://dusted.codes/creating-a-pretty-console-logger-using-gos-slog-package
package prettylog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

const (
	timeFormat = "15:04:05.000"
)

const (
	reset = "\033[0m"

	cyan     = 36
	darkGray = 90
	lightRed = 91
	yellow   = 33
	white    = 97
)

func colorize(colorCode int, v string) string {
	return fmt.Sprintf("\033[%sm%s%s", strconv.Itoa(colorCode), v, reset)
}

type HandlerOptions struct {
	Level slog.Leveler
	// NoColor disables ANSI escapes, e.g. when writing to a file.
	NoColor bool
}

type handler struct {
	opts   HandlerOptions
	mu     *sync.Mutex
	output io.Writer
	attrs  []slog.Attr
	group  string
}

func NewHandler(w io.Writer, opts *HandlerOptions) slog.Handler {
	h := &handler{
		mu:     &sync.Mutex{},
		output: w,
	}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), h.qualify(attrs)...)
	return &clone
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "."
	}
	clone.group += name
	return &clone
}

func (h *handler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
	}
	return out
}

func (h *handler) color(code int, v string) string {
	if h.opts.NoColor {
		return v
	}
	return colorize(code, v)
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = h.color(darkGray, level)
	case slog.LevelInfo:
		level = h.color(cyan, level)
	case slog.LevelWarn:
		level = h.color(yellow, level)
	case slog.LevelError:
		level = h.color(lightRed, level)
	}

	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = valueOf(a.Value)
	}
	var recordAttrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		recordAttrs = append(recordAttrs, a)
		return true
	})
	for _, a := range h.qualify(recordAttrs) {
		attrs[a.Key] = valueOf(a.Value)
	}

	var sb strings.Builder
	sb.WriteString(h.color(darkGray, r.Time.Format(timeFormat)))
	sb.WriteString(" ")
	sb.WriteString(level)
	sb.WriteString(" ")
	sb.WriteString(h.color(white, r.Message))
	if len(attrs) > 0 {
		sb.WriteString(" ")
		sb.WriteString(h.color(darkGray, attributesToString(attrs)))
	}
	sb.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.output, sb.String())
	return err
}

// valueOf resolves v, turning groups into nested maps.
func valueOf(v slog.Value) any {
	v = v.Resolve()
	if v.Kind() != slog.KindGroup {
		return v.Any()
	}
	group := make(map[string]any)
	for _, a := range v.Group() {
		group[a.Key] = valueOf(a.Value)
	}
	return group
}

func attributesToString(attrs map[string]any) string {
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			attrs[k] = err.Error()
			continue
		}
		v = convert(v)
		_, err := json.Marshal(v)
		if err != nil {
			attrs[k] = fmt.Sprintf("%v", v)
		} else {
			attrs[k] = v
		}
	}

	asJson, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Sprintf("%v", attrs)
	}
	return string(asJson)
}

type Loggable interface {
	ToLog() any
}

var customConverters = map[reflect.Type]func(any) any{
	reflect.TypeOf([]byte(nil)): func(value any) any {
		return fmt.Sprintf("%x", value)
	},
}

func convert(value any) any {
	if value == nil {
		return "nil"
	}

	if l, ok := value.(Loggable); ok {
		return l.ToLog()
	}

	if converter, ok := customConverters[reflect.TypeOf(value)]; ok {
		return converter(value)
	}

	return value
}
