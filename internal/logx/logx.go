// Package logx provides the structured logger used across cub's components.
package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Logger is the logging surface every cub component depends on. It wraps
// log/slog with printf-style convenience methods and a component tag.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	With(component string) Logger
}

type slogLogger struct {
	base      *slog.Logger
	component string
}

// New builds a Logger writing to w. Format is "text" or "json"; an empty
// format auto-selects json when w is not a terminal.
func New(w io.Writer, format string, debug bool) Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: debug}

	if format == "" {
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &slogLogger{base: slog.New(handler)}
}

// NewComponentLogger returns a default stderr logger tagged with component.
func NewComponentLogger(component string) Logger {
	return New(os.Stderr, "", os.Getenv("CUB_DEBUG") != "").With(component)
}

// OrNop returns l, or a no-op logger if l is nil.
func OrNop(l Logger) Logger {
	if IsNil(l) {
		return nopLogger{}
	}
	return l
}

// IsNil reports whether l is a nil Logger (interface or underlying value).
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	sl, ok := l.(*slogLogger)
	return ok && sl == nil
}

func (l *slogLogger) log(ctx context.Context, level slog.Level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	attrs := []any{}
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	l.base.Log(ctx, level, msg, attrs...)
}

func (l *slogLogger) Debug(format string, args ...any) { l.log(context.Background(), slog.LevelDebug, format, args...) }
func (l *slogLogger) Info(format string, args ...any)  { l.log(context.Background(), slog.LevelInfo, format, args...) }
func (l *slogLogger) Warn(format string, args ...any)  { l.log(context.Background(), slog.LevelWarn, format, args...) }
func (l *slogLogger) Error(format string, args ...any) { l.log(context.Background(), slog.LevelError, format, args...) }

func (l *slogLogger) With(component string) Logger {
	return &slogLogger{base: l.base, component: component}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)  {}
func (nopLogger) Info(string, ...any)   {}
func (nopLogger) Warn(string, ...any)   {}
func (nopLogger) Error(string, ...any)  {}
func (nopLogger) With(string) Logger    { return nopLogger{} }
