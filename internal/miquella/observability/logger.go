// Package observability configures structured logging for miquella.
//
// It wraps log/slog with turn-id propagation and secret redaction so that
// every line logged while a turn is handled carries its trace_id and never
// leaks an API key or access token.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/TymurD/miquella/common/redact"
	"github.com/TymurD/miquella/common/trace"
)

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a text or JSON logger writing to w. String values and
// errors are passed through secrets before they are written.
func NewLogger(w io.Writer, level, format string, secrets *redact.Set) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	if secrets.Len() > 0 {
		h = &redactingHandler{next: h, secrets: secrets}
	}
	return slog.New(h)
}

// Setup installs a logger on stderr as the slog default and returns it.
func Setup(level, format string, secrets *redact.Set) *slog.Logger {
	l := NewLogger(os.Stderr, level, format, secrets)
	slog.SetDefault(l)
	return l
}

// WithTrace returns a child of the default logger that always includes the
// trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	return TraceLogger(ctx, slog.Default())
}

// TraceLogger is WithTrace for an explicit base logger.
func TraceLogger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := trace.FromContext(ctx); id != "" {
		return base.With("trace_id", id)
	}
	return base
}

type redactingHandler struct {
	next    slog.Handler
	secrets *redact.Set
}

func (h *redactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.secrets.String(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.attr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.attr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(clean), secrets: h.secrets}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), secrets: h.secrets}
}

func (h *redactingHandler) attr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.secrets.String(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = h.attr(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.secrets.Error(err))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}
