package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/TymurD/miquella/common/redact"
	"github.com/TymurD/miquella/common/trace"
	"github.com/TymurD/miquella/internal/miquella/observability"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := observability.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	secrets := redact.NewSet("sk-or-secret-key", "syt_access_token")
	l := observability.NewLogger(&buf, "info", "json", secrets)

	l.With("token", "syt_access_token").Info("completion failed for sk-or-secret-key",
		"err", errors.New("401: key sk-or-secret-key invalid"),
		slog.Group("req", slog.String("auth", "Bearer sk-or-secret-key")),
		"attempt", 1,
	)

	out := buf.String()
	if strings.Contains(out, "sk-or-secret-key") || strings.Contains(out, "syt_access_token") {
		t.Fatalf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, `"attempt":1`) {
		t.Errorf("non-string attrs should pass through: %s", out)
	}
	if strings.Count(out, "[REDACTED]") < 4 {
		t.Errorf("expected every occurrence redacted: %s", out)
	}
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := observability.NewLogger(&buf, "warn", "text", nil)
	l.Info("quiet")
	l.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "loud") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestTraceLogger(t *testing.T) {
	var buf bytes.Buffer
	base := observability.NewLogger(&buf, "info", "text", nil)

	ctx := trace.WithTraceID(context.Background(), "t_test123")
	observability.TraceLogger(ctx, base).Info("turn started")
	if !strings.Contains(buf.String(), "trace_id=t_test123") {
		t.Errorf("trace id missing: %s", buf.String())
	}

	buf.Reset()
	observability.TraceLogger(context.Background(), base).Info("no trace")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("unexpected trace id: %s", buf.String())
	}
}
