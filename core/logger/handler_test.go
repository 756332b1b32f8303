package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func emit(t *testing.T, format logFormat, ctx context.Context, component, event string, attrs ...slog.Attr) string {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 64)
	h := newStructuredHandler(handlerConfig{
		level:    slog.LevelDebug,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	LogEvent(ctx, slog.New(h).With("component", component), slog.LevelInfo, event, attrs...)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return strings.TrimSpace(buf.String())
}

func TestKVLineKeyOrder(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(Background(), "rid-123"), 42, 7, 9)
	line := emit(t, formatKV, ctx, "tg", "handler.handled",
		slog.String("cause", "unit"),
		slog.String("status", "ok"),
	)
	tokens := strings.Split(line, " ")
	want := []string{"ts=", "level=INFO", "component=tg", "event=handler.handled", "status=ok", "rid=rid-123"}
	if len(tokens) < len(want) {
		t.Fatalf("short line: %s", line)
	}
	for i, prefix := range want {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, want prefix %s", i, tokens[i], prefix)
		}
	}
	for _, field := range []string{"user_id=7", "chat_id=9", "update_id=42"} {
		if !strings.Contains(line, field) {
			t.Fatalf("missing %s in %s", field, line)
		}
	}
}

func TestJSONLineKeyOrder(t *testing.T) {
	ctx := WithRID(Background(), "rid-json")
	line := emit(t, formatJSON, ctx, "service.users", "users.insert",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
	)
	pos := -1
	for _, pref := range []string{`{"ts":`, `"level":"INFO"`, `"component":"service.users"`, `"event":"users.insert"`, `"status":"fail"`, `"rid":"rid-json"`} {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("%s out of order in %s", pref, line)
		}
		pos = idx
	}
}

func TestCompactRID(t *testing.T) {
	raw := "123:456:789"
	kv := emit(t, formatKV, WithRID(Background(), raw), "app", "rid.test")
	if !strings.Contains(kv, "rid="+CompactRID(raw)) || strings.Contains(kv, "rid_full=") {
		t.Fatalf("unexpected kv rid: %s", kv)
	}
	js := emit(t, formatJSON, WithRID(Background(), raw), "app", "rid.test")
	if !strings.Contains(js, `"rid_full":"`+raw+`"`) {
		t.Fatalf("expected rid_full in %s", js)
	}
	if got := CompactRID("not-a-rid"); got != "not-a-rid" {
		t.Fatalf("CompactRID passthrough = %q", got)
	}
	if got := CompactRID("35:36:1"); got != "z.10.1" {
		t.Fatalf("CompactRID = %q", got)
	}
}

func TestDurationsBecomeMilliseconds(t *testing.T) {
	line := emit(t, formatKV, Background(), "scheduler", "broadcast.fired",
		slog.Duration("duration", 1500*time.Millisecond),
		slog.Duration("query_duration", 20*time.Millisecond),
	)
	for _, field := range []string{"duration_ms=1500", "query_duration_ms=20"} {
		if !strings.Contains(line, field) {
			t.Fatalf("missing %s in %s", field, line)
		}
	}
}

func TestTraceIDsFromContext(t *testing.T) {
	ctx := WithTrace(Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	line := emit(t, formatJSON, ctx, "tg", "handler.handled")
	if !strings.Contains(line, `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`) ||
		!strings.Contains(line, `"span_id":"00f067aa0ba902b7"`) {
		t.Fatalf("trace ids missing: %s", line)
	}
}

func TestUnknownOutcomeDropped(t *testing.T) {
	line := emit(t, formatKV, Background(), "tg", "handler.handled", slog.String("outcome", "bogus"))
	if strings.Contains(line, "outcome=") {
		t.Fatalf("unexpected outcome in %s", line)
	}
}
