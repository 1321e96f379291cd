package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

func newJSONLogger(t *testing.T, opts Options) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.JSON = true
	opts.Writer = &buf
	if opts.App == "" {
		opts.App = "edge-test"
	}
	L, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return L, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" INFO ", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseLevel(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestInfo_BaseAttrsAndKV(t *testing.T) {
	L, buf := newJSONLogger(t, Options{Version: "1.2.3", Commit: "abc"})
	L.Info(context.Background(), "hello", "path", "/x", "n", 3)

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1", len(lines))
	}
	m := lines[0]
	if m["msg"] != "hello" || m["app"] != "edge-test" || m["version"] != "1.2.3" || m["commit"] != "abc" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["path"] != "/x" {
		t.Fatalf("path=%v", m["path"])
	}
	if _, ok := m["stack"]; ok {
		t.Fatalf("info record should not carry a stack")
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	L, buf := newJSONLogger(t, Options{Level: slog.LevelInfo})
	L.Debug(context.Background(), "quiet")
	if buf.Len() != 0 {
		t.Fatalf("debug emitted at info level: %s", buf.String())
	}
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	L, buf := newJSONLogger(t, Options{})
	child := L.With("request_id", "r1")
	L.Info(context.Background(), "parent")
	child.Info(context.Background(), "child")

	lines := decodeLines(t, buf)
	if _, ok := lines[0]["request_id"]; ok {
		t.Fatalf("parent picked up child attrs")
	}
	if lines[1]["request_id"] != "r1" {
		t.Fatalf("child request_id=%v", lines[1]["request_id"])
	}
}

func TestError_TypesChainAndStack(t *testing.T) {
	L, buf := newJSONLogger(t, Options{MaxErrorLinks: 4})
	base := errors.New("dial refused")
	err := xerrors.Wrap(base, "fetch articles")
	L.Error(context.Background(), err, "upstream failed")

	m := decodeLines(t, buf)[0]
	if m["error_type"] != "*errors.errorString" {
		t.Fatalf("error_type=%v", m["error_type"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type=%v", m["cause_type"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain=%v", m["error_chain"])
	}
	if s, _ := m["stack"].(string); !strings.Contains(s, "TestError_TypesChainAndStack") {
		t.Fatalf("stack missing test frame: %q", s)
	}
	links, ok := m["error_links"].([]any)
	if !ok || len(links) == 0 {
		t.Fatalf("error_links=%v", m["error_links"])
	}
}

func TestContext_FallsBackToNop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatalf("FromContext returned nil")
	}
	L, buf := newJSONLogger(t, Options{})
	ctx := WithContext(context.Background(), L)
	FromContext(ctx).Info(ctx, "via ctx")
	if !strings.Contains(buf.String(), "via ctx") {
		t.Fatalf("logger not carried by context")
	}
}

func TestLookup(t *testing.T) {
	if _, ok := Lookup(context.Background()); ok {
		t.Fatalf("Lookup found a logger in an empty context")
	}
	if _, ok := Lookup(WithContext(context.Background(), nil)); ok {
		t.Fatalf("Lookup accepted a nil logger")
	}
	L, _ := newJSONLogger(t, Options{})
	if got, ok := Lookup(WithContext(context.Background(), L)); !ok || got != L {
		t.Fatalf("Lookup = %v, %v", got, ok)
	}
}

func TestNop_Discards(t *testing.T) {
	n := Nop()
	n.With("a", 1).Error(context.Background(), errors.New("x"), "ignored")
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
