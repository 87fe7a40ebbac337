package logging_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/raysh454/fatt/internal/logging"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestStdoutLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLogger(&buf, logging.LevelWarn, "test")

	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["level"] != "warn" || lines[1]["level"] != "error" {
		t.Errorf("unexpected levels: %v, %v", lines[0]["level"], lines[1]["level"])
	}
	if lines[0]["component"] != "test" {
		t.Errorf("expected component test, got %v", lines[0]["component"])
	}
}

func TestStdoutLogger_WithPersistsFields(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLogger(&buf, logging.LevelDebug, "root")

	child := l.With(logging.Field{Key: "component", Value: "child"}, logging.Field{Key: "worker", Value: "w1"})
	child.Info("hello", logging.Field{Key: "error", Value: errors.New("boom")})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "child" {
		t.Errorf("expected component child, got %v", lines[0]["component"])
	}
	fields, ok := lines[0]["fields"].(map[string]any)
	if !ok {
		t.Fatalf("missing fields: %v", lines[0])
	}
	if fields["worker"] != "w1" {
		t.Errorf("expected worker w1, got %v", fields["worker"])
	}
	if fields["error"] != "boom" {
		t.Errorf("expected error flattened to message, got %v", fields["error"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]logging.Level{
		"debug": logging.LevelDebug,
		"INFO":  logging.LevelInfo,
		"":      logging.LevelInfo,
		"warn":  logging.LevelWarn,
		"error": logging.LevelError,
	}
	for in, want := range cases {
		got, err := logging.ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := logging.ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
