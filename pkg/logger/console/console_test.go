package console

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestConsoleLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{JSON: true, Prefix: "pipeline", Output: &buf})

	l.Info("extraction finished", "relations", 4)

	line := strings.TrimSpace(buf.String())
	var got map[string]any
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", line, err)
	}
	if got["msg"] != "extraction finished" {
		t.Fatalf("msg = %v, want %q", got["msg"], "extraction finished")
	}
	if got["relations"] != float64(4) {
		t.Fatalf("relations = %v, want 4", got["relations"])
	}
}

func TestConsoleLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Output: &buf})
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug output written at info level: %q", buf.String())
	}

	buf.Reset()
	l = NewConsoleLogger(ConsoleLoggerParams{Debug: true, Output: &buf})
	l.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug output missing: %q", buf.String())
	}
}
