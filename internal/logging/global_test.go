package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

// swapGlobal installs l as the global logger and restores the previous
// one when the test finishes.
func swapGlobal(t *testing.T, l *Logger) {
	t.Helper()
	prev := Global()
	SetGlobal(l)
	t.Cleanup(func() { SetGlobal(prev) })
}

func TestSetGlobalReplacesLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})
	swapGlobal(t, l)

	if Global() != l {
		t.Fatal("Global() did not return the logger passed to SetGlobal")
	}
}

func TestConfigureSetsLevelAndGlobal(t *testing.T) {
	prev := Global()
	t.Cleanup(func() { SetGlobal(prev) })

	l := Configure("warn", "text")
	if l.GetLevel() != LevelWarn {
		t.Errorf("Configure level = %v, want warn", l.GetLevel())
	}
	if Global() != l {
		t.Error("Configure did not install the logger globally")
	}
}

func TestGlobalHelpersForwardLevels(t *testing.T) {
	tests := []struct {
		name  string
		log   func()
		level string
		field string
		want  any
	}{
		{"debug", func() { Debug("collection pass starting") }, "debug", "", nil},
		{"debugf", func() { Debugf("nth stamp found", map[string]any{"rank": 3}) }, "debug", "rank", float64(3)},
		{"info", func() { Info("collection pass finished") }, "info", "", nil},
		{"infof", func() { Infof("targets removed", map[string]any{"targets": 2}) }, "info", "targets", float64(2)},
		{"warn", func() { Warn("cache size over threshold") }, "warn", "", nil},
		{"warnf", func() { Warnf("pass skipped", map[string]any{"reason": "disabled"}) }, "warn", "reason", "disabled"},
		{"error", func() { Error("collection pass aborted") }, "error", "", nil},
		{"errorf", func() { Errorf("collection pass aborted", map[string]any{"phase": "remove targets"}) }, "error", "phase", "remove targets"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			swapGlobal(t, New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf}))

			tc.log()

			var entry Entry
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("failed to parse JSON: %v", err)
			}
			if entry.Level != tc.level {
				t.Errorf("level = %q, want %q", entry.Level, tc.level)
			}
			if tc.field != "" && entry.Fields[tc.field] != tc.want {
				t.Errorf("fields[%s] = %v, want %v", tc.field, entry.Fields[tc.field], tc.want)
			}
		})
	}
}

func TestGlobalCarriesRunID(t *testing.T) {
	// A run-scoped child installed as the global logger stamps every
	// helper's entry with the run ID.
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})
	swapGlobal(t, base.WithRun("run-7f3a"))

	Infof("collection pass finished", map[string]any{"documents": 4})

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry.RunID != "run-7f3a" {
		t.Errorf("runId = %q, want run-7f3a", entry.RunID)
	}
	if entry.Fields["documents"] != float64(4) {
		t.Errorf("fields[documents] = %v, want 4", entry.Fields["documents"])
	}
}

func TestGlobalRunIDClearedOnRestore(t *testing.T) {
	// Restoring the base logger after a run drops the run ID from
	// subsequent entries.
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})
	swapGlobal(t, base)

	SetGlobal(base.WithRun("run-1"))
	SetGlobal(base)
	Info("between runs")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry.RunID != "" {
		t.Errorf("runId = %q, want empty", entry.RunID)
	}
}

func TestGlobalRespectsLevelFloor(t *testing.T) {
	var buf bytes.Buffer
	swapGlobal(t, New(Config{Level: LevelWarn, Format: FormatJSON, Output: &buf}))

	Debug("suppressed")
	Info("suppressed")
	Warn("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d entries, want 1", len(lines))
	}
	var entry Entry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if entry.Message != "kept" {
		t.Errorf("message = %q, want kept", entry.Message)
	}
}

func TestGlobalLoggerInitialized(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() should never return nil")
	}
}
