package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "info")

	lg.Info("sync pass started", Fields{"total": 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output, got %q: %v", buf.String(), err)
	}

	if entry["msg"] != "sync pass started" {
		t.Errorf("Expected message field, got %v", entry["msg"])
	}

	if entry["total"] != float64(3) {
		t.Errorf("Expected total field 3, got %v", entry["total"])
	}
}

func TestLoggerErrorIncludesError(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "info")

	lg.Error("replay failed", errors.New("connection refused"), Fields{"mutation_id": "m1"})

	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("Expected error text in output, got %q", buf.String())
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "warn")

	lg.Info("should be filtered", nil)
	if buf.Len() != 0 {
		t.Errorf("Expected info below warn level to be dropped, got %q", buf.String())
	}

	lg.Warn("should appear", nil)
	if buf.Len() == 0 {
		t.Error("Expected warn entry to be written")
	}
}
