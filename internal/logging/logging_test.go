package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestInitSwitchesFormats(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)

	L("capture").Info("session opened", "hwnd", "0x1234")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("json format did not produce JSON: %v (%s)", err, buf.String())
	}
	if record["component"] != "capture" || record["hwnd"] != "0x1234" {
		t.Fatalf("missing fields in record: %v", record)
	}

	// Re-Init back to text on the same process must not panic and must
	// take effect immediately.
	buf.Reset()
	Init("text", "info", &buf)

	L("capture").Info("session opened")
	if !strings.Contains(buf.String(), "msg=\"session opened\"") {
		t.Fatalf("expected text output after re-Init, got: %s", buf.String())
	}
}

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("server")

	var buf bytes.Buffer
	Init("text", "debug", &buf)

	logger.Debug("stream opened", "window", "0x10")

	out := buf.String()
	if !strings.Contains(out, "msg=\"stream opened\"") {
		t.Fatalf("pre-Init logger ignored configured handler: %s", out)
	}
	if !strings.Contains(out, "component=server") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "window=0x10") {
		t.Fatalf("expected window field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("capture")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestDerivedLoggerFollowsHandlerSwitch(t *testing.T) {
	logger := L("capture").With("hwnd", "0xBEEF").WithGroup("frame")

	var buf bytes.Buffer
	Init("text", "debug", &buf)

	logger.Debug("published", "count", 7)

	out := buf.String()
	if !strings.Contains(out, "component=capture") || !strings.Contains(out, "hwnd=0xBEEF") {
		t.Fatalf("derived attrs lost across handler switch: %s", out)
	}
	if !strings.Contains(out, "frame.count=7") {
		t.Fatalf("group not applied to record attrs: %s", out)
	}
}
