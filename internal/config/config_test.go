package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefaultValidates(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Fatalf("default config has validation errors: %v", errs)
	}
}

func TestValidateClampsStreamFPS(t *testing.T) {
	cfg := Default()
	cfg.StreamFPS = 0
	if errs := cfg.Validate(); len(errs) == 0 {
		t.Fatal("zero stream_fps should warn")
	}
	if cfg.StreamFPS != 1 {
		t.Fatalf("StreamFPS = %d, want 1 (clamped)", cfg.StreamFPS)
	}

	cfg.StreamFPS = 1000
	cfg.Validate()
	if cfg.StreamFPS != 240 {
		t.Fatalf("StreamFPS = %d, want 240 (clamped)", cfg.StreamFPS)
	}
}

func TestValidateClampsDimensions(t *testing.T) {
	cfg := Default()
	cfg.MaxWidth = -100
	cfg.MaxHeight = 100000
	cfg.Validate()
	if cfg.MaxWidth != 0 || cfg.MaxHeight != maxDimension {
		t.Fatalf("clamped dimensions = %dx%d", cfg.MaxWidth, cfg.MaxHeight)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "no-port"
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"
	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), errs)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capturebridge.yaml")
	content := []byte("listen_addr: 127.0.0.1:9000\nstream_fps: 60\nvrr_enabled: true\n")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" || cfg.StreamFPS != 60 || !cfg.VrrEnabled {
		t.Fatalf("loaded config = %+v", cfg)
	}
	// Unset fields keep defaults.
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want default", cfg.LogLevel)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "capturebridge.yaml")
	written, err := WriteDefault(path)
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if written != path {
		t.Fatalf("written path = %q", written)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	def := Default()
	if cfg.ListenAddr != def.ListenAddr || cfg.StreamFPS != def.StreamFPS || cfg.LogFormat != def.LogFormat {
		t.Fatalf("round-tripped config = %+v, want %+v", cfg, def)
	}
}
