package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenImplicitFileMissing(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing implicit config should fall back to defaults: %v", err)
	}
	if cfg.Tester.BasePort != 1081 || cfg.Tester.BatchSize != 20 {
		t.Errorf("unexpected defaults: %+v", cfg.Tester)
	}
	if cfg.Engine.StartupToken != "started" || cfg.Engine.StartupTimeout != 5*time.Second {
		t.Errorf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Output.Emit != EmitSource {
		t.Errorf("default emit = %q, want input entries published", cfg.Output.Emit)
	}
}

func TestLoadExplicitMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("explicit missing config must be an error")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
engine:
  binary: /opt/xray/xray
  startup_timeout: 2s
tester:
  base_port: 20000
  batch_size: 5
  batch_delay: 250ms
  inbound_protocol: socks
filter:
  blocked_prefixes: ["10."]
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Binary != "/opt/xray/xray" || cfg.Engine.StartupTimeout != 2*time.Second {
		t.Errorf("engine overrides not applied: %+v", cfg.Engine)
	}
	if cfg.Tester.BasePort != 20000 || cfg.Tester.BatchSize != 5 || cfg.Tester.BatchDelay != 250*time.Millisecond {
		t.Errorf("tester overrides not applied: %+v", cfg.Tester)
	}
	if cfg.Tester.InboundProtocol != "socks" {
		t.Errorf("inbound protocol = %q", cfg.Tester.InboundProtocol)
	}
	if len(cfg.Filter.BlockedPrefixes) != 1 || cfg.Filter.BlockedPrefixes[0] != "10." {
		t.Errorf("blocked prefixes = %v", cfg.Filter.BlockedPrefixes)
	}
	// untouched keys keep their defaults
	if len(cfg.Filter.BlockedDomains) != 1 || cfg.Filter.BlockedDomains[0] != "localhost" {
		t.Errorf("blocked domains = %v", cfg.Filter.BlockedDomains)
	}
	if cfg.Tester.ProbeURL != "http://ipinfo.io/json" {
		t.Errorf("probe url = %q", cfg.Tester.ProbeURL)
	}
}

func TestValidateRejectsUnknownInbound(t *testing.T) {
	cfg := Default()
	cfg.Tester.InboundProtocol = "vmess"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported inbound protocol")
	}
}

func TestValidateRejectsUnknownEmit(t *testing.T) {
	cfg := Default()
	cfg.Output.Emit = "everything"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown output.emit")
	}
}
