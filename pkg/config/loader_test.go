package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
interfaces:
  - name: eth0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Fatalf("logging.format = %q, want text", cfg.Logging.Format)
	}
	if cfg.DUID.Type != "llt" {
		t.Fatalf("duid.type = %q, want llt", cfg.DUID.Type)
	}
	if cfg.Interfaces[0].Profile.Mode != ModeManaged {
		t.Fatalf("interfaces[0].profile.mode = %q, want managed", cfg.Interfaces[0].Profile.Mode)
	}
}

func TestLoadRejectsNoInterfaces(t *testing.T) {
	path := writeTestConfig(t, "interfaces: []\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty interfaces list")
	}
}

func TestLoadRejectsDuplicateInterface(t *testing.T) {
	path := writeTestConfig(t, `
interfaces:
  - name: eth0
  - name: eth0
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate interface name")
	}
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	path := writeTestConfig(t, `
interfaces:
  - name: eth0
    profile:
      mode: bogus
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown profile mode")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")

	cfg := &Config{Interfaces: []Interface{{Name: "eth0"}}}
	cfg.applyDefaults()

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Interfaces[0].Name != "eth0" {
		t.Fatalf("reloaded interface name = %q, want eth0", reloaded.Interfaces[0].Name)
	}
}
