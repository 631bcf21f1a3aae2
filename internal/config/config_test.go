package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("address = %q, want :8080", cfg.Server.Address)
	}
	if cfg.Storage.Path != "beacon.db" {
		t.Errorf("storage path = %q, want beacon.db", cfg.Storage.Path)
	}
	if cfg.Scripts.Dir != "scripts" {
		t.Errorf("scripts dir = %q, want scripts", cfg.Scripts.Dir)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
storage:
  path: /var/lib/beacon/state.db
scripts:
  dir: /etc/beacon/checks
logging:
  level: debug
  file: /var/log/beacon.log
alerts:
  webhook:
    url: https://hooks.example.com/T123
    cooldown: 90s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Storage.Path != "/var/lib/beacon/state.db" {
		t.Errorf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.Scripts.Dir != "/etc/beacon/checks" {
		t.Errorf("scripts dir = %q", cfg.Scripts.Dir)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.File != "/var/log/beacon.log" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Alerts.Webhook.URL != "https://hooks.example.com/T123" {
		t.Errorf("webhook url = %q", cfg.Alerts.Webhook.URL)
	}
	if cfg.Alerts.Webhook.Cooldown.Duration != 90*time.Second {
		t.Errorf("cooldown = %s, want 90s", cfg.Alerts.Webhook.Cooldown.Duration)
	}
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9999"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Storage.Path != "beacon.db" {
		t.Errorf("storage path = %q, want the default", cfg.Storage.Path)
	}
}

func TestLoadWebhookCooldownDefault(t *testing.T) {
	path := writeConfig(t, `
alerts:
  webhook:
    url: https://hooks.example.com/T123
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerts.Webhook.Cooldown.Duration != 5*time.Minute {
		t.Errorf("cooldown = %s, want the 5m default", cfg.Alerts.Webhook.Cooldown.Duration)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
alerts:
  webhook:
    url: https://hooks.example.com/T123
    cooldown: soon
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}
