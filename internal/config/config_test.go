package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Adapter != "whatsapp" {
		t.Errorf("adapter = %q", cfg.Adapter)
	}
	if cfg.LoginTimeoutD() != 2*time.Minute {
		t.Errorf("login timeout = %s", cfg.LoginTimeoutD())
	}
	if cfg.ReconnectFloorD() != 5*time.Second || cfg.ReconnectCeilingD() != 5*time.Minute {
		t.Errorf("backoff bounds = %s / %s", cfg.ReconnectFloorD(), cfg.ReconnectCeilingD())
	}
	if cfg.RetentionD() != 180*24*time.Hour {
		t.Errorf("retention = %s", cfg.RetentionD())
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
component_domain = "legacy.example.org"
reconnect_floor = "1s"
admins = ["admin@example.org"]

[attachments]
listen = "127.0.0.1:9000"
base_url = "https://media.example.org"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ComponentDomain != "legacy.example.org" {
		t.Errorf("domain = %q", cfg.ComponentDomain)
	}
	if cfg.ReconnectFloorD() != time.Second {
		t.Errorf("floor = %s", cfg.ReconnectFloorD())
	}
	// Untouched keys keep defaults.
	if cfg.ReconnectCeilingD() != 5*time.Minute {
		t.Errorf("ceiling = %s", cfg.ReconnectCeilingD())
	}
	if len(cfg.Admins) != 1 || cfg.Admins[0] != "admin@example.org" {
		t.Errorf("admins = %v", cfg.Admins)
	}
	if cfg.Attachments.BaseURL != "https://media.example.org" {
		t.Errorf("base url = %q", cfg.Attachments.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.ComponentDomain = "legacy.example.org"
	cfg.ReconnectCeiling = Duration{90 * time.Second}

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.ComponentDomain != "legacy.example.org" || got.ReconnectCeilingD() != 90*time.Second {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing domain", func(c *Config) { c.ComponentDomain = "" }, false},
		{"missing adapter", func(c *Config) { c.Adapter = "" }, false},
		{"ceiling below floor", func(c *Config) { c.ReconnectCeiling = Duration{time.Second} }, false},
		{"zero login timeout", func(c *Config) { c.LoginTimeout = Duration{} }, false},
		{"base url without listener", func(c *Config) {
			c.Attachments.BaseURL = "https://media.example.org"
			c.Attachments.Listen = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.ComponentDomain = "legacy.example.org"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/xgw"

	if got := cfg.StoreFile(); got != "/var/lib/xgw/gateway.db" {
		t.Errorf("StoreFile() = %q", got)
	}
	cfg.StorePath = "/elsewhere/gw.db"
	if got := cfg.StoreFile(); got != "/elsewhere/gw.db" {
		t.Errorf("StoreFile() override = %q", got)
	}
	if got := cfg.AdapterDir("alice@example.org"); got != "/var/lib/xgw/adapters/alice@example.org" {
		t.Errorf("AdapterDir() = %q", got)
	}
	if got := cfg.AttachmentDir(); got != "/var/lib/xgw/attachments" {
		t.Errorf("AttachmentDir() = %q", got)
	}
}
