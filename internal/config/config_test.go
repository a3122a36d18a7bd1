package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/terracrypt/chatsync/internal/codec"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Profile = "work"
	cfg.Send.Attempts = 3
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Profile != "work" {
		t.Errorf("Profile = %q, want %q", loaded.Profile, "work")
	}
	if loaded.Send.Attempts != 3 {
		t.Errorf("Send.Attempts = %d, want 3", loaded.Send.Attempts)
	}
	if loaded.Push.HeartbeatInterval.Duration != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", loaded.Push.HeartbeatInterval.Duration)
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Send.Attempts != Default().Send.Attempts {
		t.Errorf("Send.Attempts = %d, want default %d", cfg.Send.Attempts, Default().Send.Attempts)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.toml"); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Server.BaseURL = "" }},
		{"empty push url", func(c *Config) { c.Push.URL = "" }},
		{"zero attempts", func(c *Config) { c.Send.Attempts = 0 }},
		{"multiplier below one", func(c *Config) { c.Send.Multiplier = 0.5 }},
		{"zero page size", func(c *Config) { c.Sync.PageSize = 0 }},
		{"unknown codec", func(c *Config) { c.Codec.Scheme = "rot13" }},
		{"xor without key", func(c *Config) { c.Codec.Key = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

// A fresh profile starts from Default() with no config.toml on disk,
// so the defaults must both validate and yield a working codec.
func TestDefaultIsRunnable(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	c, err := codec.NewXOR(cfg.Codec.Key)
	if err != nil {
		t.Fatalf("NewXOR(%q) error = %v", cfg.Codec.Key, err)
	}
	if got := c.Decode(c.Encode("hello")); got != "hello" {
		t.Errorf("round trip = %q, want %q", got, "hello")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
