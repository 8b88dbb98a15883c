package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.ServerURL = "https://api.fed.example"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.ServerURL != "https://api.fed.example" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte(""), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Heartbeat() != 30*time.Second {
		t.Errorf("Heartbeat() = %v, want 30s", cfg.Heartbeat())
	}
	if cfg.Recently() != 5*time.Minute {
		t.Errorf("Recently() = %v, want 5m", cfg.Recently())
	}
	if cfg.Away() != 60*time.Minute {
		t.Errorf("Away() = %v, want 60m", cfg.Away())
	}
}

func TestDurationRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.HeartbeatInterval = duration(10 * time.Second)
	cfg.PresenceRecently = duration(90 * time.Second)
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Heartbeat() != 10*time.Second {
		t.Errorf("Heartbeat() = %v, want 10s", loaded.Heartbeat())
	}
	if loaded.Recently() != 90*time.Second {
		t.Errorf("Recently() = %v, want 90s", loaded.Recently())
	}
}

func TestEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	t.Setenv("COURTLINE_TOKEN", "env-token")
	t.Setenv("COURTLINE_SERVER_URL", "https://override.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "env-token" {
		t.Errorf("Token = %q, want env-token", cfg.Token)
	}
	if cfg.ServerURL != "https://override.example" {
		t.Errorf("ServerURL = %q, want override", cfg.ServerURL)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
