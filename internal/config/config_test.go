package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calpilot.json")
	raw := `{"server":{"address":":9000"},"llm":{"provider":"openai"}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("explicit value overwritten: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Queue.Driver != "memory" || cfg.Session.Driver != "memory" {
		t.Fatalf("driver defaults missing: %+v", cfg)
	}
	if cfg.Session.TTLSeconds != 1800 || cfg.Session.MaxTurns != 20 {
		t.Fatalf("session defaults missing: %+v", cfg.Session)
	}
	if cfg.Assistant.MinConfidence != 0.55 {
		t.Fatalf("assistant defaults missing: %+v", cfg.Assistant)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("data dir not anchored to config dir: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calpilot.json")
	raw := `{"llm":{"gemini":{"api_key_env":"TEST_GEMINI_KEY"}},"auth":{"mode":"jwt","jwt_secret_env":"TEST_JWT_SECRET"}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_GEMINI_KEY", "gk-123")
	t.Setenv("TEST_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Gemini.APIKey != "gk-123" {
		t.Fatalf("gemini key not read from env: %q", cfg.LLM.Gemini.APIKey)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Fatalf("jwt secret not read from env: %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
