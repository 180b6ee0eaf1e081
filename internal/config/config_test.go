package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  addr: ":9090"
  read_timeout: 10s
providers:
  - name: openai
    provider_type: openai
    base_url: https://api.openai.com/v1
    api_key: sk-test
    models: [gpt-4o]
models:
  - name: gpt-4o
    mappings:
      - provider: openai
        priority: 1
`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", cfg.Server.Addr, ":9090")
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("providers count = %d, want 1", len(cfg.Providers))
	}
	if cfg.Providers[0].Name != "openai" {
		t.Errorf("provider name = %q, want %q", cfg.Providers[0].Name, "openai")
	}
	mappings := cfg.ToMappings()
	if len(mappings) != 1 || mappings[0].Provider != "openai" {
		t.Fatalf("unexpected mappings: %+v", mappings)
	}
}

func TestExpandEnvSubstitutesVar(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	out, err := expandEnv([]byte("key: $TEST_API_KEY"))
	if err != nil {
		t.Fatalf("expandEnv: %v", err)
	}
	if string(out) != "key: sk-secret-123" {
		t.Errorf("expandEnv = %q, want %q", string(out), "key: sk-secret-123")
	}
}

func TestExpandEnvMissingVarIsFatal(t *testing.T) {
	t.Parallel()

	_, err := expandEnv([]byte("key: $DEFINITELY_NOT_SET_VAR"))
	if err == nil {
		t.Fatal("expected error for unset variable, got nil")
	}
}

func TestLoadMissingVarFailsLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: $NOT_SET_EITHER\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to fail on unset environment variable")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	yaml := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
}
