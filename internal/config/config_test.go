package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_appliesDefaults(t *testing.T) {
	path := writeConfig(t, "vault:\n  path: /tmp/vault\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8800 {
		t.Errorf("port = %d, want 8800", cfg.Server.Port)
	}
	if cfg.Indexing.ChunkSize != 1000 || cfg.Indexing.ChunkOverlap != 200 {
		t.Errorf("chunking defaults = %d/%d", cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	}
	if cfg.Indexing.Workers != 1 {
		t.Errorf("workers = %d, want 1", cfg.Indexing.Workers)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Dimensions != 768 {
		t.Errorf("embedding defaults = %s/%d", cfg.Embedding.Provider, cfg.Embedding.Dimensions)
	}
	if len(cfg.Vault.Extensions) == 0 {
		t.Error("extensions default missing")
	}
	if !cfg.Vault.IndexOnStartOrDefault() {
		t.Error("index_on_start should default to true")
	}
}

func TestLoad_overridesKeepUserValues(t *testing.T) {
	path := writeConfig(t, `
vault:
  path: /tmp/vault
  index_on_start: false
indexing:
  chunk_size: 500
  chunk_overlap: 50
  workers: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Indexing.ChunkSize != 500 || cfg.Indexing.ChunkOverlap != 50 || cfg.Indexing.Workers != 4 {
		t.Errorf("indexing = %+v", cfg.Indexing)
	}
	if cfg.Vault.IndexOnStartOrDefault() {
		t.Error("index_on_start override lost")
	}
}

func TestLoad_overlapNotBelowSizeFails(t *testing.T) {
	path := writeConfig(t, `
vault:
  path: /tmp/vault
indexing:
  chunk_size: 100
  chunk_overlap: 100
`)
	_, err := Load(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if verr.Field != "indexing.chunk_overlap" {
		t.Errorf("field = %q", verr.Field)
	}
}

func TestLoad_unknownProviderFails(t *testing.T) {
	path := writeConfig(t, `
vault:
  path: /tmp/vault
embedding:
  provider: bert-local
`)
	_, err := Load(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestLoad_missingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_relativeStoragePathsResolved(t *testing.T) {
	path := writeConfig(t, `
vault:
  path: /tmp/vault
storage:
  database_path: ./data/chunks.db
  state_path: ./data/state.json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	configDir := filepath.Dir(path)
	if cfg.Storage.DatabasePath != filepath.Join(configDir, "data/chunks.db") {
		t.Errorf("database_path = %q", cfg.Storage.DatabasePath)
	}
	if !filepath.IsAbs(cfg.Storage.StatePath) {
		t.Errorf("state_path not absolute: %q", cfg.Storage.StatePath)
	}
}

func TestExtensionAllowed(t *testing.T) {
	v := &VaultConfig{Extensions: []string{".md", ".txt"}}
	tests := []struct {
		path string
		want bool
	}{
		{"/vault/a.md", true},
		{"/vault/a.MD", true},
		{"/vault/a.txt", true},
		{"/vault/a.pdf", false},
		{"/vault/noext", false},
	}
	for _, tt := range tests {
		if got := v.ExtensionAllowed(tt.path); got != tt.want {
			t.Errorf("ExtensionAllowed(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestExcluded(t *testing.T) {
	v := &VaultConfig{Exclude: []string{".obsidian", ".trash", "/vault/private"}}
	tests := []struct {
		path string
		want bool
	}{
		{"/vault/.obsidian/workspace.json", true},
		{"/vault/notes/.trash/old.md", true},
		{"/vault/private/secret.md", true},
		{"/vault/notes/idea.md", false},
		{"/vault/obsidian-tips.md", false},
	}
	for _, tt := range tests {
		if got := v.Excluded(tt.path); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
