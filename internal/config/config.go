// Package config provides configuration loading and structs for the kioku daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Vault     VaultConfig     `yaml:"vault"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Search    SearchConfig    `yaml:"search"`
}

// VaultConfig describes the notes folder being indexed.
type VaultConfig struct {
	Path         string   `yaml:"path"`
	Extensions   []string `yaml:"extensions"`
	Exclude      []string `yaml:"exclude"`
	IndexOnStart *bool    `yaml:"index_on_start"`
}

// IndexOnStartOrDefault returns whether to index the whole vault at startup;
// defaults to true when unset.
func (v *VaultConfig) IndexOnStartOrDefault() bool {
	if v.IndexOnStart != nil {
		return *v.IndexOnStart
	}
	return true
}

// ExtensionAllowed reports whether path has one of the configured note
// extensions. The comparison is case-insensitive.
func (v *VaultConfig) ExtensionAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range v.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Excluded reports whether path falls under any configured exclusion prefix.
// Absolute prefixes match the start of the path; bare names match any path
// segment (".obsidian" excludes vault/.obsidian/... anywhere).
func (v *VaultConfig) Excluded(path string) bool {
	sep := string(filepath.Separator)
	for _, p := range v.Exclude {
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			if strings.HasPrefix(path, filepath.Clean(p)) {
				return true
			}
			continue
		}
		if strings.Contains(path, sep+p+sep) || strings.HasSuffix(path, sep+p) {
			return true
		}
	}
	return false
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the vector store and the change-detector state.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	StatePath    string `yaml:"state_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "ollama", "openai", or "mock"
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// IndexingConfig holds chunking and sync scheduling settings.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`    // characters per chunk
	ChunkOverlap int `yaml:"chunk_overlap"` // characters shared between consecutive chunks
	DebounceMS   int `yaml:"debounce_ms"`   // quiet period before a changed file is re-synced
	Workers      int `yaml:"workers"`       // bounded sync worker pool (1 = serialized store writes)
}

// SearchConfig holds query surface settings.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// ValidationError reports a configuration value that must fail fast at startup.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks invariants that must hold before any component starts.
func (c *Config) Validate() error {
	if c.Indexing.ChunkSize <= 0 {
		return &ValidationError{Field: "indexing.chunk_size", Reason: "must be positive"}
	}
	if c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return &ValidationError{
			Field:  "indexing.chunk_overlap",
			Reason: fmt.Sprintf("overlap (%d) must be smaller than chunk_size (%d)", c.Indexing.ChunkOverlap, c.Indexing.ChunkSize),
		}
	}
	if c.Indexing.ChunkOverlap < 0 {
		return &ValidationError{Field: "indexing.chunk_overlap", Reason: "must not be negative"}
	}
	if c.Indexing.Workers < 1 {
		return &ValidationError{Field: "indexing.workers", Reason: "must be at least 1"}
	}
	if c.Embedding.Dimensions <= 0 {
		return &ValidationError{Field: "embedding.dimensions", Reason: "must be positive"}
	}
	switch c.Embedding.Provider {
	case "ollama", "openai", "mock":
	default:
		return &ValidationError{Field: "embedding.provider", Reason: fmt.Sprintf("unknown provider %q", c.Embedding.Provider)}
	}
	return nil
}

// Load reads and parses the config file at path, expands paths, applies defaults,
// and validates. Returns an error if the file cannot be read or parsed, or if a
// value fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.StatePath = expandPath(cfg.Storage.StatePath, configDir)
	if cfg.Vault.Path != "" {
		cfg.Vault.Path = expandPath(cfg.Vault.Path, configDir)
	}
	for i, p := range cfg.Vault.Exclude {
		if strings.HasPrefix(p, "./") {
			cfg.Vault.Exclude[i] = expandPath(p, configDir)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
