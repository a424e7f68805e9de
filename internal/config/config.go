// Package config provides configuration loading and structs for the Choubo
// server.
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
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the metadata database, blob root, and
// retrieval index.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	BlobRoot     string `yaml:"blob_root"`
	IndexPath    string `yaml:"index_path"`
}

// AuthConfig holds token settings. The signing secret comes from the
// JWT_SECRET environment variable, never from the file.
type AuthConfig struct {
	TokenTTLMinutes    int `yaml:"token_ttl_minutes"`
	DownloadTTLMinutes int `yaml:"download_ttl_minutes"`
}

// LLMConfig selects and tunes the model provider. API keys come from the
// environment (ANTHROPIC_API_KEY / OPENAI_API_KEY), never from the file.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// RetrievalConfig bounds how much auxiliary context rides into the prompt.
type RetrievalConfig struct {
	SimilarMessages    int `yaml:"similar_messages"`
	LedgerCodes        int `yaml:"ledger_codes"`
	RecentTransactions int `yaml:"recent_transactions"`
}

// Load reads and parses the config file at path, expands paths, and applies
// defaults. Returns an error if the file cannot be read or parsed.
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
	cfg.Storage.BlobRoot = expandPath(cfg.Storage.BlobRoot, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are
// relative to configDir; other relative paths are relative to the home
// directory.
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
