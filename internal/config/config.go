// Package config provides configuration management for the vodnik
// ingest core's server entrypoint. Adapted from its FlashDB ancestor:
// same JSON-file-plus-defaults shape, expanded with the WAL/object-
// store/catalog settings this domain needs.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/units"
)

// Config holds the vodnikd server configuration.
type Config struct {
	// Server settings
	Addr         string `json:"addr"`
	MetricsAddr  string `json:"metrics_addr"`
	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"`

	// WAL
	WALDir         string `json:"wal_dir"`
	WALMaxFileSize string `json:"wal_max_file_size"` // parsed via alecthomas/units, e.g. "64MiB"

	// Object store
	ObjectStoreRoot string `json:"object_store_root"`

	// Block meta catalog
	CatalogDSN string `json:"catalog_dsn"`

	// Ingest
	MaxConcurrentFlushes int `json:"max_concurrent_flushes"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:                 ":8428",
		MetricsAddr:          ":9428",
		LogLevel:             "info",
		LogFormat:            "logfmt",
		WALDir:               "data/wal",
		WALMaxFileSize:       "64MiB",
		ObjectStoreRoot:      "data/objects",
		CatalogDSN:           "file:data/catalog.db?mode=rwc&_journal=WAL",
		MaxConcurrentFlushes: 16,
	}
}

// Load loads configuration from a JSON file, falling back to defaults
// for any field the file omits and entirely to DefaultConfig if the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("config: failed to marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// WALMaxFileSizeBytes parses WALMaxFileSize into a byte count.
func (c *Config) WALMaxFileSizeBytes() (int64, error) {
	v, err := units.ParseBase2Bytes(c.WALMaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("config: invalid wal_max_file_size %q: %w", c.WALMaxFileSize, err)
	}
	return int64(v), nil
}
