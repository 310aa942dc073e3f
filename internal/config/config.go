// Package config loads hlldb-server's YAML configuration file. Flags parsed
// by the caller (see cmd/hlldb-server) override the values loaded here.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of the server's YAML configuration file.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Sketch SketchConfig `yaml:"sketch"`
	AOF    AOFConfig    `yaml:"aof"`
	Ingest IngestConfig `yaml:"ingest"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// SketchConfig holds the tunables of the HyperLogLog sketches the server
// manages, one per (table, column) pair.
type SketchConfig struct {
	// HLLPrecision documents the register-index bit width the sketches use.
	// It is informational only: internal/hll.Precision is a wire-format
	// constant and is not actually configurable, so a value other than 14
	// here is rejected at load time rather than silently ignored.
	HLLPrecision int `yaml:"hll_precision"`
}

// AOFConfig holds durability settings for the column store's append log.
type AOFConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	SyncEach bool   `yaml:"sync_each_write"`
}

// IngestConfig holds settings for the optional PostgreSQL logical
// replication feed.
type IngestConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	SlotName    string `yaml:"slot_name"`
	Publication string `yaml:"publication"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:      ":8686",
			ShutdownTimeout: "5s",
		},
		Sketch: SketchConfig{
			HLLPrecision: 14,
		},
		AOF: AOFConfig{
			Enabled: true,
			Path:    "hlldb.aof",
		},
	}
}

// Load reads and parses a YAML configuration file at path, starting from
// Default() so a partial file only needs to specify what it overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if cfg.Sketch.HLLPrecision != 14 {
		return Config{}, fmt.Errorf("config: sketch.hll_precision must be 14, got %d", cfg.Sketch.HLLPrecision)
	}

	return cfg, nil
}
