// Package config loads gpuscout configuration from a JSON file backend at
// $XDG_CONFIG_HOME/gpuscout/config.json with GPUSCOUT_* environment
// overrides.
package config

import (
	"fmt"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Registry RegistryConfig
	Resolver ResolverConfig
	Dedup    DedupConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type RegistryConfig struct {
	// Path is the canonical device table (YAML). A missing or malformed
	// file is fatal at startup.
	Path string
}

type ResolverConfig struct {
	FuzzyThreshold    float64
	ValidityThreshold float64
	// ClassifierPath is the optional model artifact; empty or missing
	// degrades to lexical validity inference.
	ClassifierPath string
	// HeuristicsPath and ScoringPath are optional YAML threshold/weight
	// documents; missing files mean documented defaults.
	HeuristicsPath string
	ScoringPath    string
}

type DedupConfig struct {
	SimilarityThreshold float64
	PriceEpsilon        float64
}

type PipelineConfig struct {
	Parallelism int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := DefaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4800,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Registry: RegistryConfig{
			Path: filepath.Join(filepath.Dir(configFilePath()), "devices.yaml"),
		},
		Resolver: ResolverConfig{
			FuzzyThreshold:    0.7,
			ValidityThreshold: 0.2,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.85,
			PriceEpsilon:        0.02,
		},
		Pipeline: PipelineConfig{
			Parallelism: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend and applies
// GPUSCOUT_* environment overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Resolver.FuzzyThreshold <= 0 || cfg.Resolver.FuzzyThreshold > 1 {
		return fmt.Errorf("resolver.fuzzy_threshold must be in (0,1]")
	}
	if cfg.Resolver.ValidityThreshold <= 0 || cfg.Resolver.ValidityThreshold > 1 {
		return fmt.Errorf("resolver.validity_threshold must be in (0,1]")
	}
	if cfg.Dedup.SimilarityThreshold <= 0 || cfg.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0,1]")
	}
	if cfg.Dedup.PriceEpsilon < 0 || cfg.Dedup.PriceEpsilon >= 1 {
		return fmt.Errorf("dedup.price_epsilon must be in [0,1)")
	}
	if cfg.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}
	return nil
}
