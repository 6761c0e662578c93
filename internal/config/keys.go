package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "GPUSCOUT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GPUSCOUT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "registry.path", typ: kString, env: "GPUSCOUT_REGISTRY_PATH",
		apply:   func(cfg *Config, v any) { cfg.Registry.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Registry.Path },
	},
	{
		key: "resolver.fuzzy_threshold", typ: kFloat, env: "GPUSCOUT_RESOLVER_FUZZY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Resolver.FuzzyThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Resolver.FuzzyThreshold },
	},
	{
		key: "resolver.validity_threshold", typ: kFloat, env: "GPUSCOUT_RESOLVER_VALIDITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Resolver.ValidityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Resolver.ValidityThreshold },
	},
	{
		key: "resolver.classifier_path", typ: kString, env: "GPUSCOUT_RESOLVER_CLASSIFIER_PATH",
		apply:   func(cfg *Config, v any) { cfg.Resolver.ClassifierPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.ClassifierPath },
	},
	{
		key: "resolver.heuristics_path", typ: kString, env: "GPUSCOUT_RESOLVER_HEURISTICS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Resolver.HeuristicsPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.HeuristicsPath },
	},
	{
		key: "resolver.scoring_path", typ: kString, env: "GPUSCOUT_RESOLVER_SCORING_PATH",
		apply:   func(cfg *Config, v any) { cfg.Resolver.ScoringPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.ScoringPath },
	},
	{
		key: "dedup.similarity_threshold", typ: kFloat, env: "GPUSCOUT_DEDUP_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Dedup.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Dedup.SimilarityThreshold },
	},
	{
		key: "dedup.price_epsilon", typ: kFloat, env: "GPUSCOUT_DEDUP_PRICE_EPSILON",
		apply:   func(cfg *Config, v any) { cfg.Dedup.PriceEpsilon = v.(float64) },
		extract: func(cfg Config) any { return cfg.Dedup.PriceEpsilon },
	},
	{
		key: "pipeline.parallelism", typ: kInt, env: "GPUSCOUT_PIPELINE_PARALLELISM",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Parallelism = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.Parallelism },
	},
	{
		key: "log.level", typ: kString, env: "GPUSCOUT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if v, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring invalid %s=%q: %v\n", s.env, raw, err)
			}
		case kFloat:
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] ignoring invalid %s=%q: %v\n", s.env, raw, err)
			}
		}
	}
}
