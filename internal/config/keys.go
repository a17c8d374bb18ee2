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
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "REVSENT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "REVSENT_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "REVSENT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "data.path", typ: kString, env: "REVSENT_DATA_PATH",
		apply:   func(cfg *Config, v any) { cfg.Data.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.Path },
	},
	{
		key: "data.max_lines", typ: kInt, env: "REVSENT_DATA_MAX_LINES",
		apply:   func(cfg *Config, v any) { cfg.Data.MaxLines = v.(int) },
		extract: func(cfg Config) any { return cfg.Data.MaxLines },
	},
	{
		key: "model.path", typ: kString, env: "REVSENT_MODEL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Model.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Path },
	},
	{
		key: "model.key", typ: kString, env: "REVSENT_MODEL_KEY",
		apply:   func(cfg *Config, v any) { cfg.Model.Key = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Key },
	},
	{
		key: "model.publish", typ: kBool, env: "REVSENT_MODEL_PUBLISH",
		apply:   func(cfg *Config, v any) { cfg.Model.Publish = v.(bool) },
		extract: func(cfg Config) any { return cfg.Model.Publish },
	},
	{
		key: "train.max_features", typ: kInt, env: "REVSENT_TRAIN_MAX_FEATURES",
		apply:   func(cfg *Config, v any) { cfg.Train.MaxFeatures = v.(int) },
		extract: func(cfg Config) any { return cfg.Train.MaxFeatures },
	},
	{
		key: "train.max_iter", typ: kInt, env: "REVSENT_TRAIN_MAX_ITER",
		apply:   func(cfg *Config, v any) { cfg.Train.MaxIter = v.(int) },
		extract: func(cfg Config) any { return cfg.Train.MaxIter },
	},
	{
		key: "train.test_ratio", typ: kFloat, env: "REVSENT_TRAIN_TEST_RATIO",
		apply:   func(cfg *Config, v any) { cfg.Train.TestRatio = v.(float64) },
		extract: func(cfg Config) any { return cfg.Train.TestRatio },
	},
	{
		key: "train.seed", typ: kInt, env: "REVSENT_TRAIN_SEED",
		apply:   func(cfg *Config, v any) { cfg.Train.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Train.Seed },
	},
	{
		key: "train.c", typ: kFloat, env: "REVSENT_TRAIN_C",
		apply:   func(cfg *Config, v any) { cfg.Train.C = v.(float64) },
		extract: func(cfg Config) any { return cfg.Train.C },
	},
	{
		key: "rank.top_n", typ: kInt, env: "REVSENT_RANK_TOP_N",
		apply:   func(cfg *Config, v any) { cfg.Rank.TopN = v.(int) },
		extract: func(cfg Config) any { return cfg.Rank.TopN },
	},
	{
		key: "rank.gap_m", typ: kInt, env: "REVSENT_RANK_GAP_M",
		apply:   func(cfg *Config, v any) { cfg.Rank.GapM = v.(int) },
		extract: func(cfg Config) any { return cfg.Rank.GapM },
	},
	{
		key: "output.dir", typ: kString, env: "REVSENT_OUTPUT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Output.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Output.Dir },
	},
	{
		key: "scoring.workers", typ: kInt, env: "REVSENT_SCORING_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Scoring.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Scoring.Workers },
	},
	{
		key: "schedule.rebuild", typ: kString, env: "REVSENT_SCHEDULE_REBUILD",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Rebuild = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Rebuild },
	},
	{
		key: "log.level", typ: kString, env: "REVSENT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
