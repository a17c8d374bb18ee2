// Package config resolves revsent settings from defaults, a YAML file and
// REVSENT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Data     DataConfig
	Model    ModelConfig
	Train    TrainConfig
	Rank     RankConfig
	Output   OutputConfig
	Scoring  ScoringConfig
	Schedule ScheduleConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type DataConfig struct {
	Path     string
	MaxLines int
}

type ModelConfig struct {
	Path string
	Key  string
	// Publish stores each trained artifact under Key as well as at Path.
	Publish bool
}

type TrainConfig struct {
	MaxFeatures int
	MaxIter     int
	TestRatio   float64
	Seed        int
	C           float64
}

type RankConfig struct {
	TopN int
	GapM int
}

type OutputConfig struct {
	Dir string
}

type ScoringConfig struct {
	Workers int
}

type ScheduleConfig struct {
	// Rebuild is a 5-field cron expression; empty disables scheduled rebuilds.
	Rebuild string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 5000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Data: DataConfig{
			Path:     "Toys_and_Games_5.json",
			MaxLines: 50000,
		},
		Model: ModelConfig{
			Path: "toy_sentiment_model.json.gz",
			Key:  "models/toy_sentiment_model",
		},
		Train: TrainConfig{
			MaxFeatures: 20000,
			MaxIter:     1000,
			TestRatio:   0.2,
			Seed:        42,
			C:           1.0,
		},
		Rank:    RankConfig{TopN: 10, GapM: 15},
		Output:  OutputConfig{Dir: "."},
		Scoring: ScoringConfig{Workers: 4},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/revsent/config.yaml and REVSENT_* environment variables,
// then validates it. Secrets are read from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d is out of range", c.Server.Port)
	check(c.Data.MaxLines >= 0, "data.max_lines must not be negative")
	check(c.Train.MaxFeatures > 0, "train.max_features must be positive")
	check(c.Train.MaxIter > 0, "train.max_iter must be positive")
	check(c.Train.TestRatio > 0 && c.Train.TestRatio < 1, "train.test_ratio %v must be in (0, 1)", c.Train.TestRatio)
	check(c.Train.Seed >= 0, "train.seed must not be negative")
	check(c.Train.C > 0, "train.c must be positive")
	check(c.Rank.TopN > 0, "rank.top_n must be positive")
	check(c.Rank.GapM > 0, "rank.gap_m must be positive")
	check(c.Scoring.Workers > 0, "scoring.workers must be positive")

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}

	if spec := strings.TrimSpace(c.Schedule.Rebuild); spec != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("schedule.rebuild %q: %w", spec, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
