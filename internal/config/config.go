// Package config loads detector and logging settings from defaults, an
// optional TOML file and CBLOF_* environment variables.
package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/hed1ad/cblof/pkg/detectors"
	"github.com/hed1ad/cblof/pkg/distance"
)

// Detector algorithms selectable from configuration.
const (
	AlgorithmCBLOF   = "cblof"
	AlgorithmIForest = "iforest"
)

// Config is the full tool configuration.
type Config struct {
	Detector DetectorConfig `mapstructure:"detector"`
	Log      LogConfig      `mapstructure:"log"`
}

// DetectorConfig holds estimator hyperparameters.
type DetectorConfig struct {
	Algorithm     string  `mapstructure:"algorithm"`
	Alpha         float64 `mapstructure:"alpha"`
	Beta          float64 `mapstructure:"beta"`
	Contamination float64 `mapstructure:"contamination"`
	Clusters      int     `mapstructure:"clusters"`
	Workers       int     `mapstructure:"workers"`
	Seed          int64   `mapstructure:"seed"`
	Metric        string  `mapstructure:"metric"`
	Weights       bool    `mapstructure:"weights"`
	Trees         int     `mapstructure:"trees"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	shared := detectors.DefaultConfig()

	v.SetDefault("detector.algorithm", AlgorithmCBLOF)
	v.SetDefault("detector.alpha", 0.9)
	v.SetDefault("detector.beta", 5.0)
	v.SetDefault("detector.contamination", shared.Contamination)
	v.SetDefault("detector.clusters", 8)
	v.SetDefault("detector.workers", shared.Workers)
	v.SetDefault("detector.seed", shared.RandomSeed)
	v.SetDefault("detector.metric", distance.NameEuclidean)
	v.SetDefault("detector.weights", false)
	v.SetDefault("detector.trees", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// New returns a Viper instance with defaults and environment binding set up.
// When path is not empty the TOML file at path is read as well.
func New(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix("CBLOF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	return v, nil
}

// Load reads the configuration, see New.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates the configuration held by v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no detector can run with. Estimator ranges such
// as alpha and beta are still enforced at fit time.
func (c *Config) Validate() error {
	d := c.Detector
	switch d.Algorithm {
	case AlgorithmCBLOF, AlgorithmIForest:
	default:
		return errors.Newf("detector.algorithm must be %q or %q, got %q", AlgorithmCBLOF, AlgorithmIForest, d.Algorithm)
	}
	switch d.Metric {
	case distance.NameEuclidean, distance.NameMahalanobis:
	default:
		return errors.Newf("detector.metric must be %q or %q, got %q", distance.NameEuclidean, distance.NameMahalanobis, d.Metric)
	}
	if d.Clusters < 2 {
		return errors.Newf("detector.clusters must be at least 2, got %d", d.Clusters)
	}
	if d.Workers < 1 {
		return errors.Newf("detector.workers must be positive, got %d", d.Workers)
	}
	if d.Trees < 1 {
		return errors.Newf("detector.trees must be positive, got %d", d.Trees)
	}
	return nil
}

// Shared returns the settings common to all detectors.
func (d DetectorConfig) Shared() detectors.Config {
	return detectors.Config{
		Contamination: d.Contamination,
		RandomSeed:    d.Seed,
		Workers:       d.Workers,
	}
}
