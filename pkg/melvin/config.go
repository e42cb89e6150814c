// Package melvin is the engine facade: it wires the store, router, beam
// engine, learner, miner and renderer into the reason/learn/maintain surface.
package melvin

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Jak3Gil/melvin/pkg/beam"
	"github.com/Jak3Gil/melvin/pkg/learn"
	"github.com/Jak3Gil/melvin/pkg/mining"
	"github.com/Jak3Gil/melvin/pkg/nlg"
	"github.com/Jak3Gil/melvin/pkg/scoring"
)

// Config aggregates every tunable of the engine.
type Config struct {
	Scoring  scoring.Weights `yaml:"scoring"`
	Learning learn.Params    `yaml:"learning"`
	Beam     beam.Params     `yaml:"beam"`
	Mining   mining.Config   `yaml:"mining"`
	NLG      nlg.Config      `yaml:"nlg"`

	EnableLearning  bool `yaml:"enable_learning"`
	EnableMining    bool `yaml:"enable_mining"`
	EnableInference bool `yaml:"enable_inference"`

	// SearchTimeout is the soft deadline for one reason call's beam searches.
	SearchTimeout time.Duration `yaml:"search_timeout"`

	// SearchSeed fixes the stochastic expansion source; identical seeds over
	// an identical store snapshot reproduce identical searches.
	SearchSeed int64 `yaml:"search_seed"`

	// MaintenanceInterval gates the opportunistic maintenance pass run after
	// reason calls.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`

	// IngestQueueSize bounds the ingestion queue.
	IngestQueueSize int `yaml:"ingest_queue_size"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Scoring:             scoring.DefaultWeights(),
		Learning:            learn.DefaultParams(),
		Beam:                beam.DefaultParams(),
		Mining:              mining.DefaultConfig(),
		NLG:                 nlg.DefaultConfig(),
		EnableLearning:      true,
		EnableMining:        true,
		EnableInference:     true,
		SearchTimeout:       2 * time.Second,
		MaintenanceInterval: 5 * time.Minute,
		IngestQueueSize:     1000,
	}
}

// LoadConfig reads a YAML config file, layered over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML.
func SaveConfig(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
