// Package config loads conductor configuration from a YAML file with
// sensible defaults for everything not specified.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all conductor configuration.
type Config struct {
	// Agent endpoints
	Agents AgentsConfig `yaml:"agents"`

	// Campaign orchestration settings
	Campaign CampaignConfig `yaml:"campaign"`

	// State and checkpoint storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Debug bool `yaml:"debug"`
}

// AgentsConfig names the agents for each role and how to reach them.
type AgentsConfig struct {
	Planner    string   `yaml:"planner"`
	Subplanner string   `yaml:"subplanner"`
	Workers    []string `yaml:"workers"`

	// Provider settings per agent name.
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures one agent adapter.
type ProviderConfig struct {
	Kind    string `yaml:"kind"` // gemini, http
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// CampaignConfig tunes the control loop.
type CampaignConfig struct {
	MaxWorkers      int    `yaml:"max_workers"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	FreshStartEvery int    `yaml:"fresh_start_every"`
	Autonomy        string `yaml:"autonomy"` // checkpoint, auto
	GitMode         string `yaml:"git_mode"`
	MergeStrategy   string `yaml:"merge_strategy"`
	UseDroid        bool   `yaml:"use_droid"`
}

// StorageConfig locates on-disk state.
type StorageConfig struct {
	StateDir       string `yaml:"state_dir"`
	CheckpointDir  string `yaml:"checkpoint_dir"`
	MaxCheckpoints int    `yaml:"max_checkpoints"`
	SinkPath       string `yaml:"sink_path"` // empty disables the sink
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".conductor")
	return &Config{
		Agents: AgentsConfig{
			Planner:    "planner",
			Subplanner: "planner",
			Workers:    []string{"worker"},
			Providers:  map[string]ProviderConfig{},
		},
		Campaign: CampaignConfig{
			MaxWorkers:      1,
			CheckpointEvery: 5,
			FreshStartEvery: 50,
			Autonomy:        "checkpoint",
			GitMode:         "commit",
		},
		Storage: StorageConfig{
			StateDir:       filepath.Join(base, "campaigns"),
			CheckpointDir:  filepath.Join(base, "checkpoints"),
			MaxCheckpoints: 10,
		},
	}
}

// Load reads config from path, layering it over defaults. A missing file
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Agents.Planner == "" {
		return fmt.Errorf("agents.planner is required")
	}
	if len(c.Agents.Workers) == 0 {
		return fmt.Errorf("agents.workers must name at least one worker")
	}
	if c.Campaign.CheckpointEvery < 0 {
		return fmt.Errorf("campaign.checkpoint_every must be >= 0")
	}
	switch c.Campaign.Autonomy {
	case "", "checkpoint", "auto":
	default:
		return fmt.Errorf("campaign.autonomy must be checkpoint or auto, got %q", c.Campaign.Autonomy)
	}
	return nil
}
