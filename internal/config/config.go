package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"questline/internal/decay"
)

// Config models questline.yml. It carries the numeric policy for decay,
// contracts, streaks, and rewards; the structural rules (band ordering,
// terminal states) live in code.
type Config struct {
	User struct {
		ID string `yaml:"id"`
	} `yaml:"user"`
	Decay struct {
		GraceHours        int `yaml:"grace_hours"`
		BandHours         int `yaml:"band_hours"`
		XPPenaltyPerLevel int `yaml:"xp_penalty_per_level"`
	} `yaml:"decay"`
	Contracts struct {
		MinStake  int     `yaml:"min_stake"`
		MaxStake  int     `yaml:"max_stake"`
		BonusRate float64 `yaml:"bonus_rate"`
	} `yaml:"contracts"`
	Streaks struct {
		ResetGapDays int `yaml:"reset_gap_days"`
	} `yaml:"streaks"`
	Rewards struct {
		TaskCompletionXP int `yaml:"task_completion_xp"`
		FocusSessionXP   int `yaml:"focus_session_xp"`
		StreakBonusXP    int `yaml:"streak_bonus_xp"`
	} `yaml:"rewards"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Policy returns the decay banding derived from config.
func (c *Config) Policy() decay.Policy {
	p := decay.DefaultPolicy()
	if c.Decay.GraceHours > 0 {
		p.Grace = time.Duration(c.Decay.GraceHours) * time.Hour
	}
	if c.Decay.BandHours > 0 {
		p.Band = time.Duration(c.Decay.BandHours) * time.Hour
	}
	return p
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.User.ID == "" {
		return fmt.Errorf("config.user.id is required")
	}
	if c.Decay.GraceHours < 0 || c.Decay.BandHours < 0 {
		return fmt.Errorf("config.decay hours must be non-negative")
	}
	if c.Decay.BandHours == 0 {
		return fmt.Errorf("config.decay.band_hours is required")
	}
	if c.Decay.XPPenaltyPerLevel < 0 {
		return fmt.Errorf("config.decay.xp_penalty_per_level must be non-negative")
	}
	if c.Contracts.MinStake <= 0 {
		return fmt.Errorf("config.contracts.min_stake must be positive")
	}
	if c.Contracts.MaxStake < c.Contracts.MinStake {
		return fmt.Errorf("config.contracts.max_stake must be >= min_stake")
	}
	if c.Contracts.BonusRate < 0 || c.Contracts.BonusRate > 1 {
		return fmt.Errorf("config.contracts.bonus_rate must be in [0,1]")
	}
	if c.Streaks.ResetGapDays <= 0 {
		return fmt.Errorf("config.streaks.reset_gap_days must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "questline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ql user config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a user.
func Default(userID string) *Config {
	var cfg Config
	cfg.User.ID = userID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, userID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(userID string) string {
	return fmt.Sprintf(defaultTemplate, userID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `user:
  id: %s

decay:
  grace_hours: 24
  band_hours: 24
  xp_penalty_per_level: 10

contracts:
  min_stake: 10
  max_stake: 500
  bonus_rate: 0.2

streaks:
  reset_gap_days: 1

rewards:
  task_completion_xp: 10
  focus_session_xp: 5
  streak_bonus_xp: 2
`
