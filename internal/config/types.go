package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Listen    string           `json:"listen"`
	Telegram  TelegramConfig   `json:"telegram"`
	Storage   StorageConfig    `json:"storage"`
	Logging   LoggingConfig    `json:"logging"`
	Operators []OperatorConfig `json:"operators"`
	Sweep     SweepConfig      `json:"sweep,omitempty"`
	Fetch     FetchConfig      `json:"fetch,omitempty"`
}

type TelegramConfig struct {
	Token     string `json:"token"`
	ChannelID int64  `json:"channel_id"`

	// RatePerSec caps outgoing channel posts. Defaults to 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// LegacyImport optionally points at an old flat-file export.
	// It is applied once, on first open, and ignored afterwards.
	LegacyImport string `json:"legacy_import,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// OperatorConfig identifies one of the fixed operators. The first entry
// is the admin: settings and history endpoints are admin-only.
type OperatorConfig struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// SweepConfig controls the daily sweep of long-expired attachment presets.
type SweepConfig struct {
	// Spec is a cron expression. Default: "0 4 * * *" (04:00 daily).
	Spec string `json:"spec,omitempty"`

	// RetentionDays keeps expired presets queryable (include_expired=true)
	// for this many days past their expiry before the sweep deletes them.
	// Default: 30. Zero or negative disables the sweep.
	RetentionDays int `json:"retention_days,omitempty"`
}

type FetchConfig struct {
	// TimeoutPerHop is a Go duration string. Default: "10s".
	TimeoutPerHop string `json:"timeout_per_hop,omitempty"`
	UserAgent     string `json:"user_agent,omitempty"`
}

const maxOperators = 2

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.ChannelID == 0 {
		return errors.New("telegram.channel_id is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if len(c.Operators) == 0 || len(c.Operators) > maxOperators {
		return fmt.Errorf("operators: expected 1..%d entries, got %d", maxOperators, len(c.Operators))
	}
	seen := map[string]bool{}
	for i, op := range c.Operators {
		name := strings.TrimSpace(op.Name)
		if name == "" {
			return fmt.Errorf("operators[%d]: name is required", i)
		}
		if op.Password == "" {
			return fmt.Errorf("operators[%d] (%s): password is required", i, name)
		}
		if seen[name] {
			return fmt.Errorf("operators: duplicate name %q", name)
		}
		seen[name] = true
	}
	if _, err := c.StorageBusyTimeout(); err != nil {
		return fmt.Errorf("storage.busy_timeout: %w", err)
	}
	if _, err := c.FetchTimeout(); err != nil {
		return fmt.Errorf("fetch.timeout_per_hop: %w", err)
	}
	return nil
}

func (c *Config) ListenAddr() string {
	if strings.TrimSpace(c.Listen) == "" {
		return "127.0.0.1:8090"
	}
	return c.Listen
}

func (c *Config) StorageBusyTimeout() (time.Duration, error) {
	return parseDuration(c.Storage.BusyTimeout, 5*time.Second)
}

func (c *Config) FetchTimeout() (time.Duration, error) {
	return parseDuration(c.Fetch.TimeoutPerHop, 10*time.Second)
}

func (c *Config) SweepSpec() string {
	if strings.TrimSpace(c.Sweep.Spec) == "" {
		return "0 4 * * *"
	}
	return c.Sweep.Spec
}

func (c *Config) SweepRetention() time.Duration {
	days := c.Sweep.RetentionDays
	if days == 0 {
		days = 30
	}
	if days < 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *Config) PostRate() int {
	if c.Telegram.RatePerSec <= 0 {
		return 1
	}
	return c.Telegram.RatePerSec
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
