package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolSettings tunes the round-robin scheduler. Start may override them.
type PoolSettings struct {
	MaxActive      int           `yaml:"max_active"`
	CycleDelay     time.Duration `yaml:"cycle_delay"`
	FundsThreshold int64         `yaml:"funds_threshold"`
	UnitCost       int64         `yaml:"unit_cost"`
}

// PoolOverride replaces selected PoolSettings for one run. Nil fields keep
// the configured value, so an explicit zero threshold is expressible.
type PoolOverride struct {
	MaxActive      *int
	CycleDelay     *time.Duration
	FundsThreshold *int64
	UnitCost       *int64
}

// RetrySettings tunes the retry coordinator.
type RetrySettings struct {
	MaxRetries       int           `yaml:"max_retries"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	Multiplier       float64       `yaml:"multiplier"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	RateLimitDelay   time.Duration `yaml:"rate_limit_delay"`
	MaxAuthRefreshes int           `yaml:"max_auth_refreshes"`
}

// Milestone is a one-shot claim derived from the daily window.
// Anchor is "start", "previous" or "end"; Offset is added to the anchor
// (use a negative offset for "end").
type Milestone struct {
	Name   string        `yaml:"name"`
	Anchor string        `yaml:"anchor"`
	Offset time.Duration `yaml:"offset"`
}

// WindowSettings tunes the daily window scheduler.
type WindowSettings struct {
	Start          string        `yaml:"start"`
	End            string        `yaml:"end"`
	Timezone       string        `yaml:"timezone"`
	Jitter         time.Duration `yaml:"jitter"`
	RolloverDelay  time.Duration `yaml:"rollover_delay"`
	PacingInterval time.Duration `yaml:"pacing_interval"`
	PacingJitter   time.Duration `yaml:"pacing_jitter"`
	Milestones     []Milestone   `yaml:"milestones"`
}

// AccountOverride customises one account. Empty fields inherit the defaults.
type AccountOverride struct {
	ID             string         `yaml:"id"`
	Start          string         `yaml:"start"`
	End            string         `yaml:"end"`
	PacingInterval time.Duration  `yaml:"pacing_interval"`
	PacingJitter   *time.Duration `yaml:"pacing_jitter"`
	Enabled        *bool          `yaml:"enabled"`
}

// Config holds all application configuration.
type Config struct {
	Remote struct {
		BaseURL   string            `yaml:"base_url"`
		Timeout   time.Duration     `yaml:"timeout"`
		Endpoints map[string]string `yaml:"endpoints"`
	} `yaml:"remote"`
	Credentials struct {
		File string `yaml:"file"`
	} `yaml:"credentials"`
	Pool     PoolSettings      `yaml:"pool"`
	Retry    RetrySettings     `yaml:"retry"`
	Window   WindowSettings    `yaml:"window"`
	Accounts []AccountOverride `yaml:"accounts"`
	Schedule struct {
		FundsPollCron string `yaml:"funds_poll_cron"`
		DigestCron    string `yaml:"digest_cron"`
	} `yaml:"schedule"`
	Events struct {
		Retention int `yaml:"retention"`
	} `yaml:"events"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. Keys absent from the file keep their
// default; keys present keep their value even when it is zero.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REMOTE_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = v
	}
	if v := os.Getenv("CREDENTIALS_FILE"); v != "" {
		cfg.Credentials.File = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("MAX_ACTIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxActive = n
		}
	}
	if v := os.Getenv("FUNDS_THRESHOLD"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pool.FundsThreshold = n
		}
	}
}

// Default returns the stock configuration.
func Default() *Config {
	c := &Config{
		Pool: DefaultPoolSettings(),
		Retry: RetrySettings{
			MaxRetries:       3,
			InitialDelay:     5 * time.Second,
			Multiplier:       3,
			MaxDelay:         5 * time.Minute,
			RateLimitDelay:   60 * time.Second,
			MaxAuthRefreshes: 2,
		},
		Window: WindowSettings{
			Start:          "09:00",
			End:            "23:00",
			Timezone:       "UTC",
			Jitter:         20 * time.Minute,
			RolloverDelay:  time.Minute,
			PacingInterval: 4 * time.Hour,
			PacingJitter:   15 * time.Minute,
			Milestones:     DefaultMilestones(),
		},
	}
	c.Remote.Timeout = 30 * time.Second
	c.Credentials.File = "data/accounts.json"
	c.Schedule.FundsPollCron = "0 */10 * * * *"
	c.Schedule.DigestCron = "0 5 0 * * *"
	c.Events.Retention = 500
	c.Database.SQLitePath = "data/account_pilot.db"
	return c
}

// DefaultPoolSettings returns the stock round-robin tuning.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxActive:      3,
		CycleDelay:     10 * time.Second,
		FundsThreshold: 10000,
		UnitCost:       1000,
	}
}

// DefaultMilestones returns the stock claim milestones.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Name: "morning-claim", Anchor: "start", Offset: 5 * time.Minute},
		{Name: "afternoon-claim", Anchor: "previous", Offset: 6 * time.Hour},
		{Name: "closing-claim", Anchor: "end", Offset: -30 * time.Minute},
	}
}

// Merge returns p with every non-nil field of override applied.
func (p PoolSettings) Merge(override *PoolOverride) PoolSettings {
	if override == nil {
		return p
	}
	if override.MaxActive != nil {
		p.MaxActive = *override.MaxActive
	}
	if override.CycleDelay != nil {
		p.CycleDelay = *override.CycleDelay
	}
	if override.FundsThreshold != nil {
		p.FundsThreshold = *override.FundsThreshold
	}
	if override.UnitCost != nil {
		p.UnitCost = *override.UnitCost
	}
	return p
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.initial_delay")
	}
	if _, err := time.LoadLocation(c.Window.Timezone); err != nil {
		return fmt.Errorf("window.timezone: %w", err)
	}
	if _, err := ParseClock(c.Window.Start); err != nil {
		return fmt.Errorf("window.start: %w", err)
	}
	if _, err := ParseClock(c.Window.End); err != nil {
		return fmt.Errorf("window.end: %w", err)
	}
	if c.Window.Jitter < 0 {
		return fmt.Errorf("window.jitter must not be negative")
	}
	for i, m := range c.Window.Milestones {
		switch m.Anchor {
		case "start", "previous", "end":
		default:
			return fmt.Errorf("window.milestones[%d]: unknown anchor %q", i, m.Anchor)
		}
		if m.Name == "" {
			return fmt.Errorf("window.milestones[%d]: name is required", i)
		}
	}
	for i, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if a.Start != "" {
			if _, err := ParseClock(a.Start); err != nil {
				return fmt.Errorf("accounts[%d].start: %w", i, err)
			}
		}
		if a.End != "" {
			if _, err := ParseClock(a.End); err != nil {
				return fmt.Errorf("accounts[%d].end: %w", i, err)
			}
		}
	}
	if c.Events.Retention <= 0 {
		return fmt.Errorf("events.retention must be positive")
	}
	return nil
}

// Validate checks the round-robin tuning.
func (p PoolSettings) Validate() error {
	if p.MaxActive <= 0 {
		return fmt.Errorf("pool.max_active must be positive")
	}
	if p.CycleDelay <= 0 {
		return fmt.Errorf("pool.cycle_delay must be positive")
	}
	if p.UnitCost <= 0 {
		return fmt.Errorf("pool.unit_cost must be positive")
	}
	if p.FundsThreshold < 0 {
		return fmt.Errorf("pool.funds_threshold must not be negative")
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Window.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Override returns the per-account override for id, if configured.
func (c *Config) Override(id string) (AccountOverride, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountOverride{}, false
}

// Enabled reports whether the account is enabled (default true).
func (c *Config) Enabled(id string) bool {
	if o, ok := c.Override(id); ok && o.Enabled != nil {
		return *o.Enabled
	}
	return true
}
