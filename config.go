package deferq

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/viant/afs"
	"github.com/viant/deferq/internal/logging"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/policy"
	"github.com/viant/deferq/service/crank"
	"github.com/viant/deferq/service/delegation"
	"github.com/viant/deferq/service/poll"
	"github.com/viant/deferq/tracing"
	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreMemory = "memory"
	StoreFS     = "fs"
)

// Config is a serialisable representation of the service configuration. It
// can be populated from YAML or TOML; fields left empty inherit the package
// defaults.
type Config struct {
	Queue      policy.Config    `json:"queue" yaml:"queue" toml:"queue"`
	Crank      CrankConfig      `json:"crank" yaml:"crank" toml:"crank"`
	Settlement SettlementConfig `json:"settlement" yaml:"settlement" toml:"settlement"`
	Store      StoreConfig      `json:"store" yaml:"store" toml:"store"`
	Logging    logging.Config   `json:"logging" yaml:"logging" toml:"logging"`
	Tracing    tracing.Config   `json:"tracing" yaml:"tracing" toml:"tracing"`
}

// CrankConfig configures the built-in executor.
type CrankConfig struct {
	Enabled        bool        `json:"enabled" yaml:"enabled" toml:"enabled"`
	Payer          string      `json:"payer" yaml:"payer" toml:"payer"` // principal name paying fees
	Side           string      `json:"side" yaml:"side" toml:"side"`    // ledger the crank submits to
	Workers        int         `json:"workers" yaml:"workers" toml:"workers"`
	PollInterval   string      `json:"pollInterval" yaml:"pollInterval" toml:"poll_interval"`
	ConfirmTimeout string      `json:"confirmTimeout" yaml:"confirmTimeout" toml:"confirm_timeout"`
	QueueBuffer    int         `json:"queueBuffer" yaml:"queueBuffer" toml:"queue_buffer"`
	Retry          RetryConfig `json:"retry" yaml:"retry" toml:"retry"`
}

// RetryConfig is the declarative form of poll.Backoff.
type RetryConfig struct {
	Kind        string  `json:"kind" yaml:"kind" toml:"kind"`
	Delay       string  `json:"delay" yaml:"delay" toml:"delay"`
	Multiplier  float64 `json:"multiplier,omitempty" yaml:"multiplier,omitempty" toml:"multiplier"`
	MaxDelay    string  `json:"maxDelay" yaml:"maxDelay" toml:"max_delay"`
	MaxAttempts int     `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty" toml:"max_attempts"`
}

// SettlementConfig configures the delegation settlement window and settler.
type SettlementConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Delay        string `json:"delay" yaml:"delay" toml:"delay"`
	Jitter       string `json:"jitter" yaml:"jitter" toml:"jitter"`
	PollInterval string `json:"pollInterval" yaml:"pollInterval" toml:"poll_interval"`
}

// StoreConfig selects the account store.
type StoreConfig struct {
	Kind string `json:"kind" yaml:"kind" toml:"kind"`
	URL  string `json:"url,omitempty" yaml:"url,omitempty" toml:"url"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	crankDefaults := crank.DefaultConfig()
	settlement := delegation.DefaultConfig()
	return &Config{
		Queue: *policy.ToConfig(policy.Default()),
		Crank: CrankConfig{
			Enabled:        true,
			Payer:          "crank",
			Side:           string(account.SideEphemeral),
			Workers:        crankDefaults.WorkerCount,
			PollInterval:   crankDefaults.PollInterval.String(),
			ConfirmTimeout: crankDefaults.ConfirmTimeout.String(),
			QueueBuffer:    crankDefaults.QueueBuffer,
			Retry: RetryConfig{
				Kind:     crankDefaults.Retry.Kind,
				Delay:    crankDefaults.Retry.Delay.String(),
				MaxDelay: crankDefaults.Retry.MaxDelay.String(),
			},
		},
		Settlement: SettlementConfig{
			Enabled:      true,
			Delay:        settlement.SettlementDelay.String(),
			Jitter:       settlement.SettlementJitter.String(),
			PollInterval: settlement.PollInterval.String(),
		},
		Store:   StoreConfig{Kind: StoreMemory},
		Logging: logging.DefaultConfig(),
		Tracing: tracing.Config{Service: "deferq"},
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if _, err := policy.FromConfig(&c.Queue); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}
	if _, err := c.CrankConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SettlementConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Crank.Enabled && c.Crank.Payer == "" {
		errs = append(errs, fmt.Errorf("crank.payer is required"))
	}
	if _, err := c.CrankSide(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Store.Kind) {
	case "", StoreMemory:
	case StoreFS:
		if c.Store.URL == "" {
			errs = append(errs, fmt.Errorf("store.url is required for %s store", StoreFS))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.kind %q", c.Store.Kind))
	}
	return errors.Join(errs...)
}

// QueuePolicy returns the policy applied to queues created without one.
func (c *Config) QueuePolicy() (*policy.Queue, error) {
	return policy.FromConfig(&c.Queue)
}

// CrankConfig converts the crank section into crank.Config.
func (c *Config) CrankConfig() (crank.Config, error) {
	ret := crank.DefaultConfig()
	if c.Crank.Workers < 0 {
		return ret, fmt.Errorf("crank.workers must be >= 0")
	}
	if c.Crank.Workers > 0 {
		ret.WorkerCount = c.Crank.Workers
	}
	if c.Crank.QueueBuffer > 0 {
		ret.QueueBuffer = c.Crank.QueueBuffer
	}
	var err error
	if ret.PollInterval, err = duration("crank.pollInterval", c.Crank.PollInterval, ret.PollInterval); err != nil {
		return ret, err
	}
	if ret.ConfirmTimeout, err = duration("crank.confirmTimeout", c.Crank.ConfirmTimeout, ret.ConfirmTimeout); err != nil {
		return ret, err
	}
	retry := c.Crank.Retry
	if retry.Kind != "" {
		ret.Retry.Kind = retry.Kind
	}
	if retry.Multiplier > 0 {
		ret.Retry.Multiplier = retry.Multiplier
	}
	ret.Retry.MaxAttempts = retry.MaxAttempts
	if ret.Retry.Delay, err = duration("crank.retry.delay", retry.Delay, ret.Retry.Delay); err != nil {
		return ret, err
	}
	if ret.Retry.MaxDelay, err = duration("crank.retry.maxDelay", retry.MaxDelay, ret.Retry.MaxDelay); err != nil {
		return ret, err
	}
	if err = ret.Retry.Validate(); err != nil {
		return ret, fmt.Errorf("crank.retry: %w", err)
	}
	return ret, nil
}

// SettlementConfig converts the settlement section into delegation.Config.
func (c *Config) SettlementConfig() (delegation.Config, error) {
	ret := delegation.DefaultConfig()
	var err error
	if ret.SettlementDelay, err = duration("settlement.delay", c.Settlement.Delay, ret.SettlementDelay); err != nil {
		return ret, err
	}
	if ret.SettlementJitter, err = duration("settlement.jitter", c.Settlement.Jitter, ret.SettlementJitter); err != nil {
		return ret, err
	}
	if ret.PollInterval, err = duration("settlement.pollInterval", c.Settlement.PollInterval, ret.PollInterval); err != nil {
		return ret, err
	}
	if ret.PollInterval <= 0 {
		return ret, fmt.Errorf("settlement.pollInterval must be > 0")
	}
	return ret, nil
}

// CrankSide returns the ledger side the crank submits to; ephemeral when unset.
func (c *Config) CrankSide() (account.Side, error) {
	switch side := account.Side(strings.ToLower(c.Crank.Side)); side {
	case "":
		return account.SideEphemeral, nil
	case account.SideBase, account.SideEphemeral:
		return side, nil
	default:
		return "", fmt.Errorf("unsupported crank.side %q", c.Crank.Side)
	}
}

// RetryBackoff returns the crank retry backoff.
func (c *Config) RetryBackoff() (poll.Backoff, error) {
	cfg, err := c.CrankConfig()
	return cfg.Retry, err
}

func duration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	ret, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if ret < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", field, ret)
	}
	return ret, nil
}

// LoadConfig reads a YAML (.yaml, .yml) or TOML (.toml) file from any afs
// location and overlays it on DefaultConfig.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", URL, err)
	}
	ret := DefaultConfig()
	switch strings.ToLower(path.Ext(URL)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, ret)
	case ".toml":
		err = toml.Unmarshal(data, ret)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", URL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
