// Package config loads the htlc tool configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables. The private key is only ever read from the environment or a
// terminal prompt, never from the file.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/roach88/htlc/internal/htlc"
	"github.com/roach88/htlc/internal/ledger"
	"github.com/roach88/htlc/internal/monitor"
)

// Environment overrides.
const (
	EnvNodeURL    = "HTLC_NODE_URL"
	EnvPrivateKey = "HTLC_PRIVATE_KEY"
	EnvLogLevel   = "HTLC_LOG_LEVEL"
	EnvJournal    = "HTLC_JOURNAL"
)

// Config is the complete tool configuration.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	HTLC    HTLCConfig    `yaml:"htlc"`
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`

	// PrivateKey is the hex signing key from HTLC_PRIVATE_KEY.
	PrivateKey string `yaml:"-"`
}

// NodeConfig locates the ledger node.
type NodeConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTLCConfig holds contract parameters and validation bounds.
type HTLCConfig struct {
	ContractAddress       string        `yaml:"contract_address"`
	DefaultToken          string        `yaml:"default_token"`
	MinDuration           time.Duration `yaml:"min_duration"`
	MaxDuration           time.Duration `yaml:"max_duration"`
	PreimageMinLength     int           `yaml:"preimage_min_length"`
	PreimageMaxLength     int           `yaml:"preimage_max_length"`
	PreimageDefaultLength int           `yaml:"preimage_default_length"`
}

// MonitorConfig tunes the reconciliation loop.
type MonitorConfig struct {
	Interval        time.Duration `yaml:"interval"`
	ReclaimBackoff  BackoffConfig `yaml:"reclaim_backoff"`
	SettleRetries   int           `yaml:"settle_retries"`
	LoadConcurrency int           `yaml:"load_concurrency"`

	// Journal is an optional SQLite path recording runs and outcomes.
	Journal string `yaml:"journal"`
}

// BackoffConfig paces reclaim retries. An initial interval of zero retries
// every cycle.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// LogConfig configures the default slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	hc := htlc.DefaultConfig()
	bo := monitor.DefaultBackoff()
	return Config{
		Node: NodeConfig{
			URL:     "ws://127.0.0.1:35998",
			Timeout: 30 * time.Second,
		},
		HTLC: HTLCConfig{
			ContractAddress:       hc.ContractAddress.Hex(),
			DefaultToken:          string(hc.DefaultToken),
			MinDuration:           hc.MinDuration,
			MaxDuration:           hc.MaxDuration,
			PreimageMinLength:     hc.PreimageMinLength,
			PreimageMaxLength:     hc.PreimageMaxLength,
			PreimageDefaultLength: hc.PreimageDefaultLength,
		},
		Monitor: MonitorConfig{
			Interval: monitor.DefaultInterval,
			ReclaimBackoff: BackoffConfig{
				Initial:    bo.InitialInterval,
				Max:        bo.MaxInterval,
				Multiplier: bo.Multiplier,
				Jitter:     bo.Jitter,
			},
			SettleRetries:   monitor.DefaultSettleRetries,
			LoadConcurrency: monitor.DefaultLoadConcurrency,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
// Unknown keys in the file are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if len(bytes.TrimSpace(data)) > 0 {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true) // Reject unknown fields
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvNodeURL); ok && v != "" {
		c.Node.URL = v
	}
	if v, ok := os.LookupEnv(EnvPrivateKey); ok {
		c.PrivateKey = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvJournal); ok && v != "" {
		c.Monitor.Journal = v
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Node.URL == "" {
		return fmt.Errorf("node.url is required")
	}
	if c.Node.Timeout < 0 {
		return fmt.Errorf("node.timeout must not be negative")
	}

	hc, err := c.HTLCParams()
	if err != nil {
		return err
	}
	if err := hc.Validate(); err != nil {
		return fmt.Errorf("htlc: %w", err)
	}

	m := c.Monitor
	if m.Interval <= 0 {
		return fmt.Errorf("monitor.interval must be positive")
	}
	if m.SettleRetries < 0 {
		return fmt.Errorf("monitor.settle_retries must not be negative")
	}
	if m.LoadConcurrency < 1 {
		return fmt.Errorf("monitor.load_concurrency must be at least 1")
	}
	b := m.ReclaimBackoff
	if b.Initial < 0 || b.Max < b.Initial {
		return fmt.Errorf("monitor.reclaim_backoff: need 0 <= initial <= max")
	}
	if b.Multiplier < 1 {
		return fmt.Errorf("monitor.reclaim_backoff.multiplier must be at least 1")
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		return fmt.Errorf("monitor.reclaim_backoff.jitter must be in [0, 1)")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// HTLCParams converts the htlc section into lifecycle configuration.
func (c *Config) HTLCParams() (htlc.Config, error) {
	h := c.HTLC
	if !common.IsHexAddress(h.ContractAddress) {
		return htlc.Config{}, fmt.Errorf("htlc.contract_address %q is not a hex address", h.ContractAddress)
	}
	return htlc.Config{
		ContractAddress:       common.HexToAddress(h.ContractAddress),
		DefaultToken:          ledger.TokenStandard(h.DefaultToken),
		MinDuration:           h.MinDuration,
		MaxDuration:           h.MaxDuration,
		PreimageMinLength:     h.PreimageMinLength,
		PreimageMaxLength:     h.PreimageMaxLength,
		PreimageDefaultLength: h.PreimageDefaultLength,
	}, nil
}

// Backoff converts the reclaim backoff section.
func (c *Config) Backoff() monitor.BackoffConfig {
	b := c.Monitor.ReclaimBackoff
	return monitor.BackoffConfig{
		InitialInterval: b.Initial,
		MaxInterval:     b.Max,
		Multiplier:      b.Multiplier,
		Jitter:          b.Jitter,
	}
}

// SlogLevel parses the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
