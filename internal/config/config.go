// Package config loads the optional wifimgr TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	qrcode "github.com/skip2/go-qrcode"
)

var (
	ErrInvalid    = errors.New("invalid config")
	ErrUnknownKey = errors.New("unknown config key")
)

const DefaultConnectTimeout = "300s"

// Config is the file configuration. Command line flags and environment
// variables are merged on top of it with Merge.
type Config struct {
	Interface      string      `toml:"interface"`
	ConnectTimeout string      `toml:"connect_timeout"`
	HistoryDB      string      `toml:"history_db"`
	MetricsAddr    string      `toml:"metrics_addr"`
	Share          ShareConfig `toml:"share"`
	Theme          ThemeConfig `toml:"theme"`
}

// ShareConfig controls the QR code printed by the share command.
type ShareConfig struct {
	ErrorCorrection string `toml:"error_correction"`
}

// ThemeConfig overrides output colours. We use pointers to strings so we can
// distinguish between a missing value and an empty string.
type ThemeConfig struct {
	Primary    *string `toml:"primary,omitempty"`
	Subtle     *string `toml:"subtle,omitempty"`
	Success    *string `toml:"success,omitempty"`
	Error      *string `toml:"error,omitempty"`
	SignalHigh *string `toml:"signal_high,omitempty"`
	SignalLow  *string `toml:"signal_low,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ConnectTimeout: DefaultConnectTimeout,
		Share:          ShareConfig{ErrorCorrection: "medium"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := undecoded(md); err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML text over the defaults.
func Parse(data string) (Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return cfg, err
	}
	if err := undecoded(md); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func undecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	sort.Strings(names)
	return fmt.Errorf("%s: %w", strings.Join(names, ", "), ErrUnknownKey)
}

// Merge overrides c with every non-empty field of o.
func (c *Config) Merge(o Config) {
	if o.Interface != "" {
		c.Interface = o.Interface
	}
	if o.ConnectTimeout != "" {
		c.ConnectTimeout = o.ConnectTimeout
	}
	if o.HistoryDB != "" {
		c.HistoryDB = o.HistoryDB
	}
	if o.MetricsAddr != "" {
		c.MetricsAddr = o.MetricsAddr
	}
	if o.Share.ErrorCorrection != "" {
		c.Share.ErrorCorrection = o.Share.ErrorCorrection
	}
}

// Validate checks the values that are parsed lazily.
func (c Config) Validate() error {
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if _, err := c.Share.RecoveryLevel(); err != nil {
		return err
	}
	return nil
}

// Timeout is the parsed connect timeout.
func (c Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil {
		return 0, fmt.Errorf("connect_timeout %q: %w", c.ConnectTimeout, ErrInvalid)
	}
	if d <= 0 {
		return 0, fmt.Errorf("connect_timeout must be positive: %w", ErrInvalid)
	}
	return d, nil
}

// RecoveryLevel maps the error correction name to a QR recovery level.
func (s ShareConfig) RecoveryLevel() (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(s.ErrorCorrection) {
	case "low":
		return qrcode.Low, nil
	case "", "medium":
		return qrcode.Medium, nil
	case "high":
		return qrcode.High, nil
	case "highest":
		return qrcode.Highest, nil
	}
	return 0, fmt.Errorf("share.error_correction %q: %w", s.ErrorCorrection, ErrInvalid)
}
