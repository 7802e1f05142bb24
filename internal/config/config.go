// Package config loads and validates the node's TOML configuration file:
// tick cadence, capture interfaces, collector address, PGM tuning, window
// sizes, and subnet allow/deny lists.
package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the fully-resolved, validated node configuration.
type Config struct {
	TickInterval  time.Duration
	Interfaces    []string
	CollectorAddr string

	HelloInterval time.Duration
	PingInterval  time.Duration
	PingTimeout   time.Duration

	PGM     PGMConfig
	Windows WindowsConfig
	Subnets SubnetsConfig
}

type PGMConfig struct {
	CapacityBPS float64
	MSSFloor    float64
	Quantile    float64
	MinSamples  int
	EMAAlpha    float64
}

type WindowsConfig struct {
	GapPairCapacity int
	RTTCapacity     int
	FlowIdle        time.Duration
	FlowClose       time.Duration
}

type SubnetsConfig struct {
	Allow []string
	Deny  []string
}

// setDefaults installs the baseline values used when a key is absent from
// the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("tick_interval_ms", 1000)
	v.SetDefault("hello_interval_s", 30)
	v.SetDefault("ping_interval_s", 1)
	v.SetDefault("ping_timeout_ms", 2000)

	v.SetDefault("pgm.capacity_bps", 0.0)
	v.SetDefault("pgm.mss_floor", 536.0)
	v.SetDefault("pgm.quantile", 0.10)
	v.SetDefault("pgm.min_samples", 10)
	v.SetDefault("pgm.ema_alpha", 0.3)

	v.SetDefault("windows.gap_pair_capacity", 2048)
	v.SetDefault("windows.rtt_capacity", 64)
	v.SetDefault("windows.flow_idle_s", 120)
	v.SetDefault("windows.flow_close_s", 10)
}

// Load reads and validates the TOML config at path. An empty path falls
// back to $HOME/.network_listener/config.toml.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			home = "."
		}
		v.AddConfigPath(home + "/.network_listener")
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrapf(err, "failed to read config %q", path)
		}
		// Missing config file is fine; defaults plus flags can carry a node.
	}

	cfg := &Config{
		TickInterval:  time.Duration(v.GetInt("tick_interval_ms")) * time.Millisecond,
		Interfaces:    v.GetStringSlice("interfaces"),
		CollectorAddr: v.GetString("collector_addr"),

		HelloInterval: time.Duration(v.GetInt("hello_interval_s")) * time.Second,
		PingInterval:  time.Duration(v.GetInt("ping_interval_s")) * time.Second,
		PingTimeout:   time.Duration(v.GetInt("ping_timeout_ms")) * time.Millisecond,

		PGM: PGMConfig{
			CapacityBPS: v.GetFloat64("pgm.capacity_bps"),
			MSSFloor:    v.GetFloat64("pgm.mss_floor"),
			Quantile:    v.GetFloat64("pgm.quantile"),
			MinSamples:  v.GetInt("pgm.min_samples"),
			EMAAlpha:    v.GetFloat64("pgm.ema_alpha"),
		},
		Windows: WindowsConfig{
			GapPairCapacity: v.GetInt("windows.gap_pair_capacity"),
			RTTCapacity:     v.GetInt("windows.rtt_capacity"),
			FlowIdle:        time.Duration(v.GetInt("windows.flow_idle_s")) * time.Second,
			FlowClose:       time.Duration(v.GetInt("windows.flow_close_s")) * time.Second,
		},
		Subnets: SubnetsConfig{
			Allow: v.GetStringSlice("subnets.allow"),
			Deny:  v.GetStringSlice("subnets.deny"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate fails fast, naming the offending key, rather than letting a
// bad config surface as a confusing runtime error later.
func (c *Config) validate() error {
	if c.TickInterval < 100*time.Millisecond || c.TickInterval > 10*time.Second {
		return invalid("tick_interval_ms", "must be between 100 and 10000")
	}
	if c.PGM.Quantile <= 0 || c.PGM.Quantile >= 1 {
		return invalid("pgm.quantile", "must be in (0, 1)")
	}
	if c.PGM.MinSamples <= 0 {
		return invalid("pgm.min_samples", "must be positive")
	}
	if c.PGM.EMAAlpha <= 0 || c.PGM.EMAAlpha > 1 {
		return invalid("pgm.ema_alpha", "must be in (0, 1]")
	}
	if c.Windows.GapPairCapacity <= 0 {
		return invalid("windows.gap_pair_capacity", "must be positive")
	}
	if c.Windows.RTTCapacity <= 0 {
		return invalid("windows.rtt_capacity", "must be positive")
	}
	return nil
}

func invalid(key, reason string) error {
	return errors.Errorf("invalid configuration key %q: %s", key, reason)
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{tick=%s, interfaces=%v, collector=%s}", c.TickInterval, c.Interfaces, c.CollectorAddr)
}
