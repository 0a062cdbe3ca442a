// Package config loads the canguard daemon configuration from a YAML file
// with CANGUARD_* environment overrides (CANGUARD_SAFETY_MODE,
// CANGUARD_LOGGER_LEVEL, ...).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CANGUARD"

// Bus drivers.
const (
	DriverSocketCAN = "socketcan"
	DriverSLCAN     = "slcan"
)

// Config is the daemon configuration.
type Config struct {
	Safety  SafetyConfig  `mapstructure:"safety"`
	Buses   []BusConfig   `mapstructure:"buses"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Replay  ReplayConfig  `mapstructure:"replay"`
}

// SafetyConfig selects the policy.
type SafetyConfig struct {
	Mode  string `mapstructure:"mode"`
	Param uint16 `mapstructure:"param"`
}

// BusConfig binds a harness bus index to a transport.
type BusConfig struct {
	Index     uint8  `mapstructure:"index"`
	Driver    string `mapstructure:"driver"`
	Interface string `mapstructure:"interface"` // socketcan
	Device    string `mapstructure:"device"`    // slcan
	Bitrate   int    `mapstructure:"bitrate"`
	BaudRate  int    `mapstructure:"baudRate"`
	BringUp   bool   `mapstructure:"bringUp"` // socketcan: set bitrate and link up first
	LogFrames bool   `mapstructure:"logFrames"`

	// LogIDs narrows frame logging to these identifiers; empty logs all
	// data frames.
	LogIDs []uint32 `mapstructure:"logIDs"`
}

// GatewayConfig tunes the runtime.
type GatewayConfig struct {
	TickInterval  time.Duration `mapstructure:"tickInterval"`
	TelemetryPath string        `mapstructure:"telemetryPath"`
}

// LoggerConfig configures log output.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text or json
	FilePath   string `mapstructure:"filePath"`
	MaxSizeMB  int    `mapstructure:"maxSizeMB"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// ReplayConfig maps log interface names to harness bus indexes. Frames on
// TXInterfaces were sent by the device and are checked as transmissions.
type ReplayConfig struct {
	Interfaces   map[string]uint8 `mapstructure:"interfaces"`
	TXInterfaces map[string]uint8 `mapstructure:"txInterfaces"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("safety.mode", "silent")
	v.SetDefault("safety.param", 0)
	v.SetDefault("gateway.tickInterval", time.Second)
	v.SetDefault("gateway.telemetryPath", "")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.filePath", "")
	v.SetDefault("logger.maxSizeMB", 50)
	v.SetDefault("logger.maxBackups", 5)
	v.SetDefault("logger.maxAgeDays", 14)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.console", true)
	v.SetDefault("replay.interfaces", map[string]uint8{"can0": 0, "can1": 1, "can2": 2})
}

// Load reads path (if not empty), applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the daemon cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Safety.Mode == "" {
		errs = append(errs, errors.New("safety.mode is required"))
	}

	seen := make(map[uint8]bool)
	for i, b := range c.Buses {
		if seen[b.Index] {
			errs = append(errs, fmt.Errorf("buses[%d]: duplicate index %d", i, b.Index))
		}
		seen[b.Index] = true
		switch b.Driver {
		case DriverSocketCAN:
			if b.Interface == "" {
				errs = append(errs, fmt.Errorf("buses[%d]: socketcan needs an interface", i))
			}
		case DriverSLCAN:
			if b.Device == "" {
				errs = append(errs, fmt.Errorf("buses[%d]: slcan needs a device", i))
			}
		default:
			errs = append(errs, fmt.Errorf("buses[%d]: unknown driver %q", i, b.Driver))
		}
	}

	if c.Gateway.TickInterval <= 0 {
		errs = append(errs, errors.New("gateway.tickInterval must be positive"))
	}
	if _, err := c.Logger.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logger.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q: expected text or json", c.Logger.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error", or offsets like
// "info+2").
func (l LoggerConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logger.level %q: %w", l.Level, err)
	}
	return lvl, nil
}
