// Package config loads daemon configuration from defaults, an optional YAML
// file, and PAPERTRAIL_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the config file is searched, in order.
var DefaultConfigPaths = []string{
	"papertrail-netd.yaml",
	"/etc/papertrail/netd.yaml",
}

// envPrefix is stripped from environment variables; the remainder is
// lowercased and double underscores become dots, so
// PAPERTRAIL_WIFI__POLL_INTERVAL maps to wifi.poll_interval.
const envPrefix = "PAPERTRAIL_"

// Config is the full daemon configuration.
type Config struct {
	Bus          string       `koanf:"bus"`           // D-Bus bus type: system or session
	SettingsPath string       `koanf:"settings_path"` // persisted device settings file
	MetricsAddr  string       `koanf:"metrics_addr"`  // Prometheus listen address, empty disables
	Log          LogConfig    `koanf:"log"`
	Hotspot      HotspotCfg   `koanf:"hotspot"`
	Wifi         WifiTimings  `koanf:"wifi"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // console or json
}

// HotspotCfg holds the factory-default hotspot target. A value saved through
// the settings store overrides these.
type HotspotCfg struct {
	SSID     string `koanf:"ssid"`
	Password string `koanf:"password"`
}

// WifiTimings tunes the connectivity machine. Defaults match the device's
// shipped behavior; tests shrink them.
type WifiTimings struct {
	PollInterval     time.Duration `koanf:"poll_interval"`      // hotspot poller cadence
	MonitorInterval  time.Duration `koanf:"monitor_interval"`   // connection monitor cadence
	GracePeriod      time.Duration `koanf:"grace_period"`       // CONNECTED flap suppression
	SettleDelay      time.Duration `koanf:"settle_delay"`       // delay before a scheduled attempt fires
	AttemptTimeout   time.Duration `koanf:"attempt_timeout"`    // connect deadline
	VerifyDelay      time.Duration `koanf:"verify_delay"`       // wait before first post-connect check
	VerifyRetryDelay time.Duration `koanf:"verify_retry_delay"` // wait before the second check
}

func defaultConfig() *Config {
	return &Config{
		Bus:          "system",
		SettingsPath: "/var/lib/papertrail/settings.yaml",
		MetricsAddr:  "",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Hotspot: HotspotCfg{
			SSID:     "Papertrail-Setup",
			Password: "papertrail",
		},
		Wifi: WifiTimings{
			PollInterval:     10 * time.Second,
			MonitorInterval:  5 * time.Second,
			GracePeriod:      5 * time.Second,
			SettleDelay:      5 * time.Second,
			AttemptTimeout:   60 * time.Second,
			VerifyDelay:      2 * time.Second,
			VerifyRetryDelay: 3 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty, in which case the
// default locations are probed and a missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	paths := DefaultConfigPaths
	if explicit {
		paths = []string{path}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if explicit {
				return nil, fmt.Errorf("config file %s: %w", p, err)
			}
			continue
		}
		if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
		break
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Bus != "system" && c.Bus != "session" {
		return fmt.Errorf("bus must be system or session, got %q", c.Bus)
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("settings_path must not be empty")
	}
	if c.Hotspot.SSID == "" {
		return fmt.Errorf("hotspot.ssid must not be empty")
	}
	if c.Wifi.PollInterval <= 0 || c.Wifi.MonitorInterval <= 0 {
		return fmt.Errorf("wifi poll and monitor intervals must be positive")
	}
	if c.Wifi.AttemptTimeout <= 0 {
		return fmt.Errorf("wifi.attempt_timeout must be positive")
	}
	return nil
}
