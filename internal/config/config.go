package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/danthegoodman1/trackguard/internal/tunnel"
)

const DefaultTrackerListURL = "https://staticcdn.duckduckgo.com/trackerblocking/v5/current/android-tds.json"

type Config struct {
	Tunnel   TunnelConfig   `mapstructure:"tunnel"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Events   EventsConfig   `mapstructure:"events"`
	Trackers TrackersConfig `mapstructure:"trackers"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	DataDir  string         `mapstructure:"data_dir"`
	LogLevel string         `mapstructure:"log_level"`
}

type TunnelConfig struct {
	Name    string   `mapstructure:"name"`
	Address string   `mapstructure:"address"`
	MTU     int      `mapstructure:"mtu"`
	Routes  []string `mapstructure:"routes"`
}

type LoopConfig struct {
	BufferSize  int           `mapstructure:"buffer_size"`
	IdleBackoff time.Duration `mapstructure:"idle_backoff"`
}

type SinkConfig struct {
	QueueSize     int  `mapstructure:"queue_size"`
	Notifications bool `mapstructure:"notifications"`
}

type EventsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

type TrackersConfig struct {
	ListURL            string        `mapstructure:"list_url"`
	AutoUpdate         bool          `mapstructure:"auto_update"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval"`
	LocalFile          string        `mapstructure:"local_file"`
	DisabledCategories []string      `mapstructure:"disabled_categories"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("tunnel.name", "tg0")
	v.SetDefault("tunnel.address", "10.0.0.2/32")
	v.SetDefault("tunnel.mtu", 1500)
	v.SetDefault("tunnel.routes", []string{"0.0.0.0/0"})
	v.SetDefault("loop.buffer_size", 32767)
	v.SetDefault("loop.idle_backoff", 10*time.Millisecond)
	v.SetDefault("sink.queue_size", 1024)
	v.SetDefault("sink.notifications", true)
	v.SetDefault("events.retention", time.Duration(0))
	v.SetDefault("events.prune_interval", time.Hour)
	v.SetDefault("trackers.list_url", DefaultTrackerListURL)
	v.SetDefault("trackers.auto_update", true)
	v.SetDefault("trackers.refresh_interval", 24*time.Hour)
	v.SetDefault("trackers.local_file", "")
	v.SetDefault("trackers.disabled_categories", []string{})
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("data_dir", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("TRACKGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.TunnelDevice().Validate(); err != nil {
		return err
	}
	if c.Loop.BufferSize < 576 || c.Loop.BufferSize > 65535 {
		return fmt.Errorf("loop.buffer_size (%d) must be within 576-65535", c.Loop.BufferSize)
	}
	if c.Loop.BufferSize < c.Tunnel.MTU {
		return fmt.Errorf("loop.buffer_size (%d) must be >= tunnel.mtu (%d)", c.Loop.BufferSize, c.Tunnel.MTU)
	}
	if c.Loop.IdleBackoff < 0 {
		return fmt.Errorf("loop.idle_backoff must not be negative")
	}
	if c.Sink.QueueSize < 1 {
		return fmt.Errorf("sink.queue_size (%d) must be positive", c.Sink.QueueSize)
	}
	if c.Events.Retention < 0 {
		return fmt.Errorf("events.retention must not be negative")
	}
	if c.Events.Retention > 0 && c.Events.PruneInterval <= 0 {
		return fmt.Errorf("events.prune_interval must be positive when events.retention is set")
	}
	if c.Trackers.AutoUpdate {
		if c.Trackers.ListURL == "" {
			return fmt.Errorf("trackers.list_url is required when trackers.auto_update is enabled")
		}
		if c.Trackers.RefreshInterval < time.Minute {
			return fmt.Errorf("trackers.refresh_interval (%s) must be at least 1m", c.Trackers.RefreshInterval)
		}
	}
	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

func (c *Config) TunnelDevice() tunnel.Config {
	return tunnel.Config{
		Name:    c.Tunnel.Name,
		Address: c.Tunnel.Address,
		MTU:     c.Tunnel.MTU,
		Routes:  c.Tunnel.Routes,
	}
}

func (c *Config) DBPath() string {
	if c.DataDir == "" {
		return ":memory:"
	}
	return filepath.Join(c.DataDir, "trackguard.db")
}
