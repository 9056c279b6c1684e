package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	NATS       NATSConfig       `yaml:"nats"`
	Devices    []DeviceConfig   `yaml:"devices"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// EngineConfig tunes the reconciliation engine shared by every device.
type EngineConfig struct {
	DriftThresholdSeconds int `yaml:"drift_threshold_seconds"`
	LogWindow             int `yaml:"log_window"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// NATSConfig holds the connection settings used by nats transports.
type NATSConfig struct {
	URL                  string `yaml:"url"`
	MaxReconnects        *int   `yaml:"max_reconnects"` // unset means unlimited, 0 disables reconnects
	ReconnectWaitSeconds int    `yaml:"reconnect_wait_seconds"`
}

// DeviceConfig describes one observed device and where its snapshots come from.
type DeviceConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Transport TransportConfig `yaml:"transport"`
}

// TransportConfig selects and configures a snapshot transport.
type TransportConfig struct {
	Kind                 string            `yaml:"kind"` // poll, stream or nats
	URL                  string            `yaml:"url"`
	Subject              string            `yaml:"subject"`
	IntervalSeconds      int               `yaml:"interval_seconds"`
	Interval             time.Duration     `yaml:"-"` // Ignored by YAML parser
	MaxBackoffSeconds    int               `yaml:"max_backoff_seconds"`
	MaxBackoff           time.Duration     `yaml:"-"`
	ReconnectWaitSeconds int               `yaml:"reconnect_wait_seconds"`
	ReconnectWait        time.Duration     `yaml:"-"`
	HTTPProxy            string            `yaml:"http_proxy"`
	Timezone             string            `yaml:"timezone"`
	Headers              map[string]string `yaml:"headers"`
}

const (
	TransportPoll   = "poll"
	TransportStream = "stream"
	TransportNATS   = "nats"
)

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 1
	}

	if cfg.Engine.DriftThresholdSeconds <= 0 {
		cfg.Engine.DriftThresholdSeconds = 8
	}
	if cfg.Engine.LogWindow <= 0 {
		cfg.Engine.LogWindow = 20
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "sqlite:laundry.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Warn().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.MaxReconnects == nil {
		unlimited := -1
		cfg.NATS.MaxReconnects = &unlimited
	}
	if cfg.NATS.ReconnectWaitSeconds <= 0 {
		cfg.NATS.ReconnectWaitSeconds = 2
	}

	seen := make(map[string]bool, len(cfg.Devices))
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.Name == "" {
			d.Name = d.ID
		}
		if err := d.Transport.applyDefaults(d.ID); err != nil {
			return fmt.Errorf("device %q: %w", d.ID, err)
		}
	}
	return nil
}

func (t *TransportConfig) applyDefaults(deviceID string) error {
	if t.Kind == "" {
		t.Kind = TransportPoll
	}
	switch t.Kind {
	case TransportPoll, TransportStream:
		if t.URL == "" {
			return fmt.Errorf("transport.url is required for %s transport", t.Kind)
		}
	case TransportNATS:
		if t.Subject == "" {
			t.Subject = fmt.Sprintf("laundry.devices.%s.snapshot", deviceID)
		}
	default:
		return fmt.Errorf("unknown transport kind %q", t.Kind)
	}

	if t.IntervalSeconds <= 0 {
		t.IntervalSeconds = 2
	}
	t.Interval = time.Duration(t.IntervalSeconds) * time.Second

	if t.MaxBackoffSeconds <= 0 {
		t.MaxBackoffSeconds = 30
	}
	t.MaxBackoff = time.Duration(t.MaxBackoffSeconds) * time.Second

	if t.ReconnectWaitSeconds <= 0 {
		t.ReconnectWaitSeconds = 3
	}
	t.ReconnectWait = time.Duration(t.ReconnectWaitSeconds) * time.Second

	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", t.Timezone, err)
	}
	return nil
}
