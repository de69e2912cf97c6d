package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Timezone   string           `yaml:"timezone"`
	Logs       LogsConfig       `yaml:"logs"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Redis      RedisConfig      `yaml:"redis"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Log        LogConfig        `yaml:"log"`

	// Location is resolved from Timezone by Load.
	Location *time.Location `yaml:"-"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres | sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// LivenessConfig controls the periodic online/offline evaluation.
type LivenessConfig struct {
	Enabled    *bool `yaml:"enabled"`
	IntervalMS int   `yaml:"interval_ms"`
	TimeoutMS  int   `yaml:"timeout_ms"`
	GraceMS    int   `yaml:"grace_ms"`
}

// LogsConfig bounds log queries.
type LogsConfig struct {
	MaxRows int `yaml:"max_rows"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey       string `yaml:"vapid_public_key"`
	PrivateKey      string `yaml:"vapid_private_key"`
	Subject         string `yaml:"subject"`
	TTL             int    `yaml:"ttl"`
	CooldownSeconds int    `yaml:"cooldown_seconds"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// RedisConfig configures the optional cross-process event channel.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// MQTTConfig configures the optional machine agent subscriber.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Topic        string `yaml:"topic"`
	QoS          byte   `yaml:"qos"`
	AutoRegister bool   `yaml:"auto_register"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.Push.PublicKey != "" && c.Push.PrivateKey != ""
}

// LivenessEnabled defaults to true when the key is absent.
func (c *Config) LivenessEnabled() bool {
	return c.Liveness.Enabled == nil || *c.Liveness.Enabled
}

// Interval returns the liveness polling interval.
func (l LivenessConfig) Interval() time.Duration {
	return time.Duration(l.IntervalMS) * time.Millisecond
}

// Timeout returns the silence after which a machine is offline.
func (l LivenessConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutMS) * time.Millisecond
}

// Grace returns the recency window in which machines are not judged.
func (l LivenessConfig) Grace() time.Duration {
	return time.Duration(l.GraceMS) * time.Millisecond
}

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

	applyEnv(&cfg)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, suitable for tests
// and for running without a config file.
func Default() *Config {
	cfg := &Config{}
	// Local always resolves.
	_ = cfg.applyDefaults()
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DASHBOARD_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DASHBOARD_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DASHBOARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DASHBOARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 4000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 20
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "data/machines.db"
	}

	if cfg.Liveness.IntervalMS <= 0 {
		cfg.Liveness.IntervalMS = 1000
	}
	if cfg.Liveness.TimeoutMS <= 0 {
		cfg.Liveness.TimeoutMS = 8000
	}
	if cfg.Liveness.GraceMS <= 0 {
		cfg.Liveness.GraceMS = 2000
	}

	if cfg.Logs.MaxRows <= 0 {
		cfg.Logs.MaxRows = 5000
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.Push.CooldownSeconds <= 0 {
		cfg.Push.CooldownSeconds = 300
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = "factory:machine"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "factory/machines/+/logs"
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "factory-dashboard"
	}
	if cfg.MQTT.QoS > 2 {
		cfg.MQTT.QoS = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Timezone == "" || cfg.Timezone == "Local" {
		cfg.Timezone = "Local"
		cfg.Location = time.Local
		return nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	cfg.Location = loc
	return nil
}
