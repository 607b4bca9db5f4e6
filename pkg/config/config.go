package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logger  LoggerConfig  `yaml:"logger"`
	Redis   RedisConfig   `yaml:"redis"`
	Streams StreamsConfig `yaml:"streams"`
	Kube    KubeConfig    `yaml:"kube"`
	Demo    DemoConfig    `yaml:"demo"`
	Engine  EngineConfig  `yaml:"engine"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // guards ingestion and demo routes; empty disables auth
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	Format string           `yaml:"format"` // console, json
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"` // pub/sub channel is <prefix>:<stream>
}

// Transport names
const (
	TransportMemory = "memory" // HTTP/websocket ingestion and demo only
	TransportRedis  = "redis"
	TransportSSE    = "sse"
	TransportKube   = "kube"
)

// StreamsConfig selects where the four event streams come from
type StreamsConfig struct {
	Transport string    `yaml:"transport"`
	SSE       SSEConfig `yaml:"sse"`
}

// SSEConfig remote server-sent-events endpoints
type SSEConfig struct {
	BaseURL       string            `yaml:"base_url"`
	Paths         map[string]string `yaml:"paths"` // stream name -> path, defaults to /<stream>
	RetryInterval time.Duration     `yaml:"retry_interval"`
}

// KubeConfig Kubernetes custom resource source
type KubeConfig struct {
	Namespace  string        `yaml:"namespace"`
	Kubeconfig string        `yaml:"kubeconfig"` // empty: in-cluster, then default loading rules
	Group      string        `yaml:"group"`
	Version    string        `yaml:"version"`
	Resync     time.Duration `yaml:"resync"`
}

// DemoConfig synthetic event generator
type DemoConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Seed     int64         `yaml:"seed"` // 0 picks a time based seed
}

// EngineConfig reconciliation engine
type EngineConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	WatchInterval time.Duration `yaml:"watch_interval"` // revision poll period of the watch stream
	StatsInterval time.Duration `yaml:"stats_interval"`
	// MaxWorkerIndex rejects queue events with a larger workerIndex
	MaxWorkerIndex int `yaml:"max_worker_index"`
}

// Defaults
const (
	DefaultPort           = 8080
	DefaultChannelPrefix  = "poolwatch:events"
	DefaultQueueSize      = 1024
	DefaultWatchInterval  = time.Second
	DefaultStatsInterval  = time.Minute
	DefaultMaxWorkerIndex = 1023
	DefaultDemoInterval   = 2 * time.Second
	DefaultSSERetry       = 5 * time.Second
	DefaultKubeGroup      = "codeflare.dev"
	DefaultKubeVersion    = "v1alpha1"
	DefaultKubeResync     = 10 * time.Minute
)

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	validateAndApplyDefaults(cfg)
	return cfg
}

// validateAndApplyDefaults replaces missing or invalid values with defaults
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Mode != "debug" && cfg.Server.Mode != "release" && cfg.Server.Mode != "test" {
		cfg.Server.Mode = "release"
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
	if cfg.Logger.Output != "console" && cfg.Logger.File.Path == "" {
		cfg.Logger.File.Path = "logs/poolwatch.log"
	}

	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = DefaultChannelPrefix
	}

	switch cfg.Streams.Transport {
	case TransportMemory, TransportRedis, TransportSSE, TransportKube:
	default:
		cfg.Streams.Transport = TransportMemory
	}
	if cfg.Streams.SSE.RetryInterval <= 0 {
		cfg.Streams.SSE.RetryInterval = DefaultSSERetry
	}

	if cfg.Kube.Group == "" {
		cfg.Kube.Group = DefaultKubeGroup
	}
	if cfg.Kube.Version == "" {
		cfg.Kube.Version = DefaultKubeVersion
	}
	if cfg.Kube.Resync <= 0 {
		cfg.Kube.Resync = DefaultKubeResync
	}

	if cfg.Demo.Interval <= 0 {
		cfg.Demo.Interval = DefaultDemoInterval
	}

	if cfg.Engine.QueueSize <= 0 {
		cfg.Engine.QueueSize = DefaultQueueSize
	}
	if cfg.Engine.WatchInterval <= 0 {
		cfg.Engine.WatchInterval = DefaultWatchInterval
	}
	if cfg.Engine.StatsInterval <= 0 {
		cfg.Engine.StatsInterval = DefaultStatsInterval
	}
	if cfg.Engine.MaxWorkerIndex <= 0 {
		cfg.Engine.MaxWorkerIndex = DefaultMaxWorkerIndex
	}
}

// Validate reports settings that cannot be defaulted
func (c *Config) Validate() error {
	switch c.Streams.Transport {
	case TransportRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("streams.transport is redis but redis.addr is empty")
		}
	case TransportSSE:
		if c.Streams.SSE.BaseURL == "" {
			return fmt.Errorf("streams.transport is sse but streams.sse.base_url is empty")
		}
	}
	return nil
}

// Load reads, defaults and validates the configuration at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	validateAndApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}
