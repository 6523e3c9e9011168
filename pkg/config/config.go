package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Farm       FarmConfig       `yaml:"farm"`
	Hub        HubConfig        `yaml:"hub"`
	Pruning    PruningConfig    `yaml:"pruning"`
	Simulators SimulatorConfig  `yaml:"simulators"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port          int    `yaml:"port"`
	Mode          string `yaml:"mode"`           // debug, release
	AdvertiseHost string `yaml:"advertise_host"` // Address other nodes use to reach this process, detected when empty
}

// FarmConfig device allocation configuration
type FarmConfig struct {
	Platform                  string `yaml:"platform"`                       // android, ios, both
	IOSDeviceType             string `yaml:"ios_device_type"`                // real, simulated, both
	AndroidDeviceType         string `yaml:"android_device_type"`            // real, simulated, both
	MaxSessions               int    `yaml:"max_sessions"`                   // 0 = unlimited
	DeviceAvailabilityTimeout int    `yaml:"device_availability_timeout_ms"` // Allocation wait budget (ms)
	DeviceRetryInterval       int    `yaml:"device_retry_interval_ms"`       // Allocation poll interval (ms)
	NewCommandTimeout         int    `yaml:"new_command_timeout_sec"`        // Idle release threshold (seconds)
	ReleaseCheckInterval      int    `yaml:"release_check_interval_ms"`      // Idle release pass interval (ms)
}

// HubConfig node->hub synchronization configuration
type HubConfig struct {
	Address      string `yaml:"address"`          // Hub base URL, empty when this process is the hub
	PushInterval int    `yaml:"push_interval_ms"` // Device list push interval (ms)
	ProbeTimeout int    `yaml:"probe_timeout_ms"` // Liveness probe timeout (ms)
	PushTimeout  int    `yaml:"push_timeout_ms"`  // Push request timeout (ms)
}

// PruningConfig hub-side stale device pruning configuration
type PruningConfig struct {
	Enabled          bool `yaml:"enabled"`
	Interval         int  `yaml:"interval_ms"`          // Pass interval (ms)
	FailureThreshold int  `yaml:"failure_threshold"`    // Consecutive failed probes before a host's devices are removed
	RecheckInterval  int  `yaml:"recheck_interval_sec"` // Re-probe confirmed hosts after this long, 0 = only after a failure
	MaxParallel      int  `yaml:"max_parallel"`         // Concurrent probes per pass
}

// SimulatorConfig simulator state refresh configuration
type SimulatorConfig struct {
	RefreshInterval int `yaml:"refresh_interval_ms"`
}

// DiscoveryConfig local device discovery configuration
type DiscoveryConfig struct {
	InventoryFile string `yaml:"inventory_file"` // YAML list of attached devices
}

// StorageConfig utilization store configuration
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, redis, mysql
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN builds the go-sql-driver DSN
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// Default values
const (
	DefaultPort                      = 4723
	DefaultDeviceAvailabilityTimeout = 300000
	DefaultDeviceRetryInterval       = 10000
	DefaultNewCommandTimeout         = 60
	DefaultReleaseCheckInterval      = 30000
	DefaultPushInterval              = 30000
	DefaultProbeTimeout              = 5000
	DefaultPushTimeout               = 10000
	DefaultPruningInterval           = 30000
	DefaultFailureThreshold          = 1
	DefaultMaxParallelProbes         = 16
	DefaultSimulatorRefreshInterval  = 10000
)

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	validateAndApplyDefaults(cfg)
	return cfg
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

// Load reads and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	validateAndApplyDefaults(&cfg)
	return &cfg, nil
}

// validateAndApplyDefaults replaces missing or invalid values with defaults
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Farm.Platform == "" {
		cfg.Farm.Platform = "android"
	}
	if cfg.Farm.IOSDeviceType == "" {
		cfg.Farm.IOSDeviceType = "both"
	}
	if cfg.Farm.AndroidDeviceType == "" {
		cfg.Farm.AndroidDeviceType = "both"
	}
	if cfg.Farm.MaxSessions < 0 {
		cfg.Farm.MaxSessions = 0
	}
	if cfg.Farm.DeviceAvailabilityTimeout <= 0 {
		cfg.Farm.DeviceAvailabilityTimeout = DefaultDeviceAvailabilityTimeout
	}
	if cfg.Farm.DeviceRetryInterval <= 0 {
		cfg.Farm.DeviceRetryInterval = DefaultDeviceRetryInterval
	}
	if cfg.Farm.NewCommandTimeout <= 0 {
		cfg.Farm.NewCommandTimeout = DefaultNewCommandTimeout
	}
	if cfg.Farm.ReleaseCheckInterval <= 0 {
		cfg.Farm.ReleaseCheckInterval = DefaultReleaseCheckInterval
	}

	if cfg.Hub.PushInterval <= 0 {
		cfg.Hub.PushInterval = DefaultPushInterval
	}
	if cfg.Hub.ProbeTimeout <= 0 {
		cfg.Hub.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Hub.PushTimeout <= 0 {
		cfg.Hub.PushTimeout = DefaultPushTimeout
	}

	if cfg.Pruning.Interval <= 0 {
		cfg.Pruning.Interval = DefaultPruningInterval
	}
	if cfg.Pruning.FailureThreshold <= 0 {
		cfg.Pruning.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Pruning.RecheckInterval < 0 {
		cfg.Pruning.RecheckInterval = 0
	}
	if cfg.Pruning.MaxParallel <= 0 {
		cfg.Pruning.MaxParallel = DefaultMaxParallelProbes
	}

	if cfg.Simulators.RefreshInterval <= 0 {
		cfg.Simulators.RefreshInterval = DefaultSimulatorRefreshInterval
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
}

// IsHub reports whether this process aggregates devices from other nodes
func (c *Config) IsHub() bool {
	return c.Hub.Address == ""
}
