// Package config loads the core's configuration: a YAML file with
// environment overrides and explicit defaults per component.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// Config is the full configuration document.
type Config struct {
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Execution ExecutionConfig `yaml:"execution"`
	Loop      LoopConfig      `yaml:"loop"`
	Crier     CrierConfig     `yaml:"town_crier"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Events    EventsConfig    `yaml:"events"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// SnapshotConfig locates the world snapshot file.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// ExecutionConfig selects the execution-store backend.
type ExecutionConfig struct {
	Backend    string `yaml:"backend"` // memory | sqlite
	SQLitePath string `yaml:"sqlite_path"`
}

// LoopConfig tunes the world loop.
type LoopConfig struct {
	Enabled                 bool `yaml:"enabled"`
	TickMs                  int  `yaml:"tick_ms"`
	MaxEventsPerTick        int  `yaml:"max_events_per_tick"`
	MaxEventsPerAgentPerMin int  `yaml:"max_events_per_agent_per_min"`
}

// CrierConfig tunes the town crier.
type CrierConfig struct {
	Enabled      bool `yaml:"enabled"`
	IntervalMs   int  `yaml:"interval_ms"`
	MaxPerTick   int  `yaml:"max_per_tick"`
	RecentWindow int  `yaml:"recent_window"`
	DedupeWindow int  `yaml:"dedupe_window"`
}

// DialogueConfig bounds outbound dialogue requests.
type DialogueConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	TimeoutMs     int `yaml:"timeout_ms"`
}

// EventsConfig wires the optional Redis event mirror.
type EventsConfig struct {
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

// ServerConfig tunes the status gateway.
type ServerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Port            string `yaml:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_sec"`
}

// MetricsConfig tunes the periodic reporter.
type MetricsConfig struct {
	ReportIntervalSec int `yaml:"report_interval_sec"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("WORLDCORE_CONFIG", "worldcore.yaml"))
		if err != nil {
			slog.Warn("config: no config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Snapshot.Path = getEnv("WORLDCORE_SNAPSHOT_PATH", c.Snapshot.Path)
	c.Execution.Backend = getEnv("WORLDCORE_EXECUTION_BACKEND", c.Execution.Backend)
	c.Execution.SQLitePath = getEnv("WORLDCORE_EXECUTION_SQLITE_PATH", c.Execution.SQLitePath)
	c.Events.RedisAddr = getEnv("WORLDCORE_REDIS_ADDR", c.Events.RedisAddr)
	c.Events.RedisChannel = getEnv("WORLDCORE_REDIS_CHANNEL", c.Events.RedisChannel)
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Enabled = getEnvBool("WORLDCORE_SERVER_ENABLED", c.Server.Enabled)
	c.Loop.Enabled = getEnvBool("WORLDCORE_LOOP_ENABLED", c.Loop.Enabled)
	if v := getEnvInt("WORLDCORE_TICK_MS", 0); v > 0 {
		c.Loop.TickMs = v
	}
	if v := getEnvInt("WORLDCORE_MAX_EVENTS_PER_TICK", 0); v > 0 {
		c.Loop.MaxEventsPerTick = v
	}
	if v := getEnvInt("WORLDCORE_MAX_EVENTS_PER_AGENT_PER_MIN", 0); v > 0 {
		c.Loop.MaxEventsPerAgentPerMin = v
	}
	c.Crier.Enabled = getEnvBool("WORLDCORE_TOWN_CRIER_ENABLED", c.Crier.Enabled)
	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = "world-snapshot.json"
	}
	if c.Execution.Backend == "" {
		c.Execution.Backend = "memory"
	}
	if c.Execution.SQLitePath == "" {
		c.Execution.SQLitePath = "world-execution.db"
	}
	if c.Loop.TickMs == 0 {
		c.Loop.TickMs = 2000
	}
	if c.Loop.MaxEventsPerTick == 0 {
		c.Loop.MaxEventsPerTick = 8
	}
	if c.Loop.MaxEventsPerAgentPerMin == 0 {
		c.Loop.MaxEventsPerAgentPerMin = 10
	}
	if c.Crier.IntervalMs == 0 {
		c.Crier.IntervalMs = 10_000
	}
	if c.Crier.MaxPerTick == 0 {
		c.Crier.MaxPerTick = 2
	}
	if c.Crier.RecentWindow == 0 {
		c.Crier.RecentWindow = 20
	}
	if c.Crier.DedupeWindow == 0 {
		c.Crier.DedupeWindow = 50
	}
	if c.Dialogue.MaxConcurrent == 0 {
		c.Dialogue.MaxConcurrent = 4
	}
	if c.Dialogue.TimeoutMs == 0 {
		c.Dialogue.TimeoutMs = 15_000
	}
	if c.Events.RedisChannel == "" {
		c.Events.RedisChannel = "worldcore.events"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Metrics.ReportIntervalSec == 0 {
		c.Metrics.ReportIntervalSec = 30
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
