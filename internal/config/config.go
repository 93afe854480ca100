// Package config provides configuration for the stream server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the stream server configuration.
type Config struct {
	// Server settings
	WSPort   int `yaml:"ws_port"`   // External WebSocket port
	HTTPPort int `yaml:"http_port"` // Internal HTTP port for /health and run inspection
	RPCPort  int `yaml:"rpc_port"`  // Internal JSON-RPC port, 0 disables it

	// Execution engine settings
	EngineURL     string        `yaml:"engine_url"` // Empty selects the local echo engine
	EngineTimeout time.Duration `yaml:"engine_timeout"`

	// Auth settings
	RequireAuth bool   `yaml:"require_auth"`
	APIKey      string `yaml:"api_key"`
	JWTSecret   string `yaml:"jwt_secret"`

	// Policy
	PolicyFile string `yaml:"policy_file"`

	// Event log settings
	MaxEventsPerRun int           `yaml:"max_events_per_run"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`

	// WebSocket settings
	PingInterval   time.Duration `yaml:"ping_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxMessageSize int64         `yaml:"max_message_size"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		WSPort:          8090,
		HTTPPort:        8091,
		RPCPort:         8092,
		EngineTimeout:   0,
		MaxEventsPerRun: 10000,
		CleanupInterval: 1800 * time.Second,
		SweepInterval:   60 * time.Second,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxMessageSize:  65536,
		LogLevel:        "info",
	}
}

// Load loads configuration from the file named by CONFIG_FILE, if any,
// then applies environment variables on top.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.WSPort = getEnvInt("WS_PORT", c.WSPort)
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.RPCPort = getEnvInt("RPC_PORT", c.RPCPort)
	c.EngineURL = getEnv("ENGINE_URL", c.EngineURL)
	c.EngineTimeout = getEnvDurationMs("ENGINE_TIMEOUT_MS", c.EngineTimeout)
	c.RequireAuth = getEnvBool("REQUIRE_AUTH", c.RequireAuth)
	c.APIKey = getEnv("API_KEY", c.APIKey)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.PolicyFile = getEnv("POLICY_FILE", c.PolicyFile)
	c.MaxEventsPerRun = getEnvInt("EVENT_LOG_MAX_EVENTS", c.MaxEventsPerRun)
	c.CleanupInterval = time.Duration(getEnvInt("EVENT_LOG_CLEANUP_INTERVAL_S", int(c.CleanupInterval/time.Second))) * time.Second
	c.SweepInterval = time.Duration(getEnvInt("EVENT_LOG_SWEEP_INTERVAL_S", int(c.SweepInterval/time.Second))) * time.Second
	c.PingInterval = getEnvDurationMs("WS_PING_INTERVAL_MS", c.PingInterval)
	c.WriteTimeout = getEnvDurationMs("WS_WRITE_TIMEOUT_MS", c.WriteTimeout)
	c.ReadTimeout = getEnvDurationMs("WS_READ_TIMEOUT_MS", c.ReadTimeout)
	c.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(c.MaxMessageSize)))
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultVal time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, int(defaultVal/time.Millisecond))) * time.Millisecond
}
