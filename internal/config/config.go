// Package config provides hierarchical configuration loading for imqd.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConfigHolder provides thread-safe access to a Config with hot-reload support.
type ConfigHolder struct {
	mu       sync.RWMutex
	cfg      Config
	yamlPath string
}

// NewHolder creates a ConfigHolder from an initial Config and the YAML path
// used for reloading.
func NewHolder(cfg *Config, yamlPath string) *ConfigHolder {
	return &ConfigHolder{cfg: *cfg, yamlPath: yamlPath}
}

// Get returns a pointer to the Config. Callers must not store the pointer
// long-term; read values immediately and release.
func (h *ConfigHolder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return &h.cfg
}

// Reload re-reads the YAML file and environment variables, validates, and
// swaps the config in-place. If validation fails, the old config is preserved.
// Server.Port, Forge.Mode, and Database.Path are not hot-reloadable; a changed
// value is logged but the process must be restarted to take effect.
func (h *ConfigHolder) Reload() error {
	newCfg, err := LoadFrom(h.yamlPath)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if newCfg.Server.Port != h.cfg.Server.Port {
		slog.Warn("config reload: server.port changed but requires restart",
			"old", h.cfg.Server.Port, "new", newCfg.Server.Port)
	}
	if newCfg.Forge.Mode != h.cfg.Forge.Mode {
		slog.Warn("config reload: forge.mode changed but requires restart",
			"old", h.cfg.Forge.Mode, "new", newCfg.Forge.Mode)
	}
	if newCfg.Database.Path != h.cfg.Database.Path {
		slog.Warn("config reload: database.path changed but requires restart",
			"old", h.cfg.Database.Path, "new", newCfg.Database.Path)
	}
	if newCfg.Logging.Level != h.cfg.Logging.Level {
		slog.Info("config reload: logging level changed",
			"old", h.cfg.Logging.Level, "new", newCfg.Logging.Level)
	}

	h.cfg = *newCfg
	return nil
}

// Config holds all runtime configuration for imqd.
type Config struct {
	Server   Server   `yaml:"server"`
	Forge    Forge    `yaml:"forge"`
	Database Database `yaml:"database"`
	Queue    Queue    `yaml:"queue"`
	Logging  Logging  `yaml:"logging"`
	Breaker  Breaker  `yaml:"breaker"`
	Rate     Rate     `yaml:"rate"`
	OTEL     OTEL     `yaml:"otel"`
	Runtime  Runtime  `yaml:"runtime"`
}

// Server holds the HTTP/WebSocket listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
}

// Forge holds the GitHub-compatible Forge connection configuration.
type Forge struct {
	Token           string        `yaml:"token"`
	Repo            string        `yaml:"repo"`
	APIURL          string        `yaml:"api_url"`
	Mode            string        `yaml:"mode"` // "polling" or "webhook"
	PollingInterval time.Duration `yaml:"polling_interval"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	WebhookProxyURL string        `yaml:"webhook_proxy_url"`
	TriggerLabel    string        `yaml:"trigger_label"`
	APIVersion      string        `yaml:"api_version"`
	UserAgent       string        `yaml:"user_agent"`
}

// Database holds the embedded SQL persistence configuration.
type Database struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// Queue holds Queue Engine tunables not otherwise covered by SystemConfiguration.
type Queue struct {
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
	BranchSettleWait time.Duration `yaml:"branch_settle_wait"`
}

// Logging holds structured-logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // "json" or "pretty"
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit-breaker tunables for the Forge Client.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Rate holds inbound HTTP rate-limiting tunables (webhook/API surface).
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Runtime holds process-level flags.
type Runtime struct {
	Environment string `yaml:"environment"` // development, staging, production
	Debug       bool   `yaml:"debug"`
}

// Defaults returns a Config populated with the documented default values.
func Defaults() Config {
	return Config{
		Server: Server{
			Host: "0.0.0.0",
			Port: "8080",
		},
		Forge: Forge{
			APIURL:          "https://api.github.com",
			Mode:            "polling",
			PollingInterval: 30 * time.Second,
			TriggerLabel:    "merge-queue",
			APIVersion:      "2022-11-28",
			UserAgent:       "imq/1.0",
		},
		Database: Database{
			Path:     "imq.db",
			PoolSize: 5,
		},
		Queue: Queue{
			ShutdownGrace:    30 * time.Second,
			BranchSettleWait: 2 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Format:  "json",
			Service: "imqd",
			Async:   false,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Rate: Rate{
			RequestsPerSecond: 10,
			Burst:             20,
			CleanupInterval:   time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		OTEL: OTEL{
			Enabled:     false,
			ServiceName: "imqd",
			SampleRate:  0.1,
		},
		Runtime: Runtime{
			Environment: "development",
			Debug:       false,
		},
	}
}
