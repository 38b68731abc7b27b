package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "imq.yaml"

// validGithubTokenPrefixes lists the accepted IMQ_GITHUB_TOKEN prefixes.
var validGithubTokenPrefixes = []string{"ghp_", "github_pat_", "ghs_"}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "IMQ_API_HOST")
	setString(&cfg.Server.Port, "IMQ_API_PORT")

	setString(&cfg.Forge.Token, "IMQ_GITHUB_TOKEN")
	setString(&cfg.Forge.Repo, "IMQ_GITHUB_REPO")
	setString(&cfg.Forge.APIURL, "IMQ_GITHUB_API_URL")
	setString(&cfg.Forge.Mode, "IMQ_GITHUB_MODE")
	setDuration(&cfg.Forge.PollingInterval, "IMQ_POLLING_INTERVAL")
	setString(&cfg.Forge.WebhookSecret, "IMQ_WEBHOOK_SECRET")
	setString(&cfg.Forge.WebhookProxyURL, "IMQ_WEBHOOK_PROXY_URL")
	setString(&cfg.Forge.TriggerLabel, "IMQ_TRIGGER_LABEL")

	setString(&cfg.Database.Path, "IMQ_DATABASE_PATH")
	setInt(&cfg.Database.PoolSize, "IMQ_DATABASE_POOL_SIZE")

	setString(&cfg.Logging.Level, "IMQ_LOG_LEVEL")
	setString(&cfg.Logging.Format, "IMQ_LOG_FORMAT")

	setString(&cfg.Runtime.Environment, "IMQ_ENVIRONMENT")
	setBool(&cfg.Runtime.Debug, "IMQ_DEBUG")

	setBool(&cfg.OTEL.Enabled, "IMQ_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "IMQ_OTEL_ENDPOINT")
	setFloat64(&cfg.OTEL.SampleRate, "IMQ_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and the boundary rules from
// the external interface contract are honored. Startup refuses to proceed on
// any violation (Config.MissingRequired / Config.InvalidValue).
func validate(cfg *Config) error {
	if cfg.Forge.Token == "" {
		return errors.New("forge.token (IMQ_GITHUB_TOKEN) is required")
	}
	if !hasValidTokenPrefix(cfg.Forge.Token) {
		return fmt.Errorf("forge.token has an unrecognized prefix; expected one of %v", validGithubTokenPrefixes)
	}
	if cfg.Forge.Repo == "" {
		return errors.New("forge.repo (IMQ_GITHUB_REPO) is required")
	}
	if cfg.Forge.Mode != "polling" && cfg.Forge.Mode != "webhook" {
		return fmt.Errorf("forge.mode must be one of {polling, webhook}, got %q", cfg.Forge.Mode)
	}
	if cfg.Forge.PollingInterval < 10*time.Second {
		return fmt.Errorf("forge.polling_interval must be >= 10s, got %v", cfg.Forge.PollingInterval)
	}
	if cfg.Forge.Mode == "webhook" && cfg.Forge.WebhookSecret == "" {
		return errors.New("forge.webhook_secret is required when forge.mode is webhook")
	}

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be an integer in 1-65535, got %q", cfg.Server.Port)
	}

	if cfg.Database.PoolSize < 1 {
		return errors.New("database.pool_size must be >= 1")
	}

	if cfg.Logging.Format != "json" && cfg.Logging.Format != "pretty" {
		return fmt.Errorf("logging.format must be one of {json, pretty}, got %q", cfg.Logging.Format)
	}

	switch cfg.Runtime.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("runtime.environment must be one of {development, staging, production}, got %q", cfg.Runtime.Environment)
	}

	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}

	return nil
}

func hasValidTokenPrefix(token string) bool {
	for _, p := range validGithubTokenPrefixes {
		if strings.HasPrefix(token, p) {
			return true
		}
	}
	return false
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
