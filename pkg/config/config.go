package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKey represents an API key configuration
type APIKey struct {
	Role   string `yaml:"role"`
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name,omitempty"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port      string `yaml:"port"`
	PublicURL string `yaml:"public_url,omitempty"`
	// InstanceIDFile keeps the instance ID stable across restarts
	InstanceIDFile string `yaml:"instance_id_file,omitempty"`
}

// LoggingConfig selects log level and encoding
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// VersionConfig tunes version checks
type VersionConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// SourceTimeout replaces the 8s per-source default when set
	SourceTimeout  time.Duration `yaml:"source_timeout"`
	OverallTimeout time.Duration `yaml:"overall_timeout"`
}

// UpdateConfig tunes update operations
type UpdateConfig struct {
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// DockerConfig points at the container engine
type DockerConfig struct {
	// Host is a DOCKER_HOST style address; empty uses the environment default
	Host string `yaml:"host,omitempty"`
}

// Config represents the configuration file structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	APIKeys []APIKey      `yaml:"api_keys"`
	Version VersionConfig `yaml:"version"`
	Update  UpdateConfig  `yaml:"update"`
	Docker  DockerConfig  `yaml:"docker"`
}

// Default returns the configuration used for unset fields
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Version: VersionConfig{
			CacheTTL:       30 * time.Second,
			OverallTimeout: 15 * time.Second,
		},
		Update: UpdateConfig{LockTimeout: 15 * time.Minute},
	}
}

// Load reads the YAML file at filename over the defaults and applies
// PORT and LOG_LEVEL from the environment
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must be set")
	}
	if c.Version.CacheTTL < 0 || c.Version.SourceTimeout < 0 || c.Version.OverallTimeout < 0 {
		return fmt.Errorf("version timeouts must not be negative")
	}
	if c.Update.LockTimeout < 0 {
		return fmt.Errorf("update.lock_timeout must not be negative")
	}
	seen := make(map[string]bool, len(c.APIKeys))
	for i, key := range c.APIKeys {
		if key.APIKey == "" {
			return fmt.Errorf("api_keys[%d] has an empty api_key", i)
		}
		if seen[key.APIKey] {
			return fmt.Errorf("api_keys[%d] duplicates another key", i)
		}
		seen[key.APIKey] = true
	}
	return nil
}

// FindAPIKeyByKey finds an API key by its key value
func FindAPIKeyByKey(apiKeys []APIKey, key string) (*APIKey, bool) {
	for _, ak := range apiKeys {
		if ak.APIKey == key {
			return &ak, true
		}
	}
	return nil, false
}
