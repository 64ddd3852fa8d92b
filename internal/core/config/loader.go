package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// AppConfig represents the top-level configuration file.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Redis    RedisConfig     `yaml:"redis"`
	Database DatabaseConfig  `yaml:"database"`
	Targets  []Configuration `yaml:"-"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Enabled reports whether a Redis URL is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database URL is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// ServerConfig holds diagnostics server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type fileConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Redis    RedisConfig     `yaml:"redis"`
	Database DatabaseConfig  `yaml:"database"`
	Targets  []any           `yaml:"targets"`
}

// Load reads configuration from a YAML file and validates every target.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data. Environment variables are expanded
// before decoding.
func Parse(data []byte) (*AppConfig, error) {
	var fc fileConfig
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &AppConfig{
		Server:   fc.Server,
		Logging:  fc.Logging,
		Redis:    fc.Redis,
		Database: fc.Database,
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}

	seen := make(map[string]bool, len(fc.Targets))
	for i, t := range fc.Targets {
		raw, ok := normalize(t).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("targets[%d]: expected a mapping, got %T", i, t)
		}
		target, err := Validate(raw)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		if seen[target.Target] {
			return nil, fmt.Errorf("targets[%d]: duplicate target %q", i, target.Target)
		}
		seen[target.Target] = true
		cfg.Targets = append(cfg.Targets, target)
	}

	return cfg, nil
}

// Target returns the configuration of the named target.
func (c *AppConfig) Target(name string) (Configuration, bool) {
	for _, t := range c.Targets {
		if t.Target == name {
			return t, true
		}
	}
	return Configuration{}, false
}

// normalize converts the map[interface{}]interface{} values produced by
// yaml.v2 into map[string]any, recursively.
func normalize(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
