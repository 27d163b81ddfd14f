package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: CANOPY_SERVER_PORT=8080.
const EnvPrefix = "CANOPY"

// Config holds all canopy configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Search   SearchConfig   `mapstructure:"search"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty: store.DefaultDBPath()
}

type SearchConfig struct {
	DefaultLimit    int           `mapstructure:"default_limit"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FuzzyAttributes bool          `mapstructure:"fuzzy_attributes"`
	RegexCacheTTL   time.Duration `mapstructure:"regex_cache_ttl"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
	Workers    int `mapstructure:"workers"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Search: SearchConfig{
			DefaultLimit:  100,
			Timeout:       5 * time.Second,
			RegexCacheTTL: 10 * time.Minute,
		},
		Events: EventsConfig{
			BufferSize: 1024,
			Workers:    2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (YAML) over the defaults, then applies CANOPY_*
// environment overrides. An empty path reads canopy.yaml from the working
// directory if present.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("canopy")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even
// when the file does not mention them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("search.default_limit", d.Search.DefaultLimit)
	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.fuzzy_attributes", d.Search.FuzzyAttributes)
	v.SetDefault("search.regex_cache_ttl", d.Search.RegexCacheTTL)
	v.SetDefault("events.buffer_size", d.Events.BufferSize)
	v.SetDefault("events.workers", d.Events.Workers)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Search.DefaultLimit < 0 {
		return fmt.Errorf("search.default_limit must not be negative")
	}
	if c.Events.BufferSize < 1 || c.Events.Workers < 1 {
		return fmt.Errorf("events.buffer_size and events.workers must be at least 1")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
