// Package config handles configuration loading and validation for redisql
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JayabrataBasu/redisql/internal/logger"
	"github.com/JayabrataBasu/redisql/pkg/auth"
	"github.com/JayabrataBasu/redisql/pkg/store"
)

// Config holds all configuration for redisql
type Config struct {
	Redis  RedisConfig  `mapstructure:"redis" yaml:"redis"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Shell  ShellConfig  `mapstructure:"shell" yaml:"shell"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// RedisConfig describes the store connection. Fields other than URL
// override what the URL says when set.
type RedisConfig struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Username       string `mapstructure:"username" yaml:"username,omitempty"`
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	Database       int    `mapstructure:"database" yaml:"database"`
	ClientName     string `mapstructure:"client_name" yaml:"client_name,omitempty"`
	DialTimeoutMs  int    `mapstructure:"dial_timeout_ms" yaml:"dial_timeout_ms"`
	ReadTimeoutMs  int    `mapstructure:"read_timeout_ms" yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `mapstructure:"write_timeout_ms" yaml:"write_timeout_ms"`
	PoolSize       int    `mapstructure:"pool_size" yaml:"pool_size"`
	TLS            bool   `mapstructure:"tls" yaml:"tls"`
	TLSSkipVerify  bool   `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// ServerConfig holds gateway configuration
type ServerConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	// Users maps user name to bcrypt hash. Empty disables authentication.
	Users map[string]string `mapstructure:"users" yaml:"users"`
}

// ShellConfig holds interactive shell configuration
type ShellConfig struct {
	HistoryFile    string `mapstructure:"history_file" yaml:"history_file"`
	MaxColumnWidth int    `mapstructure:"max_column_width" yaml:"max_column_width"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			URL:            "redis://localhost:6379",
			DialTimeoutMs:  2000,
			ReadTimeoutMs:  2000,
			WriteTimeoutMs: 2000,
			PoolSize:       10,
		},
		Server: ServerConfig{
			Host:           "localhost",
			Port:           5433,
			MaxConnections: 100,
			Users:          map[string]string{},
		},
		Shell: ShellConfig{
			HistoryFile:    "",
			MaxColumnWidth: 60,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	cfg := Default()
	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("redis.username", cfg.Redis.Username)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.database", cfg.Redis.Database)
	v.SetDefault("redis.client_name", cfg.Redis.ClientName)
	v.SetDefault("redis.dial_timeout_ms", cfg.Redis.DialTimeoutMs)
	v.SetDefault("redis.read_timeout_ms", cfg.Redis.ReadTimeoutMs)
	v.SetDefault("redis.write_timeout_ms", cfg.Redis.WriteTimeoutMs)
	v.SetDefault("redis.pool_size", cfg.Redis.PoolSize)
	v.SetDefault("redis.tls", cfg.Redis.TLS)
	v.SetDefault("redis.tls_skip_verify", cfg.Redis.TLSSkipVerify)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.max_connections", cfg.Server.MaxConnections)
	v.SetDefault("shell.history_file", cfg.Shell.HistoryFile)
	v.SetDefault("shell.max_column_width", cfg.Shell.MaxColumnWidth)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)

	// REDISQL_REDIS_URL, REDISQL_LOG_LEVEL, ...
	v.SetEnvPrefix("REDISQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("redisql")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.redisql")
		v.AddConfigPath("/etc/redisql")

		// It's okay if no config file is found - we use defaults
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Server.Users == nil {
		cfg.Server.Users = map[string]string{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are sensible
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if c.Shell.MaxColumnWidth != 0 && c.Shell.MaxColumnWidth < 4 {
		return fmt.Errorf("max_column_width must be 0 (unlimited) or at least 4")
	}
	if c.Redis.Database < 0 {
		return fmt.Errorf("invalid database: %d", c.Redis.Database)
	}
	if c.Redis.DialTimeoutMs < 0 || c.Redis.ReadTimeoutMs < 0 || c.Redis.WriteTimeoutMs < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if _, err := c.StoreOptions(); err != nil {
		return err
	}
	return nil
}

// StoreOptions resolves the redis section into pool options.
func (c *Config) StoreOptions() (store.Options, error) {
	r := c.Redis
	opts, err := store.ParseURL(r.URL)
	if err != nil {
		return store.Options{}, err
	}

	if r.Username != "" {
		opts.Username = r.Username
	}
	if r.Password != "" {
		opts.Password = r.Password
	}
	if r.Database > 0 {
		opts.DB = r.Database
	}
	if r.ClientName != "" {
		opts.ClientName = r.ClientName
	}
	if r.DialTimeoutMs > 0 {
		opts.DialTimeout = time.Duration(r.DialTimeoutMs) * time.Millisecond
	}
	if r.ReadTimeoutMs > 0 {
		opts.ReadTimeout = time.Duration(r.ReadTimeoutMs) * time.Millisecond
	}
	if r.WriteTimeoutMs > 0 {
		opts.WriteTimeout = time.Duration(r.WriteTimeoutMs) * time.Millisecond
	}
	if r.PoolSize > 0 {
		opts.PoolSize = r.PoolSize
	}
	if r.TLS {
		opts.TLS = true
	}
	if r.TLSSkipVerify {
		opts.TLSSkipVerify = true
	}

	if err := opts.Validate(); err != nil {
		return store.Options{}, fmt.Errorf("redis: %w", err)
	}
	return opts, nil
}

// ListenAddr returns the gateway's host:port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// UserCatalog builds the gateway's password catalog.
func (c *Config) UserCatalog() (*auth.UserCatalog, error) {
	return auth.NewUserCatalog(c.Server.Users)
}

// WriteDefault writes the default configuration as YAML. An existing file
// is left untouched.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	header := "# redisql configuration\n# Environment variables override these values, e.g. REDISQL_REDIS_URL.\n\n"
	if _, err := f.WriteString(header); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
