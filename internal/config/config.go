// Package config provides configuration management for the heart-risk server.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/heartrisk-server/internal/domain"
)

// EnvPrefix is the prefix of environment variables overriding config keys.
const EnvPrefix = "HEARTRISK"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	mu     sync.RWMutex
	config *domain.Config
}

// NewManager creates a new configuration manager reading config.yaml from
// the default search paths.
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile creates a configuration manager reading the given file.
// An empty path searches ".", "./config" and "/etc/heartrisk-server/".
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{v: viper.New()}
	m.configure(path)
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// configure sets file lookup, environment binding and defaults.
func (m *Manager) configure(path string) {
	if path != "" {
		m.v.SetConfigFile(path)
	} else {
		m.v.SetConfigName("config")
		m.v.SetConfigType("yaml")
		m.v.AddConfigPath(".")
		m.v.AddConfigPath("./config")
		m.v.AddConfigPath("/etc/heartrisk-server/")
	}

	// Set environment variable prefix and enable automatic env binding
	m.v.SetEnvPrefix(EnvPrefix)
	m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.v.AutomaticEnv()

	m.setDefaults()
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := m.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := m.v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	v := m.v

	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5050)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "heartrisk")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "30m")

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "./data/history.db")

	// Prediction service defaults
	v.SetDefault("prediction.base_url", "http://localhost:8000")
	v.SetDefault("prediction.timeout", "10s")
	v.SetDefault("prediction.rate_limit", 10)
	v.SetDefault("prediction.retry_count", 2)
	v.SetDefault("prediction.threshold", 0.5)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.memory_entries", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("reference.path", "")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("cors.allow_credentials", true)
	v.SetDefault("cors.max_age", "12h")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 5)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("mcp.server_name", "heartrisk-analysis")
	v.SetDefault("mcp.server_version", "v0.1.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.GetConfig().Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.GetConfig().Server
}

// GetPredictionConfig returns prediction service configuration
func (m *Manager) GetPredictionConfig() *domain.PredictionConfig {
	return &m.GetConfig().Prediction
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Watch reloads the configuration whenever the config file changes and
// reports the outcome to onChange. A nil error means the new values are live.
func (m *Manager) Watch(onChange func(event fsnotify.Event, err error)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		err := m.loadConfig()
		if err == nil {
			err = m.Validate()
		}
		if onChange != nil {
			onChange(e, err)
		}
	})
	m.v.WatchConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.GetConfig()

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch strings.ToLower(config.Storage.Driver) {
	case "sqlite":
		if config.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", config.Storage.Driver)
	}

	// Validate prediction service configuration
	if config.Prediction.BaseURL == "" {
		return fmt.Errorf("prediction service base URL is required")
	}
	if _, err := url.ParseRequestURI(config.Prediction.BaseURL); err != nil {
		return fmt.Errorf("invalid prediction service base URL: %w", err)
	}
	if config.Prediction.Threshold <= 0 || config.Prediction.Threshold >= 1 {
		return fmt.Errorf("prediction threshold must be within (0, 1): %g", config.Prediction.Threshold)
	}
	if config.Prediction.RateLimit < 0 {
		return fmt.Errorf("invalid prediction rate limit: %d", config.Prediction.RateLimit)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit requests_per_second must be positive")
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.GetConfig().Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database connection as a postgres:// URL, the
// form expected by the migration runner.
func (m *Manager) GetDatabaseURL() string {
	db := m.GetConfig().Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: "sslmode=" + url.QueryEscape(db.SSLMode),
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.GetConfig().Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.GetConfig().Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.GetConfig().Environment)
	return env == "development" || env == "dev" || env == ""
}
