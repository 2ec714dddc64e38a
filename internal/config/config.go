package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override, e.g. REGISTERSYNC_HTTP_PORT
const EnvPrefix = "REGISTERSYNC"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Session   *SessionConfig   `mapstructure:"session"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	LogLevel  string           `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Host         string        `mapstructure:"host"`
	// LoginAttemptsPerMinute throttles POST /api/login per client address
	LoginAttemptsPerMinute int `mapstructure:"login_attempts_per_minute"`
}

// FUNCTIONAL DISCOVERY: 30s heartbeat with a 60s read deadline keeps idle
// office tabs connected through proxies
type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

type SessionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	CookieName    string        `mapstructure:"cookie_name"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
}

// AuthConfig carries the hashing cost and the seed accounts created on first start
type AuthConfig struct {
	BcryptCost     int    `mapstructure:"bcrypt_cost"`
	AdminUsername  string `mapstructure:"admin_username"`
	AdminPassword  string `mapstructure:"admin_password"`
	ViewerPassword string `mapstructure:"viewer_password"`
	GamerPassword  string `mapstructure:"gamer_password"`
	SecurityAnswer string `mapstructure:"security_answer"`
}

// DefaultConfig returns the settings used when nothing is overridden
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./registersync.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:                   3000,
			ReadTimeout:            30 * time.Second,
			WriteTimeout:           30 * time.Second,
			Host:                   "0.0.0.0",
			LoginAttemptsPerMinute: 20,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Session: &SessionConfig{
			Window:        30 * time.Minute,
			SweepInterval: time.Minute,
			CookieName:    "registersync.sid",
		},
		Auth: &AuthConfig{
			BcryptCost:     12,
			AdminUsername:  "admin",
			AdminPassword:  "admin123",
			ViewerPassword: "viewer123",
			GamerPassword:  "queen",
			SecurityAnswer: "krishna",
		},
		LogLevel: "info",
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.LoginAttemptsPerMinute <= 0 {
		return fmt.Errorf("login attempts per minute must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.Window <= 0 {
		return fmt.Errorf("session window must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name cannot be empty")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}
	if c.Auth.AdminUsername == "" || c.Auth.AdminPassword == "" {
		return fmt.Errorf("admin credentials cannot be empty")
	}
	if strings.TrimSpace(c.Auth.SecurityAnswer) == "" {
		return fmt.Errorf("security answer cannot be empty")
	}

	return nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// newViper registers every key with its default so AutomaticEnv can see it
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.login_attempts_per_minute", d.HTTP.LoginAttemptsPerMinute)
	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("session.window", d.Session.Window)
	v.SetDefault("session.sweep_interval", d.Session.SweepInterval)
	v.SetDefault("session.cookie_name", d.Session.CookieName)
	v.SetDefault("session.cookie_secure", d.Session.CookieSecure)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.admin_username", d.Auth.AdminUsername)
	v.SetDefault("auth.admin_password", d.Auth.AdminPassword)
	v.SetDefault("auth.viewer_password", d.Auth.ViewerPassword)
	v.SetDefault("auth.gamer_password", d.Auth.GamerPassword)
	v.SetDefault("auth.security_answer", d.Auth.SecurityAnswer)
	v.SetDefault("log_level", d.LogLevel)

	// Seed credentials keep their historical unprefixed variable names
	_ = v.BindEnv("auth.admin_username", EnvPrefix+"_AUTH_ADMIN_USERNAME", "ADMIN_USERNAME")
	_ = v.BindEnv("auth.admin_password", EnvPrefix+"_AUTH_ADMIN_PASSWORD", "ADMIN_PASSWORD")
	_ = v.BindEnv("auth.viewer_password", EnvPrefix+"_AUTH_VIEWER_PASSWORD", "VIEWER_PASSWORD")
	_ = v.BindEnv("auth.security_answer", EnvPrefix+"_AUTH_SECURITY_ANSWER", "SECURITY_ANSWER")

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv applies REGISTERSYNC_* overrides on top of the defaults
func LoadFromEnv() (*Config, error) {
	return decode(newViper())
}

// LoadFromFile reads a JSON, YAML or TOML file (chosen by extension).
// Environment variables still take precedence over file values.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence resolves environment > file > defaults. A broken
// file or environment is logged and the next layer down is used instead.
func LoadConfigWithPrecedence(path string) *Config {
	if path != "" {
		cfg, err := LoadFromFile(path)
		if err == nil {
			return cfg
		}
		slog.Warn("ignoring config file", "path", path, "error", err)
	}

	cfg, err := LoadFromEnv()
	if err == nil {
		return cfg
	}
	slog.Warn("ignoring invalid environment configuration", "error", err)

	return DefaultConfig()
}
