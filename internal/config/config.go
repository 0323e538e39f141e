package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/thinger-io/thinger-ota/pkg/errors"
)

// DefaultHost is used when neither the configuration nor the token name a server
const DefaultHost = "backend.thinger.io"

// Config holds all application configuration
type Config struct {
	// Server connection
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Secure  bool          `mapstructure:"secure"`
	Token   string        `mapstructure:"token"`
	User    string        `mapstructure:"user"`
	Timeout time.Duration `mapstructure:"timeout"`

	// Transfer
	ChunkSize int `mapstructure:"chunk-size"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// FSM configuration
	FSMEnabled    bool `mapstructure:"fsm-enabled"`
	FSMMaxRetries int  `mapstructure:"fsm-max-retries"`

	// S3 configuration
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`

	// Security limits
	MaxFirmwareSize int64 `mapstructure:"max-firmware-size"`
	MinChunkSize    int   `mapstructure:"min-chunk-size"`
	MaxChunkSize    int   `mapstructure:"max-chunk-size"`

	// Observability
	MetricsAddr string `mapstructure:"metrics-addr"`
	LogLevel    string `mapstructure:"log-level"`
}

// Load reads configuration from .env, environment, config file, flags and defaults
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, errors.Wrap(err, "failed to load .env")
	}
	return load(viper.GetViper())
}

func load(v *viper.Viper) (*Config, error) {
	// Set defaults. Every key needs one, or Unmarshal will not see its env variable.
	v.SetDefault("host", "")
	v.SetDefault("token", "")
	v.SetDefault("user", "")
	v.SetDefault("s3-bucket", "")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("log-level", "")
	v.SetDefault("port", 443)
	v.SetDefault("secure", true)
	v.SetDefault("timeout", 60*time.Second)
	v.SetDefault("chunk-size", 0)
	v.SetDefault("sqlite-path", ".artifacts/history.db")
	v.SetDefault("fsm-db-path", ".artifacts/fsm")
	v.SetDefault("fsm-enabled", false)
	v.SetDefault("fsm-max-retries", 3)
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("max-firmware-size", 16*1024*1024)
	v.SetDefault("min-chunk-size", 256)
	v.SetDefault("max-chunk-size", 64*1024)

	// Environment variables (will be THINGER_TOKEN, THINGER_SQLITE_PATH, etc.)
	v.SetEnvPrefix("THINGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.thinger")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.applyToken(); err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	return &cfg, nil
}

// applyToken fills user and host from the token claims when they are not set.
// The signature is checked by the server, not here.
func (c *Config) applyToken() error {
	if c.Token == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return errors.NewConfigurationError(fmt.Sprintf("invalid token: %v", err))
	}

	if usr, ok := claims["usr"].(string); ok && c.User == "" {
		c.User = usr
	}
	if svr, ok := claims["svr"].(string); ok && c.Host == "" {
		c.Host = svr
	}
	return nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.NewConfigurationError("token cannot be empty (set THINGER_TOKEN or --token)")
	}
	if c.User == "" {
		return errors.NewConfigurationError("user cannot be empty and is not present in the token")
	}
	if c.Host == "" {
		return errors.NewConfigurationError("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NewConfigurationError(fmt.Sprintf("port %d out of range", c.Port))
	}
	return c.ValidateLocal()
}

// ValidateLocal checks the settings used by commands that do not talk to the server
func (c *Config) ValidateLocal() error {
	if c.SQLitePath == "" {
		return errors.NewConfigurationError("sqlite-path cannot be empty")
	}
	if c.FSMEnabled && c.FSMDBPath == "" {
		return errors.NewConfigurationError("fsm-db-path cannot be empty when fsm-enabled is set")
	}
	if c.FSMMaxRetries < 0 {
		return errors.NewConfigurationError("fsm-max-retries must be non-negative")
	}
	if c.Timeout <= 0 {
		return errors.NewConfigurationError("timeout must be positive")
	}
	if c.MaxFirmwareSize <= 0 {
		return errors.NewConfigurationError("max-firmware-size must be positive")
	}
	if c.MinChunkSize <= 0 || c.MaxChunkSize < c.MinChunkSize {
		return errors.NewConfigurationError(fmt.Sprintf("invalid chunk size bounds [%d, %d]", c.MinChunkSize, c.MaxChunkSize))
	}
	if c.ChunkSize < 0 {
		return errors.NewConfigurationError("chunk-size must be non-negative")
	}
	return nil
}

// BaseURL returns the server URL, e.g. https://backend.thinger.io:443
func (c *Config) BaseURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
