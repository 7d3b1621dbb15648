package app

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Token store backends.
const (
	TokenStoreFile  = "file"
	TokenStoreRedis = "redis"
)

// Config holds runtime configuration for the console.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:"127.0.0.1:8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"0s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"120"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	BackendURL     string        `envconfig:"BACKEND_URL" default:"http://127.0.0.1:8081"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"20s"`

	TokenStore       string `envconfig:"TOKEN_STORE" default:"file"`
	TokenFile        string `envconfig:"TOKEN_FILE" default:".console/token.json"`
	RedisAddr        string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisTokenPrefix string `envconfig:"REDIS_TOKEN_PREFIX" default:"console:"`

	RoutesFile string `envconfig:"ROUTES_FILE"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config missing")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend url %q must be an absolute http(s) URL", c.BackendURL)
	}
	switch c.TokenStore {
	case TokenStoreFile:
		if c.TokenFile == "" {
			return errors.New("token file must be provided for the file token store")
		}
		c.TokenFile = filepath.Clean(c.TokenFile)
	case TokenStoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redis address must be provided for the redis token store")
		}
	default:
		return fmt.Errorf("unknown token store %q", c.TokenStore)
	}
	return nil
}

// IsProduction returns true when the console runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
