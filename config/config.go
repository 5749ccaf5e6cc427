// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment key.
const Prefix = "ONBOARD_"

const (
	BackendLocal  = "local"
	BackendAuth0  = "auth0"
	BackendKratos = "kratos"
)

type Config struct {
	Env          string `env:"ENV" envDefault:"development"`
	Debug        bool   `env:"DEBUG"`
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicURL    string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	PublicAPIKey string `env:"PUBLIC_API_KEY"`

	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Admin     AdminConfig
	Identity  IdentityConfig
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
	Client    ClientConfig    `envPrefix:"CLIENT_"`
}

type DatabaseConfig struct {
	DSN         string `env:"DSN" envDefault:"file::memory:?cache=shared"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type AdminConfig struct {
	Secret     string `env:"ADMIN_SECRET"`
	Compensate bool   `env:"PROVISION_COMPENSATE" envDefault:"true"`
}

type IdentityConfig struct {
	Backend string        `env:"IDENTITY_BACKEND" envDefault:"local"`
	Timeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`
	Auth0   Auth0Config   `envPrefix:"AUTH0_"`
	Kratos  KratosConfig  `envPrefix:"KRATOS_"`
}

type Auth0Config struct {
	Domain       string `env:"DOMAIN"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Connection   string `env:"CONNECTION" envDefault:"Username-Password-Authentication"`
}

type KratosConfig struct {
	PublicURL string `env:"PUBLIC_URL"`
	AdminURL  string `env:"ADMIN_URL"`
	SchemaID  string `env:"SCHEMA_ID" envDefault:"default"`
}

type RateLimitConfig struct {
	Max    int           `env:"MAX" envDefault:"10"`
	Window time.Duration `env:"WINDOW" envDefault:"1m"`
}

type MetricsConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
}

type ClientConfig struct {
	URL         string `env:"URL" envDefault:"http://localhost:8080"`
	SessionFile string `env:"SESSION_FILE"`
}

// Load reads .env files when present, then the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load .env file")
	}
	return parse(env.Options{Prefix: Prefix})
}

// LoadFromMap parses configuration from environ only. Keys include the prefix.
func LoadFromMap(environ map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse configuration")
	}
	cfg.Auth.applyDefaults()
	return cfg, nil
}

// IsDevelopment reports whether Env names a development environment.
func (c *Config) IsDevelopment() bool {
	name := strings.ToLower(c.Env)
	return name == "" || name == "development" || name == "dev" || name == "local"
}

// Validate checks the settings needed to serve.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.SigningKey) == "" {
		return invalid("AUTH_SIGNING_KEY is required")
	}
	if c.Auth.TokenTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return invalid("token TTLs must be positive")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return invalid("DATABASE_DSN is required")
	}

	switch c.Identity.Backend {
	case BackendLocal:
	case BackendAuth0:
		a := c.Identity.Auth0
		if a.Domain == "" || a.ClientID == "" || a.ClientSecret == "" {
			return invalid("auth0 backend requires AUTH0_DOMAIN, AUTH0_CLIENT_ID and AUTH0_CLIENT_SECRET")
		}
	case BackendKratos:
		k := c.Identity.Kratos
		if k.AdminURL == "" || k.PublicURL == "" {
			return invalid("kratos backend requires KRATOS_ADMIN_URL and KRATOS_PUBLIC_URL")
		}
	default:
		return invalid("unknown IDENTITY_BACKEND " + c.Identity.Backend)
	}

	return nil
}

func invalid(msg string) error {
	return goerrors.New(msg, goerrors.CategoryValidation).
		WithTextCode("CONFIG_INVALID")
}
