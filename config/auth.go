package config

import (
	"time"

	onboard "github.com/goliatone/go-onboard"
)

var _ onboard.Config = AuthConfig{}

// AuthConfig holds token and cookie settings. It implements onboard.Config.
type AuthConfig struct {
	SigningKey    string        `env:"SIGNING_KEY"`
	Issuer        string        `env:"ISSUER" envDefault:"go-onboard"`
	Audience      []string      `env:"AUDIENCE" envSeparator:"," envDefault:"go-onboard"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"1h"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	AccessCookie  string        `env:"COOKIE_ACCESS" envDefault:"sb-access-token"`
	RefreshCookie string        `env:"COOKIE_REFRESH" envDefault:"sb-refresh-token"`
	ContextKey    string        `env:"CONTEXT_KEY" envDefault:"user"`
	TokenLookup   string        `env:"TOKEN_LOOKUP"`
	AuthScheme    string        `env:"AUTH_SCHEME" envDefault:"Bearer"`
	RejectedRoute string        `env:"REJECTED_ROUTE" envDefault:"/login"`
	JWKSURLs      []string      `env:"JWKS_URLS" envSeparator:","`
	JWKSIssuer    string        `env:"JWKS_ISSUER"`
	JWKSAudience  []string      `env:"JWKS_AUDIENCE" envSeparator:","`
}

func (c *AuthConfig) applyDefaults() {
	if c.TokenLookup == "" {
		c.TokenLookup = "header:Authorization,cookie:" + c.AccessCookie
	}
}

func (c AuthConfig) GetSigningKey() string           { return c.SigningKey }
func (c AuthConfig) GetContextKey() string           { return c.ContextKey }
func (c AuthConfig) GetTokenTTL() time.Duration      { return c.TokenTTL }
func (c AuthConfig) GetRefreshTTL() time.Duration    { return c.RefreshTTL }
func (c AuthConfig) GetTokenLookup() string          { return c.TokenLookup }
func (c AuthConfig) GetAuthScheme() string           { return c.AuthScheme }
func (c AuthConfig) GetIssuer() string               { return c.Issuer }
func (c AuthConfig) GetAudience() []string           { return c.Audience }
func (c AuthConfig) GetAccessCookieName() string     { return c.AccessCookie }
func (c AuthConfig) GetRefreshCookieName() string    { return c.RefreshCookie }
func (c AuthConfig) GetRejectedRouteDefault() string { return c.RejectedRoute }
