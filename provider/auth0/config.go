package auth0

import (
	"fmt"
	"strings"
	"time"
)

// DefaultConnection is the Auth0 database connection users are created in.
const DefaultConnection = "Username-Password-Authentication"

// Config holds the Auth0 tenant settings used for identity administration
// and token validation.
type Config struct {
	// Domain is the Auth0 tenant domain (e.g., "example.us.auth0.com").
	Domain string

	// ClientID and ClientSecret belong to a machine to machine application
	// allowed to create and delete users. They never leave the server.
	ClientID     string
	ClientSecret string

	// Connection is the database connection new users are created in.
	// Default: DefaultConnection.
	Connection string

	// Audience is the API identifier(s) accepted on access tokens.
	Audience []string

	// Issuer overrides the default issuer URL (optional).
	// Default: "https://{Domain}/".
	Issuer string

	// Timeout bounds each management call. Default: 10 seconds.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(domain, clientID, clientSecret string) Config {
	return Config{
		Domain:       domain,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Connection:   DefaultConnection,
		Timeout:      10 * time.Second,
	}
}

func (c Config) connection() string {
	if strings.TrimSpace(c.Connection) == "" {
		return DefaultConnection
	}
	return c.Connection
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.Timeout
}

// IssuerURL returns the token issuer, always with a trailing slash.
func (c Config) IssuerURL() string {
	if c.Issuer != "" {
		return normalizeIssuer(c.Issuer)
	}

	domain := strings.TrimSpace(c.Domain)
	if domain == "" {
		return ""
	}

	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return normalizeIssuer(domain)
	}

	return fmt.Sprintf("https://%s/", strings.TrimSuffix(domain, "/"))
}

// JWKSURL returns the tenant key set location.
func (c Config) JWKSURL() string {
	issuer := c.IssuerURL()
	if issuer == "" {
		return ""
	}
	return issuer + ".well-known/jwks.json"
}

func normalizeIssuer(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return issuer
	}
	if strings.HasSuffix(issuer, "/") {
		return issuer
	}
	return issuer + "/"
}
