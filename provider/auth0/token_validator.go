package auth0

import (
	"fmt"
	"net/url"

	onboard "github.com/goliatone/go-onboard"
)

// NewTokenValidator validates Auth0 access tokens against the tenant JWKS.
// Subjects such as "auth0|<uuid>" resolve to the uuid through
// onboard.JWTClaims.UserID.
func NewTokenValidator(cfg Config, logger onboard.Logger) (*onboard.JWKSTokenValidator, error) {
	issuer := cfg.IssuerURL()
	if issuer == "" {
		return nil, fmt.Errorf("auth0: issuer or domain is required")
	}

	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return nil, fmt.Errorf("auth0: invalid issuer URL: %w", err)
	}
	if issuerURL.Scheme == "" || issuerURL.Host == "" {
		return nil, fmt.Errorf("auth0: invalid issuer URL: %s", issuer)
	}

	return onboard.NewJWKSTokenValidator(cfg.JWKSURL(), issuer, cfg.Audience, logger)
}
