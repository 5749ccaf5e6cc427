// Package secretgate guards routes with a static shared secret carried in a
// request header.
package secretgate

import (
	"crypto/subtle"
	"errors"

	"github.com/goliatone/go-router"
)

const DefaultHeader = "x-admin-secret"

var (
	// ErrMissingSecret is returned when the header is absent.
	ErrMissingSecret = errors.New("missing secret")
	// ErrInvalidSecret is returned when the header does not match, or when no
	// server side secret is configured.
	ErrInvalidSecret = errors.New("unauthorized")
)

type Config struct {
	// Header carrying the secret. Defaults to x-admin-secret.
	Header string
	// Secret is the server held value. An empty secret rejects every request.
	Secret string
	// Filter skips the gate when it returns true.
	Filter       func(router.Context) bool
	ErrorHandler router.ErrorHandler
}

func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	secret := []byte(cfg.Secret)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return next(ctx)
			}

			provided := ctx.Header(cfg.Header)
			if provided == "" {
				return cfg.ErrorHandler(ctx, ErrMissingSecret)
			}

			if !Matches(secret, []byte(provided)) {
				return cfg.ErrorHandler(ctx, ErrInvalidSecret)
			}

			return next(ctx)
		}
	}
}

// Matches compares in constant time. An empty expected value never matches.
func Matches(expected, provided []byte) bool {
	if len(expected) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(expected, provided) == 1
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Header == "" {
		cfg.Header = DefaultHeader
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, err error) error {
			return c.JSON(router.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
	}

	return cfg
}
