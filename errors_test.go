package onboard_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-onboard"
	"github.com/stretchr/testify/assert"
)

func TestStatusCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
		{"unauthorized", onboard.ErrUnauthorized, http.StatusUnauthorized},
		{"forbidden", onboard.ErrForbidden, http.StatusForbidden},
		{"invalid json", onboard.ErrInvalidJSON, http.StatusBadRequest},
		{"validation", onboard.NewValidationError("email required"), http.StatusBadRequest},
		{"not found", onboard.NewNotFoundError("access request", "x"), http.StatusNotFound},
		{"conflict", onboard.ErrTerminalState, http.StatusConflict},
		{"identity exists", onboard.ErrIdentityExists, http.StatusConflict},
		{"wrapped", fmt.Errorf("context: %w", onboard.ErrSessionRevoked), http.StatusUnauthorized},
		{"category only", goerrors.New("slow down", goerrors.CategoryRateLimit), http.StatusTooManyRequests},
		{"category auth", goerrors.New("who are you", goerrors.CategoryAuth), http.StatusUnauthorized},
		{"partial failure", onboard.NewPartialFailure(errors.New("insert failed"), "id"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, onboard.StatusCodeFor(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "", onboard.ErrorMessage(nil))
	assert.Equal(t, "boom", onboard.ErrorMessage(errors.New("boom")))
	assert.Equal(t, "access request not found", onboard.ErrorMessage(onboard.NewNotFoundError("access request", "x")))
	assert.Equal(t, "insert failed", onboard.ErrorMessage(onboard.NewRemoteServiceError(errors.New("insert failed"), "create profile")))
	assert.Equal(t, "invalid login credentials", onboard.ErrorMessage(fmt.Errorf("sign in: %w", onboard.ErrInvalidCredentials)))
}

func TestRemoteAndPartialFailureHelpers(t *testing.T) {
	cause := errors.New("insert failed")

	remote := onboard.NewRemoteServiceError(cause, "create profile")
	assert.True(t, onboard.IsRemoteServiceError(remote))
	assert.False(t, onboard.IsPartialFailure(remote))
	assert.ErrorIs(t, remote, cause)
	assert.Equal(t, "create profile", remote.Metadata["operation"])

	partial := onboard.NewPartialFailure(cause, "identity-1")
	assert.True(t, onboard.IsPartialFailure(partial))
	assert.ErrorIs(t, partial, cause)
	assert.Equal(t, "identity-1", partial.Metadata["orphan_identity_id"])

	assert.Equal(t, "create profile failed", onboard.NewRemoteServiceError(nil, "create profile").Message)
	assert.False(t, onboard.IsPartialFailure(nil))
}

func TestTokenErrorHelpers(t *testing.T) {
	assert.True(t, onboard.IsTokenExpiredError(onboard.ErrTokenExpired))
	assert.True(t, onboard.IsTokenExpiredError(errors.New("jwt: token is expired")))
	assert.False(t, onboard.IsTokenExpiredError(nil))

	assert.True(t, onboard.IsMalformedError(onboard.ErrTokenMalformed))
	assert.True(t, onboard.IsMalformedError(errors.New("missing or malformed JWT")))
	assert.False(t, onboard.IsMalformedError(onboard.ErrTokenExpired))
}

func TestNotFoundErrorCarriesID(t *testing.T) {
	err := onboard.NewNotFoundError("profile", "abc")
	assert.True(t, goerrors.IsNotFound(err))
	assert.Equal(t, "abc", err.Metadata["id"])
}
