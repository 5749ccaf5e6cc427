package onboard

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeAuth             = "AUTH_ERROR"
	TextCodeAuthorization    = "AUTHORIZATION_ERROR"
	TextCodeForbidden        = "FORBIDDEN"
	TextCodeValidation       = "VALIDATION_ERROR"
	TextCodeInvalidJSON      = "INVALID_JSON"
	TextCodeNotFound         = "NOT_FOUND"
	TextCodeRemoteService    = "REMOTE_SERVICE_ERROR"
	TextCodePartialFailure   = "PARTIAL_FAILURE"
	TextCodeTokenExpired     = "TOKEN_EXPIRED"
	TextCodeTokenMalformed   = "TOKEN_MALFORMED"
	TextCodeSessionRevoked   = "SESSION_REVOKED"
	TextCodeIdentityExists   = "IDENTITY_EXISTS"
	TextCodeIdentityNotFound = "IDENTITY_NOT_FOUND"
	TextCodeImmutableClaim   = "IMMUTABLE_CLAIM"
)

// ErrUnauthorized is returned when the admin shared secret is missing or wrong.
var ErrUnauthorized = goerrors.New("unauthorized", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAuthorization).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when a session lacks the required role.
var ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrInvalidCredentials is returned for a failed password sign in.
var ErrInvalidCredentials = goerrors.New("invalid login credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToFindSession is the error when our request has no token
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionRevoked is returned for tokens whose refresh session was revoked.
var ErrSessionRevoked = goerrors.New("session has been revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a token is past its expiration.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a token cannot be parsed.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrInvalidJSON is returned when a request body is not valid JSON.
var ErrInvalidJSON = goerrors.New("invalid json", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidJSON).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrIdentityExists is returned when an identity with the same email exists.
var ErrIdentityExists = goerrors.New("a user with this email address has already been registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeIdentityExists).
	WithCode(goerrors.CodeConflict)

// ErrImmutableClaimMutation is returned when a ClaimsDecorator changes an
// identity or registered claim.
var ErrImmutableClaimMutation = goerrors.New("immutable claim mutated", goerrors.CategoryInternal).
	WithTextCode(TextCodeImmutableClaim).
	WithCode(goerrors.CodeInternal)

// NewValidationError builds a 400 error with the given message.
func NewValidationError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// NewNotFoundError builds a 404 error for the named resource.
func NewNotFoundError(resource, id string) *goerrors.Error {
	return goerrors.New(resource+" not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"id": id})
}

// NewRemoteServiceError wraps a failed identity or data call. The message of
// the underlying error is kept verbatim so callers can surface it.
func NewRemoteServiceError(err error, operation string) *goerrors.Error {
	return sourced(err, operation+" failed").
		WithTextCode(TextCodeRemoteService).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"operation": operation})
}

// NewPartialFailure reports an identity created without its profile.
func NewPartialFailure(err error, identityID string) *goerrors.Error {
	return sourced(err, "profile creation failed").
		WithTextCode(TextCodePartialFailure).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"orphan_identity_id": identityID})
}

func sourced(err error, fallback string) *goerrors.Error {
	if err == nil {
		return goerrors.New(fallback, goerrors.CategoryInternal)
	}
	out := goerrors.New(ErrorMessage(err), goerrors.CategoryInternal)
	out.Source = err
	return out
}

// IsPartialFailure reports whether err left an orphaned identity behind.
func IsPartialFailure(err error) bool {
	return hasTextCode(err, TextCodePartialFailure)
}

// IsRemoteServiceError reports whether err came from a remote call.
func IsRemoteServiceError(err error) bool {
	return hasTextCode(err, TextCodeRemoteService)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if hasTextCode(err, TextCodeTokenMalformed) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// StatusCodeFor maps an error to the HTTP status used in responses.
func StatusCodeFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	if richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}

	switch richErr.Category {
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return http.StatusUnauthorized
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage returns the user facing message for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return err.Error()
}
