package onboard

import (
	"context"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-onboard/middleware/jwtware"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteAuthenticator binds the Auther to routes and cookies.
type RouteAuthenticator struct {
	auth             *Auther
	cfg              Config
	validator        TokenValidator
	decorator        ClaimsDecorator
	Logger           Logger
	Debug            bool
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

// RouteAuthenticatorOption customizes a RouteAuthenticator.
type RouteAuthenticatorOption func(*RouteAuthenticator)

// WithRouteLogger sets the logger.
func WithRouteLogger(logger Logger) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		if logger != nil {
			a.Logger = logger
		}
	}
}

// WithExternalTokenValidator accepts tokens issued elsewhere, e.g. by an
// Auth0 tenant, in addition to locally signed ones.
func WithExternalTokenValidator(v TokenValidator) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		if v != nil {
			a.validator = NewMultiTokenValidator(a.validator, v)
		}
	}
}

// WithClaimsDecorator fills role-less claims, typically from external
// issuers, before role checks run.
func WithClaimsDecorator(d ClaimsDecorator) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		a.decorator = d
	}
}

// WithRouteDebug enables verbose error dumps.
func WithRouteDebug(debug bool) RouteAuthenticatorOption {
	return func(a *RouteAuthenticator) {
		a.Debug = debug
	}
}

func NewHTTPAuthenticator(auther *Auther, cfg Config, opts ...RouteAuthenticatorOption) *RouteAuthenticator {
	a := &RouteAuthenticator{
		cfg:       cfg,
		auth:      auther,
		validator: auther.TokenService(),
		Logger:    defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a
}

// ProtectedRoute requires a valid access token whose refresh session is still
// active. errorHandler defaults to a JSON 401.
func (a *RouteAuthenticator) ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return a.protected(errorHandler, "", false)
}

// OptionalRoute decodes a token when present and never rejects.
func (a *RouteAuthenticator) OptionalRoute() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return a.protected(func(c router.Context, err error) error {
			a.Logger.Info("optional auth failed, proceeding", "error", ErrorMessage(err))
			return next(c)
		}, "", true)(next)
	}
}

// RequireRole is ProtectedRoute plus a minimum role check.
func (a *RouteAuthenticator) RequireRole(minRole UserRole) router.MiddlewareFunc {
	return a.protected(nil, string(minRole), false)
}

func (a *RouteAuthenticator) protected(errorHandler func(router.Context, error) error, minRole string, optional bool) router.MiddlewareFunc {
	if errorHandler == nil {
		errorHandler = a.MakeAPIAuthErrorHandler()
	}
	return jwtware.New(jwtware.Config{
		ErrorHandler:    errorHandler,
		AuthScheme:      a.cfg.GetAuthScheme(),
		ContextKey:      a.cfg.GetContextKey(),
		TokenLookup:     a.cfg.GetTokenLookup(),
		TokenValidator:  jwtware.TokenValidatorFunc(a.validate),
		MinimumRole:     minRole,
		Optional:        optional,
		ContextEnricher: ContextEnricherAdapter,
		ValidationListeners: []jwtware.ValidationListener{
			func(c router.Context, claims jwtware.AuthClaims) error {
				authClaims, ok := claims.(AuthClaims)
				if !ok {
					return ErrUnableToDecodeSession
				}
				if jwtClaims, ok := authClaims.(*JWTClaims); ok {
					if err := decorateClaims(c.Context(), a.decorator, jwtClaims); err != nil {
						return err
					}
				}
				return a.auth.CheckClaims(c.Context(), authClaims)
			},
		},
	})
}

func (a *RouteAuthenticator) validate(raw string) (jwtware.AuthClaims, error) {
	return a.validator.Validate(raw)
}

// ContextEnricherAdapter stores claims and the derived actor in the request
// context for downstream handlers.
func ContextEnricherAdapter(ctx context.Context, claims jwtware.AuthClaims) context.Context {
	authClaims, ok := claims.(AuthClaims)
	if !ok {
		return ctx
	}
	actorType := ActorTypeUser
	if authClaims.IsAtLeast(string(RoleAdmin)) {
		actorType = ActorTypeAdmin
	}
	ctx = WithClaimsContext(ctx, authClaims)
	return WithActorContext(ctx, ActorRef{ID: authClaims.UserID(), Type: actorType})
}

// Login signs in and sets the session cookies.
func (a *RouteAuthenticator) Login(c router.Context, email, password string) (*SessionTokens, error) {
	tokens, err := a.auth.SignInWithPassword(c.Context(), email, password)
	if err != nil {
		a.Logger.Error("login error", "error", err)
		return nil, err
	}
	a.SetSessionCookies(c, tokens)
	return tokens, nil
}

// Refresh rotates the refresh token and resets the cookies.
func (a *RouteAuthenticator) Refresh(c router.Context, refreshToken string) (*SessionTokens, error) {
	if refreshToken == "" {
		refreshToken = c.Cookies(a.cfg.GetRefreshCookieName())
	}
	tokens, err := a.auth.RefreshSession(c.Context(), refreshToken)
	if err != nil {
		return nil, err
	}
	a.SetSessionCookies(c, tokens)
	return tokens, nil
}

// Logout revokes the session carried by the request, if any, and clears the
// cookies either way.
func (a *RouteAuthenticator) Logout(c router.Context) error {
	defer a.ClearSessionCookies(c)

	claims, ok := GetRouterClaims(c, a.cfg.GetContextKey())
	if !ok || claims.SessionID() == "" {
		return nil
	}
	return a.auth.SignOut(c.Context(), claims.SessionID())
}

// HasSessionCookie reports whether either session cookie is present.
func (a *RouteAuthenticator) HasSessionCookie(c router.Context) bool {
	return c.Cookies(a.cfg.GetAccessCookieName()) != "" ||
		c.Cookies(a.cfg.GetRefreshCookieName()) != ""
}

// RootRedirect sends "/" to the dashboard when a session cookie is present
// and to the login view otherwise.
func (a *RouteAuthenticator) RootRedirect(dashboard, login string) router.HandlerFunc {
	return func(c router.Context) error {
		if a.HasSessionCookie(c) {
			return c.Redirect(dashboard, http.StatusFound)
		}
		return c.Redirect(login, http.StatusFound)
	}
}

// SetSessionCookies writes the access and refresh cookies.
func (a *RouteAuthenticator) SetSessionCookies(c router.Context, tokens *SessionTokens) {
	if tokens == nil {
		return
	}
	a.setCookie(c, a.cfg.GetAccessCookieName(), tokens.AccessToken, time.Unix(tokens.ExpiresAt, 0))
	a.setCookie(c, a.cfg.GetRefreshCookieName(), tokens.RefreshToken, time.Now().Add(a.cfg.GetRefreshTTL()))
}

// ClearSessionCookies expires both session cookies.
func (a *RouteAuthenticator) ClearSessionCookies(c router.Context) {
	a.cookieDel(c, a.cfg.GetAccessCookieName())
	a.cookieDel(c, a.cfg.GetRefreshCookieName())
}

// MakeAPIAuthErrorHandler renders auth failures as JSON.
func (a *RouteAuthenticator) MakeAPIAuthErrorHandler() func(router.Context, error) error {
	return func(c router.Context, err error) error {
		return a.ErrorHandler(c, a.normalizeAuthError(err))
	}
}

// MakeRedirectAuthErrorHandler redirects failed browser requests to login.
func (a *RouteAuthenticator) MakeRedirectAuthErrorHandler() func(router.Context, error) error {
	return func(c router.Context, err error) error {
		return a.AuthErrorHandler(c, a.normalizeAuthError(err))
	}
}

func (a *RouteAuthenticator) normalizeAuthError(err error) *goerrors.Error {
	var denied *jwtware.AccessDeniedError
	switch {
	case goerrors.As(err, &denied):
		return ErrForbidden
	case IsTokenExpiredError(err):
		return ErrTokenExpired
	case IsMalformedError(err):
		return ErrTokenMalformed
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryAuth, "invalid authentication token").
		WithCode(goerrors.CodeUnauthorized)
}

func (a *RouteAuthenticator) setCookie(c router.Context, name, val string, expires time.Time) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    val,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	a.Logger.Info("authentication error, redirecting to login", "error", ErrorMessage(err), "path", c.OriginalURL())

	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect(a.cfg.GetRejectedRouteDefault(), statusCode)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	return SendError(c, err, a.Logger, a.Debug)
}

// SendError writes {"error": message} with the status mapped from err.
func SendError(c router.Context, err error, logger Logger, debug bool) error {
	status := StatusCodeFor(err)
	logger = normalizeLogger(logger)

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		args := []any{"status", status, "error", richErr.Message, "category", richErr.Category, "path", c.Path()}
		if debug {
			args = append(args, "details", print.MaybePrettyJSON(richErr.Metadata))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", args...)
		} else {
			logger.Info("request rejected", args...)
		}
	} else {
		logger.Error("request failed", "status", status, "error", err, "path", c.Path())
	}

	return c.JSON(status, map[string]string{"error": ErrorMessage(err)})
}
