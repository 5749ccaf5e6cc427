package onboard

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controllers.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// RegisterAuthRoutes mounts the session, profile and dashboard routes.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	controller.Register(app)
	return controller
}

type AuthControllerRoutes struct {
	Root             string
	Login            string
	Dashboard        string
	AwaitingApproval string
	AuthLogin        string
	AuthToken        string
	AuthLogout       string
	AuthSession      string
	Me               string
	Profiles         string
}

type AuthController struct {
	Debug      bool
	Logger     Logger
	Profiles   Profiles
	Routes     *AuthControllerRoutes
	Auther     *RouteAuthenticator
	RateMax    int
	RateWindow time.Duration
}

type AuthControllerOption func(*AuthController) *AuthController

// WithAuthControllerLogger sets the logger.
func WithAuthControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithAuthControllerDebug dumps payloads to the logger.
func WithAuthControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

// WithAuthControllerProfiles sets the profile store.
func WithAuthControllerProfiles(profiles Profiles) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Profiles = profiles
		return c
	}
}

// WithAuthControllerAuthenticator sets the route authenticator.
func WithAuthControllerAuthenticator(auther *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

// WithAuthControllerRateLimit limits sign in attempts per client IP.
func WithAuthControllerRateLimit(max int, window time.Duration) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.RateMax = max
		c.RateWindow = window
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		RateMax:    10,
		RateWindow: time.Minute,
		Routes: &AuthControllerRoutes{
			Root:             "/",
			Login:            "/login",
			Dashboard:        "/dashboard",
			AwaitingApproval: "/awaiting-approval",
			AuthLogin:        "/auth/login",
			AuthToken:        "/auth/token",
			AuthLogout:       "/auth/logout",
			AuthSession:      "/auth/session",
			Me:               "/api/me",
			Profiles:         "/api/profiles",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Profiles == nil {
		panic("Missing Profiles in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	return c
}

// Register mounts every route on app. Route middleware runs in the order
// given, the authenticator always first.
func (a *AuthController) Register(app RouteRegistrar) {
	contextKey := a.Auther.cfg.GetContextKey()
	protected := a.Auther.ProtectedRoute(nil)
	browser := a.Auther.ProtectedRoute(a.Auther.MakeRedirectAuthErrorHandler())
	limit := RateLimit(a.RateMax, a.RateWindow, a.Logger)

	app.Get(a.Routes.Root, a.Auther.RootRedirect(a.Routes.Dashboard, a.Routes.Login)).SetName("root.get")
	app.Get(a.Routes.Login, a.LoginShow).SetName("login.get")
	app.Get(a.Routes.AwaitingApproval, a.AwaitingApprovalShow).SetName("awaiting-approval.get")
	app.Get(a.Routes.Dashboard, a.DashboardShow,
		browser,
		RequireApprovedProfile(a.Profiles, contextKey, a.Routes.AwaitingApproval, a.Logger),
	).SetName("dashboard.get")

	app.Post(a.Routes.AuthLogin, a.LoginPost, limit).SetName("auth-login.post")
	app.Post(a.Routes.AuthToken, a.TokenPost, limit).SetName("auth-token.post")
	app.Post(a.Routes.AuthLogout, a.LogOut, a.Auther.OptionalRoute()).SetName("auth-logout.post")
	app.Get(a.Routes.AuthSession, a.SessionShow, protected).SetName("auth-session.get")

	app.Get(a.Routes.Me, a.MeShow, protected).SetName("me.get")
	app.Get(a.Routes.Profiles+"/:id", a.ProfileShow, protected).SetName("profile.get")
}

func (a *AuthController) LoginShow(c router.Context) error {
	return c.JSON(router.StatusOK, map[string]any{
		"login":  a.Routes.AuthLogin,
		"method": http.MethodPost,
		"fields": []string{"email", "password"},
	})
}

func (a *AuthController) AwaitingApprovalShow(c router.Context) error {
	return c.JSON(router.StatusOK, map[string]any{
		"status":  "awaiting_approval",
		"message": "Your account is awaiting approval by an administrator.",
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(c router.Context) error {
	payload := new(LoginRequest)
	if err := c.Bind(payload); err != nil {
		return a.Auther.ErrorHandler(c, ErrInvalidJSON)
	}

	payload.Email = strings.TrimSpace(payload.Email)
	if payload.Email == "" || payload.Password == "" {
		return a.Auther.ErrorHandler(c, NewValidationError("email and password required"))
	}

	if err := payload.Validate(); err != nil {
		return a.Auther.ErrorHandler(c, NewValidationError(err.Error()))
	}

	if a.Debug {
		a.Logger.Debug("auth login", "email", payload.Email)
	}

	tokens, err := a.Auther.Login(c, payload.Email, payload.Password)
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	return c.JSON(router.StatusOK, tokens)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (a *AuthController) TokenPost(c router.Context) error {
	payload := new(RefreshRequest)
	if len(c.Body()) > 0 {
		if err := c.Bind(payload); err != nil {
			return a.Auther.ErrorHandler(c, ErrInvalidJSON)
		}
	}

	tokens, err := a.Auther.Refresh(c, payload.RefreshToken)
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	return c.JSON(router.StatusOK, tokens)
}

func (a *AuthController) LogOut(c router.Context) error {
	if err := a.Auther.Logout(c); err != nil {
		a.Logger.Warn("logout revoke failed", "error", err)
	}
	return c.JSON(router.StatusOK, map[string]bool{"ok": true})
}

func (a *AuthController) SessionShow(c router.Context) error {
	claims, ok := GetRouterClaims(c, a.Auther.cfg.GetContextKey())
	if !ok {
		return a.Auther.ErrorHandler(c, ErrUnableToFindSession)
	}

	return c.JSON(router.StatusOK, map[string]any{
		"user": SessionUser{
			ID:    claims.UserID(),
			Email: claims.Email(),
			Role:  claims.Role(),
		},
		"session_id": claims.SessionID(),
		"expires_at": claims.Expires().Unix(),
	})
}

func (a *AuthController) DashboardShow(c router.Context) error {
	claims, ok := GetRouterClaims(c, a.Auther.cfg.GetContextKey())
	if !ok {
		return a.Auther.ErrorHandler(c, ErrUnableToFindSession)
	}

	view := map[string]any{
		"email":        claims.Email(),
		"full_name":    "",
		"company_name": "",
	}
	if profile, ok := GetRouterProfile(c); ok {
		view["full_name"] = profile.FullName
		view["company_name"] = profile.CompanyName
	}

	if a.Debug {
		a.Logger.Debug("dashboard view", "view", print.MaybePrettyJSON(view))
	}

	return c.JSON(router.StatusOK, view)
}

func (a *AuthController) MeShow(c router.Context) error {
	claims, ok := GetRouterClaims(c, a.Auther.cfg.GetContextKey())
	if !ok {
		return a.Auther.ErrorHandler(c, ErrUnableToFindSession)
	}
	return a.sendProfile(c, claims.UserID())
}

// ProfileShow returns a profile to its owner or to an admin.
func (a *AuthController) ProfileShow(c router.Context) error {
	claims, ok := GetRouterClaims(c, a.Auther.cfg.GetContextKey())
	if !ok {
		return a.Auther.ErrorHandler(c, ErrUnableToFindSession)
	}

	id := c.Param("id")
	if id != claims.UserID() && !claims.IsAtLeast(string(RoleAdmin)) {
		return a.Auther.ErrorHandler(c, ErrForbidden)
	}

	return a.sendProfile(c, id)
}

func (a *AuthController) sendProfile(c router.Context, id string) error {
	profile, err := a.Profiles.GetByID(c.Context(), id)
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	if a.Debug {
		a.Logger.Debug(fmt.Sprintf("profile %s", id), "profile", print.MaybePrettyJSON(profile))
	}

	return c.JSON(router.StatusOK, profile)
}
