package onboard_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-onboard"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRoutes(t *testing.T, f *authFixture) *fiber.App {
	t.Helper()

	cfg := testAuthConfig()
	cfg.AccessCookie = "sb-access-token"
	cfg.RefreshCookie = "sb-refresh-token"
	cfg.TokenLookup = "header:Authorization,cookie:sb-access-token"
	cfg.RejectedRoute = "/login"

	httpAuth := onboard.NewHTTPAuthenticator(f.auther, cfg, onboard.WithRouteLogger(nopLogger{}))

	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New()
	})
	onboard.RegisterAuthRoutes(srv.Router(),
		onboard.WithAuthControllerLogger(nopLogger{}),
		onboard.WithAuthControllerProfiles(f.repo.Profiles()),
		onboard.WithAuthControllerAuthenticator(httpAuth),
	)
	return srv.WrappedRouter()
}

func sendJSON(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func TestAuthRoutesSessionLifecycle(t *testing.T) {
	f := newAuthFixture(t)
	identity := f.createUser(t, "ada@example.com", "pw")
	app := newAuthRoutes(t, f)

	resp, body := sendJSON(t, app, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ada@example.com",
		"password": "pw",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var tokens onboard.SessionTokens
	require.NoError(t, json.Unmarshal(body, &tokens))
	require.NotEmpty(t, tokens.AccessToken)

	cookies := map[string]string{}
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c.Value
	}
	assert.Equal(t, tokens.AccessToken, cookies["sb-access-token"])
	assert.Equal(t, tokens.RefreshToken, cookies["sb-refresh-token"])

	bearer := map[string]string{"Authorization": "Bearer " + tokens.AccessToken}

	resp, body = sendJSON(t, app, http.MethodGet, "/auth/session", nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var session struct {
		User      onboard.SessionUser `json:"user"`
		SessionID string              `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(body, &session))
	assert.Equal(t, identity.ID(), session.User.ID)
	assert.Equal(t, "ada@example.com", session.User.Email)
	assert.NotEmpty(t, session.SessionID)

	resp, _ = sendJSON(t, app, http.MethodPost, "/auth/logout", nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = sendJSON(t, app, http.MethodGet, "/auth/session", nil, bearer)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRoutesRejectAnonymousRequests(t *testing.T) {
	f := newAuthFixture(t)
	app := newAuthRoutes(t, f)

	resp, body := sendJSON(t, app, http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, string(body), "error")

	resp, _ = sendJSON(t, app, http.MethodGet, "/dashboard", nil, nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = sendJSON(t, app, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestAuthRoutesRejectBadCredentials(t *testing.T) {
	f := newAuthFixture(t)
	f.createUser(t, "ada@example.com", "pw")
	app := newAuthRoutes(t, f)

	resp, _ := sendJSON(t, app, http.MethodPost, "/auth/login", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = sendJSON(t, app, http.MethodPost, "/auth/login", map[string]string{
		"email": "not-an-email",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitPerClient(t *testing.T) {
	srv := router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return fiber.New()
	})
	srv.Router().Get("/", func(c router.Context) error {
		return c.SendString("ok")
	}, onboard.RateLimit(2, time.Minute, nopLogger{}))
	app := srv.WrappedRouter()

	for i := 0; i < 2; i++ {
		resp, _ := sendJSON(t, app, http.MethodGet, "/", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := sendJSON(t, app, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, string(body), "too many requests")
}
