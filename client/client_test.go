package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	goerrors "github.com/goliatone/go-errors"
	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/client"
	"github.com/goliatone/go-onboard/config"
	"github.com/goliatone/go-onboard/internal/app"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminSecret = "admin-secret"
	apiKey      = "public-key"
)

func TestMain(m *testing.M) {
	onboard.PasswordHashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func newServer(t *testing.T) (*app.App, *httptest.Server) {
	t.Helper()

	cfg, err := config.LoadFromMap(map[string]string{
		"ONBOARD_ENV":              "test",
		"ONBOARD_AUTH_SIGNING_KEY": "test-signing-key",
		"ONBOARD_DATABASE_DSN":     "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		"ONBOARD_ADMIN_SECRET":     adminSecret,
		"ONBOARD_PUBLIC_API_KEY":   apiKey,
		"ONBOARD_RATE_LIMIT_MAX":   "100",
	})
	require.NoError(t, err)

	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	server := httptest.NewServer(adaptor.FiberApp(a.Server()))
	t.Cleanup(server.Close)

	return a, server
}

// newAdmin provisions an account, promotes it and returns a signed in client.
func newAdmin(t *testing.T, a *app.App, baseURL string) *client.Client {
	t.Helper()
	ctx := context.Background()

	c, err := client.New(baseURL, client.WithAPIKey(apiKey), client.WithAdminSecret(adminSecret))
	require.NoError(t, err)

	result, err := c.Provision(ctx, onboard.ProvisionAccountMessage{
		Email:    "admin@example.com",
		Password: "admin-pass",
		FullName: "Grace Hopper",
	})
	require.NoError(t, err)

	_, err = a.Repository().Profiles().SetRole(ctx, result.UserID, onboard.RoleAdmin)
	require.NoError(t, err)

	_, err = c.SignIn(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	return c
}

type recorder struct {
	mu     sync.Mutex
	events []onboard.AuthChangeEvent
}

func (r *recorder) listen(event onboard.AuthChangeEvent, _ *onboard.SessionTokens) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []onboard.AuthChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]onboard.AuthChangeEvent(nil), r.events...)
}

func TestApproveFlowThroughClient(t *testing.T) {
	a, server := newServer(t)
	ctx := context.Background()

	visitor, err := client.New(server.URL, client.WithAPIKey(apiKey))
	require.NoError(t, err)

	submitted, err := visitor.Submit(ctx, onboard.SubmitAccessRequestMessage{
		Email:       "ada@example.com",
		FullName:    "Ada Lovelace",
		CompanyName: "Analytical Engines",
	})
	require.NoError(t, err)
	assert.Equal(t, onboard.AccessRequestPending, submitted.Status)

	admin := newAdmin(t, a, server.URL)
	workflow := onboard.NewAccessRequestWorkflow(admin, admin)

	pending, err := workflow.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, submitted.ID, pending[0].ID)

	result, err := workflow.Approve(ctx, submitted.ID.String(), "s3cret-pass")
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Empty(t, workflow.Pending())

	stored, err := admin.Get(ctx, submitted.ID.String())
	require.NoError(t, err)
	assert.Equal(t, onboard.AccessRequestProcessed, stored.Status)

	// the approved member can sign in and sees an approved profile
	member, err := client.New(server.URL, client.WithAPIKey(apiKey))
	require.NoError(t, err)

	session := onboard.NewSessionContext(member, member)
	require.NoError(t, session.Init(ctx))
	t.Cleanup(session.Close)
	assert.Nil(t, session.Session())

	_, err = member.SignIn(ctx, "ada@example.com", "s3cret-pass")
	require.NoError(t, err)

	require.NotNil(t, session.Profile())
	assert.Equal(t, result.UserID, session.Profile().ID.String())
	assert.False(t, session.NeedsApproval())

	require.NoError(t, session.SignOut(ctx))
	assert.Nil(t, session.Session())
	assert.Nil(t, session.Profile())
}

func TestRejectThroughClient(t *testing.T) {
	a, server := newServer(t)
	ctx := context.Background()

	visitor, err := client.New(server.URL, client.WithAPIKey(apiKey))
	require.NoError(t, err)

	submitted, err := visitor.Submit(ctx, onboard.SubmitAccessRequestMessage{Email: "eve@example.com"})
	require.NoError(t, err)

	admin := newAdmin(t, a, server.URL)

	rejected, err := admin.RejectWithReason(ctx, submitted.ID.String(), "unknown company")
	require.NoError(t, err)
	assert.Equal(t, onboard.AccessRequestRejected, rejected.Status)

	rows, err := admin.List(ctx, onboard.AccessRequestRejected)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = admin.Reject(ctx, submitted.ID.String())
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, onboard.StatusCodeFor(err))
}

func TestMemberCannotListRequests(t *testing.T) {
	_, server := newServer(t)
	ctx := context.Background()

	provisioner, err := client.New(server.URL, client.WithAdminSecret(adminSecret))
	require.NoError(t, err)
	_, err = provisioner.Provision(ctx, onboard.ProvisionAccountMessage{
		Email:    "ada@example.com",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)

	member, err := client.New(server.URL, client.WithAPIKey(apiKey))
	require.NoError(t, err)
	_, err = member.SignIn(ctx, "ada@example.com", "s3cret-pass")
	require.NoError(t, err)

	_, err = member.ListPending(ctx)
	require.Error(t, err)
	assert.True(t, goerrors.IsCategory(err, goerrors.CategoryAuthz))
	assert.Equal(t, http.StatusForbidden, onboard.StatusCodeFor(err))
}

func TestSessionEventsAndRefresh(t *testing.T) {
	a, server := newServer(t)
	ctx := context.Background()

	_ = newAdmin(t, a, server.URL)

	now := time.Now()
	storage := client.NewMemoryStorage()
	c, err := client.New(server.URL,
		client.WithAPIKey(apiKey),
		client.WithStorage(storage),
		client.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)

	events := &recorder{}
	sub := c.OnAuthStateChange(events.listen)

	first, err := c.SignIn(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)
	assert.Equal(t, "admin", first.User.Role)

	stored, err := storage.Load()
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, stored.AccessToken)

	// push the clock past expiry so GetSession refreshes
	now = time.Unix(first.ExpiresAt, 0).Add(time.Second)
	second, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	require.NoError(t, c.SignOut(ctx))
	stored, err = storage.Load()
	require.NoError(t, err)
	assert.Nil(t, stored)

	sub.Unsubscribe()
	_, err = c.SignIn(ctx, "admin@example.com", "admin-pass")
	require.NoError(t, err)

	assert.Equal(t, []onboard.AuthChangeEvent{
		onboard.AuthEventSignedIn,
		onboard.AuthEventTokenRefreshed,
		onboard.AuthEventSignedOut,
	}, events.all())
}

func TestSignInWrongPassword(t *testing.T) {
	a, server := newServer(t)
	_ = newAdmin(t, a, server.URL)

	c, err := client.New(server.URL, client.WithAPIKey(apiKey))
	require.NoError(t, err)

	_, err = c.SignIn(context.Background(), "admin@example.com", "nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, onboard.StatusCodeFor(err))

	session, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestCallsWithoutSession(t *testing.T) {
	_, server := newServer(t)
	ctx := context.Background()

	c, err := client.New(server.URL, client.WithAPIKey(apiKey))
	require.NoError(t, err)

	_, err = c.GetProfile(ctx, uuid.NewString())
	assert.ErrorIs(t, err, client.ErrNoSession)

	_, err = c.Refresh(ctx)
	assert.ErrorIs(t, err, client.ErrNoSession)

	assert.NoError(t, c.SignOut(ctx))

	_, err = c.Provision(ctx, onboard.ProvisionAccountMessage{Email: "a@example.com", Password: "pw"})
	assert.ErrorIs(t, err, onboard.ErrUnauthorized)
}

func TestMissingAPIKey(t *testing.T) {
	_, server := newServer(t)

	c, err := client.New(server.URL)
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), onboard.SubmitAccessRequestMessage{Email: "ada@example.com"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, onboard.StatusCodeFor(err))
	assert.Equal(t, "invalid api key", onboard.ErrorMessage(err))
}

func TestErrorBodyMapping(t *testing.T) {
	cases := []struct {
		status   int
		body     string
		category goerrors.Category
		message  string
	}{
		{http.StatusBadRequest, `{"error":"email required"}`, goerrors.CategoryBadInput, "email required"},
		{http.StatusNotFound, `{"error":"access request not found"}`, goerrors.CategoryNotFound, "access request not found"},
		{http.StatusConflict, `{"error":"already processed"}`, goerrors.CategoryConflict, "already processed"},
		{http.StatusTooManyRequests, ``, goerrors.CategoryRateLimit, "Too Many Requests"},
		{http.StatusBadGateway, `not json`, goerrors.CategoryExternal, "Bad Gateway"},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, apiKey, r.Header.Get(client.APIKeyHeader))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(server.Close)

			c, err := client.New(server.URL, client.WithAPIKey(apiKey))
			require.NoError(t, err)

			_, err = c.Submit(context.Background(), onboard.SubmitAccessRequestMessage{Email: "ada@example.com"})
			require.Error(t, err)
			assert.True(t, goerrors.IsCategory(err, tc.category))
			assert.Equal(t, tc.status, onboard.StatusCodeFor(err))
			assert.Equal(t, tc.message, onboard.ErrorMessage(err))
		})
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := client.New("not a url")
	require.Error(t, err)
}

func TestNewRestoresStoredSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	storage := client.NewFileStorage(path)

	require.NoError(t, storage.Save(&onboard.SessionTokens{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         onboard.SessionUser{ID: "u1", Email: "ada@example.com"},
	}))

	c, err := client.New("http://localhost:1", client.WithStorage(storage))
	require.NoError(t, err)

	session, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "access", session.AccessToken)
	assert.Equal(t, "ada@example.com", session.User.Email)
}
