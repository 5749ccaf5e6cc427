// Package client talks to a go-onboard server over HTTP. It keeps the
// signed in session, notifies listeners of session changes and implements
// the interfaces used by onboard.SessionContext and
// onboard.AccessRequestWorkflow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/middleware/secretgate"
)

const (
	APIKeyHeader = "apikey"

	pathLogin          = "/auth/login"
	pathToken          = "/auth/token"
	pathLogout         = "/auth/logout"
	pathProfiles       = "/api/profiles/"
	pathAccessRequests = "/api/access-requests"
	pathCreateUser     = "/api/admin/create-user"
)

var (
	_ onboard.SessionSource      = (*Client)(nil)
	_ onboard.ProfileLoader      = (*Client)(nil)
	_ onboard.AccessRequestStore = (*Client)(nil)
	_ onboard.Provisioner        = (*Client)(nil)
)

// ErrNoSession is returned by calls that need a signed in session.
var ErrNoSession = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode("NO_SESSION").
	WithCode(goerrors.CodeUnauthorized)

type Client struct {
	baseURL     string
	apiKey      string
	adminSecret string
	http        *http.Client
	storage     Storage
	broker      *onboard.AuthStateBroker
	logger      onboard.Logger
	now         func() time.Time

	mu      sync.RWMutex
	session *onboard.SessionTokens
}

type Option func(*Client)

// WithAPIKey sends key in the apikey header on every call.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithAdminSecret enables Provision. Only use it in trusted tooling.
func WithAdminSecret(secret string) Option {
	return func(c *Client) {
		c.adminSecret = secret
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Client) {
		if storage != nil {
			c.storage = storage
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(logger onboard.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a client for baseURL and restores any stored session.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, goerrors.New(fmt.Sprintf("invalid base URL %q", baseURL), goerrors.CategoryValidation)
	}

	c := &Client{
		baseURL: strings.TrimSuffix(u.String(), "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		storage: NewMemoryStorage(),
		broker:  onboard.NewAuthStateBroker(),
		logger:  nopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	session, err := c.storage.Load()
	if err != nil {
		c.logger.Warn("client: stored session unreadable", "error", err)
	}
	c.session = session

	return c, nil
}

// OnAuthStateChange registers listener for session changes.
func (c *Client) OnAuthStateChange(listener onboard.AuthStateListener) *onboard.Subscription {
	return c.broker.Subscribe(listener)
}

// SignIn exchanges email and password for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (*onboard.SessionTokens, error) {
	session := &onboard.SessionTokens{}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   pathLogin,
		body:   onboard.LoginRequest{Email: email, Password: password},
	}, session)
	if err != nil {
		return nil, err
	}

	c.setSession(session)
	c.broker.Publish(onboard.AuthEventSignedIn, session)
	return session, nil
}

// Refresh rotates the refresh token.
func (c *Client) Refresh(ctx context.Context) (*onboard.SessionTokens, error) {
	current := c.currentSession()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoSession
	}

	session := &onboard.SessionTokens{}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   pathToken,
		body:   onboard.RefreshRequest{RefreshToken: current.RefreshToken},
	}, session)
	if err != nil {
		if onboard.StatusCodeFor(err) == http.StatusUnauthorized {
			c.setSession(nil)
			c.broker.Publish(onboard.AuthEventSignedOut, nil)
		}
		return nil, err
	}

	c.setSession(session)
	c.broker.Publish(onboard.AuthEventTokenRefreshed, session)
	return session, nil
}

// GetSession returns the stored session, refreshing it once when the access
// token has expired. A missing session is not an error.
func (c *Client) GetSession(ctx context.Context) (*onboard.SessionTokens, error) {
	session := c.currentSession()
	if session == nil {
		return nil, nil
	}
	if !session.Expired(c.now()) {
		return session, nil
	}
	return c.Refresh(ctx)
}

// SignOut revokes the session server side and clears local state. Local
// state is cleared even when the revoke call fails.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.currentSession()
	if session == nil {
		return nil
	}

	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   pathLogout,
		token:  session.AccessToken,
	}, nil)

	c.setSession(nil)
	c.broker.Publish(onboard.AuthEventSignedOut, nil)

	if err != nil {
		c.logger.Warn("client: sign out revoke failed", "error", err)
		return err
	}
	return nil
}

// GetProfile loads the profile for id with the current session.
func (c *Client) GetProfile(ctx context.Context, id string) (*onboard.Profile, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	profile := &onboard.Profile{}
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   pathProfiles + url.PathEscape(id),
		token:  token,
	}, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// Submit files a new access request. No session is needed.
func (c *Client) Submit(ctx context.Context, msg onboard.SubmitAccessRequestMessage) (*onboard.AccessRequest, error) {
	record := &onboard.AccessRequest{}
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   pathAccessRequests,
		body: onboard.SubmitAccessRequestPayload{
			Email:       msg.Email,
			FullName:    msg.FullName,
			CompanyName: msg.CompanyName,
			Message:     msg.Message,
		},
	}, record)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListPending returns pending requests. Requires an admin session.
func (c *Client) ListPending(ctx context.Context) ([]*onboard.AccessRequest, error) {
	return c.List(ctx, onboard.AccessRequestPending)
}

// List returns requests in status. Requires an admin session.
func (c *Client) List(ctx context.Context, status onboard.AccessRequestStatus) ([]*onboard.AccessRequest, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var records []*onboard.AccessRequest
	err = c.do(ctx, request{
		method: http.MethodGet,
		path:   pathAccessRequests,
		query:  url.Values{"status": {string(status)}},
		token:  token,
	}, &records)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns one request. Requires an admin session.
func (c *Client) Get(ctx context.Context, id string) (*onboard.AccessRequest, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	record := &onboard.AccessRequest{}
	if err := c.do(ctx, request{
		method: http.MethodGet,
		path:   pathAccessRequests + "/" + url.PathEscape(id),
		token:  token,
	}, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Reject marks a pending request rejected. Requires an admin session.
func (c *Client) Reject(ctx context.Context, id string) (*onboard.AccessRequest, error) {
	return c.RejectWithReason(ctx, id, "")
}

// RejectWithReason rejects id and records reason in the activity log.
func (c *Client) RejectWithReason(ctx context.Context, id, reason string) (*onboard.AccessRequest, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	record := &onboard.AccessRequest{}
	if err := c.do(ctx, request{
		method: http.MethodPost,
		path:   pathAccessRequests + "/" + url.PathEscape(id) + "/reject",
		body:   onboard.RejectRequest{Reason: reason},
		token:  token,
	}, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Provision calls the gated create-user endpoint with the admin secret.
func (c *Client) Provision(ctx context.Context, msg onboard.ProvisionAccountMessage) (*onboard.ProvisionResult, error) {
	if c.adminSecret == "" {
		return nil, onboard.ErrUnauthorized
	}

	result := &onboard.ProvisionResult{}
	err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    pathCreateUser,
		body:    msg,
		headers: map[string]string{secretgate.DefaultHeader: c.adminSecret},
	}, result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	session, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrNoSession
	}
	return session.AccessToken, nil
}

func (c *Client) currentSession() *onboard.SessionTokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(session *onboard.SessionTokens) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	var err error
	if session == nil {
		err = c.storage.Clear()
	} else {
		err = c.storage.Save(session)
	}
	if err != nil {
		c.logger.Warn("client: persist session failed", "error", err)
	}
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	token   string
	headers map[string]string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("%s %s failed", r.method, r.path))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to read response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to decode response")
	}
	return nil
}

// responseError rebuilds a rich error from an {"error": "..."} body.
func responseError(status int, data []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	message := http.StatusText(status)
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}

	return goerrors.New(message, categoryFor(status)).
		WithCode(status).
		WithMetadata(map[string]any{"status": status})
}

func categoryFor(status int) goerrors.Category {
	switch status {
	case http.StatusBadRequest:
		return goerrors.CategoryBadInput
	case http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case http.StatusForbidden:
		return goerrors.CategoryAuthz
	case http.StatusNotFound:
		return goerrors.CategoryNotFound
	case http.StatusConflict:
		return goerrors.CategoryConflict
	case http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	default:
		return goerrors.CategoryExternal
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
