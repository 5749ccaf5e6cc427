package kratos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	onboard "github.com/goliatone/go-onboard"
	kratosclient "github.com/ory/kratos-client-go"
)

// IdentityAdmin implements onboard.IdentityAdmin over the Kratos admin API
// and onboard.IdentityProvider over the native login flow.
type IdentityAdmin struct {
	config Config
	admin  *kratosclient.APIClient
	public *kratosclient.APIClient
	logger onboard.Logger
}

var _ onboard.IdentityAdmin = (*IdentityAdmin)(nil)
var _ onboard.IdentityProvider = (*IdentityAdmin)(nil)

// Option customizes an IdentityAdmin.
type Option func(*IdentityAdmin)

// WithLogger sets the logger.
func WithLogger(logger onboard.Logger) Option {
	return func(a *IdentityAdmin) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewIdentityAdmin returns an IdentityAdmin for the given endpoints.
func NewIdentityAdmin(cfg Config, opts ...Option) (*IdentityAdmin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &IdentityAdmin{
		config: cfg,
		admin:  newAPIClient(cfg.AdminURL, cfg.timeout()),
		public: newAPIClient(cfg.PublicURL, cfg.timeout()),
		logger: nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.logger.Info("kratos client initialized", "public_url", cfg.PublicURL, "admin_url", cfg.AdminURL)
	return a, nil
}

// CreateIdentity creates an active identity with a password credential and
// a verified email address.
func (a *IdentityAdmin) CreateIdentity(ctx context.Context, input onboard.CreateIdentityInput) (onboard.Identity, error) {
	email := onboard.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, onboard.NewValidationError("email and password required")
	}

	role := input.Role
	if role == "" {
		role = onboard.RoleMember
	}

	traits := map[string]interface{}{"email": email}
	if name := strings.TrimSpace(input.FullName); name != "" {
		traits["name"] = name
	}

	body := kratosclient.CreateIdentityBody{
		SchemaId: a.config.schemaID(),
		Traits:   traits,
		State:    kratosclient.PtrString("active"),
		Credentials: &kratosclient.IdentityWithCredentials{
			Password: &kratosclient.IdentityWithCredentialsPassword{
				Config: &kratosclient.IdentityWithCredentialsPasswordConfig{
					Password: kratosclient.PtrString(input.Password),
				},
			},
		},
		VerifiableAddresses: []kratosclient.VerifiableIdentityAddress{
			{
				Value:    email,
				Verified: true,
				Via:      "email",
				Status:   "completed",
			},
		},
		MetadataPublic: map[string]interface{}{"role": string(role)},
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.timeout())
	defer cancel()

	identity, httpResp, err := a.admin.IdentityAPI.CreateIdentity(ctx).CreateIdentityBody(body).Execute()
	if err != nil {
		if statusOf(httpResp) == http.StatusConflict {
			return nil, onboard.ErrIdentityExists
		}
		a.logger.Error("kratos create identity failed", "email", email, "error", err, "http_status", statusOf(httpResp))
		return nil, remoteError(err, httpResp, "create identity")
	}

	a.logger.Info("kratos identity created", "identity_id", identity.GetId())
	return toIdentity(identity), nil
}

// DeleteIdentity removes the identity. A missing identity is not an error.
func (a *IdentityAdmin) DeleteIdentity(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, a.config.timeout())
	defer cancel()

	httpResp, err := a.admin.IdentityAPI.DeleteIdentity(ctx, id).Execute()
	if err != nil {
		if statusOf(httpResp) == http.StatusNotFound {
			return nil
		}
		return remoteError(err, httpResp, "delete identity")
	}
	a.logger.Info("kratos identity deleted", "identity_id", id)
	return nil
}

// VerifyIdentity runs a native login flow with the password method.
func (a *IdentityAdmin) VerifyIdentity(ctx context.Context, email, password string) (onboard.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.timeout())
	defer cancel()

	flow, httpResp, err := a.public.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, remoteError(err, httpResp, "create login flow")
	}

	method := kratosclient.UpdateLoginFlowWithPasswordMethod{
		Method:     "password",
		Identifier: onboard.NormalizeEmail(email),
		Password:   password,
	}

	login, httpResp, err := a.public.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.GetId()).
		UpdateLoginFlowBody(kratosclient.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&method)).
		Execute()
	if err != nil {
		switch statusOf(httpResp) {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return nil, onboard.ErrInvalidCredentials
		}
		return nil, remoteError(err, httpResp, "submit login flow")
	}

	session := login.GetSession()
	identity := session.GetIdentity()
	return toIdentity(&identity), nil
}

// FindIdentityByID reads the identity for id.
func (a *IdentityAdmin) FindIdentityByID(ctx context.Context, id string) (onboard.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.timeout())
	defer cancel()

	identity, httpResp, err := a.admin.IdentityAPI.GetIdentity(ctx, id).Execute()
	if err != nil {
		if statusOf(httpResp) == http.StatusNotFound {
			return nil, onboard.ErrIdentityNotFound
		}
		return nil, remoteError(err, httpResp, "get identity")
	}
	return toIdentity(identity), nil
}

func toIdentity(identity *kratosclient.Identity) onboard.StaticIdentity {
	out := onboard.StaticIdentity{IdentityID: identity.GetId()}
	if traits, ok := identity.GetTraits().(map[string]interface{}); ok {
		out.IdentityEmail, _ = traits["email"].(string)
	}
	if metadata, ok := identity.GetMetadataPublic().(map[string]interface{}); ok {
		out.IdentityRole, _ = metadata["role"].(string)
	}
	return out
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// remoteError keeps the Kratos error message and maps the status.
func remoteError(err error, resp *http.Response, operation string) error {
	message := fmt.Sprintf("kratos %s failed", operation)
	if detail := errorDetail(err); detail != "" {
		message = detail
	}

	out := goerrors.Wrap(err, goerrors.CategoryExternal, message).
		WithTextCode("KRATOS_ERROR").
		WithMetadata(map[string]any{"operation": operation})

	if status := statusOf(resp); status >= 400 && status < 500 {
		out = out.WithCode(status)
	} else {
		out = out.WithCode(goerrors.CodeInternal)
	}
	return out
}

// errorDetail reads {"error":{"message","reason"}} from an API error body.
func errorDetail(err error) string {
	var apiErr *kratosclient.GenericOpenAPIError
	if !goerrors.As(err, &apiErr) {
		return ""
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
			Reason  string `json:"reason"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(apiErr.Body(), &payload); jsonErr != nil {
		return ""
	}
	if payload.Error.Reason != "" {
		return payload.Error.Reason
	}
	return payload.Error.Message
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
