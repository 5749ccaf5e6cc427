package onboard

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-onboard/middleware/secretgate"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// AdminSecretActor identifies calls authorized by the shared admin secret.
var AdminSecretActor = ActorRef{ID: "admin-secret", Type: ActorTypeAdmin}

type AccessRequestControllerRoutes struct {
	AccessRequests string
	CreateUser     string
}

// AccessRequestController serves public submission, admin review and the
// secret gated provisioning endpoint.
type AccessRequestController struct {
	Debug       bool
	Logger      Logger
	Routes      *AccessRequestControllerRoutes
	Auther      *RouteAuthenticator
	Requests    AccessRequests
	Submit      *SubmitAccessRequestHandler
	Reject      *RejectAccessRequestHandler
	Provision   *ProvisionAccountHandler
	AdminSecret string
	RateMax     int
	RateWindow  time.Duration
}

type AccessRequestControllerOption func(*AccessRequestController) *AccessRequestController

// WithAccessRequestLogger sets the logger.
func WithAccessRequestLogger(logger Logger) AccessRequestControllerOption {
	return func(c *AccessRequestController) *AccessRequestController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithAccessRequestDebug dumps payloads to the logger.
func WithAccessRequestDebug(debug bool) AccessRequestControllerOption {
	return func(c *AccessRequestController) *AccessRequestController {
		c.Debug = debug
		return c
	}
}

// WithAccessRequestRateLimit limits public submissions per client IP.
func WithAccessRequestRateLimit(max int, window time.Duration) AccessRequestControllerOption {
	return func(c *AccessRequestController) *AccessRequestController {
		c.RateMax = max
		c.RateWindow = window
		return c
	}
}

// NewAccessRequestController builds the controller. adminSecret guards the
// provisioning endpoint, an empty value disables it.
func NewAccessRequestController(
	auther *RouteAuthenticator,
	requests AccessRequests,
	submit *SubmitAccessRequestHandler,
	reject *RejectAccessRequestHandler,
	provision *ProvisionAccountHandler,
	adminSecret string,
	opts ...AccessRequestControllerOption,
) *AccessRequestController {
	c := &AccessRequestController{
		Logger:      defLogger{},
		Auther:      auther,
		Requests:    requests,
		Submit:      submit,
		Reject:      reject,
		Provision:   provision,
		AdminSecret: adminSecret,
		RateMax:     5,
		RateWindow:  time.Minute,
		Routes: &AccessRequestControllerRoutes{
			AccessRequests: "/api/access-requests",
			CreateUser:     "/api/admin/create-user",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// Register mounts every route on app.
func (a *AccessRequestController) Register(app RouteRegistrar) {
	admin := a.Auther.RequireRole(RoleAdmin)

	app.Post(a.Routes.AccessRequests, a.SubmitPost, RateLimit(a.RateMax, a.RateWindow, a.Logger)).
		SetName("access-requests.post")
	app.Get(a.Routes.AccessRequests, a.List, admin).SetName("access-requests.get")
	app.Get(a.Routes.AccessRequests+"/:id", a.Show, admin).SetName("access-request.get")
	app.Post(a.Routes.AccessRequests+"/:id/reject", a.RejectPost, admin).SetName("access-request-reject.post")

	app.Post(a.Routes.CreateUser, a.CreateUserPost, secretgate.New(secretgate.Config{
		Secret: a.AdminSecret,
		ErrorHandler: func(c router.Context, err error) error {
			a.Logger.Warn("admin secret rejected", "error", err, "ip", c.IP())
			return a.Auther.ErrorHandler(c, ErrUnauthorized)
		},
	})).SetName("create-user.post")
}

// SubmitAccessRequestPayload is the public request form.
type SubmitAccessRequestPayload struct {
	Email       string `form:"email" json:"email"`
	FullName    string `form:"full_name" json:"full_name"`
	CompanyName string `form:"company_name" json:"company_name"`
	Message     string `form:"message" json:"message"`
}

func (a *AccessRequestController) SubmitPost(c router.Context) error {
	payload := new(SubmitAccessRequestPayload)
	if err := c.Bind(payload); err != nil {
		return a.Auther.ErrorHandler(c, ErrInvalidJSON)
	}

	var record *AccessRequest
	err := a.Submit.Execute(c.Context(), SubmitAccessRequestMessage{
		Email:       payload.Email,
		FullName:    payload.FullName,
		CompanyName: payload.CompanyName,
		Message:     payload.Message,
		OnResponse: func(req *AccessRequest) {
			record = req
		},
	})
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	return c.JSON(http.StatusCreated, record)
}

func (a *AccessRequestController) List(c router.Context) error {
	status := AccessRequestStatus(strings.TrimSpace(c.Query("status", string(AccessRequestPending))))
	if !status.IsValid() {
		return a.Auther.ErrorHandler(c, NewValidationError("invalid status"))
	}

	rows, err := a.Requests.ListByStatus(c.Context(), status)
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}
	if rows == nil {
		rows = []*AccessRequest{}
	}
	return c.JSON(router.StatusOK, rows)
}

func (a *AccessRequestController) Show(c router.Context) error {
	record, err := a.Requests.GetByID(c.Context(), c.Param("id"))
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}
	return c.JSON(router.StatusOK, record)
}

// RejectRequest payload
type RejectRequest struct {
	Reason string `form:"reason" json:"reason"`
}

func (a *AccessRequestController) RejectPost(c router.Context) error {
	payload := new(RejectRequest)
	if len(c.Body()) > 0 {
		if err := c.Bind(payload); err != nil {
			return a.Auther.ErrorHandler(c, ErrInvalidJSON)
		}
	}

	var record *AccessRequest
	err := a.Reject.Execute(c.Context(), RejectAccessRequestMessage{
		RequestID: c.Param("id"),
		Reason:    payload.Reason,
		OnResponse: func(req *AccessRequest) {
			record = req
		},
	})
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	return c.JSON(router.StatusOK, record)
}

// CreateUserPost provisions an identity and its approved profile. The body
// must be JSON regardless of the content type.
func (a *AccessRequestController) CreateUserPost(c router.Context) error {
	payload := ProvisionAccountMessage{}
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return a.Auther.ErrorHandler(c, ErrInvalidJSON)
	}

	if a.Debug {
		a.Logger.Debug("admin create user", "payload", print.MaybePrettyJSON(map[string]any{
			"email":      payload.Email,
			"full_name":  payload.FullName,
			"company_id": payload.CompanyID,
			"request_id": payload.RequestID,
		}))
	}

	ctx := WithActorContext(c.Context(), AdminSecretActor)
	result, err := a.Provision.Provision(ctx, payload)
	if err != nil {
		return a.Auther.ErrorHandler(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}
