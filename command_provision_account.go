package onboard

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// ProvisionAccountMessage is the body accepted by the gated endpoint.
type ProvisionAccountMessage struct {
	Email      string                        `json:"email"`
	Password   string                        `json:"password"`
	FullName   string                        `json:"full_name,omitempty"`
	CompanyID  *string                       `json:"company_id,omitempty"`
	RequestID  string                        `json:"request_id,omitempty"`
	OnResponse func(result *ProvisionResult) `json:"-"`
}

func (m ProvisionAccountMessage) Type() string { return "account.provision" }

func (m ProvisionAccountMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required),
		validation.Field(&m.Password, validation.Required),
	)
}

// ProvisionResult is returned on success. Warnings carry best effort
// failures that did not abort provisioning.
type ProvisionResult struct {
	OK       bool     `json:"ok"`
	UserID   string   `json:"userId"`
	Warnings []string `json:"warnings,omitempty"`
}

// WithProvisionCompensation toggles deleting the new identity when the
// profile insert fails. Enabled by default.
func WithProvisionCompensation(enabled bool) CommandOption {
	return func(o *commandOptions) {
		o.compensate = &enabled
	}
}

// WithCommandTimeout bounds the compensation call.
func WithCommandTimeout(d time.Duration) CommandOption {
	return func(o *commandOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// ProvisionAccountHandler creates an identity, its approved profile, and
// marks the originating access request processed, in that order.
type ProvisionAccountHandler struct {
	identities   IdentityAdmin
	profiles     Profiles
	requests     AccessRequests
	stateMachine AccessRequestStateMachine
	compensate   bool
	timeout      time.Duration
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

func NewProvisionAccountHandler(identities IdentityAdmin, profiles Profiles, requests AccessRequests, sm AccessRequestStateMachine, opts ...CommandOption) *ProvisionAccountHandler {
	o := buildCommandOptions(opts...)
	compensate := true
	if o.compensate != nil {
		compensate = *o.compensate
	}
	return &ProvisionAccountHandler{
		identities:   identities,
		profiles:     profiles,
		requests:     requests,
		stateMachine: sm,
		compensate:   compensate,
		timeout:      o.timeout,
		activitySink: o.activitySink,
		logger:       o.logger,
		now:          o.now,
	}
}

func (h *ProvisionAccountHandler) Execute(ctx context.Context, event ProvisionAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account provisioning",
		)
	default:
		return h.execute(ctx, event)
	}
}

// Provision runs the handler and returns its result. It satisfies Provisioner.
func (h *ProvisionAccountHandler) Provision(ctx context.Context, event ProvisionAccountMessage) (*ProvisionResult, error) {
	var result *ProvisionResult
	next := event.OnResponse
	event.OnResponse = func(r *ProvisionResult) {
		result = r
		if next != nil {
			next(r)
		}
	}
	if err := h.Execute(ctx, event); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *ProvisionAccountHandler) execute(ctx context.Context, event ProvisionAccountMessage) error {
	event.Email = strings.TrimSpace(event.Email)
	if err := event.Validate(); err != nil {
		return NewValidationError("email and password required")
	}

	req, err := h.preflight(ctx, event.RequestID)
	if err != nil {
		return err
	}

	identity, err := h.identities.CreateIdentity(ctx, CreateIdentityInput{
		Email:    event.Email,
		Password: event.Password,
		FullName: event.FullName,
		Role:     RoleMember,
	})
	if err != nil {
		h.logger.Error("provision create identity failed", "email", event.Email, "error", err)
		return NewRemoteServiceError(err, "create identity")
	}

	if err := h.createProfile(ctx, identity, event); err != nil {
		return h.compensateIdentity(ctx, identity, err)
	}

	result := &ProvisionResult{OK: true, UserID: identity.ID()}

	if req != nil {
		if warning := h.markProcessed(ctx, req, identity); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventAccountProvisioned,
		Actor:     ActorFromContext(ctx),
		SubjectID: identity.ID(),
		Metadata: map[string]any{
			"email":      NormalizeEmail(event.Email),
			"request_id": event.RequestID,
		},
	})

	h.logger.Info("account provisioned", "identity_id", identity.ID(), "request_id", event.RequestID)

	if event.OnResponse != nil {
		event.OnResponse(result)
	}
	return nil
}

// preflight loads the access request so a decided row fails before any
// identity is created.
func (h *ProvisionAccountHandler) preflight(ctx context.Context, requestID string) (*AccessRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, nil
	}

	req, err := h.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	req.EnsureStatus()
	if req.Status != AccessRequestPending {
		return nil, transitionError(ErrTerminalState, map[string]any{
			"id":     requestID,
			"status": req.Status,
		})
	}
	return req, nil
}

func (h *ProvisionAccountHandler) createProfile(ctx context.Context, identity Identity, event ProvisionAccountMessage) error {
	id, err := uuid.Parse(identity.ID())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "identity id is not a uuid")
	}

	profile := &Profile{
		ID:       id,
		FullName: strings.TrimSpace(event.FullName),
		Approved: true,
		Role:     RoleMember,
	}
	if event.CompanyID != nil {
		profile.CompanyID = strings.TrimSpace(*event.CompanyID)
	}

	_, err = h.profiles.Create(ctx, profile)
	return err
}

func (h *ProvisionAccountHandler) compensateIdentity(ctx context.Context, identity Identity, profileErr error) error {
	identityID := identity.ID()

	if !h.compensate {
		h.logger.Error("profile insert failed, identity left without profile", "identity_id", identityID, "error", profileErr)
		h.recordOrphan(ctx, identityID, profileErr, nil)
		return NewPartialFailure(profileErr, identityID)
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	if err := h.identities.DeleteIdentity(cctx, identityID); err != nil {
		h.logger.Error("compensating identity delete failed", "identity_id", identityID, "error", err)
		h.recordOrphan(ctx, identityID, profileErr, err)
		failure := NewPartialFailure(profileErr, identityID)
		if failure.Metadata != nil {
			failure.Metadata["compensation_error"] = err.Error()
		}
		return failure
	}

	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventProvisionCompensated,
		Actor:     ActorFromContext(ctx),
		SubjectID: identityID,
		Metadata:  map[string]any{"error": profileErr.Error()},
	})
	h.logger.Warn("profile insert failed, identity deleted", "identity_id", identityID, "error", profileErr)

	return NewRemoteServiceError(profileErr, "create profile")
}

func (h *ProvisionAccountHandler) recordOrphan(ctx context.Context, identityID string, profileErr, compensationErr error) {
	metadata := map[string]any{"error": profileErr.Error()}
	if compensationErr != nil {
		metadata["compensation_error"] = compensationErr.Error()
	}
	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventProvisionOrphaned,
		Actor:     ActorFromContext(ctx),
		SubjectID: identityID,
		Metadata:  metadata,
	})
}

// markProcessed is best effort. A failure becomes a warning string.
func (h *ProvisionAccountHandler) markProcessed(ctx context.Context, req *AccessRequest, identity Identity) string {
	_, err := h.stateMachine.Transition(ctx, ActorFromContext(ctx), req, AccessRequestProcessed,
		WithTransitionReason("account provisioned"),
		WithTransitionMetadata(map[string]any{"identity_id": identity.ID()}),
	)
	if err == nil {
		return ""
	}

	warning := "access request status update failed: " + ErrorMessage(err)
	h.logger.Warn("provision status update failed", "request_id", req.ID.String(), "error", err)
	recordActivity(ctx, h.activitySink, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventProvisionWarning,
		Actor:     ActorFromContext(ctx),
		SubjectID: req.ID.String(),
		Metadata: map[string]any{
			"identity_id": identity.ID(),
			"warning":     warning,
		},
	})
	return warning
}
