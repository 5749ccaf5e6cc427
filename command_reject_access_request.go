package onboard

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

type RejectAccessRequestMessage struct {
	RequestID  string
	Reason     string
	OnResponse func(req *AccessRequest)
}

func (m RejectAccessRequestMessage) Type() string { return "access_request.reject" }

// RejectAccessRequestHandler marks a pending request rejected. It runs with
// the caller's own admin session, not the provisioning secret.
type RejectAccessRequestHandler struct {
	requests     AccessRequests
	stateMachine AccessRequestStateMachine
	logger       Logger
}

func NewRejectAccessRequestHandler(requests AccessRequests, sm AccessRequestStateMachine, opts ...CommandOption) *RejectAccessRequestHandler {
	o := buildCommandOptions(opts...)
	return &RejectAccessRequestHandler{
		requests:     requests,
		stateMachine: sm,
		logger:       o.logger,
	}
}

func (h *RejectAccessRequestHandler) Execute(ctx context.Context, event RejectAccessRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during access request rejection",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RejectAccessRequestHandler) execute(ctx context.Context, event RejectAccessRequestMessage) error {
	id := strings.TrimSpace(event.RequestID)
	if id == "" {
		return NewValidationError("request id required")
	}

	req, err := h.requests.GetByID(ctx, id)
	if err != nil {
		return err
	}

	opts := []TransitionOption{}
	if event.Reason != "" {
		opts = append(opts, WithTransitionReason(event.Reason))
	}

	updated, err := h.stateMachine.Transition(ctx, ActorFromContext(ctx), req, AccessRequestRejected, opts...)
	if err != nil {
		return err
	}

	h.logger.Info("access request rejected", "request_id", id)

	if event.OnResponse != nil {
		event.OnResponse(updated)
	}
	return nil
}
