package onboard

import (
	"context"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// AccessRequestStore is the data surface the workflow needs. Reject runs
// with the caller's own privileged session.
type AccessRequestStore interface {
	Submit(ctx context.Context, msg SubmitAccessRequestMessage) (*AccessRequest, error)
	ListPending(ctx context.Context) ([]*AccessRequest, error)
	Get(ctx context.Context, id string) (*AccessRequest, error)
	Reject(ctx context.Context, id string) (*AccessRequest, error)
}

// Provisioner calls the gated provisioning endpoint.
type Provisioner interface {
	Provision(ctx context.Context, msg ProvisionAccountMessage) (*ProvisionResult, error)
}

// LocalAccessRequestStore serves AccessRequestStore from the repositories.
type LocalAccessRequestStore struct {
	requests AccessRequests
	submit   *SubmitAccessRequestHandler
	reject   *RejectAccessRequestHandler
}

var _ AccessRequestStore = (*LocalAccessRequestStore)(nil)

// NewLocalAccessRequestStore wires the submit and reject handlers.
func NewLocalAccessRequestStore(requests AccessRequests, submit *SubmitAccessRequestHandler, reject *RejectAccessRequestHandler) *LocalAccessRequestStore {
	return &LocalAccessRequestStore{requests: requests, submit: submit, reject: reject}
}

func (s *LocalAccessRequestStore) Submit(ctx context.Context, msg SubmitAccessRequestMessage) (*AccessRequest, error) {
	var out *AccessRequest
	msg.OnResponse = func(req *AccessRequest) { out = req }
	if err := s.submit.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *LocalAccessRequestStore) ListPending(ctx context.Context) ([]*AccessRequest, error) {
	return s.requests.ListByStatus(ctx, AccessRequestPending)
}

func (s *LocalAccessRequestStore) Get(ctx context.Context, id string) (*AccessRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *LocalAccessRequestStore) Reject(ctx context.Context, id string) (*AccessRequest, error) {
	var out *AccessRequest
	err := s.reject.Execute(ctx, RejectAccessRequestMessage{
		RequestID:  id,
		OnResponse: func(req *AccessRequest) { out = req },
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AccessRequestWorkflow drives submit, review, approve and reject. It keeps
// the last listed pending rows as a local view, the way an admin console does.
type AccessRequestWorkflow struct {
	store       AccessRequestStore
	provisioner Provisioner
	logger      Logger

	mu      sync.RWMutex
	pending []*AccessRequest
}

// WorkflowOption customizes an AccessRequestWorkflow.
type WorkflowOption func(*AccessRequestWorkflow)

// WithWorkflowLogger sets the logger.
func WithWorkflowLogger(logger Logger) WorkflowOption {
	return func(w *AccessRequestWorkflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewAccessRequestWorkflow returns a workflow over store and provisioner.
func NewAccessRequestWorkflow(store AccessRequestStore, provisioner Provisioner, opts ...WorkflowOption) *AccessRequestWorkflow {
	w := &AccessRequestWorkflow{
		store:       store,
		provisioner: provisioner,
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Submit stores a new pending request. Only the email is required.
func (w *AccessRequestWorkflow) Submit(ctx context.Context, email, fullName, companyName, message string) (*AccessRequest, error) {
	if strings.TrimSpace(email) == "" {
		return nil, NewValidationError("email required")
	}
	return w.store.Submit(ctx, SubmitAccessRequestMessage{
		Email:       email,
		FullName:    fullName,
		CompanyName: companyName,
		Message:     message,
	})
}

// ListPending fetches every pending request, oldest first, and replaces the
// local view with the result.
func (w *AccessRequestWorkflow) ListPending(ctx context.Context) ([]*AccessRequest, error) {
	rows, err := w.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.pending = append([]*AccessRequest(nil), rows...)
	w.mu.Unlock()

	return rows, nil
}

// Pending returns a copy of the local pending view.
func (w *AccessRequestWorkflow) Pending() []*AccessRequest {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]*AccessRequest(nil), w.pending...)
}

// Approve provisions an account for the request using chosenPassword. The
// endpoint marks the row processed. On failure the row stays pending and the
// endpoint message is returned as is.
func (w *AccessRequestWorkflow) Approve(ctx context.Context, requestID, chosenPassword string) (*ProvisionResult, error) {
	if strings.TrimSpace(chosenPassword) == "" {
		return nil, NewValidationError("password required")
	}

	req, err := w.lookup(ctx, requestID)
	if err != nil {
		return nil, err
	}

	result, err := w.provisioner.Provision(ctx, ProvisionAccountMessage{
		Email:     req.Email,
		Password:  chosenPassword,
		FullName:  req.FullName,
		CompanyID: nil,
		RequestID: req.ID.String(),
	})
	if err != nil {
		w.logger.Warn("approve failed", "request_id", requestID, "error", err)
		return nil, err
	}

	for _, warning := range result.Warnings {
		w.logger.Warn("approve completed with warning", "request_id", requestID, "warning", warning)
	}

	w.removePending(requestID)
	return result, nil
}

// Reject marks the request rejected through the store.
func (w *AccessRequestWorkflow) Reject(ctx context.Context, requestID string) (*AccessRequest, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, NewValidationError("request id required")
	}

	req, err := w.store.Reject(ctx, requestID)
	if err != nil {
		w.logger.Warn("reject failed", "request_id", requestID, "error", err)
		return nil, err
	}

	w.removePending(requestID)
	return req, nil
}

func (w *AccessRequestWorkflow) lookup(ctx context.Context, requestID string) (*AccessRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, NewValidationError("request id required")
	}

	w.mu.RLock()
	for _, req := range w.pending {
		if req.ID.String() == requestID {
			w.mu.RUnlock()
			return req, nil
		}
	}
	w.mu.RUnlock()

	req, err := w.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, goerrors.New("access request not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}
	return req, nil
}

func (w *AccessRequestWorkflow) removePending(requestID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.pending[:0]
	for _, req := range w.pending {
		if req.ID.String() != requestID {
			kept = append(kept, req)
		}
	}
	w.pending = kept
}
