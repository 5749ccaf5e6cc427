package onboard

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_ACCESS_REQUEST_TRANSITION"
	textCodeTerminalState     = "TERMINAL_ACCESS_REQUEST_STATE"
	textCodeStaleTransition   = "STALE_ACCESS_REQUEST_TRANSITION"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid access request transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from processed or rejected.
var ErrTerminalState = goerrors.New("access request is no longer pending", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// ErrStaleTransition is returned when the stored status changed under us.
var ErrStaleTransition = goerrors.New("access request was already decided", goerrors.CategoryConflict).
	WithTextCode(textCodeStaleTransition).
	WithCode(goerrors.CodeConflict)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Request *AccessRequest
	From    AccessRequestStatus
	To      AccessRequestStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// AccessRequestStateMachine moves access requests out of pending.
type AccessRequestStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, req *AccessRequest, target AccessRequestStatus, opts ...TransitionOption) (*AccessRequest, error)
	CanTransition(from, to AccessRequestStatus) bool
}

// StatusWriter persists a conditional status change.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, update StatusUpdate) (*AccessRequest, error)
}

// StatusUpdate describes a compare-and-set status write.
type StatusUpdate struct {
	ID        string
	From      AccessRequestStatus
	To        AccessRequestStatus
	DecidedBy string
	DecidedAt time.Time
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accessRequestStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accessRequestStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish transitions.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accessRequestStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// Without one, hook errors are returned as is.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *accessRequestStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accessRequestStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewAccessRequestStateMachine returns the default implementation backed by writer.
func NewAccessRequestStateMachine(writer StatusWriter, opts ...StateMachineOption) AccessRequestStateMachine {
	sm := &accessRequestStateMachine{
		writer: writer,
		transitions: map[AccessRequestStatus]map[AccessRequestStatus]struct{}{
			AccessRequestPending: {
				AccessRequestProcessed: {},
				AccessRequestRejected:  {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accessRequestStateMachine struct {
	writer           StatusWriter
	transitions      map[AccessRequestStatus]map[AccessRequestStatus]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *accessRequestStateMachine) Transition(ctx context.Context, actor ActorRef, req *AccessRequest, target AccessRequestStatus, opts ...TransitionOption) (*AccessRequest, error) {
	if req == nil {
		return nil, transitionError(ErrInvalidTransition, map[string]any{
			"target": target,
			"reason": "access request is nil",
		})
	}

	req.EnsureStatus()
	from := req.Status

	if !target.IsValid() {
		return nil, transitionError(ErrInvalidTransition, map[string]any{
			"target": target,
			"reason": "unknown target status",
		})
	}

	if from.IsTerminal() {
		return nil, transitionError(ErrTerminalState, map[string]any{
			"id":   req.ID.String(),
			"from": from,
			"to":   target,
		})
	}

	if !sm.CanTransition(from, target) {
		return nil, transitionError(ErrInvalidTransition, map[string]any{
			"id":   req.ID.String(),
			"from": from,
			"to":   target,
		})
	}

	options := sm.buildTransitionOptions(opts...)
	tc := TransitionContext{
		Actor:   actor,
		Request: req,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	decidedAt := sm.now()
	updated, err := sm.writer.UpdateStatus(ctx, StatusUpdate{
		ID:        req.ID.String(),
		From:      from,
		To:        target,
		DecidedBy: actor.ID,
		DecidedAt: decidedAt,
	})
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(req, updated, target, actor, decidedAt)

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventAccessRequestTransition,
		Actor:      actor,
		SubjectID:  req.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(tc.Meta, req),
	})

	return req, nil
}

func (sm *accessRequestStateMachine) CanTransition(from, to AccessRequestStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accessRequestStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return goerrors.Wrap(err, goerrors.CategoryOperation, fmt.Sprintf("%s hook failed", phase))
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *accessRequestStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *accessRequestStateMachine) applyUpdates(req, updated *AccessRequest, target AccessRequestStatus, actor ActorRef, decidedAt time.Time) {
	if updated != nil {
		req.Status = updated.Status
		req.DecidedBy = updated.DecidedBy
		req.DecidedAt = updated.DecidedAt
		req.UpdatedAt = updated.UpdatedAt
		if req.Status == "" {
			req.Status = target
		}
		return
	}

	req.Status = target
	req.DecidedBy = actor.ID
	req.DecidedAt = &decidedAt
}

func (sm *accessRequestStateMachine) transitionMetadata(meta TransitionMetadata, req *AccessRequest) map[string]any {
	result := map[string]any{"email": req.Email}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

// transitionError clones a sentinel so metadata never leaks between calls.
func transitionError(base *goerrors.Error, metadata map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		return base
	}
	clone.Source = base
	return clone.WithMetadata(metadata)
}
