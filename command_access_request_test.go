package onboard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-onboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSubmitAccessRequestTrimsAndStoresPending(t *testing.T) {
	repo := &MockAccessRequests{}
	sink := &recordingSink{}
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	id := uuid.New()

	repo.On("Create", mock.Anything, mock.MatchedBy(func(r *onboard.AccessRequest) bool {
		return r.Email == "ada@example.com" &&
			r.FullName == "Ada Lovelace" &&
			r.CompanyName == "Analytical Engines" &&
			r.Message == "hello" &&
			r.CreatedAt != nil && r.CreatedAt.Equal(now)
	})).Return(&onboard.AccessRequest{
		ID:     id,
		Email:  "ada@example.com",
		Status: onboard.AccessRequestPending,
	}, nil).Once()

	handler := onboard.NewSubmitAccessRequestHandler(repo,
		onboard.WithCommandActivitySink(sink),
		onboard.WithCommandClock(func() time.Time { return now }),
		onboard.WithCommandLogger(nopLogger{}),
	)

	var got *onboard.AccessRequest
	err := handler.Execute(context.Background(), onboard.SubmitAccessRequestMessage{
		Email:       "  ada@example.com ",
		FullName:    " Ada Lovelace",
		CompanyName: "Analytical Engines ",
		Message:     " hello ",
		OnResponse:  func(req *onboard.AccessRequest) { got = req },
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)

	evt, ok := sink.last(onboard.ActivityEventAccessRequestSubmitted)
	require.True(t, ok)
	assert.Equal(t, id.String(), evt.SubjectID)
	assert.Equal(t, onboard.AccessRequestPending, evt.ToStatus)
	assert.Equal(t, "visitor", evt.Actor.Type)
	repo.AssertExpectations(t)
}

func TestSubmitAccessRequestRequiresEmail(t *testing.T) {
	repo := &MockAccessRequests{}
	handler := onboard.NewSubmitAccessRequestHandler(repo, onboard.WithCommandLogger(nopLogger{}))

	err := handler.Execute(context.Background(), onboard.SubmitAccessRequestMessage{Email: "   ", FullName: "Ada"})
	require.Error(t, err)
	assert.Equal(t, 400, onboard.StatusCodeFor(err))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestSubmitAccessRequestStoreFailure(t *testing.T) {
	repo := &MockAccessRequests{}
	repo.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("relation does not exist")).Once()

	handler := onboard.NewSubmitAccessRequestHandler(repo, onboard.WithCommandLogger(nopLogger{}))

	err := handler.Execute(context.Background(), onboard.SubmitAccessRequestMessage{Email: "ada@example.com"})
	require.Error(t, err)
	assert.True(t, onboard.IsRemoteServiceError(err))
	assert.Equal(t, "relation does not exist", onboard.ErrorMessage(err))
}

func TestRejectAccessRequest(t *testing.T) {
	repo := &MockAccessRequests{}
	sink := &recordingSink{}
	req := pendingRequest()

	repo.On("GetByID", mock.Anything, req.ID.String()).Return(req, nil).Once()
	repo.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(u onboard.StatusUpdate) bool {
		return u.To == onboard.AccessRequestRejected && u.DecidedBy == "admin-1"
	})).Return(&onboard.AccessRequest{ID: req.ID, Status: onboard.AccessRequestRejected, DecidedBy: "admin-1"}, nil).Once()

	sm := onboard.NewAccessRequestStateMachine(repo,
		onboard.WithStateMachineActivitySink(sink),
		onboard.WithStateMachineLogger(nopLogger{}),
	)
	handler := onboard.NewRejectAccessRequestHandler(repo, sm, onboard.WithCommandLogger(nopLogger{}))

	ctx := onboard.WithActorContext(context.Background(), onboard.ActorRef{ID: "admin-1", Type: onboard.ActorTypeAdmin})

	var got *onboard.AccessRequest
	err := handler.Execute(ctx, onboard.RejectAccessRequestMessage{
		RequestID:  " " + req.ID.String() + " ",
		Reason:     "not a customer",
		OnResponse: func(r *onboard.AccessRequest) { got = r },
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, onboard.AccessRequestRejected, got.Status)

	evt, ok := sink.last(onboard.ActivityEventAccessRequestTransition)
	require.True(t, ok)
	assert.Equal(t, "not a customer", evt.Metadata["reason"])
	assert.Equal(t, "admin-1", evt.Actor.ID)
	repo.AssertExpectations(t)
}

func TestRejectAccessRequestAlreadyDecided(t *testing.T) {
	repo := &MockAccessRequests{}
	req := pendingRequest()
	req.Status = onboard.AccessRequestProcessed

	repo.On("GetByID", mock.Anything, req.ID.String()).Return(req, nil).Once()

	handler := onboard.NewRejectAccessRequestHandler(repo, onboard.NewAccessRequestStateMachine(repo))

	err := handler.Execute(context.Background(), onboard.RejectAccessRequestMessage{RequestID: req.ID.String()})
	require.ErrorIs(t, err, onboard.ErrTerminalState)
	repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
}

func TestRejectAccessRequestRequiresID(t *testing.T) {
	repo := &MockAccessRequests{}
	handler := onboard.NewRejectAccessRequestHandler(repo, onboard.NewAccessRequestStateMachine(repo))

	err := handler.Execute(context.Background(), onboard.RejectAccessRequestMessage{RequestID: "  "})
	require.Error(t, err)
	assert.Equal(t, 400, onboard.StatusCodeFor(err))
	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
