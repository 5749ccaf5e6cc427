package onboard_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-onboard"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type provisionFixture struct {
	identities *MockIdentityAdmin
	profiles   *MockProfiles
	requests   *MockAccessRequests
	sink       *recordingSink
	identity   onboard.StaticIdentity
	request    *onboard.AccessRequest
}

func newProvisionFixture() *provisionFixture {
	return &provisionFixture{
		identities: &MockIdentityAdmin{},
		profiles:   &MockProfiles{},
		requests:   &MockAccessRequests{},
		sink:       &recordingSink{},
		identity: onboard.StaticIdentity{
			IdentityID:    uuid.NewString(),
			IdentityEmail: "ada@example.com",
			IdentityRole:  string(onboard.RoleMember),
		},
		request: pendingRequest(),
	}
}

func (f *provisionFixture) handler(opts ...onboard.CommandOption) *onboard.ProvisionAccountHandler {
	sm := onboard.NewAccessRequestStateMachine(f.requests,
		onboard.WithStateMachineActivitySink(f.sink),
		onboard.WithStateMachineLogger(nopLogger{}),
	)
	opts = append([]onboard.CommandOption{
		onboard.WithCommandActivitySink(f.sink),
		onboard.WithCommandLogger(nopLogger{}),
	}, opts...)
	return onboard.NewProvisionAccountHandler(f.identities, f.profiles, f.requests, sm, opts...)
}

func (f *provisionFixture) message() onboard.ProvisionAccountMessage {
	return onboard.ProvisionAccountMessage{
		Email:     " ada@example.com ",
		Password:  "s3cret-pass",
		FullName:  "Ada Lovelace",
		RequestID: f.request.ID.String(),
	}
}

func (f *provisionFixture) expectPreflight() {
	f.requests.On("GetByID", mock.Anything, f.request.ID.String()).Return(f.request, nil).Once()
}

func (f *provisionFixture) expectIdentity() {
	f.identities.On("CreateIdentity", mock.Anything, onboard.CreateIdentityInput{
		Email:    "ada@example.com",
		Password: "s3cret-pass",
		FullName: "Ada Lovelace",
		Role:     onboard.RoleMember,
	}).Return(f.identity, nil).Once()
}

func TestProvisionAccountCreatesIdentityProfileAndMarksProcessed(t *testing.T) {
	f := newProvisionFixture()
	f.expectPreflight()
	f.expectIdentity()

	f.profiles.On("Create", mock.Anything, mock.MatchedBy(func(p *onboard.Profile) bool {
		return p.ID.String() == f.identity.IdentityID &&
			p.Approved &&
			p.Role == onboard.RoleMember &&
			p.FullName == "Ada Lovelace" &&
			p.CompanyID == "acme"
	})).Return(&onboard.Profile{}, nil).Once()

	f.requests.On("UpdateStatus", mock.Anything, mock.MatchedBy(func(u onboard.StatusUpdate) bool {
		return u.ID == f.request.ID.String() &&
			u.From == onboard.AccessRequestPending &&
			u.To == onboard.AccessRequestProcessed &&
			u.DecidedBy == "admin-1"
	})).Return(&onboard.AccessRequest{ID: f.request.ID, Status: onboard.AccessRequestProcessed}, nil).Once()

	ctx := onboard.WithActorContext(context.Background(), onboard.ActorRef{ID: "admin-1", Type: onboard.ActorTypeAdmin})
	msg := f.message()
	company := " acme "
	msg.CompanyID = &company

	var fromCallback *onboard.ProvisionResult
	msg.OnResponse = func(r *onboard.ProvisionResult) { fromCallback = r }

	result, err := f.handler().Provision(ctx, msg)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, f.identity.IdentityID, result.UserID)
	assert.Empty(t, result.Warnings)
	assert.Same(t, result, fromCallback)

	assert.Equal(t, []onboard.ActivityEventType{
		onboard.ActivityEventAccessRequestTransition,
		onboard.ActivityEventAccountProvisioned,
	}, f.sink.types())

	provisioned, ok := f.sink.last(onboard.ActivityEventAccountProvisioned)
	require.True(t, ok)
	assert.Equal(t, "admin-1", provisioned.Actor.ID)
	assert.Equal(t, f.identity.IdentityID, provisioned.SubjectID)
	assert.Equal(t, "ada@example.com", provisioned.Metadata["email"])

	f.identities.AssertExpectations(t)
	f.profiles.AssertExpectations(t)
	f.requests.AssertExpectations(t)
}

func TestProvisionAccountWithoutRequestID(t *testing.T) {
	f := newProvisionFixture()
	f.expectIdentity()
	f.profiles.On("Create", mock.Anything, mock.Anything).Return(&onboard.Profile{}, nil).Once()

	msg := f.message()
	msg.RequestID = ""

	result, err := f.handler().Provision(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, result.OK)

	f.requests.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	f.requests.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
	assert.Equal(t, []onboard.ActivityEventType{onboard.ActivityEventAccountProvisioned}, f.sink.types())
}

func TestProvisionAccountRequiresEmailAndPassword(t *testing.T) {
	cases := map[string]onboard.ProvisionAccountMessage{
		"missing email":    {Password: "secret"},
		"blank email":      {Email: "   ", Password: "secret"},
		"missing password": {Email: "ada@example.com"},
	}

	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			f := newProvisionFixture()

			_, err := f.handler().Provision(context.Background(), msg)
			require.Error(t, err)
			assert.Equal(t, 400, onboard.StatusCodeFor(err))
			assert.Equal(t, "email and password required", onboard.ErrorMessage(err))
			f.identities.AssertNotCalled(t, "CreateIdentity", mock.Anything, mock.Anything)
		})
	}
}

func TestProvisionAccountRejectsDecidedRequestBeforeCreatingIdentity(t *testing.T) {
	for _, status := range []onboard.AccessRequestStatus{onboard.AccessRequestProcessed, onboard.AccessRequestRejected} {
		t.Run(string(status), func(t *testing.T) {
			f := newProvisionFixture()
			f.request.Status = status
			f.expectPreflight()

			_, err := f.handler().Provision(context.Background(), f.message())
			require.Error(t, err)
			assert.ErrorIs(t, err, onboard.ErrTerminalState)
			assert.Equal(t, 409, onboard.StatusCodeFor(err))
			f.identities.AssertNotCalled(t, "CreateIdentity", mock.Anything, mock.Anything)
			assert.Empty(t, f.sink.types())
		})
	}
}

func TestProvisionAccountUnknownRequest(t *testing.T) {
	f := newProvisionFixture()
	f.requests.On("GetByID", mock.Anything, f.request.ID.String()).
		Return(nil, onboard.NewNotFoundError("access request", f.request.ID.String())).Once()

	_, err := f.handler().Provision(context.Background(), f.message())
	require.Error(t, err)
	assert.Equal(t, 404, onboard.StatusCodeFor(err))
	f.identities.AssertNotCalled(t, "CreateIdentity", mock.Anything, mock.Anything)
}

func TestProvisionAccountSurfacesIdentityServiceMessage(t *testing.T) {
	f := newProvisionFixture()
	f.expectPreflight()
	f.identities.On("CreateIdentity", mock.Anything, mock.Anything).Return(nil, onboard.ErrIdentityExists).Once()

	_, err := f.handler().Provision(context.Background(), f.message())
	require.Error(t, err)
	assert.True(t, onboard.IsRemoteServiceError(err))
	assert.ErrorIs(t, err, onboard.ErrIdentityExists)
	assert.Equal(t, "a user with this email address has already been registered", onboard.ErrorMessage(err))

	f.profiles.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.requests.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
}

func TestProvisionAccountCompensatesFailedProfile(t *testing.T) {
	f := newProvisionFixture()
	f.expectPreflight()
	f.expectIdentity()

	profileErr := errors.New("duplicate key value violates unique constraint")
	f.profiles.On("Create", mock.Anything, mock.Anything).Return(nil, profileErr).Once()
	f.identities.On("DeleteIdentity", mock.Anything, f.identity.IdentityID).Return(nil).Once()

	_, err := f.handler().Provision(context.Background(), f.message())
	require.Error(t, err)
	assert.True(t, onboard.IsRemoteServiceError(err))
	assert.False(t, onboard.IsPartialFailure(err))
	assert.Equal(t, profileErr.Error(), onboard.ErrorMessage(err))

	assert.Equal(t, []onboard.ActivityEventType{onboard.ActivityEventProvisionCompensated}, f.sink.types())
	f.identities.AssertExpectations(t)
	f.requests.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
}

func TestProvisionAccountCompensationSurvivesCancelledContext(t *testing.T) {
	f := newProvisionFixture()
	f.expectPreflight()
	f.expectIdentity()

	ctx, cancel := context.WithCancel(context.Background())

	f.profiles.On("Create", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()
	f.identities.On("DeleteIdentity", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), f.identity.IdentityID).Return(nil).Once()

	_, err := f.handler(onboard.WithCommandTimeout(time.Second)).Provision(ctx, f.message())
	require.Error(t, err)
	f.identities.AssertExpectations(t)
}

func TestProvisionAccountWithoutCompensationReportsOrphan(t *testing.T) {
	f := newProvisionFixture()
	f.expectPreflight()
	f.expectIdentity()
	f.profiles.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("insert failed")).Once()

	_, err := f.handler(onboard.WithProvisionCompensation(false)).Provision(context.Background(), f.message())
	require.Error(t, err)
	assert.True(t, onboard.IsPartialFailure(err))
	assert.Equal(t, 500, onboard.StatusCodeFor(err))

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, f.identity.IdentityID, rich.Metadata["orphan_identity_id"])

	f.identities.AssertNotCalled(t, "DeleteIdentity", mock.Anything, mock.Anything)
	assert.Equal(t, []onboard.ActivityEventType{onboard.ActivityEventProvisionOrphaned}, f.sink.types())
}

func TestProvisionAccountFailedCompensationReportsOrphan(t *testing.T) {
	f := newProvisionFixture()
	f.expectPreflight()
	f.expectIdentity()
	f.profiles.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("insert failed")).Once()
	f.identities.On("DeleteIdentity", mock.Anything, f.identity.IdentityID).Return(errors.New("identity service down")).Once()

	_, err := f.handler().Provision(context.Background(), f.message())
	require.Error(t, err)
	assert.True(t, onboard.IsPartialFailure(err))

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, f.identity.IdentityID, rich.Metadata["orphan_identity_id"])
	assert.Equal(t, "identity service down", rich.Metadata["compensation_error"])

	orphan, ok := f.sink.last(onboard.ActivityEventProvisionOrphaned)
	require.True(t, ok)
	assert.Equal(t, "identity service down", orphan.Metadata["compensation_error"])
}

func TestProvisionAccountStatusUpdateFailureIsWarning(t *testing.T) {
	f := newProvisionFixture()
	f.expectPreflight()
	f.expectIdentity()
	f.profiles.On("Create", mock.Anything, mock.Anything).Return(&onboard.Profile{}, nil).Once()
	f.requests.On("UpdateStatus", mock.Anything, mock.Anything).Return(nil, onboard.ErrStaleTransition).Once()

	result, err := f.handler().Provision(context.Background(), f.message())
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, f.identity.IdentityID, result.UserID)
	require.Len(t, result.Warnings, 1)
	assert.True(t, strings.HasPrefix(result.Warnings[0], "access request status update failed: "))
	assert.Contains(t, result.Warnings[0], "already decided")

	assert.Equal(t, []onboard.ActivityEventType{
		onboard.ActivityEventProvisionWarning,
		onboard.ActivityEventAccountProvisioned,
	}, f.sink.types())
	f.identities.AssertNotCalled(t, "DeleteIdentity", mock.Anything, mock.Anything)
}

func TestProvisionAccountCancelledContext(t *testing.T) {
	f := newProvisionFixture()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.handler().Execute(ctx, f.message())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	f.requests.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
