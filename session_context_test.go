package onboard_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/goliatone/go-onboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionSource struct {
	broker     *onboard.AuthStateBroker
	session    *onboard.SessionTokens
	err        error
	signOutErr error
	signOuts   int
}

func newFakeSessionSource(session *onboard.SessionTokens) *fakeSessionSource {
	return &fakeSessionSource{broker: onboard.NewAuthStateBroker(), session: session}
}

func (f *fakeSessionSource) GetSession(context.Context) (*onboard.SessionTokens, error) {
	return f.session, f.err
}

func (f *fakeSessionSource) SignOut(context.Context) error {
	f.signOuts++
	f.session = nil
	f.broker.Publish(onboard.AuthEventSignedOut, nil)
	return f.signOutErr
}

func (f *fakeSessionSource) OnAuthStateChange(listener onboard.AuthStateListener) *onboard.Subscription {
	return f.broker.Subscribe(listener)
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*onboard.Profile
	err      error
	calls    int
}

func (f *fakeProfiles) GetProfile(_ context.Context, id string) (*onboard.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	profile, ok := f.profiles[id]
	if !ok {
		return nil, onboard.NewNotFoundError("profile", id)
	}
	return profile, nil
}

func sessionFor(id string) *onboard.SessionTokens {
	return &onboard.SessionTokens{
		AccessToken: "access-" + id,
		User:        onboard.SessionUser{ID: id, Email: id + "@example.com", Role: "member"},
	}
}

func TestSessionContextInitLoadsProfile(t *testing.T) {
	source := newFakeSessionSource(sessionFor("u1"))
	profiles := &fakeProfiles{profiles: map[string]*onboard.Profile{
		"u1": {FullName: "Ada", Approved: false},
	}}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()

	assert.False(t, sc.Loading())
	require.NotNil(t, sc.User())
	assert.Equal(t, "u1", sc.User().ID)
	require.NotNil(t, sc.Profile())
	assert.Equal(t, "Ada", sc.Profile().FullName)
	assert.True(t, sc.NeedsApproval())
	assert.Empty(t, sc.Err())
	assert.Equal(t, 1, source.broker.Len())
}

func TestSessionContextWithoutSession(t *testing.T) {
	source := newFakeSessionSource(nil)
	profiles := &fakeProfiles{}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()

	assert.Nil(t, sc.Session())
	assert.Nil(t, sc.User())
	assert.Nil(t, sc.Profile())
	assert.False(t, sc.NeedsApproval())
	assert.Equal(t, 0, profiles.calls)
}

func TestSessionContextFollowsAuthChanges(t *testing.T) {
	source := newFakeSessionSource(nil)
	profiles := &fakeProfiles{profiles: map[string]*onboard.Profile{
		"u1": {FullName: "Ada", Approved: true},
		"u2": {FullName: "Bob", Approved: false},
	}}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()

	source.broker.Publish(onboard.AuthEventSignedIn, sessionFor("u1"))
	require.NotNil(t, sc.Profile())
	assert.Equal(t, "Ada", sc.Profile().FullName)
	assert.False(t, sc.NeedsApproval())

	source.broker.Publish(onboard.AuthEventSignedIn, sessionFor("u2"))
	assert.Equal(t, "Bob", sc.Profile().FullName)
	assert.True(t, sc.NeedsApproval())

	source.broker.Publish(onboard.AuthEventSignedOut, nil)
	assert.Nil(t, sc.Session())
	assert.Nil(t, sc.Profile())
	assert.False(t, sc.NeedsApproval())
}

func TestSessionContextMissingProfile(t *testing.T) {
	source := newFakeSessionSource(sessionFor("ghost"))
	profiles := &fakeProfiles{profiles: map[string]*onboard.Profile{}}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()

	assert.NotNil(t, sc.Session())
	assert.Nil(t, sc.Profile())
	assert.False(t, sc.NeedsApproval())
	assert.Equal(t, "profile not found", sc.Err())
}

func TestSessionContextInitError(t *testing.T) {
	source := newFakeSessionSource(nil)
	source.err = onboard.ErrSessionRevoked

	sc := onboard.NewSessionContext(source, &fakeProfiles{}, onboard.WithSessionContextLogger(nopLogger{}))
	err := sc.Init(context.Background())
	defer sc.Close()

	require.ErrorIs(t, err, onboard.ErrSessionRevoked)
	assert.Equal(t, "session has been revoked", sc.Err())
	assert.False(t, sc.Loading())
	// still subscribed so a later sign in is picked up
	assert.Equal(t, 1, source.broker.Len())
}

func TestSessionContextRefreshProfile(t *testing.T) {
	source := newFakeSessionSource(sessionFor("u1"))
	profiles := &fakeProfiles{profiles: map[string]*onboard.Profile{
		"u1": {Approved: false},
	}}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()
	assert.True(t, sc.NeedsApproval())

	profiles.mu.Lock()
	profiles.profiles["u1"] = &onboard.Profile{Approved: true}
	profiles.mu.Unlock()

	sc.RefreshProfile(context.Background())
	assert.False(t, sc.NeedsApproval())
	assert.Equal(t, 2, profiles.calls)
}

func TestSessionContextSignOut(t *testing.T) {
	source := newFakeSessionSource(sessionFor("u1"))
	profiles := &fakeProfiles{profiles: map[string]*onboard.Profile{"u1": {}}}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()

	require.NoError(t, sc.SignOut(context.Background()))
	assert.Equal(t, 1, source.signOuts)
	assert.Nil(t, sc.Session())
	assert.Nil(t, sc.Profile())

	source.signOutErr = errors.New("network down")
	err := sc.SignOut(context.Background())
	require.Error(t, err)
	assert.Equal(t, "network down", sc.Err())
	assert.Nil(t, sc.Session())
}

func TestSessionContextCloseUnsubscribes(t *testing.T) {
	source := newFakeSessionSource(nil)
	profiles := &fakeProfiles{profiles: map[string]*onboard.Profile{"u1": {}}}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	sc.Close()
	sc.Close()

	assert.Equal(t, 0, source.broker.Len())
	source.broker.Publish(onboard.AuthEventSignedIn, sessionFor("u1"))
	assert.Nil(t, sc.Session())
	assert.Equal(t, 0, profiles.calls)
}

type blockingProfiles struct {
	*fakeProfiles
	blockID string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingProfiles) GetProfile(ctx context.Context, id string) (*onboard.Profile, error) {
	if id == b.blockID {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.fakeProfiles.GetProfile(ctx, id)
}

func TestSessionContextSignOutDropsInFlightProfile(t *testing.T) {
	source := newFakeSessionSource(sessionFor("u1"))
	profiles := &blockingProfiles{
		fakeProfiles: &fakeProfiles{profiles: map[string]*onboard.Profile{
			"u1": {FullName: "u1", Approved: false},
		}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()
	require.True(t, sc.NeedsApproval())

	profiles.blockID = "u1"
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc.RefreshProfile(context.Background())
	}()

	<-profiles.entered
	require.NoError(t, sc.SignOut(context.Background()))
	close(profiles.release)
	<-done

	assert.Nil(t, sc.Session())
	assert.Nil(t, sc.User())
	assert.Nil(t, sc.Profile())
	assert.False(t, sc.NeedsApproval())
}

func TestSessionContextUserSwitchDropsStaleProfile(t *testing.T) {
	source := newFakeSessionSource(nil)
	profiles := &blockingProfiles{
		fakeProfiles: &fakeProfiles{profiles: map[string]*onboard.Profile{
			"u1": {FullName: "Ada", Approved: false},
			"u2": {FullName: "Bob", Approved: true},
		}},
		blockID: "u1",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		source.broker.Publish(onboard.AuthEventSignedIn, sessionFor("u1"))
	}()

	<-profiles.entered
	source.broker.Publish(onboard.AuthEventSignedIn, sessionFor("u2"))
	close(profiles.release)
	<-done

	require.NotNil(t, sc.Profile())
	assert.Equal(t, "Bob", sc.Profile().FullName)
	assert.Equal(t, "u2", sc.User().ID)
	assert.False(t, sc.NeedsApproval())
}

func TestSessionContextNoReadsAfterSignOut(t *testing.T) {
	source := newFakeSessionSource(sessionFor("u1"))
	profiles := &fakeProfiles{profiles: map[string]*onboard.Profile{"u1": {}}}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()
	require.Equal(t, 1, profiles.calls)

	require.NoError(t, sc.SignOut(context.Background()))

	sc.RefreshProfile(context.Background())
	source.broker.Publish(onboard.AuthEventTokenRefreshed, nil)
	source.broker.Publish(onboard.AuthEventUserUpdated, nil)

	assert.Equal(t, 1, profiles.calls)
	assert.Nil(t, sc.Session())
	assert.Nil(t, sc.User())
	assert.Nil(t, sc.Profile())
}

func TestSessionContextSuccessfulLoadClearsError(t *testing.T) {
	source := newFakeSessionSource(sessionFor("u1"))
	profiles := &fakeProfiles{
		profiles: map[string]*onboard.Profile{"u1": {FullName: "Ada"}},
		err:      errors.New("connection reset"),
	}

	sc := onboard.NewSessionContext(source, profiles, onboard.WithSessionContextLogger(nopLogger{}))
	require.NoError(t, sc.Init(context.Background()))
	defer sc.Close()
	assert.Equal(t, "connection reset", sc.Err())
	assert.Nil(t, sc.Profile())

	profiles.mu.Lock()
	profiles.err = nil
	profiles.mu.Unlock()

	sc.RefreshProfile(context.Background())
	assert.Empty(t, sc.Err())
	require.NotNil(t, sc.Profile())
	assert.Equal(t, "Ada", sc.Profile().FullName)
}
