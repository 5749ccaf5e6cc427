package onboard_test

import (
	"context"
	"sync"

	"github.com/goliatone/go-onboard"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockIdentityAdmin implements onboard.IdentityAdmin
type MockIdentityAdmin struct {
	mock.Mock
}

func (m *MockIdentityAdmin) CreateIdentity(ctx context.Context, input onboard.CreateIdentityInput) (onboard.Identity, error) {
	args := m.Called(ctx, input)
	identity, _ := args.Get(0).(onboard.Identity)
	return identity, args.Error(1)
}

func (m *MockIdentityAdmin) DeleteIdentity(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockProfiles implements onboard.Profiles
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) GetByID(ctx context.Context, id string) (*onboard.Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*onboard.Profile)
	return profile, args.Error(1)
}

func (m *MockProfiles) Create(ctx context.Context, record *onboard.Profile) (*onboard.Profile, error) {
	args := m.Called(ctx, record)
	profile, _ := args.Get(0).(*onboard.Profile)
	return profile, args.Error(1)
}

func (m *MockProfiles) CreateTx(ctx context.Context, tx bun.IDB, record *onboard.Profile) (*onboard.Profile, error) {
	args := m.Called(ctx, tx, record)
	profile, _ := args.Get(0).(*onboard.Profile)
	return profile, args.Error(1)
}

func (m *MockProfiles) SetRole(ctx context.Context, id string, role onboard.UserRole) (*onboard.Profile, error) {
	args := m.Called(ctx, id, role)
	profile, _ := args.Get(0).(*onboard.Profile)
	return profile, args.Error(1)
}

// MockAccessRequests implements onboard.AccessRequests
type MockAccessRequests struct {
	mock.Mock
}

func (m *MockAccessRequests) UpdateStatus(ctx context.Context, update onboard.StatusUpdate) (*onboard.AccessRequest, error) {
	args := m.Called(ctx, update)
	req, _ := args.Get(0).(*onboard.AccessRequest)
	return req, args.Error(1)
}

func (m *MockAccessRequests) Create(ctx context.Context, record *onboard.AccessRequest) (*onboard.AccessRequest, error) {
	args := m.Called(ctx, record)
	req, _ := args.Get(0).(*onboard.AccessRequest)
	return req, args.Error(1)
}

func (m *MockAccessRequests) GetByID(ctx context.Context, id string) (*onboard.AccessRequest, error) {
	args := m.Called(ctx, id)
	req, _ := args.Get(0).(*onboard.AccessRequest)
	return req, args.Error(1)
}

func (m *MockAccessRequests) ListByStatus(ctx context.Context, status onboard.AccessRequestStatus) ([]*onboard.AccessRequest, error) {
	args := m.Called(ctx, status)
	rows, _ := args.Get(0).([]*onboard.AccessRequest)
	return rows, args.Error(1)
}

// MockActivitySink implements onboard.ActivitySink
type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event onboard.ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// recordingSink keeps every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []onboard.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event onboard.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []onboard.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]onboard.ActivityEventType, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.EventType)
	}
	return out
}

func (s *recordingSink) last(eventType onboard.ActivityEventType) (onboard.ActivityEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EventType == eventType {
			return s.events[i], true
		}
	}
	return onboard.ActivityEvent{}, false
}

// nopLogger silences handler output in tests.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
