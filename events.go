package onboard

import (
	"slices"
	"sync"
)

// AuthChangeEvent names a session change notification.
type AuthChangeEvent string

const (
	AuthEventSignedIn       AuthChangeEvent = "SIGNED_IN"
	AuthEventSignedOut      AuthChangeEvent = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
	AuthEventUserUpdated    AuthChangeEvent = "USER_UPDATED"
)

// AuthStateListener receives session change notifications. session is nil
// after sign out.
type AuthStateListener func(event AuthChangeEvent, session *SessionTokens)

// Subscription is a cancellable listener registration.
type Subscription struct {
	once        sync.Once
	unsubscribe func()
}

// NewSubscription wraps an unsubscribe function.
func NewSubscription(unsubscribe func()) *Subscription {
	return &Subscription{unsubscribe: unsubscribe}
}

// Unsubscribe removes the listener. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// AuthStateBroker fans session changes out to listeners.
type AuthStateBroker struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]AuthStateListener
}

// NewAuthStateBroker returns an empty broker.
func NewAuthStateBroker() *AuthStateBroker {
	return &AuthStateBroker{listeners: map[int]AuthStateListener{}}
}

// Subscribe registers listener until the returned Subscription is cancelled.
func (b *AuthStateBroker) Subscribe(listener AuthStateListener) *Subscription {
	if listener == nil {
		return NewSubscription(nil)
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.mu.Unlock()

	return NewSubscription(func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	})
}

// Publish notifies every listener. Listeners run outside the lock, in
// registration order.
func (b *AuthStateBroker) Publish(event AuthChangeEvent, session *SessionTokens) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	slices.Sort(ids)

	for _, id := range ids {
		b.mu.RLock()
		listener, ok := b.listeners[id]
		b.mu.RUnlock()
		if ok {
			listener(event, session)
		}
	}
}

// Len returns the number of active listeners.
func (b *AuthStateBroker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
