package onboard

import (
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// ProfileLocalsKey is where RequireApprovedProfile stores the loaded profile.
const ProfileLocalsKey = "profile"

// ErrRateLimited is returned by the request limiter.
var ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithCode(http.StatusTooManyRequests)

// RequireApprovedProfile redirects sessions whose profile has approved=false
// to awaitingRoute. Sessions without a profile row pass through. It must run
// after a protected route middleware.
func RequireApprovedProfile(profiles Profiles, contextKey, awaitingRoute string, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			claims, ok := GetRouterClaims(c, contextKey)
			if !ok {
				return SendError(c, ErrUnableToFindSession, logger, false)
			}

			profile, err := profiles.GetByID(c.Context(), claims.UserID())
			if err != nil {
				if goerrors.IsNotFound(err) {
					return next(c)
				}
				return SendError(c, err, logger, false)
			}

			if !profile.Approved {
				logger.Info("profile awaiting approval, redirecting", "identity_id", claims.UserID())
				return c.Redirect(awaitingRoute, http.StatusFound)
			}

			c.Locals(ProfileLocalsKey, profile)
			return next(c)
		}
	}
}

// RateLimit allows max requests per window for each client IP, refilling
// evenly across the window.
func RateLimit(max int, window time.Duration, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	limiters := newClientLimiters(rate.Every(window/time.Duration(max)), max, window)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if !limiters.allow(c.IP(), time.Now()) {
				return SendError(c, ErrRateLimited, logger, false)
			}
			return next(c)
		}
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client key. Buckets idle for
// longer than ttl are dropped on the next sweep.
type clientLimiters struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	clients   map[string]*clientLimiter
}

func newClientLimiters(every rate.Limit, burst int, ttl time.Duration) *clientLimiters {
	return &clientLimiters{
		every:   every,
		burst:   burst,
		ttl:     ttl,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *clientLimiters) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.ttl {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > l.ttl {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	client, ok := l.clients[key]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.every, l.burst)}
		l.clients[key] = client
	}
	client.lastSeen = now
	return client.limiter.AllowN(now, 1)
}

// GetRouterProfile returns the profile stored by RequireApprovedProfile.
func GetRouterProfile(c router.Context) (*Profile, bool) {
	profile, ok := c.Locals(ProfileLocalsKey).(*Profile)
	return profile, ok && profile != nil
}
