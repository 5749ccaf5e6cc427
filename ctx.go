package onboard

import (
	"context"

	"github.com/goliatone/go-router"
)

var claimsCtxKey = &contextKey{"claims"}
var actorCtxKey = &contextKey{"actor"}

type contextKey struct {
	name string
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok
}

// WithActorContext stores the actor performing an operation.
func WithActorContext(ctx context.Context, actor ActorRef) context.Context {
	return context.WithValue(ctx, actorCtxKey, actor)
}

// ActorFromContext returns the stored actor, or derives one from claims.
func ActorFromContext(ctx context.Context) ActorRef {
	if actor, ok := ctx.Value(actorCtxKey).(ActorRef); ok {
		return actor
	}
	if claims, ok := GetClaims(ctx); ok {
		return ActorRef{ID: claims.UserID(), Type: ActorTypeUser}
	}
	return ActorRef{Type: ActorTypeSystem}
}

// GetRouterClaims extracts the AuthClaims stored by the JWT middleware.
func GetRouterClaims(c router.Context, key string) (AuthClaims, bool) {
	if key == "" {
		key = "user"
	}
	raw := c.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(AuthClaims)
	return claims, ok
}
