package middleware

import (
	"context"

	"github.com/tradewell/marketplace-backend/pkg/visibility"
)

type contextKey string

const ctxActor contextKey = "actor"

// WithActor injects the resolved caller identity into the context.
func WithActor(ctx context.Context, actor visibility.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

// ActorFromContext returns the caller identity set by the identity middleware.
func ActorFromContext(ctx context.Context) (visibility.Actor, bool) {
	if ctx == nil {
		return visibility.Actor{}, false
	}
	actor, ok := ctx.Value(ctxActor).(visibility.Actor)
	return actor, ok
}
