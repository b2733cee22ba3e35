package aggregator

import (
	"context"
	"strings"
)

// DefaultActor is recorded as LastUpdatedBy when the context names nobody.
const DefaultActor = "system"

type actorKey struct{}

// WithActor names who is changing aggregates through ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, strings.TrimSpace(actor))
}

func ActorFromContext(ctx context.Context) string {
	if ctx != nil {
		if actor, _ := ctx.Value(actorKey{}).(string); actor != "" {
			return actor
		}
	}
	return DefaultActor
}
