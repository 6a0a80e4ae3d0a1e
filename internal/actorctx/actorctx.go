// Package actorctx carries who triggered a change, for audit rows such as coupon logs.
package actorctx

import "context"

type key struct{}

// Public is recorded when nobody is logged in, i.e. the registration form.
const Public = "public"

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, key{}, actor)
}

func ActorFrom(ctx context.Context) string {
	v, ok := ctx.Value(key{}).(string)
	if !ok || v == "" {
		return Public
	}
	return v
}
