package actorctx

import (
	"context"
	"testing"
)

func TestActorFrom(t *testing.T) {
	if got := ActorFrom(context.Background()); got != Public {
		t.Fatalf("expected %q, got %q", Public, got)
	}
	if got := ActorFrom(WithActor(context.Background(), "ops@railtrans.test")); got != "ops@railtrans.test" {
		t.Fatalf("unexpected actor %q", got)
	}
	if got := ActorFrom(WithActor(context.Background(), "")); got != Public {
		t.Fatalf("empty actor should fall back, got %q", got)
	}
}
