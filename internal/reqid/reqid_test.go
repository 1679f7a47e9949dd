package reqid

import (
	"context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background())
	got, ok := FromContext(ctx)
	if !ok || got != id {
		t.Fatalf("expected %s from context, got %s ok=%v", id, got, ok)
	}
	if String(ctx) != id.String() {
		t.Fatalf("expected string %s, got %s", id, String(ctx))
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected id in empty context")
	}
	if s := String(context.Background()); s != "" {
		t.Fatalf("expected empty string, got %q", s)
	}
}
