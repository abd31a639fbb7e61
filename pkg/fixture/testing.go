package fixture

import (
	"context"
	"testing"

	"esfixture/pkg/node"
	"esfixture/pkg/transport"
)

// New builds cfgs in a fresh scope and tears it down when tb finishes.
// Setup failures are fatal, teardown failures are only logged.
func New(tb testing.TB, cfgs ...Config) *Scope {
	tb.Helper()

	scope, err := NewScope()
	if err != nil {
		tb.Fatalf("fixture: %+v", err)
	}

	tb.Cleanup(func() {
		if err := scope.Teardown(context.Background()); err != nil {
			tb.Logf("fixture teardown: %v", err)
		}
	})

	if err := scope.Register(cfgs...); err != nil {
		tb.Fatalf("fixture: %v", err)
	}
	if err := scope.Setup(context.Background()); err != nil {
		tb.Fatalf("fixture setup: %v", err)
	}

	return scope
}

// MustNode returns the breeze node registered under name.
func MustNode(tb testing.TB, scope *Scope, name string) *node.Node {
	tb.Helper()
	return must[*node.Node](tb, scope, name)
}

// MustClient returns the transport client registered under name.
func MustClient(tb testing.TB, scope *Scope, name string) *transport.Client {
	tb.Helper()
	return must[*transport.Client](tb, scope, name)
}

func must[T any](tb testing.TB, scope *Scope, name string) T {
	tb.Helper()

	var v T
	h, ok := scope.Registry().Get(name)
	if !ok {
		tb.Fatalf("fixture '%s' is not registered", name)
		return v
	}
	if err := Into(&v).Set(h); err != nil {
		tb.Fatalf("fixture '%s': %v", name, err)
	}
	return v
}
