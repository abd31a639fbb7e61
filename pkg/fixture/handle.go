package fixture

import (
	"context"

	"esfixture/pkg/models"

	"github.com/pkg/errors"
)

// Handle is a live fixture resource.
type Handle interface {
	Close() error
}

// NodeHandle is an embedded node as the fixture core sees it.
type NodeHandle interface {
	Handle
	WaitForStatus(ctx context.Context, min models.Status) (models.ClusterHealth, error)
}

// Slot receives a handle, typically by assigning a test variable.
type Slot interface {
	Set(h Handle) error
}

type SlotFunc func(h Handle) error

func (f SlotFunc) Set(h Handle) error {
	return f(h)
}

type pointerSlot[T any] struct {
	target *T
}

func (s pointerSlot[T]) Set(h Handle) error {
	v, ok := h.(T)
	if !ok {
		return errors.Wrapf(ErrIncompatibleSlot, "cannot assign %T to %T", h, s.target)
	}
	*s.target = v
	return nil
}

// Into returns a slot assigning the handle to *target when it is a T.
func Into[T any](target *T) Slot {
	return pointerSlot[T]{target: target}
}
