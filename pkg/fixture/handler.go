package fixture

import (
	"context"
)

// Handler builds and injects the fixtures of the kinds it supports.
type Handler interface {
	Supports(cfg Config) bool
	Build(ctx context.Context, cfg Config, scope *Scope) (Handle, error)
	Inject(h Handle, slot Slot) error
}

// Dependent is implemented by handlers whose fixtures need other fixtures
// to exist first. They are created before the registry builds cfg.
type Dependent interface {
	Requires(cfg Config) []Config
}

func DefaultHandlers() []Handler {
	return []Handler{NodeHandler{}, ClientHandler{}, NodeClientHandler{}}
}

type Dispatcher struct {
	handlers []Handler
}

func NewDispatcher(handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Resolve returns the only handler supporting cfg.
func (d *Dispatcher) Resolve(cfg Config) (Handler, error) {
	var found Handler
	matches := 0
	for _, h := range d.handlers {
		if h.Supports(cfg) {
			if found == nil {
				found = h
			}
			matches++
		}
	}

	if matches != 1 {
		return nil, &UnsupportedFixtureKind{Name: cfg.Name, Kind: cfg.Kind, Matches: matches}
	}
	return found, nil
}

func inject(h Handle, slot Slot) error {
	if slot == nil {
		return nil
	}
	return slot.Set(h)
}
