package fixture

import (
	"fmt"
	"time"

	"esfixture/pkg/models"

	"github.com/pkg/errors"
)

var (
	ErrIncompatibleSlot = errors.New("handle does not fit slot")
	ErrMissingName      = errors.New("fixture name is required")
)

// NodeStartupTimeout is returned when a node does not reach yellow health
// in time. The node is already closed.
type NodeStartupTimeout struct {
	Name    string
	Timeout time.Duration
	Health  models.ClusterHealth
}

func (e *NodeStartupTimeout) Error() string {
	return fmt.Sprintf("node '%s' did not reach status yellow within %s (status %s)", e.Name, e.Timeout, e.Health.Status)
}

// UnsupportedFixtureKind is returned when no handler, or more than one,
// supports a config.
type UnsupportedFixtureKind struct {
	Name    string
	Kind    Kind
	Matches int
}

func (e *UnsupportedFixtureKind) Error() string {
	if e.Matches > 1 {
		return fmt.Sprintf("fixture '%s': %d handlers support kind '%s'", e.Name, e.Matches, e.Kind)
	}
	return fmt.Sprintf("fixture '%s': no handler supports kind '%s'", e.Name, e.Kind)
}

// CloseError is one failed close during teardown.
type CloseError struct {
	Name string
	Kind Kind
	Err  error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("could not close %s '%s': %v", e.Kind, e.Name, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}
