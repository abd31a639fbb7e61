package fixture

import (
	"context"

	"esfixture/pkg/node"
	"esfixture/pkg/settings"
	"esfixture/pkg/transport"

	"github.com/pkg/errors"
)

// Engine is the search engine the fixtures wrap.
type Engine interface {
	StartNode(ctx context.Context, s settings.Settings) (NodeHandle, error)
	ConnectClient(ctx context.Context, opts transport.Options) (Handle, error)
	// NodeClient opens an in-process client on a node this engine started.
	NodeClient(ctx context.Context, n NodeHandle) (Handle, error)
}

// Breeze starts in-process breeze nodes and transport clients.
type Breeze struct{}

func (Breeze) StartNode(ctx context.Context, s settings.Settings) (NodeHandle, error) {
	n, err := node.Start(ctx, s)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (Breeze) ConnectClient(ctx context.Context, opts transport.Options) (Handle, error) {
	c, err := transport.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (Breeze) NodeClient(ctx context.Context, h NodeHandle) (Handle, error) {
	n, ok := h.(*node.Node)
	if !ok {
		return nil, errors.Errorf("breeze cannot open a client on %T", h)
	}
	c, err := n.Client()
	if err != nil {
		return nil, err
	}
	return c, nil
}
