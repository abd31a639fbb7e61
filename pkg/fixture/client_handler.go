package fixture

import (
	"context"

	"esfixture/pkg/transport"

	"github.com/pkg/errors"
)

// ClientHandler connects transport clients to remote nodes. Every host must
// resolve or no client is built.
type ClientHandler struct{}

func (ClientHandler) Supports(cfg Config) bool {
	return cfg.Kind == KindClient
}

func (ClientHandler) Build(ctx context.Context, cfg Config, scope *Scope) (Handle, error) {
	c, err := scope.Engine().ConnectClient(ctx, transport.Options{
		ClusterName: cfg.ClusterName,
		Addresses:   cfg.Addresses,
		Resolver:    scope.Resolver(),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect client '%s'", cfg.Name)
	}
	return c, nil
}

func (ClientHandler) Inject(h Handle, slot Slot) error {
	return inject(h, slot)
}

// NodeClientHandler opens in-process clients on embedded nodes of the same
// scope.
type NodeClientHandler struct{}

func (NodeClientHandler) Supports(cfg Config) bool {
	return cfg.Kind == KindNodeClient
}

func (NodeClientHandler) Requires(cfg Config) []Config {
	return []Config{NodeConfig(cfg.Node, WithCluster(cfg.ClusterName))}
}

func (NodeClientHandler) Build(ctx context.Context, cfg Config, scope *Scope) (Handle, error) {
	h, ok := scope.Registry().Get(cfg.Node)
	if !ok {
		return nil, errors.Errorf("client '%s': node '%s' is not registered", cfg.Name, cfg.Node)
	}

	n, ok := h.(NodeHandle)
	if !ok {
		return nil, errors.Errorf("client '%s': fixture '%s' is not a node", cfg.Name, cfg.Node)
	}

	c, err := scope.Engine().NodeClient(ctx, n)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open client '%s' on node '%s'", cfg.Name, cfg.Node)
	}
	return c, nil
}

func (NodeClientHandler) Inject(h Handle, slot Slot) error {
	return inject(h, slot)
}
