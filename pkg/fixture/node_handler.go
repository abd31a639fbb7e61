package fixture

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"

	"esfixture/pkg/models"
	"esfixture/pkg/settings"

	"github.com/pkg/errors"
)

// NodeHandler starts embedded nodes and waits for them to serve.
type NodeHandler struct{}

func (NodeHandler) Supports(cfg Config) bool {
	return cfg.Kind == KindNode
}

// Settings layers the node settings for cfg: defaults and the declared
// flags, then the file, then the overrides.
func (NodeHandler) Settings(cfg Config, home string) (settings.Settings, error) {
	defaults := settings.Defaults(filepath.Join(home, cfg.Name)).
		Put(settings.NodeName, cfg.Name).
		Put(settings.NodeData, strconv.FormatBool(cfg.Data)).
		Put(settings.NodeLocal, strconv.FormatBool(cfg.Local))
	if cfg.ClusterName != "" {
		defaults.Put(settings.ClusterName, cfg.ClusterName)
	}

	s, err := settings.Build(defaults, cfg.File, cfg.Settings)
	if err != nil {
		return nil, errors.Wrapf(err, "could not build settings of node '%s'", cfg.Name)
	}
	return s, nil
}

func (h NodeHandler) Build(ctx context.Context, cfg Config, scope *Scope) (Handle, error) {
	s, err := h.Settings(cfg, scope.Home())
	if err != nil {
		return nil, err
	}

	for _, key := range []string{settings.PathHome, settings.PathData, settings.PathWork, settings.PathLogs} {
		if dir := s.Get(key); dir != "" {
			scope.AddWorkDir(dir)
		}
	}

	n, err := scope.Engine().StartNode(ctx, s)
	if err != nil {
		return nil, errors.Wrapf(err, "could not start node '%s'", cfg.Name)
	}

	timeout := scope.HealthTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	health, err := n.WaitForStatus(waitCtx, models.StatusYellow)
	if err == nil {
		scope.Logger().InfoContext(ctx, "node ready",
			slog.String("node", cfg.Name),
			slog.String("status", health.Status.String()),
		)
		return n, nil
	}

	if closeErr := n.Close(); closeErr != nil {
		scope.Logger().WarnContext(ctx, "could not close unhealthy node",
			slog.String("node", cfg.Name),
			slog.Any("error", closeErr),
		)
	}

	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, &NodeStartupTimeout{Name: cfg.Name, Timeout: timeout, Health: health}
	}
	return nil, errors.Wrapf(err, "node '%s' did not become healthy", cfg.Name)
}

func (NodeHandler) Inject(h Handle, slot Slot) error {
	return inject(h, slot)
}
