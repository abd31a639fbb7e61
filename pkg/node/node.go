// Package node runs an embedded search node: sharded bleve indices, an
// Elasticsearch-shaped HTTP API and the TCP transport.
package node

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"esfixture/internal/cluster"
	"esfixture/internal/shard"
	"esfixture/internal/store"
	"esfixture/pkg/models"
	"esfixture/pkg/settings"
	"esfixture/pkg/transport"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

const DefaultClusterName = "elasticsearch"

var ErrClosed = errors.New("node is closed")

type Node struct {
	name     string
	settings settings.Settings
	home     string
	dataDir  string
	workDir  string
	logsDir  string
	schedule time.Duration

	cluster   *cluster.Cluster
	manager   *shard.Manager
	transport *transport.Server
	http      *http.Server
	logger    *slog.Logger
	logFile   *os.File

	mu      sync.Mutex
	clients []*transport.Client
	closed  bool
}

// Start builds and starts a node from s. On failure everything that was
// already started is closed again.
func Start(ctx context.Context, s settings.Settings) (*Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	s = s.Clone()

	name := s.Get(settings.NodeName)
	if name == "" {
		name = "node-" + xid.New().String()
		s.Put(settings.NodeName, name)
	}

	home := s.GetDefault(settings.PathHome, filepath.Join("target", "elasticsearch-test", name))

	n := &Node{
		name:     name,
		settings: s,
		home:     home,
		dataDir:  s.GetDefault(settings.PathData, filepath.Join(home, "data")),
		workDir:  s.GetDefault(settings.PathWork, filepath.Join(home, "work")),
		logsDir:  s.GetDefault(settings.PathLogs, filepath.Join(home, "logs")),
		schedule: s.Duration(settings.RoutingSchedule, 50*time.Millisecond),
		cluster:  cluster.NewCluster(s.GetDefault(settings.ClusterName, DefaultClusterName), name, s.Bool(settings.NodeData, true)),
	}

	if err := n.start(ctx); err != nil {
		if closeErr := n.Close(); closeErr != nil {
			slog.WarnContext(ctx, "could not close partially started node", slog.String("node", name), slog.Any("error", closeErr))
		}
		return nil, errors.Wrapf(err, "could not start node '%s'", name)
	}

	return n, nil
}

func (n *Node) start(ctx context.Context) error {
	for _, dir := range []string{n.dataDir, n.workDir, n.logsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.WithStack(err)
		}
	}

	if err := n.openLog(); err != nil {
		return err
	}

	storeType := strings.ToLower(n.settings.GetDefault(settings.StoreType, "memory"))
	memory := storeType == "memory" || storeType == "ram"
	wal := strings.ToLower(n.settings.Get(settings.GatewayType)) == "local"

	manager, err := shard.NewManager(n.dataDir, shard.Options{
		DefaultShards:   n.settings.Int(settings.NumberOfShards, 1),
		DefaultReplicas: n.settings.Int(settings.NumberOfReplicas, 0),
		Store: store.Options{
			Memory: memory,
			WAL:    wal,
			Sync:   n.settings.Bool(settings.TranslogSyncWrite, false),
		},
		Reload: !memory || wal,
	})
	if err != nil {
		return errors.Wrap(err, "could not open indices")
	}
	n.manager = manager

	n.transport = transport.NewServer(n, n.logger)

	if n.settings.Bool(settings.NodeLocal, false) {
		n.logger.InfoContext(ctx, "node started", slog.String("cluster", n.cluster.Name), slog.Bool("local", true))
		return nil
	}

	host := n.settings.GetDefault(settings.NetworkHost, "127.0.0.1")

	addr, err := n.transport.Listen(net.JoinHostPort(host, strconv.Itoa(n.settings.Int(settings.TransportPort, 0))))
	if err != nil {
		return errors.Wrap(err, "could not bind transport")
	}
	n.cluster.Self.TransportAddr = addr.String()

	if n.settings.Bool(settings.HTTPEnabled, true) {
		if err := n.listenHTTP(net.JoinHostPort(host, strconv.Itoa(n.settings.Int(settings.HTTPPort, 0)))); err != nil {
			return err
		}
	}

	n.logger.InfoContext(ctx, "node started",
		slog.String("cluster", n.cluster.Name),
		slog.String("http", n.cluster.Self.HTTPAddr),
		slog.String("transport", n.cluster.Self.TransportAddr),
	)

	return nil
}

func (n *Node) openLog() error {
	file, err := os.OpenFile(filepath.Join(n.logsDir, n.name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.WithStack(err)
	}

	var level slog.Level
	if raw := n.settings.Get(settings.LoggerLevel); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			file.Close()
			return errors.Wrapf(err, "invalid '%s'", settings.LoggerLevel)
		}
	}

	n.logFile = file
	n.logger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})).
		With(slog.String("node", n.name))
	return nil
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Home() string {
	return n.home
}

func (n *Node) DataDir() string {
	return n.dataDir
}

// Settings returns a copy of the settings the node was started with.
func (n *Node) Settings() settings.Settings {
	return n.settings.Clone()
}

// HTTPAddr is empty for local nodes and when HTTP is disabled.
func (n *Node) HTTPAddr() string {
	return n.cluster.Self.HTTPAddr
}

// TransportAddr is empty for local nodes.
func (n *Node) TransportAddr() string {
	return n.cluster.Self.TransportAddr
}

func (n *Node) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Client returns an in-process transport client. Clients still open are
// closed with the node.
func (n *Node) Client() (*transport.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, errors.WithStack(ErrClosed)
	}

	client, err := transport.Connect(context.Background(), transport.Options{
		ClusterName: n.cluster.Name,
		Dial: func(ctx context.Context, _ string) (net.Conn, error) {
			return n.transport.Pipe()
		},
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	n.clients = append(n.clients, client)
	return client, nil
}

// Close stops the node. Clients go first, then listeners, then indices.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	clients := n.clients
	n.clients = nil
	n.mu.Unlock()

	var errs *multierror.Error

	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "could not close client"))
		}
	}

	if n.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.http.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "could not stop http server"))
		}
		cancel()
	}

	if n.transport != nil {
		if err := n.transport.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "could not stop transport"))
		}
	}

	if n.manager != nil {
		if err := n.manager.Close(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "could not close indices"))
		}
	}

	if n.logger != nil {
		n.logger.Info("node closed")
	}
	if n.logFile != nil {
		if err := n.logFile.Close(); err != nil {
			errs = multierror.Append(errs, errors.WithStack(err))
		}
	}

	return errs.ErrorOrNil()
}

// Health is red once the node is closed.
func (n *Node) Health() models.ClusterHealth {
	if n.IsClosed() {
		return models.ClusterHealth{ClusterName: n.cluster.Name, Status: models.StatusRed}
	}
	return n.cluster.Health(n.manager.States())
}

// WaitForStatus polls the health until it reaches min or ctx ends.
func (n *Node) WaitForStatus(ctx context.Context, min models.Status) (models.ClusterHealth, error) {
	ticker := time.NewTicker(n.schedule)
	defer ticker.Stop()

	for {
		health := n.Health()
		if n.IsClosed() {
			return health, errors.WithStack(ErrClosed)
		}
		if health.Status.AtLeast(min) {
			return health, nil
		}

		select {
		case <-ctx.Done():
			health.TimedOut = true
			return health, errors.WithStack(ctx.Err())
		case <-ticker.C:
		}
	}
}
