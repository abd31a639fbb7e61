package fixture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"esfixture/internal/config"
	"esfixture/pkg/models"
	"esfixture/pkg/node"
	"esfixture/pkg/settings"
	"esfixture/pkg/transport"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// LocalProvider hands out a client on a private local node, outside of any
// scope. The node starts on Open in its own provider-<id> directory under the
// fixture home, removed on Close.
type LocalProvider struct {
	// Settings override the provider defaults.
	Settings settings.Settings

	mu     sync.Mutex
	node   *node.Node
	client *transport.Client
}

func (p *LocalProvider) defaults() (settings.Settings, error) {
	conf, err := config.Parse()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}

	name := fmt.Sprintf("node-test-%d", time.Now().UnixMilli())
	return settings.Defaults(filepath.Join(conf.Home, "provider-"+xid.New().String())).
		Put(settings.NodeName, name).
		Put(settings.ClusterName, "cluster-test-"+hostname).
		Put(settings.NodeLocal, "true"), nil
}

// Open starts the node unless it is already running and waits for yellow.
func (p *LocalProvider) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.node != nil && !p.node.IsClosed() {
		return nil
	}

	s, err := p.defaults()
	if err != nil {
		return err
	}
	s.Merge(p.Settings)

	n, err := node.Start(ctx, s)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := n.WaitForStatus(waitCtx, models.StatusYellow); err != nil {
		return discard(n, errors.Wrap(err, "local node did not become healthy"))
	}

	client, err := n.Client()
	if err != nil {
		return discard(n, err)
	}

	p.node = n
	p.client = client
	return nil
}

// discard closes a node that failed to open and removes its home, keeping
// cause first in the returned error.
func discard(n *node.Node, cause error) error {
	errs := multierror.Append(nil, cause)
	if err := n.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := os.RemoveAll(n.Home()); err != nil {
		errs = multierror.Append(errs, errors.WithStack(err))
	}
	return errs.ErrorOrNil()
}

// Client is nil until Open succeeds.
func (p *LocalProvider) Client() *transport.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs *multierror.Error
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if p.node != nil && !p.node.IsClosed() {
		if err := p.node.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := os.RemoveAll(p.node.Home()); err != nil {
			errs = multierror.Append(errs, errors.WithStack(err))
		}
	}
	return errs.ErrorOrNil()
}
