package fixture

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"esfixture/pkg/models"
	"esfixture/pkg/settings"
	"esfixture/pkg/transport"

	"github.com/pkg/errors"
)

type closeLog struct {
	mu    sync.Mutex
	names []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *closeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

type fakeHandle struct {
	name     string
	closeErr error
	closes   atomic.Int32
	log      *closeLog
}

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	if h.log != nil {
		h.log.add(h.name)
	}
	return h.closeErr
}

type fakeNode struct {
	fakeHandle
	status models.Status
}

func (n *fakeNode) WaitForStatus(ctx context.Context, min models.Status) (models.ClusterHealth, error) {
	health := models.ClusterHealth{Status: n.status}
	if n.status.AtLeast(min) {
		return health, nil
	}
	<-ctx.Done()
	health.TimedOut = true
	return health, ctx.Err()
}

type fakeEngine struct {
	status models.Status

	mu       sync.Mutex
	settings []settings.Settings
	nodes    []*fakeNode
	clients  []*fakeHandle
}

func (e *fakeEngine) StartNode(ctx context.Context, s settings.Settings) (NodeHandle, error) {
	if err := os.MkdirAll(s.Get(settings.PathHome), 0755); err != nil {
		return nil, errors.WithStack(err)
	}

	n := &fakeNode{fakeHandle: fakeHandle{name: s.Get(settings.NodeName)}, status: e.status}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = append(e.settings, s)
	e.nodes = append(e.nodes, n)
	return n, nil
}

func (e *fakeEngine) ConnectClient(ctx context.Context, opts transport.Options) (Handle, error) {
	c, err := transport.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (e *fakeEngine) NodeClient(ctx context.Context, n NodeHandle) (Handle, error) {
	c := &fakeHandle{name: "client-of-" + n.(*fakeNode).name}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients = append(e.clients, c)
	return c, nil
}

func (e *fakeEngine) started() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodes)
}

type staticResolver map[string][]string

func (r staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ips, ok := r[host]; ok {
		return ips, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

// recordingTB collects failures and cleanups instead of acting on them.
// Fatalf does not stop the calling goroutine.
type recordingTB struct {
	testing.TB

	failed   bool
	fatals   []string
	cleanups []func()
}

func (tb *recordingTB) Helper() {}

func (tb *recordingTB) Cleanup(f func()) {
	tb.cleanups = append(tb.cleanups, f)
}

func (tb *recordingTB) Logf(format string, args ...any) {
	tb.TB.Logf(format, args...)
}

func (tb *recordingTB) Errorf(format string, args ...any) {
	tb.failed = true
}

func (tb *recordingTB) Fatalf(format string, args ...any) {
	tb.failed = true
	tb.fatals = append(tb.fatals, fmt.Sprintf(format, args...))
}

func (tb *recordingTB) Failed() bool {
	return tb.failed
}

// finish runs the cleanups the way the testing package does, last first.
func (tb *recordingTB) finish() {
	for i := len(tb.cleanups) - 1; i >= 0; i-- {
		tb.cleanups[i]()
	}
	tb.cleanups = nil
}
