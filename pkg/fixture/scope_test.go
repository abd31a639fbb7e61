package fixture

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"esfixture/pkg/models"
	"esfixture/pkg/node"
	"esfixture/pkg/settings"
	"esfixture/pkg/transport"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsUnsupported(t *testing.T) {
	scope := newTestScope(t, WithEngine(&fakeEngine{status: models.StatusGreen}))

	err := scope.Register(NodeConfig("ok"), Config{Kind: Kind(7), Name: "bad"})
	var unsupported *UnsupportedFixtureKind
	require.True(t, errors.As(err, &unsupported))

	err = scope.Register(NodeConfig(""))
	assert.True(t, errors.Is(err, ErrMissingName))

	require.NoError(t, scope.Setup(context.Background()))
	assert.Equal(t, 0, scope.Registry().Len())
}

func TestSetupAndInject(t *testing.T) {
	engine := &fakeEngine{status: models.StatusYellow}
	scope := newTestScope(t, WithEngine(engine))

	require.NoError(t, scope.Register(NodeConfig("n1"), NodeConfig("n2"), NodeConfig("n1", WithData(false))))
	require.NoError(t, scope.Setup(context.Background()))
	assert.Equal(t, 2, engine.started())
	assert.Equal(t, 2, scope.Registry().Len())

	var n *fakeNode
	require.NoError(t, scope.Inject(context.Background(), NodeConfig("n1"), Into(&n)))
	assert.Equal(t, "n1", n.name)
	assert.Equal(t, 2, engine.started())

	var wrong *transport.Client
	err := scope.Inject(context.Background(), NodeConfig("n2"), Into(&wrong))
	assert.True(t, errors.Is(err, ErrIncompatibleSlot))
}

func TestTeardownIdempotent(t *testing.T) {
	engine := &fakeEngine{status: models.StatusGreen}
	scope := newTestScope(t, WithEngine(engine))

	require.NoError(t, scope.Register(NodeConfig("n1"), NodeClientConfig("c1", "n1")))
	require.NoError(t, scope.Setup(context.Background()))

	home := filepath.Join(scope.Home(), "n1")
	_, err := os.Stat(home)
	require.NoError(t, err)

	require.NoError(t, scope.Teardown(context.Background()))
	_, err = os.Stat(home)
	assert.True(t, os.IsNotExist(err))
	assert.EqualValues(t, 1, engine.nodes[0].closes.Load())
	assert.EqualValues(t, 1, engine.clients[0].closes.Load())

	_, err = os.Stat(scope.Home())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, scope.Teardown(context.Background()))
	assert.EqualValues(t, 1, engine.nodes[0].closes.Load())
	assert.EqualValues(t, 1, engine.clients[0].closes.Load())
}

func TestTeardownKeepsGoing(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	failing := &fakeHandle{name: "failing", closeErr: boom}
	_, err := r.GetOrCreate("failing", KindNode, NodeConfig("failing"), func(Config) (Handle, error) { return failing, nil })
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "node")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))

	err = Teardown(context.Background(), r, []string{dir, filepath.Join(t.TempDir(), "never-created")})
	var closeErr *CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, "failing", closeErr.Name)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))

	assert.NoError(t, Teardown(context.Background(), r, []string{dir}))
}

func TestScopesAreIsolated(t *testing.T) {
	engine := &fakeEngine{status: models.StatusGreen}
	a := newTestScope(t, WithEngine(engine))
	b := newTestScope(t, WithEngine(engine))

	ha, err := a.Fixture(context.Background(), NodeConfig("shared"))
	require.NoError(t, err)
	hb, err := b.Fixture(context.Background(), NodeConfig("shared"))
	require.NoError(t, err)

	assert.NotSame(t, ha, hb)
	assert.Equal(t, 2, engine.started())

	require.NoError(t, a.Teardown(context.Background()))
	assert.EqualValues(t, 1, ha.(*fakeNode).closes.Load())
	assert.EqualValues(t, 0, hb.(*fakeNode).closes.Load())
}

func TestScopesWithSameHomeKeepTheirDirectories(t *testing.T) {
	root := t.TempDir()
	engine := &fakeEngine{status: models.StatusGreen}
	a := newTestScope(t, WithHome(root), WithEngine(engine))
	b := newTestScope(t, WithHome(root), WithEngine(engine))
	assert.NotEqual(t, a.Home(), b.Home())

	_, err := a.Fixture(context.Background(), NodeConfig("es"))
	require.NoError(t, err)
	_, err = b.Fixture(context.Background(), NodeConfig("es"))
	require.NoError(t, err)

	homeA := engine.settings[0].Get(settings.PathHome)
	homeB := engine.settings[1].Get(settings.PathHome)
	assert.NotEqual(t, homeA, homeB)

	require.NoError(t, a.Teardown(context.Background()))
	_, err = os.Stat(homeA)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(homeB)
	assert.NoError(t, err)
	assert.EqualValues(t, 0, engine.nodes[1].closes.Load())

	_, err = os.Stat(root)
	assert.NoError(t, err)
}

func TestNodeClientDeclaredBeforeItsNode(t *testing.T) {
	engine := &fakeEngine{status: models.StatusGreen}
	scope := newTestScope(t, WithEngine(engine))

	require.NoError(t, scope.Register(
		NodeClientConfig("c", "n"),
		NodeConfig("n", WithCluster("wanted"), WithSetting(settings.NumberOfShards, "4")),
	))
	require.NoError(t, scope.Setup(context.Background()))

	require.Equal(t, 1, engine.started())
	assert.Equal(t, "wanted", engine.settings[0].Get(settings.ClusterName))
	assert.Equal(t, "4", engine.settings[0].Get(settings.NumberOfShards))
	assert.Len(t, engine.clients, 1)
}

func TestBreezeNodeAndClient(t *testing.T) {
	scope := newTestScope(t)

	require.NoError(t, scope.Register(
		NodeConfig("breeze", WithCluster("fixture-test"), WithLocal(true)),
		NodeClientConfig("local", "breeze"),
	))
	require.NoError(t, scope.Setup(context.Background()))

	n := MustNode(t, scope, "breeze")
	client := MustClient(t, scope, "local")

	ctx := context.Background()
	require.NoError(t, client.Index(ctx, "books", "1", map[string]interface{}{"title": "Les Châtiments"}))

	res, err := client.Search(ctx, "books", models.SearchRequest{Query: "*"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fixture-test", health.ClusterName)

	require.NoError(t, scope.Teardown(ctx))
	assert.True(t, n.IsClosed())
	assert.True(t, client.IsClosed())

	_, err = os.Stat(n.Home())
	assert.True(t, os.IsNotExist(err))
}

func TestRemoteClientOnBreezeNode(t *testing.T) {
	scope := newTestScope(t)

	h, err := scope.Fixture(context.Background(), NodeConfig("remote-target", WithCluster("remote")))
	require.NoError(t, err)
	n := h.(*node.Node)

	addr, err := transport.ParseAddress(n.TransportAddr())
	require.NoError(t, err)

	h, err = scope.Fixture(context.Background(), ClientConfig("remote-client", WithCluster("remote"), WithAddresses(addr)))
	require.NoError(t, err)

	health, err := h.(*transport.Client).WaitForStatus(context.Background(), models.StatusGreen, 0)
	require.NoError(t, err)
	assert.Equal(t, "remote", health.ClusterName)

	resp, err := http.Get("http://" + n.HTTPAddr() + "/_cluster/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewTearsDownWithTest(t *testing.T) {
	t.Setenv("ESFIXTURE_HOME", t.TempDir())

	var n *node.Node
	t.Run("inner", func(t *testing.T) {
		scope := New(t, NodeConfig("scoped", WithLocal(true)))
		n = MustNode(t, scope, "scoped")
		assert.False(t, n.IsClosed())
	})

	require.NotNil(t, n)
	assert.True(t, n.IsClosed())
	_, err := os.Stat(n.Home())
	assert.True(t, os.IsNotExist(err))
}

func TestNewTearsDownFailedTest(t *testing.T) {
	t.Setenv("ESFIXTURE_HOME", t.TempDir())

	tb := &recordingTB{TB: t}
	scope := New(tb, NodeConfig("failed", WithLocal(true)))
	n := MustNode(tb, scope, "failed")

	tb.Errorf("assertion failed")
	tb.finish()

	assert.True(t, tb.Failed())
	assert.True(t, n.IsClosed())
	_, err := os.Stat(n.Home())
	assert.True(t, os.IsNotExist(err))
}

func TestNewTearsDownFailedSetup(t *testing.T) {
	t.Setenv("ESFIXTURE_HOME", t.TempDir())

	tb := &recordingTB{TB: t}
	scope := New(tb,
		NodeConfig("first", WithLocal(true)),
		NodeConfig("second", WithLocal(true), WithFile("missing.yml")),
	)
	require.Len(t, tb.fatals, 1)
	assert.Contains(t, tb.fatals[0], "missing.yml")

	h, ok := scope.Registry().Get("first")
	require.True(t, ok)
	n := h.(*node.Node)

	tb.finish()
	assert.True(t, n.IsClosed())
	_, err := os.Stat(scope.Home())
	assert.True(t, os.IsNotExist(err))
}
