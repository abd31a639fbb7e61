package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"esfixture/pkg/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	mu      sync.Mutex
	status  models.Status
	indices map[string]map[string]map[string]interface{}
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		status:  models.StatusGreen,
		indices: make(map[string]map[string]map[string]interface{}),
	}
}

func (b *memoryBackend) ClusterName() string { return "cluster-test" }
func (b *memoryBackend) NodeName() string    { return "node-test" }

func (b *memoryBackend) Health() models.ClusterHealth {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.ClusterHealth{ClusterName: "cluster-test", Status: b.status, NumberOfNodes: 1}
}

func (b *memoryBackend) setStatus(s models.Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *memoryBackend) CreateIndex(name string, shards, replicas int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.indices[name]; ok {
		return errors.Wrapf(ErrIndexExists, "index '%s'", name)
	}
	b.indices[name] = make(map[string]map[string]interface{})
	return nil
}

func (b *memoryBackend) Index(index, id string, doc map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.indices[index]; !ok {
		b.indices[index] = make(map[string]map[string]interface{})
	}
	b.indices[index][id] = doc
	return nil
}

func (b *memoryBackend) BatchIndex(index string, ids []string, docs []map[string]interface{}) error {
	for i, id := range ids {
		if err := b.Index(index, id, docs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *memoryBackend) Get(index, id string) (map[string]interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs, ok := b.indices[index]
	if !ok {
		return nil, errors.Wrapf(ErrIndexNotFound, "index '%s'", index)
	}
	return docs[id], nil
}

func (b *memoryBackend) Delete(index, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.indices[index], id)
	return nil
}

func (b *memoryBackend) Search(index string, req models.SearchRequest) (*models.SearchResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	docs, ok := b.indices[index]
	if !ok {
		return nil, errors.Wrapf(ErrIndexNotFound, "index '%s'", index)
	}
	res := &models.SearchResponse{Total: uint64(len(docs))}
	for id, doc := range docs {
		res.Hits = append(res.Hits, models.Hit{ID: id, Source: doc})
	}
	return res, nil
}

func (b *memoryBackend) Indices() ([]models.IndexInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var infos []models.IndexInfo
	for name, docs := range b.indices {
		infos = append(infos, models.IndexInfo{Name: name, Shards: 1, Docs: uint64(len(docs))})
	}
	return infos, nil
}

type staticResolver map[string][]string

func (r staticResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ips, ok := r[host]; ok {
		return ips, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func pipeClient(t *testing.T, server *Server, clusterName string) *Client {
	t.Helper()

	client, err := Connect(context.Background(), Options{
		ClusterName: clusterName,
		Dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return server.Pipe()
		},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientOverPipe(t *testing.T) {
	ctx := context.Background()
	server := NewServer(newMemoryBackend(), nil)
	defer server.Close()

	client := pipeClient(t, server, "cluster-test")

	require.NoError(t, client.CreateIndex(ctx, "books", 1, 0))
	require.NoError(t, client.Index(ctx, "books", "1", map[string]interface{}{"title": "Notre-Dame de Paris"}))
	require.NoError(t, client.BatchIndex(ctx, "books", []string{"2", "3"}, []map[string]interface{}{{"title": "a"}, {"title": "b"}}))

	doc, err := client.Get(ctx, "books", "1")
	require.NoError(t, err)
	assert.Equal(t, "Notre-Dame de Paris", doc["title"])

	missing, err := client.Get(ctx, "books", "404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, client.Delete(ctx, "books", "3"))

	res, err := client.Search(ctx, "books", models.SearchRequest{Query: "*", Size: 10})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Total)

	indices, err := client.Indices(ctx)
	require.NoError(t, err)
	require.Len(t, indices, 1)
	assert.Equal(t, "books", indices[0].Name)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusGreen, health.Status)
}

func TestRemoteErrorsKeepTheirKind(t *testing.T) {
	ctx := context.Background()
	server := NewServer(newMemoryBackend(), nil)
	defer server.Close()

	client := pipeClient(t, server, "")

	require.NoError(t, client.CreateIndex(ctx, "books", 1, 0))

	err := client.CreateIndex(ctx, "books", 1, 0)
	assert.ErrorIs(t, err, ErrIndexExists)

	_, err = client.Search(ctx, "authors", models.SearchRequest{Query: "*"})
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestHandshakeRejectsOtherCluster(t *testing.T) {
	server := NewServer(newMemoryBackend(), nil)
	defer server.Close()

	client := pipeClient(t, server, "another-cluster")

	_, err := client.Health(context.Background())
	assert.ErrorIs(t, err, ErrClusterMismatch)
}

func TestClientOverTCP(t *testing.T) {
	ctx := context.Background()
	backend := newMemoryBackend()
	server := NewServer(backend, nil)
	defer server.Close()

	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)
	port := addr.(*net.TCPAddr).Port

	client, err := Connect(ctx, Options{
		ClusterName: "cluster-test",
		Addresses: []Address{
			// nothing listens on the first target, calls fail over
			{Host: "unused", Port: 1},
			{Host: "node", Port: port},
		},
		Resolver: staticResolver{"unused": {"127.0.0.1"}, "node": {"127.0.0.1"}},
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, []string{"127.0.0.1:1", "127.0.0.1:" + strconv.Itoa(port)}, client.Addresses())

	for i := 0; i < 3; i++ {
		health, err := client.Health(ctx)
		require.NoError(t, err)
		assert.Equal(t, "cluster-test", health.ClusterName)
	}

	backend.setStatus(models.StatusRed)
	go func() {
		time.Sleep(100 * time.Millisecond)
		backend.setStatus(models.StatusYellow)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := client.WaitForStatus(waitCtx, models.StatusYellow, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.StatusYellow, health.Status)
}

func TestConnectUnresolvableHost(t *testing.T) {
	_, err := Connect(context.Background(), Options{
		Addresses: []Address{{Host: "a", Port: 9300}, {Host: "bad-host", Port: 9300}},
		Resolver:  staticResolver{"a": {"10.0.0.1"}},
	})

	var hostErr *UnresolvableHostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, "bad-host", hostErr.Host)
}

func TestConnectWithoutAddress(t *testing.T) {
	_, err := Connect(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestClientClose(t *testing.T) {
	server := NewServer(newMemoryBackend(), nil)
	defer server.Close()

	client := pipeClient(t, server, "cluster-test")
	_, err := client.Health(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())

	_, err = client.Health(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServerCloseDropsClients(t *testing.T) {
	server := NewServer(newMemoryBackend(), nil)
	client := pipeClient(t, server, "cluster-test")

	_, err := client.Health(context.Background())
	require.NoError(t, err)

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())

	_, err = client.Health(context.Background())
	assert.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("localhost")
	require.NoError(t, err)
	assert.Equal(t, Address{Host: "localhost", Port: DefaultPort}, addr)

	addr, err = ParseAddress("10.0.0.1:9301")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9301", addr.String())

	_, err = ParseAddress("host:abc")
	assert.Error(t, err)
}
