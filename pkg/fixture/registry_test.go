package fixture

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateBuildsOnce(t *testing.T) {
	r := NewRegistry()
	builds := 0
	build := func(cfg Config) (Handle, error) {
		builds++
		return &fakeHandle{name: cfg.Name}, nil
	}

	first, err := r.GetOrCreate("n1", KindNode, NodeConfig("n1"), build)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, r.Len())

	second, err := r.GetOrCreate("n1", KindClient, ClientConfig("other"), build)
	require.NoError(t, err)
	assert.Equal(t, 1, builds)
	assert.Same(t, first, second)

	got, ok := r.Get("n1")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestDistinctNamesAreIndependent(t *testing.T) {
	r := NewRegistry()
	build := func(cfg Config) (Handle, error) {
		return &fakeHandle{name: cfg.Name}, nil
	}

	a, err := r.GetOrCreate("a", KindNode, NodeConfig("a"), build)
	require.NoError(t, err)
	b, err := r.GetOrCreate("b", KindNode, NodeConfig("b"), build)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	require.NoError(t, a.Close())
	assert.EqualValues(t, 1, a.(*fakeHandle).closes.Load())
	assert.EqualValues(t, 0, b.(*fakeHandle).closes.Load())
}

func TestFailedBuildRegistersNothing(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")

	_, err := r.GetOrCreate("n1", KindNode, NodeConfig("n1"), func(Config) (Handle, error) {
		return nil, boom
	})
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, r.Len())

	_, ok := r.Get("n1")
	assert.False(t, ok)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := NewRegistry()
	var builds atomic.Int32

	var wg sync.WaitGroup
	handles := make([]Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.GetOrCreate("shared", KindNode, NodeConfig("shared"), func(Config) (Handle, error) {
				builds.Add(1)
				return &fakeHandle{name: "shared"}, nil
			})
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, builds.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestCloseAllCollectsFailures(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")

	handles := map[string]*fakeHandle{
		"a": {name: "a"},
		"b": {name: "b", closeErr: boom},
		"c": {name: "c"},
		"d": {name: "d", closeErr: boom},
		"e": {name: "e"},
	}
	for name, h := range handles {
		_, err := r.GetOrCreate(name, KindNode, NodeConfig(name), func(Config) (Handle, error) { return h, nil })
		require.NoError(t, err)
	}

	err := r.CloseAll()
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 2)
	for _, e := range merr.Errors {
		var closeErr *CloseError
		require.True(t, errors.As(e, &closeErr))
		assert.Contains(t, []string{"b", "d"}, closeErr.Name)
		assert.True(t, errors.Is(closeErr, boom))
	}

	for _, h := range handles {
		assert.EqualValues(t, 1, h.closes.Load(), h.name)
	}
	assert.Equal(t, 0, r.Len())

	assert.NoError(t, r.CloseAll())
	for _, h := range handles {
		assert.EqualValues(t, 1, h.closes.Load(), h.name)
	}
}

func TestCloseAllClosesClientsFirst(t *testing.T) {
	r := NewRegistry()
	log := &closeLog{}

	add := func(name string, kind Kind) {
		_, err := r.GetOrCreate(name, kind, Config{Kind: kind, Name: name}, func(Config) (Handle, error) {
			return &fakeHandle{name: name, log: log}, nil
		})
		require.NoError(t, err)
	}
	add("a-node", KindNode)
	add("b-node", KindNode)
	add("z-client", KindNodeClient)
	add("c-remote", KindClient)

	require.NoError(t, r.CloseAll())
	assert.Equal(t, []string{"c-remote", "z-client", "a-node", "b-node"}, log.all())
}

func TestForEachSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"c", "a", "b"} {
		_, err := r.GetOrCreate(name, KindNode, NodeConfig(name), func(cfg Config) (Handle, error) {
			return &fakeHandle{name: cfg.Name}, nil
		})
		require.NoError(t, err)
	}

	var names []string
	r.ForEach(func(name string, kind Kind, h Handle) {
		assert.Equal(t, KindNode, kind)
		names = append(names, name)
	})
	assert.Equal(t, []string{"a", "b", "c"}, names)
}
