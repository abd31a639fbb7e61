package fixture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"esfixture/pkg/settings"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProvider(t *testing.T) {
	home := filepath.Join(t.TempDir(), "provider")
	p := &LocalProvider{Settings: settings.New().Put(settings.PathHome, home)}

	assert.Nil(t, p.Client())
	require.NoError(t, p.Open(context.Background()))

	client := p.Client()
	require.NotNil(t, client)

	// a second Open keeps the running node
	require.NoError(t, p.Open(context.Background()))
	assert.Same(t, client, p.Client())

	ctx := context.Background()
	require.NoError(t, client.Index(ctx, "books", "1", map[string]interface{}{"title": "Odes et Ballades"}))
	doc, err := client.Get(ctx, "books", "1")
	require.NoError(t, err)
	assert.Equal(t, "Odes et Ballades", doc["title"])

	require.NoError(t, p.Close())
	assert.True(t, client.IsClosed())
	_, err = os.Stat(home)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, p.Close())
}

func TestLocalProviderKeepsFixtureHome(t *testing.T) {
	root := t.TempDir()
	t.Setenv("ESFIXTURE_HOME", root)
	keep := filepath.Join(root, "keep")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	p := &LocalProvider{}
	require.NoError(t, p.Open(context.Background()))
	home := p.node.Home()
	assert.Equal(t, root, filepath.Dir(home))
	assert.NotEqual(t, root, home)

	require.NoError(t, p.Close())
	_, err := os.Stat(home)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keep)
	assert.NoError(t, err)
}

func TestLocalProviderOpenFailureCleansUp(t *testing.T) {
	home := filepath.Join(t.TempDir(), "unhealthy")
	p := &LocalProvider{Settings: settings.New().
		Put(settings.PathHome, home).
		Put(settings.NodeData, "false")}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Open(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Nil(t, p.Client())

	_, err = os.Stat(home)
	assert.True(t, os.IsNotExist(err))
}
