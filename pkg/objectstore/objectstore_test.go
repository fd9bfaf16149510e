package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mind/pkg/config"
)

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio:9000", EndpointURL("minio:9000", false))
	assert.Equal(t, "https://minio:9000", EndpointURL("minio:9000", true))
	assert.Equal(t, "http://already:1", EndpointURL("http://already:1", true))
}

func TestConnect(t *testing.T) {
	s, err := Connect(context.Background(), config.ObjectStore{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, s.client)

	_, err = Connect(context.Background(), config.ObjectStore{}, nil)
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	assert.ErrorIs(t, m.Put(ctx, "proj", "k", []byte("x"), nil), ErrNotFound)
	require.NoError(t, m.EnsureBucket(ctx, "proj"))
	require.NoError(t, m.EnsureBucket(ctx, "proj"))
	require.NoError(t, m.Put(ctx, "proj", "radiology-images/s1.parquet", []byte("data"), map[string]string{"scan": "s1"}))

	dest := filepath.Join(t.TempDir(), "out", "s1.parquet")
	meta, err := m.Download(ctx, "proj", "radiology-images/s1.parquet", dest)
	require.NoError(t, err)
	assert.Equal(t, "s1", meta["scan"])
	assert.Equal(t, "4", meta["Content-Length"])
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	require.NoError(t, m.Delete(ctx, "proj", "radiology-images/s1.parquet"))
	assert.ErrorIs(t, m.Delete(ctx, "proj", "radiology-images/s1.parquet"), ErrNotFound)
	_, err = m.Download(ctx, "proj", "missing", dest)
	assert.ErrorIs(t, err, ErrNotFound)
}
