package cache

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
}

func TestNewClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client, err := NewClient(context.Background(), addr)
	require.Error(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })
	assert.Contains(t, err.Error(), "platform/cache: ping")
}
